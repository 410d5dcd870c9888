package risk

import (
	"testing"
	"time"

	"github.com/parcelops/trackdesk/internal/models"
	"github.com/stretchr/testify/require"
)

func daysAgo(now time.Time, d int) *time.Time {
	t := now.AddDate(0, 0, -d)
	return &t
}

func TestTATBudget(t *testing.T) {
	require.Equal(t, 3, TATBudget("D1234567890"))
	require.Equal(t, 5, TATBudget("M0001"))
	require.Equal(t, 7, TATBudget("N0001"))
	require.Equal(t, 10, TATBudget("I0001"))
	require.Equal(t, 3, TATBudget("d1234")) // case-insensitive prefix
	require.Equal(t, 5, TATBudget("X0001"))
	require.Equal(t, 5, TATBudget(""))
}

func TestTAT_Boundaries(t *testing.T) {
	now := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

	// Category M, budget 5.
	cases := []struct {
		age  int
		want string
	}{
		{0, TATOnTime},
		{3, TATOnTime},
		{4, TATWarning},  // budget-1
		{5, TATWarning},  // budget
		{6, TATCritical}, // budget+1
		{8, TATCritical},
		{9, TATVeryCritical}, // budget+4
	}
	for _, c := range cases {
		require.Equal(t, c.want, TAT("M123", daysAgo(now, c.age), now), "age=%d", c.age)
	}
}

func TestTAT_UnknownBookedOn(t *testing.T) {
	require.Equal(t, TATOnTime, TAT("D123", nil, time.Now().UTC()))
}

func TestTAT_CategoryD(t *testing.T) {
	// D1234567890 booked 10 days ago, budget 3: 10 > 3+3.
	now := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	require.Equal(t, TATVeryCritical, TAT("D1234567890", daysAgo(now, 10), now))
}

func eventHoursAgo(now time.Time, hours int, origin string) models.TimelineEvent {
	ts := now.Add(-time.Duration(hours) * time.Hour)
	d := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	clock := ts.Format("15:04")
	var o *string
	if origin != "" {
		o = &origin
	}
	return models.TimelineEvent{ActionDate: &d, ActionTime: &clock, Origin: o}
}

func TestMovement_Boundaries(t *testing.T) {
	now := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		hours int
		want  string
	}{
		{23, MovementOnTime},
		{24, "Slow (24 hrs)"},
		{47, "Slow (24 hrs)"},
		{48, "Slow (48 hrs)"},
		{71, "Slow (48 hrs)"},
		{72, "Stuck (72+ hrs)"},
		{100, "Stuck (72+ hrs)"},
	}
	for _, c := range cases {
		evs := []models.TimelineEvent{eventHoursAgo(now, c.hours, "DEL")}
		require.Equal(t, c.want, Movement(evs, now), "hours=%d", c.hours)
	}
}

func TestMovement_FiftyHoursOld(t *testing.T) {
	now := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	evs := []models.TimelineEvent{eventHoursAgo(now, 50, "BLR")}
	require.Equal(t, "Slow (48 hrs)", Movement(evs, now))
}

func TestMovement_NoTimeline(t *testing.T) {
	require.Equal(t, MovementOnTime, Movement(nil, time.Now().UTC()))
}

func TestMovement_MissingTimeTreatedAsMidnight(t *testing.T) {
	now := time.Date(2025, 11, 20, 1, 0, 0, 0, time.UTC)
	d := time.Date(2025, 11, 19, 0, 0, 0, 0, time.UTC) // 25h before now at midnight
	evs := []models.TimelineEvent{{ActionDate: &d}}
	require.Equal(t, "Slow (24 hrs)", Movement(evs, now))
}

func TestMovement_NoMovementVariant(t *testing.T) {
	now := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

	evs := []models.TimelineEvent{
		eventHoursAgo(now, 50, "DEL"),
		eventHoursAgo(now, 60, "DEL"),
	}
	require.Equal(t, "No Movement (48 hrs)", Movement(evs, now))

	// Different locations keep the plain slow label.
	evs = []models.TimelineEvent{
		eventHoursAgo(now, 50, "DEL"),
		eventHoursAgo(now, 60, "BOM"),
	}
	require.Equal(t, "Slow (48 hrs)", Movement(evs, now))
}
