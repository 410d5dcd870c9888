package pgconsignment

import (
	"context"
	"testing"
	"time"

	"github.com/parcelops/trackdesk/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "trackdesk_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/trackdesk_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func strp(s string) *string { return &s }

func datep(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestStorage_IngestFlow(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()
	next := now.Add(30 * time.Minute)

	header := models.ConsignmentHeader{
		AWB:         "D1234567890",
		LastStatus:  strp("In Transit"),
		Origin:      strp("DEL"),
		Destination: strp("BOM"),
		BookedOn:    datep(2025, 11, 10),
	}
	events := []models.TimelineEvent{
		{Action: "Booked", ActionDate: datep(2025, 11, 10), ActionTime: strp("09:00"), Origin: strp("DEL")},
		{Action: "In Transit", ActionDate: datep(2025, 11, 11), ActionTime: strp("14:30"), Origin: strp("DEL")},
	}

	res, err := st.IngestTracking(ctx, header, events, now, next)
	require.NoError(t, err)
	require.NotZero(t, res.ConsignmentID)
	require.Nil(t, res.PreviousStatus)
	require.Equal(t, 2, res.NewEvents)
	require.True(t, res.StatusChanged) // nil -> "In Transit"

	// Re-ingesting the same payload is a complete no-op: one row, no
	// duplicate events, no new history entry.
	res2, err := st.IngestTracking(ctx, header, events, now, next)
	require.NoError(t, err)
	require.Equal(t, res.ConsignmentID, res2.ConsignmentID)
	require.Equal(t, 0, res2.NewEvents)
	require.False(t, res2.StatusChanged)

	timeline, err := st.ListTimeline(ctx, res.ConsignmentID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	require.Equal(t, "Booked", timeline[0].Action)

	history, err := st.ListStatusHistory(ctx, res.ConsignmentID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Nil(t, history[0].OldStatus)
	require.Equal(t, "In Transit", *history[0].NewStatus)
}

func TestStorage_PartialUpdateKeepsStoredFields(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	full := models.ConsignmentHeader{
		AWB:         "M0000000001",
		LastStatus:  strp("In Transit"),
		Destination: strp("BLR"),
		BookedOn:    datep(2025, 11, 1),
	}
	_, err := st.IngestTracking(ctx, full, nil, now, now.Add(time.Hour))
	require.NoError(t, err)

	// Second poll reports no destination and no booked date.
	sparse := models.ConsignmentHeader{
		AWB:        "M0000000001",
		LastStatus: strp("Delivered"),
	}
	res, err := st.IngestTracking(ctx, sparse, nil, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, res.StatusChanged)
	require.Equal(t, "In Transit", *res.PreviousStatus)

	c, err := st.GetConsignmentByAWB(ctx, "M0000000001")
	require.NoError(t, err)
	require.Equal(t, "Delivered", *c.LastStatus)
	require.Equal(t, "BLR", *c.Destination)
	require.NotNil(t, c.BookedOn)

	history, err := st.ListStatusHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	require.Equal(t, "In Transit", *history[0].OldStatus)
	require.Equal(t, "Delivered", *history[0].NewStatus)
}

func TestStorage_EventsWithoutTimeDedup(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	header := models.ConsignmentHeader{AWB: "N0000000001", LastStatus: strp("Booked")}
	ev := []models.TimelineEvent{{Action: "Booked", ActionDate: datep(2025, 11, 5)}}

	res, err := st.IngestTracking(ctx, header, ev, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, res.NewEvents)

	// NULL action_time still collides on re-ingest.
	res, err = st.IngestTracking(ctx, header, ev, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, res.NewEvents)
}

func TestStorage_ClaimDueConsignments(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	created, err := st.CreateOrGetConsignments(ctx, []models.ConsignmentCreateInput{
		{AWB: "D0000000001"}, {AWB: "D0000000002"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	_, err = st.db.Exec(ctx, `UPDATE consignments SET next_check_at = now() - interval '1 minute' WHERE id = $1`, created[0].ID)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `UPDATE consignments SET next_check_at = now() + interval '1 hour' WHERE id = $1`, created[1].ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	lease := 10 * time.Second
	due, err := st.ClaimDueConsignments(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, created[0].ID, due[0].ID)
	require.WithinDuration(t, now.Add(lease), due[0].NextCheckAt, 2*time.Second)

	// Delivered consignments are never claimed, but "Out for Delivery" is a
	// live shipment and must keep being polled.
	_, err = st.db.Exec(ctx, `UPDATE consignments SET last_status = 'Delivered', next_check_at = now() - interval '1 minute' WHERE id = $1`, created[0].ID)
	require.NoError(t, err)
	due, err = st.ClaimDueConsignments(ctx, time.Now().UTC(), 10, lease)
	require.NoError(t, err)
	require.Empty(t, due)

	_, err = st.db.Exec(ctx, `UPDATE consignments SET last_status = 'Out for Delivery', next_check_at = now() - interval '1 minute' WHERE id = $1`, created[1].ID)
	require.NoError(t, err)
	due, err = st.ClaimDueConsignments(ctx, time.Now().UTC(), 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, created[1].ID, due[0].ID)

	require.NoError(t, st.RefreshConsignment(ctx, "D0000000002"))
}

func TestStorage_PageAndStats(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, h := range []models.ConsignmentHeader{
		{AWB: "D1000000001", LastStatus: strp("Delivered"), LastUpdatedOn: &now},
		{AWB: "D1000000002", LastStatus: strp("In Transit"), LastUpdatedOn: &now},
		{AWB: "M2000000001", LastStatus: strp("RTO Initiated"), LastUpdatedOn: &now},
	} {
		_, err := st.IngestTracking(ctx, h, []models.TimelineEvent{
			{Action: "Scan", ActionDate: datep(2025, 11, 10), ActionTime: strp("10:00")},
			{Action: "Scan 2", ActionDate: datep(2025, 11, 11), ActionTime: strp("11:00")},
			{Action: "Scan 3", ActionDate: datep(2025, 11, 12), ActionTime: strp("12:00")},
		}, now, now.Add(time.Hour))
		require.NoError(t, err)
	}

	page, err := st.ListConsignmentPage(ctx, PageFilter{Search: "D10"}, 1, 50)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Equal(t, 1, page.TotalPages)
	require.Len(t, page.Items, 2)
	// Summary carries only the latest two events, newest first.
	require.Len(t, page.Items[0].Timeline, 2)
	require.Equal(t, "Scan 3", page.Items[0].Timeline[0].Action)

	page, err = st.ListConsignmentPage(ctx, PageFilter{Status: "transit"}, 1, 50)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "D1000000002", page.Items[0].Consignment.AWB)

	// An undersized page size clamps up to 5.
	page, err = st.ListConsignmentPage(ctx, PageFilter{}, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 5, page.PageSize)
	require.Equal(t, 1, page.TotalPages)
	require.Len(t, page.Items, 3)

	stats, err := st.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 1, stats.Delivered)
	require.Equal(t, 1, stats.RTO)
	require.Equal(t, 1, stats.Pending)
}
