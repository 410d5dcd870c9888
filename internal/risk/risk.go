// Package risk derives the two synthetic risk labels shown on the dashboard:
// turnaround-time (TAT) risk from the booking age, and movement risk from the
// staleness of the latest timeline event. Both are pure functions of stored
// data and are recomputed on every read, never persisted.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/parcelops/trackdesk/internal/models"
	"github.com/parcelops/trackdesk/internal/temporal"
)

const (
	TATOnTime       = "On Time"
	TATWarning      = "Warning"
	TATCritical     = "Critical"
	TATVeryCritical = "Very Critical"

	MovementOnTime = "On Time"
)

// Allowed transit-day budget per DTDC service category (first AWB letter).
var tatBudgets = map[byte]int{
	'D': 3,
	'M': 5,
	'N': 7,
	'I': 10,
}

const defaultTATBudget = 5

// TATBudget returns the allowed transit days for an AWB's category prefix.
func TATBudget(awb string) int {
	if awb == "" {
		return defaultTATBudget
	}
	prefix := strings.ToUpper(awb)[0]
	if b, ok := tatBudgets[prefix]; ok {
		return b
	}
	return defaultTATBudget
}

// TAT classifies schedule risk from elapsed whole days since booking.
// Unknown booked-on dates classify as on time; see DESIGN.md for the
// trade-off behind that default.
func TAT(awb string, bookedOn *time.Time, now time.Time) string {
	if bookedOn == nil {
		return TATOnTime
	}
	budget := TATBudget(awb)
	age := int(now.Sub(*bookedOn).Hours() / 24)

	switch {
	case age > budget+3:
		return TATVeryCritical
	case age > budget:
		return TATCritical
	case age >= max(0, budget-1):
		return TATWarning
	default:
		return TATOnTime
	}
}

// Movement classifies staleness from the chronologically latest event.
// events must be ordered latest-first; an event without a time component is
// treated as midnight. When the two latest events share a location the label
// switches to a "No Movement" variant at the same thresholds: the shipment is
// physically static, not merely slow to report.
func Movement(events []models.TimelineEvent, now time.Time) string {
	if len(events) == 0 {
		return MovementOnTime
	}
	last := events[0]
	if last.ActionDate == nil {
		return MovementOnTime
	}

	var tod *temporal.TimeOfDay
	if last.ActionTime != nil {
		tod = temporal.ParseClock(*last.ActionTime)
	}
	ts := temporal.Combine(last.ActionDate, tod)

	hours := int(now.Sub(*ts).Hours())
	static := len(events) > 1 && sameLocation(last, events[1])

	switch {
	case hours >= 72:
		return label(static, 72, "Stuck (72+ hrs)")
	case hours >= 48:
		return label(static, 48, "Slow (48 hrs)")
	case hours >= 24:
		return label(static, 24, "Slow (24 hrs)")
	default:
		return MovementOnTime
	}
}

func label(static bool, hours int, normal string) string {
	if static {
		return fmt.Sprintf("No Movement (%d hrs)", hours)
	}
	return normal
}

func sameLocation(a, b models.TimelineEvent) bool {
	la := eventLocation(a)
	lb := eventLocation(b)
	return la != "" && strings.EqualFold(la, lb)
}

func eventLocation(e models.TimelineEvent) string {
	if e.Origin != nil && *e.Origin != "" {
		return *e.Origin
	}
	if e.Destination != nil {
		return *e.Destination
	}
	return ""
}
