package models

import "time"

// Consignment is the canonical record for one tracked AWB.
// AWB is the immutable business key; the row is upserted on every ingestion.
type Consignment struct {
	ID            uint64     `json:"id"`
	AWB           string     `json:"awb"`
	LastStatus    *string    `json:"lastStatus"`
	Origin        *string    `json:"origin"`
	Destination   *string    `json:"destination"`
	BookedOn      *time.Time `json:"bookedOn"`
	LastUpdatedOn *time.Time `json:"lastUpdatedOn"`

	LastCheckedAt  *time.Time `json:"lastCheckedAt"`
	NextCheckAt    time.Time  `json:"nextCheckAt"`
	CheckFailCount int32      `json:"checkFailCount"`
	LastError      *string    `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConsignmentHeader is the normalized provider header, before persistence.
// Nil fields mean "provider did not report this" and never overwrite
// stored values.
type ConsignmentHeader struct {
	AWB           string     `json:"awb"`
	LastStatus    *string    `json:"lastStatus"`
	Origin        *string    `json:"origin"`
	Destination   *string    `json:"destination"`
	BookedOn      *time.Time `json:"bookedOn"`
	LastUpdatedOn *time.Time `json:"lastUpdatedOn"`
}

// TimelineEvent is one provider scan. Rows are insert-only and de-duplicated
// on (consignment, action, action date, action time).
type TimelineEvent struct {
	ID            uint64     `json:"id"`
	ConsignmentID uint64     `json:"consignmentId"`
	Action        string     `json:"action"`
	ActionDate    *time.Time `json:"actionDate"` // calendar date, UTC midnight
	ActionTime    *string    `json:"actionTime"` // "HH:MM", nil when the provider omits time
	Origin        *string    `json:"origin"`
	Destination   *string    `json:"destination"`
	Remarks       *string    `json:"remarks"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// StatusHistoryEntry is one status transition. Append-only; written only
// when the freshly derived status differs from the stored one.
type StatusHistoryEntry struct {
	ID            uint64    `json:"id"`
	ConsignmentID uint64    `json:"consignmentId"`
	OldStatus     *string   `json:"oldStatus"`
	NewStatus     *string   `json:"newStatus"`
	ChangedAt     time.Time `json:"changedAt"`
}

type ConsignmentCreateInput struct {
	AWB string
}
