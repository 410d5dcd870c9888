package messages

import "time"

// ConsignmentUpdated is published after every successful ingestion of one
// AWB. The API process consumes it to refresh cached detail snapshots.
type ConsignmentUpdated struct {
	ConsignmentID uint64    `json:"consignment_id"`
	AWB           string    `json:"awb"`
	CheckedAt     time.Time `json:"checked_at"`

	Status        *string `json:"status,omitempty"`
	StatusChanged bool    `json:"status_changed"`
	NewEvents     int     `json:"new_events"`
}
