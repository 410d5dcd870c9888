// Package provider defines the boundary to the external DTDC tracking API.
// The raw payload shape is known only here and in the normalizer; everything
// downstream works with canonical models.
package provider

import (
	"context"
	"encoding/json"
)

// RawHeader mirrors the trackHeader section of the DTDC response.
// Field mapping is versioned here, nowhere else.
type RawHeader struct {
	ShipmentNo    string `json:"strShipmentNo"`
	Origin        string `json:"strOrigin"`
	Destination   string `json:"strDestination"`
	BookedDate    string `json:"strBookedDate"`    // DDMMYYYY token
	Status        string `json:"strStatus"`
	StatusTransOn string `json:"strStatusTransOn"` // DDMMYYYY[HHMM] token
}

// RawTimelineEntry mirrors one trackDetails element. Older API revisions
// spell the remarks key "sTrRemarks"; both are carried so the normalizer can
// resolve the pair explicitly.
type RawTimelineEntry struct {
	Action       string `json:"strAction"`
	ActionDate   string `json:"strActionDate"` // DDMMYYYY token
	ActionTime   string `json:"strActionTime"` // HHMM token
	Origin       string `json:"strOrigin"`
	Destination  string `json:"strDestination"`
	Remarks      string `json:"strRemarks"`
	RemarksAlt   string `json:"sTrRemarks"`
}

// RawTrackResponse is one provider payload for one AWB. Raw keeps the
// undecoded body for diagnostics when normalization rejects the payload.
type RawTrackResponse struct {
	Header  *RawHeader         `json:"trackHeader"`
	Details []RawTimelineEntry `json:"trackDetails"`
	Raw     json.RawMessage    `json:"-"`
}

// Client issues a single tracking request for one AWB. Implementations do
// not retry: retry policy belongs to the caller. Errors wrap
// apperr.ErrTransport or apperr.ErrParse.
type Client interface {
	GetTracking(ctx context.Context, awb string) (RawTrackResponse, error)
}
