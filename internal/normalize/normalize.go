// Package normalize maps raw DTDC payloads onto the canonical data model.
// All date/time tokens go through the temporal package; fields the provider
// did not report come out nil, never guessed.
package normalize

import (
	"strings"

	"github.com/parcelops/trackdesk/internal/apperr"
	"github.com/parcelops/trackdesk/internal/integrations/provider"
	"github.com/parcelops/trackdesk/internal/models"
	"github.com/parcelops/trackdesk/internal/temporal"
	"github.com/pkg/errors"
)

// Response converts a raw provider payload into a canonical header and the
// timeline events in provider order. A payload without a trackHeader section
// is rejected as unparseable: the caller must treat it as an ingestion
// failure, not as an empty shipment.
func Response(raw provider.RawTrackResponse) (models.ConsignmentHeader, []models.TimelineEvent, error) {
	if raw.Header == nil || strings.TrimSpace(raw.Header.ShipmentNo) == "" {
		return models.ConsignmentHeader{}, nil, errors.Wrap(apperr.ErrParse, "payload has no track header")
	}

	h := models.ConsignmentHeader{
		AWB:           strings.TrimSpace(raw.Header.ShipmentNo),
		LastStatus:    optional(raw.Header.Status),
		Origin:        optional(raw.Header.Origin),
		Destination:   optional(raw.Header.Destination),
		BookedOn:      temporal.ParseDate(raw.Header.BookedDate),
		LastUpdatedOn: temporal.ParseStamp(raw.Header.StatusTransOn),
	}

	events := make([]models.TimelineEvent, 0, len(raw.Details))
	for _, d := range raw.Details {
		var clock *string
		if tod := temporal.ParseTimeOfDay(d.ActionTime); tod != nil {
			s := tod.String()
			clock = &s
		}
		events = append(events, models.TimelineEvent{
			Action:      strings.TrimSpace(d.Action),
			ActionDate:  temporal.ParseDate(d.ActionDate),
			ActionTime:  clock,
			Origin:      optional(d.Origin),
			Destination: optional(d.Destination),
			Remarks:     remarks(d),
		})
	}

	return h, events, nil
}

// remarks resolves the sTrRemarks/strRemarks key pair. The misspelled
// sTrRemarks key is what the provider actually populates and wins when both
// are present; strRemarks is the fallback.
func remarks(d provider.RawTimelineEntry) *string {
	if r := optional(d.RemarksAlt); r != nil {
		return r
	}
	return optional(d.Remarks)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
