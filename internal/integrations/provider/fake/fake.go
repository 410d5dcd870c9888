package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/parcelops/trackdesk/internal/integrations/provider"
)

// Client is a deterministic stand-in for the DTDC API, used in demos and
// tests. The same AWB always yields the same payload shape: a booked event,
// an in-transit scan, and for roughly a fifth of AWBs a delivered scan.
type Client struct {
	now func() time.Time
}

func New() *Client {
	return &Client{now: func() time.Time { return time.Now().UTC() }}
}

// NewAt pins the clock, so tests get stable date tokens.
func NewAt(now func() time.Time) *Client {
	return &Client{now: now}
}

func (f *Client) GetTracking(ctx context.Context, awb string) (provider.RawTrackResponse, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(awb))
	v := h.Sum32()

	now := f.now()
	booked := now.AddDate(0, 0, -3)

	status := "In Transit"
	details := []provider.RawTimelineEntry{
		{
			Action:     "Booked",
			ActionDate: dateToken(booked),
			ActionTime: "0900",
			Origin:     "DEL",
			Remarks:    "Shipment booked",
		},
		{
			Action:      "In Transit",
			ActionDate:  dateToken(booked.AddDate(0, 0, 1)),
			ActionTime:  "1430",
			Origin:      "DEL",
			Destination: "BOM",
		},
	}

	if v%5 == 0 {
		status = "Delivered"
		details = append(details, provider.RawTimelineEntry{
			Action:     "Delivered",
			ActionDate: dateToken(now),
			ActionTime: "1115",
			Origin:     "BOM",
			Remarks:    "Delivered to consignee",
		})
	}

	return provider.RawTrackResponse{
		Header: &provider.RawHeader{
			ShipmentNo:    awb,
			Origin:        "DEL",
			Destination:   "BOM",
			BookedDate:    dateToken(booked),
			Status:        status,
			StatusTransOn: dateToken(now) + "1200",
		},
		Details: details,
	}, nil
}

func dateToken(t time.Time) string {
	return fmt.Sprintf("%02d%02d%04d", t.Day(), int(t.Month()), t.Year())
}
