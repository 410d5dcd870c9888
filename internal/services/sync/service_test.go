package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/parcelops/trackdesk/internal/apperr"
	"github.com/parcelops/trackdesk/internal/broker/messages"
	"github.com/parcelops/trackdesk/internal/integrations/provider"
	"github.com/parcelops/trackdesk/internal/integrations/provider/fake"
	"github.com/parcelops/trackdesk/internal/models"
	"github.com/parcelops/trackdesk/internal/storage/pgconsignment"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	responses map[string]provider.RawTrackResponse
	errs      map[string]error
	calls     []string
}

func (f *fakeProvider) GetTracking(ctx context.Context, awb string) (provider.RawTrackResponse, error) {
	f.calls = append(f.calls, awb)
	if err, ok := f.errs[awb]; ok {
		return provider.RawTrackResponse{}, err
	}
	return f.responses[awb], nil
}

type fakeStore struct {
	ingested   []models.ConsignmentHeader
	ingestErr  map[string]error
	failedAWBs []string
	nextID     uint64
}

func (f *fakeStore) IngestTracking(ctx context.Context, header models.ConsignmentHeader, events []models.TimelineEvent, checkedAt, nextCheckAt time.Time) (pgconsignment.IngestResult, error) {
	if err, ok := f.ingestErr[header.AWB]; ok {
		return pgconsignment.IngestResult{}, err
	}
	f.ingested = append(f.ingested, header)
	f.nextID++
	return pgconsignment.IngestResult{ConsignmentID: f.nextID, NewEvents: len(events), StatusChanged: true}, nil
}

func (f *fakeStore) MarkCheckFailed(ctx context.Context, awb, errText string, checkedAt time.Time, backoff pgconsignment.BackoffLadder) error {
	f.failedAWBs = append(f.failedAWBs, awb)
	return nil
}

type fakeProducer struct {
	published [][]byte
	err       error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, value)
	return nil
}

func okResponse(awb, status string) provider.RawTrackResponse {
	return provider.RawTrackResponse{
		Header: &provider.RawHeader{
			ShipmentNo: awb,
			Status:     status,
			BookedDate: "10112025",
		},
		Details: []provider.RawTimelineEntry{
			{Action: "Booked", ActionDate: "10112025", ActionTime: "0900"},
		},
	}
}

func TestSyncBatch_Validation(t *testing.T) {
	s := New(&fakeProvider{}, &fakeStore{})

	_, err := s.SyncBatch(context.Background(), nil)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.SyncBatch(context.Background(), []string{"D1", "  "})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSyncBatch_AllSucceed(t *testing.T) {
	p := &fakeProvider{responses: map[string]provider.RawTrackResponse{
		"D1": okResponse("D1", "In Transit"),
		"D2": okResponse("D2", "Delivered"),
	}}
	st := &fakeStore{}
	prod := &fakeProducer{}
	s := New(p, st).WithProducer(prod, "consignment.updated")

	res, err := s.SyncBatch(context.Background(), []string{"D1", "D2"})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	require.Len(t, res.Outcomes, 2)
	require.True(t, res.Outcomes[0].OK)
	require.True(t, res.Outcomes[1].OK)
	require.Equal(t, "D1", res.Outcomes[0].AWB)
	require.Equal(t, 1, res.Outcomes[0].NewEvents)
	require.Len(t, st.ingested, 2)
	require.Len(t, prod.published, 2)
}

func TestSyncBatch_FailureIsIsolated(t *testing.T) {
	p := &fakeProvider{
		responses: map[string]provider.RawTrackResponse{
			"D1": okResponse("D1", "In Transit"),
			"D3": okResponse("D3", "In Transit"),
		},
		errs: map[string]error{
			"D2": errors.Wrap(apperr.ErrTransport, "connection refused"),
		},
	}
	st := &fakeStore{}
	s := New(p, st)

	res, err := s.SyncBatch(context.Background(), []string{"D1", "D2", "D3"})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)

	require.True(t, res.Outcomes[0].OK)
	require.False(t, res.Outcomes[1].OK)
	require.Equal(t, FailureTransport, res.Outcomes[1].FailureKind)
	require.Contains(t, res.Outcomes[1].Error, "connection refused")
	require.True(t, res.Outcomes[2].OK)

	// All three AWBs were attempted, both good ones persisted.
	require.Equal(t, []string{"D1", "D2", "D3"}, p.calls)
	require.Len(t, st.ingested, 2)
	require.Equal(t, []string{"D2"}, st.failedAWBs)
}

func TestSyncBatch_ParseFailure(t *testing.T) {
	p := &fakeProvider{responses: map[string]provider.RawTrackResponse{
		"D1": {}, // no trackHeader
	}}
	st := &fakeStore{}
	s := New(p, st)

	res, err := s.SyncBatch(context.Background(), []string{"D1"})
	require.NoError(t, err)
	require.Equal(t, FailureParse, res.Outcomes[0].FailureKind)
	require.Empty(t, st.ingested)
}

func TestSyncBatch_PersistFailure(t *testing.T) {
	p := &fakeProvider{responses: map[string]provider.RawTrackResponse{
		"D1": okResponse("D1", "In Transit"),
	}}
	st := &fakeStore{ingestErr: map[string]error{"D1": errors.New("constraint violation")}}
	s := New(p, st)

	res, err := s.SyncBatch(context.Background(), []string{"D1"})
	require.NoError(t, err)
	require.False(t, res.Outcomes[0].OK)
	require.Equal(t, FailurePersist, res.Outcomes[0].FailureKind)
}

func TestSyncBatch_CancelBetweenAWBs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := &fakeProvider{responses: map[string]provider.RawTrackResponse{
		"D1": okResponse("D1", "In Transit"),
		"D2": okResponse("D2", "In Transit"),
	}}
	st := &fakeStore{}
	s := New(p, st)

	// Cancel after the first AWB completes.
	s.WithClock(func() time.Time {
		cancel()
		return time.Now().UTC()
	})

	res, err := s.SyncBatch(ctx, []string{"D1", "D2"})
	require.ErrorIs(t, err, context.Canceled)
	// The in-flight AWB finished its writes; the second was never started.
	require.Len(t, res.Outcomes, 1)
	require.True(t, res.Outcomes[0].OK)
	require.Len(t, st.ingested, 1)
}

func TestSyncBatch_ProducerFailureDoesNotFailAWB(t *testing.T) {
	p := &fakeProvider{responses: map[string]provider.RawTrackResponse{
		"D1": okResponse("D1", "In Transit"),
	}}
	st := &fakeStore{}
	prod := &fakeProducer{err: errors.New("broker down")}
	s := New(p, st).WithProducer(prod, "consignment.updated")

	res, err := s.SyncBatch(context.Background(), []string{"D1"})
	require.NoError(t, err)
	require.True(t, res.Outcomes[0].OK)
}

func TestSyncBatch_PublishedMessageShape(t *testing.T) {
	p := &fakeProvider{responses: map[string]provider.RawTrackResponse{
		"D1": okResponse("D1", "Delivered"),
	}}
	st := &fakeStore{}
	prod := &fakeProducer{}
	s := New(p, st).WithProducer(prod, "consignment.updated")

	_, err := s.SyncBatch(context.Background(), []string{"D1"})
	require.NoError(t, err)
	require.Len(t, prod.published, 1)

	var msg messages.ConsignmentUpdated
	require.NoError(t, json.Unmarshal(prod.published[0], &msg))
	require.Equal(t, "D1", msg.AWB)
	require.Equal(t, "Delivered", *msg.Status)
	require.True(t, msg.StatusChanged)
}

func TestSyncBatch_FakeProviderEndToEnd(t *testing.T) {
	st := &fakeStore{}
	s := New(fake.New(), st)

	res, err := s.SyncBatch(context.Background(), []string{"D1111111111"})
	require.NoError(t, err)
	require.True(t, res.Outcomes[0].OK)
	require.NotNil(t, res.Outcomes[0].Header.BookedOn)
	require.NotEmpty(t, res.Outcomes[0].Timeline)
}
