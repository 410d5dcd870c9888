// Package sync drives the tracking ingestion pipeline: provider fetch,
// normalization, persistence and event publication for a batch of AWBs.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parcelops/trackdesk/internal/apperr"
	"github.com/parcelops/trackdesk/internal/broker/messages"
	"github.com/parcelops/trackdesk/internal/integrations/provider"
	"github.com/parcelops/trackdesk/internal/models"
	"github.com/parcelops/trackdesk/internal/normalize"
	"github.com/parcelops/trackdesk/internal/storage/pgconsignment"
	"github.com/pkg/errors"
)

type Store interface {
	IngestTracking(ctx context.Context, header models.ConsignmentHeader, events []models.TimelineEvent, checkedAt, nextCheckAt time.Time) (pgconsignment.IngestResult, error)
	MarkCheckFailed(ctx context.Context, awb string, errText string, checkedAt time.Time, backoff pgconsignment.BackoffLadder) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// FailureKind names the terminal failure state of one AWB's pipeline run.
type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureParse     FailureKind = "parse"
	FailurePersist   FailureKind = "persist"
)

// Outcome is the terminal result for one AWB. Exactly one of the success
// fields or the failure fields is populated.
type Outcome struct {
	AWB string `json:"awb"`
	OK  bool   `json:"ok"`

	Header        *models.ConsignmentHeader `json:"header,omitempty"`
	Timeline      []models.TimelineEvent    `json:"timeline,omitempty"`
	NewEvents     int                       `json:"newEvents"`
	StatusChanged bool                      `json:"statusChanged"`

	FailureKind FailureKind `json:"failureKind,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type BatchResult struct {
	RunID    string    `json:"runId"`
	Outcomes []Outcome `json:"results"`
}

type Service struct {
	provider provider.Client
	store    Store
	producer Producer
	rl       RateLimiter
	planner  *Planner

	topic          string
	limitPerMinute int64

	now func() time.Time
}

func New(p provider.Client, store Store) *Service {
	return &Service{
		provider: p,
		store:    store,
		planner:  DefaultPlanner(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithProducer(producer Producer, topic string) *Service {
	s.producer = producer
	s.topic = topic
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter, perMinute int64) *Service {
	s.rl = rl
	s.limitPerMinute = perMinute
	return s
}

func (s *Service) WithPlanner(cfg PlannerConfig) *Service {
	s.planner = NewPlanner(cfg, nil)
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

const maxBatchSize = 10_000

// SyncBatch runs the pipeline for each AWB in order, strictly sequentially:
// the upstream API is rate limited and has no batch endpoint, so request
// ordering matters more than throughput here. One outcome is produced per
// input AWB; a failure is recorded and the batch moves on. Cancellation is
// honored between AWBs only, so an in-flight AWB always completes its store
// writes.
func (s *Service) SyncBatch(ctx context.Context, awbs []string) (BatchResult, error) {
	if len(awbs) == 0 {
		return BatchResult{}, errors.Wrap(apperr.ErrValidation, "consignments list is empty")
	}
	if len(awbs) > maxBatchSize {
		return BatchResult{}, errors.Wrapf(apperr.ErrValidation, "too many consignments (max %d)", maxBatchSize)
	}
	for _, awb := range awbs {
		if strings.TrimSpace(awb) == "" {
			return BatchResult{}, errors.Wrap(apperr.ErrValidation, "blank awb in consignments list")
		}
	}

	res := BatchResult{
		RunID:    uuid.NewString(),
		Outcomes: make([]Outcome, 0, len(awbs)),
	}
	log := slog.With("run_id", res.RunID, "batch_size", len(awbs))
	log.Info("batch sync started")

	for _, awb := range awbs {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		res.Outcomes = append(res.Outcomes, s.syncOne(ctx, log, strings.TrimSpace(awb)))
	}

	log.Info("batch sync finished", "outcomes", len(res.Outcomes))
	return res, nil
}

func (s *Service) syncOne(ctx context.Context, log *slog.Logger, awb string) Outcome {
	now := s.now()

	s.throttle(ctx, log, now)

	raw, err := s.provider.GetTracking(ctx, awb)
	if err != nil {
		kind := FailureTransport
		if errors.Is(err, apperr.ErrParse) {
			kind = FailureParse
			// The undecodable body is worth keeping for diagnostics.
			log.Warn("provider payload rejected", "awb", awb, "raw", string(raw.Raw))
		}
		return s.fail(ctx, log, awb, now, kind, err)
	}

	header, timeline, err := normalize.Response(raw)
	if err != nil {
		log.Warn("provider payload unparseable", "awb", awb, "raw", string(raw.Raw))
		return s.fail(ctx, log, awb, now, FailureParse, err)
	}

	nextCheckAt := now.Add(s.planner.NextCheckDelay(header.LastStatus))
	ingested, err := s.store.IngestTracking(ctx, header, timeline, now, nextCheckAt)
	if err != nil {
		return s.fail(ctx, log, awb, now, FailurePersist, errors.Wrapf(apperr.ErrPersistence, "%v", err))
	}

	s.publish(ctx, log, messages.ConsignmentUpdated{
		ConsignmentID: ingested.ConsignmentID,
		AWB:           awb,
		CheckedAt:     now,
		Status:        header.LastStatus,
		StatusChanged: ingested.StatusChanged,
		NewEvents:     ingested.NewEvents,
	})

	log.Info("awb synced", "awb", awb, "new_events", ingested.NewEvents, "status_changed", ingested.StatusChanged)
	return Outcome{
		AWB:           awb,
		OK:            true,
		Header:        &header,
		Timeline:      timeline,
		NewEvents:     ingested.NewEvents,
		StatusChanged: ingested.StatusChanged,
	}
}

func (s *Service) fail(ctx context.Context, log *slog.Logger, awb string, now time.Time, kind FailureKind, err error) Outcome {
	log.Error("awb sync failed", "awb", awb, "kind", string(kind), "error", err.Error())

	// Failure bookkeeping is best effort: the outcome already carries the
	// error, and the AWB may not even be registered for polling.
	if markErr := s.store.MarkCheckFailed(ctx, awb, err.Error(), now, s.planner.Backoff()); markErr != nil {
		log.Error("mark check failed", "awb", awb, "error", markErr.Error())
	}

	return Outcome{AWB: awb, FailureKind: kind, Error: err.Error()}
}

func (s *Service) throttle(ctx context.Context, log *slog.Logger, now time.Time) {
	if s.rl == nil || s.limitPerMinute <= 0 {
		return
	}

	key := fmt.Sprintf("rl:dtdc:%s", now.Format("200601021504"))
	allowed, n, err := s.rl.Allow(ctx, key, s.limitPerMinute, 70*time.Second)
	if err != nil {
		log.Warn("rate limiter unavailable", "error", err.Error())
		return
	}
	if !allowed {
		log.Warn("rate limit exceeded", "count", n)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
	}
}

func (s *Service) publish(ctx context.Context, log *slog.Logger, msg messages.ConsignmentUpdated) {
	if s.producer == nil || s.topic == "" {
		return
	}

	b, err := json.Marshal(msg)
	if err != nil {
		log.Error("marshal consignment.updated", "error", err.Error())
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(msg.AWB), b); err != nil {
		// The store is the source of truth; a lost event only delays a cache
		// refresh.
		log.Warn("publish consignment.updated", "awb", msg.AWB, "error", err.Error())
	}
}
