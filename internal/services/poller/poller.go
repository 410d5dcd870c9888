// Package poller runs the background re-check loop: claim consignments whose
// next_check_at has passed and push them through the sync pipeline.
package poller

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/parcelops/trackdesk/internal/models"
	syncsvc "github.com/parcelops/trackdesk/internal/services/sync"
)

type Claimer interface {
	ClaimDueConsignments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Consignment, error)
}

type Syncer interface {
	SyncBatch(ctx context.Context, awbs []string) (syncsvc.BatchResult, error)
}

type Config struct {
	Interval  time.Duration // default: 1 minute
	BatchSize int           // default: 25
	Lease     time.Duration // default: 10 minutes
}

type Poller struct {
	store  Claimer
	syncer Syncer
	cfg    Config

	trigger chan struct{}
	now     func() time.Time

	cycles      atomic.Uint64
	synced      atomic.Uint64
	failed      atomic.Uint64
	lastRunUnix atomic.Int64
	lastBatch   atomic.Int64
}

func New(store Claimer, syncer Syncer, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	return &Poller{
		store:   store,
		syncer:  syncer,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Trigger requests an immediate cycle. Coalesces when one is already queued.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run loops until the context is cancelled. Cycles never overlap: the loop is
// single-threaded and a cycle runs to completion before the next tick is
// considered.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("poller started", "interval", p.cfg.Interval.String(), "batch_size", p.cfg.BatchSize)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.runCycle(ctx)
		case <-p.trigger:
			p.runCycle(ctx)
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	now := p.now()
	p.cycles.Add(1)
	p.lastRunUnix.Store(now.Unix())

	due, err := p.store.ClaimDueConsignments(ctx, now, p.cfg.BatchSize, p.cfg.Lease)
	if err != nil {
		slog.Error("claim due consignments", "error", err.Error())
		return
	}
	p.lastBatch.Store(int64(len(due)))
	if len(due) == 0 {
		return
	}

	awbs := make([]string, 0, len(due))
	for _, c := range due {
		awbs = append(awbs, c.AWB)
	}

	res, err := p.syncer.SyncBatch(ctx, awbs)
	for _, o := range res.Outcomes {
		if o.OK {
			p.synced.Add(1)
		} else {
			p.failed.Add(1)
		}
	}
	if err != nil {
		// Cancellation mid-batch: completed outcomes were already counted.
		slog.Warn("cycle interrupted", "error", err.Error(), "completed", len(res.Outcomes))
	}
}

type Stats struct {
	Cycles      uint64     `json:"cycles"`
	Synced      uint64     `json:"synced"`
	Failed      uint64     `json:"failed"`
	LastBatch   int64      `json:"lastBatch"`
	LastRunAt   *time.Time `json:"lastRunAt"`
}

func (p *Poller) Stats() Stats {
	s := Stats{
		Cycles:    p.cycles.Load(),
		Synced:    p.synced.Load(),
		Failed:    p.failed.Load(),
		LastBatch: p.lastBatch.Load(),
	}
	if u := p.lastRunUnix.Load(); u > 0 {
		t := time.Unix(u, 0).UTC()
		s.LastRunAt = &t
	}
	return s
}
