package sync

import (
	"math/rand"
	"strings"
	"time"

	"github.com/parcelops/trackdesk/internal/storage/pgconsignment"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	DeliveredDelay time.Duration // default: 365 days

	ActiveMinDelay time.Duration // default: 30 minutes
	ActiveMaxDelay time.Duration // default: 120 minutes

	UnknownDelay time.Duration // default: 90 minutes

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		DeliveredDelay: 365 * 24 * time.Hour,

		ActiveMinDelay: 30 * time.Minute,
		ActiveMaxDelay: 120 * time.Minute,

		UnknownDelay: 90 * time.Minute,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

// Planner decides when a consignment should be polled next: delivered
// shipments effectively never, active ones within a jittered window, and
// failed checks on a fixed backoff ladder.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.DeliveredDelay <= 0 {
		cfg.DeliveredDelay = def.DeliveredDelay
	}
	if cfg.ActiveMinDelay <= 0 {
		cfg.ActiveMinDelay = def.ActiveMinDelay
	}
	if cfg.ActiveMaxDelay <= 0 {
		cfg.ActiveMaxDelay = def.ActiveMaxDelay
	}
	if cfg.ActiveMaxDelay < cfg.ActiveMinDelay {
		cfg.ActiveMaxDelay = cfg.ActiveMinDelay
	}
	if cfg.UnknownDelay <= 0 {
		cfg.UnknownDelay = def.UnknownDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

// NextCheckDelay schedules the next poll from the provider's free-text
// status label.
func (p *Planner) NextCheckDelay(status *string) time.Duration {
	if status == nil {
		return p.cfg.UnknownDelay
	}
	// "delivered", never "deliver": an "Out for Delivery" shipment is in its
	// most active phase and must stay on the short window.
	if strings.Contains(strings.ToLower(*status), "delivered") {
		return p.cfg.DeliveredDelay
	}

	min := p.cfg.ActiveMinDelay
	max := p.cfg.ActiveMaxDelay
	if max == min {
		return min
	}
	secMin := int(min.Seconds())
	secMax := int(max.Seconds())
	if secMax < secMin {
		secMax = secMin
	}
	return time.Duration(secMin+p.r.Intn(secMax-secMin+1)) * time.Second
}

// Backoff returns the failure ladder in the store's format.
func (p *Planner) Backoff() pgconsignment.BackoffLadder {
	return pgconsignment.BackoffLadder{p.cfg.Backoff1, p.cfg.Backoff2, p.cfg.Backoff3, p.cfg.Backoff4}
}
