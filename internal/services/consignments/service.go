// Package consignments is the read side of the dashboard: registration of
// AWBs to watch, paged summaries, detail snapshots and headline stats. Risk
// labels are computed here on every read, from one evaluator, so no caller
// ever re-derives them.
package consignments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/parcelops/trackdesk/internal/apperr"
	"github.com/parcelops/trackdesk/internal/broker/messages"
	"github.com/parcelops/trackdesk/internal/cache"
	"github.com/parcelops/trackdesk/internal/models"
	"github.com/parcelops/trackdesk/internal/risk"
	"github.com/parcelops/trackdesk/internal/storage/pgconsignment"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrGetConsignments(ctx context.Context, items []models.ConsignmentCreateInput) ([]*models.Consignment, error)
	GetConsignmentByAWB(ctx context.Context, awb string) (*models.Consignment, error)
	ListTimeline(ctx context.Context, consignmentID uint64) ([]models.TimelineEvent, error)
	LatestEvents(ctx context.Context, consignmentID uint64, limit int) ([]models.TimelineEvent, error)
	ListStatusHistory(ctx context.Context, consignmentID uint64) ([]models.StatusHistoryEntry, error)
	ListConsignmentPage(ctx context.Context, filter pgconsignment.PageFilter, page, pageSize int) (pgconsignment.ConsignmentPage, error)
	GetStats(ctx context.Context) (pgconsignment.Stats, error)
	RefreshConsignment(ctx context.Context, awb string) error
}

type Service struct {
	repo      Repository
	cache     cache.BytesCache
	detailTTL time.Duration
	now       func() time.Time
}

func New(repo Repository, c cache.BytesCache, detailTTL time.Duration) *Service {
	return &Service{
		repo:      repo,
		cache:     c,
		detailTTL: detailTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

const maxRegisterSize = 10_000

// Register puts AWBs under scheduled tracking. Duplicates in the input are
// collapsed; already-registered AWBs are returned as-is.
func (s *Service) Register(ctx context.Context, awbs []string) ([]*models.Consignment, error) {
	if len(awbs) == 0 {
		return nil, errors.Wrap(apperr.ErrValidation, "awbs list is empty")
	}
	if len(awbs) > maxRegisterSize {
		return nil, errors.Wrapf(apperr.ErrValidation, "too many awbs (max %d)", maxRegisterSize)
	}

	clean := make([]models.ConsignmentCreateInput, 0, len(awbs))
	seen := make(map[string]struct{}, len(awbs))
	for _, awb := range awbs {
		awb = strings.TrimSpace(awb)
		if awb == "" {
			return nil, errors.Wrap(apperr.ErrValidation, "blank awb in list")
		}
		if _, ok := seen[awb]; ok {
			continue
		}
		seen[awb] = struct{}{}
		clean = append(clean, models.ConsignmentCreateInput{AWB: awb})
	}

	return s.repo.CreateOrGetConsignments(ctx, clean)
}

// SummaryItem is one dashboard row: the consignment, its two latest events
// and both derived risk labels.
type SummaryItem struct {
	Consignment models.Consignment     `json:"consignment"`
	Timeline    []models.TimelineEvent `json:"timeline"`
	TAT         string                 `json:"tat"`
	Movement    string                 `json:"movement"`
}

type Page struct {
	Items      []SummaryItem `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
}

func (s *Service) Page(ctx context.Context, filter pgconsignment.PageFilter, page, pageSize int) (Page, error) {
	raw, err := s.repo.ListConsignmentPage(ctx, filter, page, pageSize)
	if err != nil {
		return Page{}, err
	}

	now := s.now()
	out := Page{
		Items:      make([]SummaryItem, 0, len(raw.Items)),
		Total:      raw.Total,
		Page:       raw.Page,
		PageSize:   raw.PageSize,
		TotalPages: raw.TotalPages,
	}
	for _, it := range raw.Items {
		out.Items = append(out.Items, SummaryItem{
			Consignment: it.Consignment,
			Timeline:    it.Timeline,
			TAT:         risk.TAT(it.Consignment.AWB, it.Consignment.BookedOn, now),
			Movement:    risk.Movement(it.Timeline, now),
		})
	}
	return out, nil
}

// CurrentStatus is the derived "where is it now" snapshot for the detail
// view, taken from the latest timeline event.
type CurrentStatus struct {
	Status   *string    `json:"status"`
	Date     *time.Time `json:"date"`
	Time     *string    `json:"time"`
	Location *string    `json:"location"`
	Remarks  *string    `json:"remarks"`
}

type Flags struct {
	Delivered      bool `json:"delivered"`
	OutForDelivery bool `json:"outForDelivery"`
	RTO            bool `json:"rto"`
	Delayed        bool `json:"delayed"`
}

type Detail struct {
	Consignment   models.Consignment         `json:"consignment"`
	CurrentStatus CurrentStatus              `json:"currentStatus"`
	Timeline      []models.TimelineEvent     `json:"timeline"`
	History       []models.StatusHistoryEntry `json:"history"`
	TAT           string                     `json:"tat"`
	Movement      string                     `json:"movement"`
	Flags         Flags                      `json:"flags"`
}

func (s *Service) Detail(ctx context.Context, awb string) (Detail, error) {
	if awb == "" {
		return Detail{}, errors.Wrap(apperr.ErrValidation, "awb is required")
	}

	if s.cache != nil && s.detailTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, detailKey(awb)); err == nil && ok {
			var d Detail
			if json.Unmarshal(b, &d) == nil {
				return d, nil
			}
		}
	}

	d, err := s.buildDetail(ctx, awb)
	if err != nil {
		return Detail{}, err
	}

	if s.cache != nil && s.detailTTL > 0 {
		if b, err := json.Marshal(d); err == nil {
			_ = s.cache.Set(ctx, detailKey(awb), b, s.detailTTL)
		}
	}
	return d, nil
}

func (s *Service) buildDetail(ctx context.Context, awb string) (Detail, error) {
	c, err := s.repo.GetConsignmentByAWB(ctx, awb)
	if err != nil {
		return Detail{}, err
	}

	timeline, err := s.repo.ListTimeline(ctx, c.ID)
	if err != nil {
		return Detail{}, err
	}
	latest, err := s.repo.LatestEvents(ctx, c.ID, 2)
	if err != nil {
		return Detail{}, err
	}
	history, err := s.repo.ListStatusHistory(ctx, c.ID)
	if err != nil {
		return Detail{}, err
	}

	now := s.now()
	d := Detail{
		Consignment:   *c,
		CurrentStatus: currentStatus(c, latest),
		Timeline:      timeline,
		History:       history,
		TAT:           risk.TAT(c.AWB, c.BookedOn, now),
		Movement:      risk.Movement(latest, now),
		Flags:         deriveFlags(c, now),
	}
	return d, nil
}

func currentStatus(c *models.Consignment, latest []models.TimelineEvent) CurrentStatus {
	cs := CurrentStatus{
		Status:   c.LastStatus,
		Date:     c.LastUpdatedOn,
		Location: c.Origin,
	}
	if len(latest) == 0 {
		return cs
	}

	last := latest[0]
	if last.ActionDate != nil {
		cs.Date = last.ActionDate
	}
	cs.Time = last.ActionTime
	cs.Remarks = last.Remarks
	if last.Origin != nil {
		cs.Location = last.Origin
	} else if last.Destination != nil {
		cs.Location = last.Destination
	}
	return cs
}

func deriveFlags(c *models.Consignment, now time.Time) Flags {
	f := Flags{
		Delivered:      statusContains(c.LastStatus, "delivered"),
		OutForDelivery: statusContains(c.LastStatus, "out for delivery"),
		RTO:            statusContains(c.LastStatus, "rto"),
	}
	if c.LastUpdatedOn != nil {
		f.Delayed = c.LastUpdatedOn.Before(now.Add(-3 * 24 * time.Hour))
	}
	return f
}

func (s *Service) Stats(ctx context.Context) (pgconsignment.Stats, error) {
	return s.repo.GetStats(ctx)
}

// Refresh makes one AWB due for the next worker cycle.
func (s *Service) Refresh(ctx context.Context, awb string) error {
	if awb == "" {
		return errors.Wrap(apperr.ErrValidation, "awb is required")
	}
	return s.repo.RefreshConsignment(ctx, awb)
}

// ApplyUpdatedEvent handles a consignment.updated message from the worker:
// the cached detail snapshot is stale, drop it so the next read rebuilds.
func (s *Service) ApplyUpdatedEvent(ctx context.Context, msg messages.ConsignmentUpdated) error {
	if msg.AWB == "" {
		return errors.Wrap(apperr.ErrValidation, "message has no awb")
	}
	if s.cache == nil || s.detailTTL <= 0 {
		return nil
	}
	return s.cache.Delete(ctx, detailKey(msg.AWB))
}

func detailKey(awb string) string {
	return fmt.Sprintf("consignment:%s:detail", awb)
}

func statusContains(status *string, needle string) bool {
	if status == nil {
		return false
	}
	return strings.Contains(strings.ToLower(*status), needle)
}
