package pgconsignment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parcelops/trackdesk/internal/models"
	"github.com/pkg/errors"
)

// PageFilter narrows the consignment list. Zero values mean "no filter".
type PageFilter struct {
	Search string // substring match on AWB
	Status string // substring match on last_status, case-insensitive
	From   *time.Time
	To     *time.Time
}

type ConsignmentSummary struct {
	Consignment models.Consignment
	// Two most recent events, latest first.
	Timeline []models.TimelineEvent
}

type ConsignmentPage struct {
	Items      []ConsignmentSummary
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// ListConsignmentPage returns one page of consignments ordered by
// last_updated_on descending, with the latest two events per row.
func (s *Storage) ListConsignmentPage(ctx context.Context, filter PageFilter, page, pageSize int) (ConsignmentPage, error) {
	if page < 1 {
		page = 1
	}
	// Tiny page sizes are clamped up, never replaced by the default.
	if pageSize < 5 {
		pageSize = 5
	}

	where, args := buildFilter(filter)

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM consignments`+where, args...).Scan(&total); err != nil {
		return ConsignmentPage{}, errors.Wrap(err, "count consignments")
	}

	out := ConsignmentPage{
		Items:      []ConsignmentSummary{},
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: 1,
	}
	if total > 0 {
		out.TotalPages = (total + pageSize - 1) / pageSize
	}

	listArgs := append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
SELECT %s
FROM consignments
%s
ORDER BY last_updated_on DESC NULLS LAST, id DESC
LIMIT $%d OFFSET $%d
`, consignmentColumns, where, len(args)+1, len(args)+2), listArgs...)
	if err != nil {
		return ConsignmentPage{}, errors.Wrap(err, "select consignment page")
	}
	consignments, err := scanConsignments(rows, pageSize)
	rows.Close()
	if err != nil {
		return ConsignmentPage{}, err
	}

	ids := make([]uint64, 0, len(consignments))
	for _, c := range consignments {
		ids = append(ids, c.ID)
	}
	timelines, err := s.latestTwoPerConsignment(ctx, ids)
	if err != nil {
		return ConsignmentPage{}, err
	}

	for _, c := range consignments {
		out.Items = append(out.Items, ConsignmentSummary{
			Consignment: *c,
			Timeline:    timelines[c.ID],
		})
	}
	return out, nil
}

func buildFilter(f PageFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Search != "" {
		add(`awb LIKE $%d`, "%"+f.Search+"%")
	}
	if f.Status != "" && !strings.EqualFold(f.Status, "all") {
		add(`LOWER(last_status) LIKE $%d`, "%"+strings.ToLower(f.Status)+"%")
	}
	if f.From != nil {
		add(`last_updated_on::date >= $%d`, *f.From)
	}
	if f.To != nil {
		add(`last_updated_on::date <= $%d`, *f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Stats are the dashboard headline counters.
type Stats struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	RTO       int `json:"rto"`
	Pending   int `json:"pending"`
}

func (s *Storage) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE LOWER(last_status) LIKE '%deliver%'),
  COUNT(*) FILTER (WHERE LOWER(last_status) LIKE '%rto%'),
  COUNT(*) FILTER (WHERE last_status IS NULL
    OR (LOWER(last_status) NOT LIKE '%deliver%' AND LOWER(last_status) NOT LIKE '%rto%'))
FROM consignments
`).Scan(&st.Total, &st.Delivered, &st.RTO, &st.Pending)
	if err != nil {
		return Stats{}, errors.Wrap(err, "select stats")
	}
	return st, nil
}
