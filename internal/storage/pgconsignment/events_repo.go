package pgconsignment

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/parcelops/trackdesk/internal/models"
	"github.com/pkg/errors"
)

const eventColumns = `
  id, consignment_id, action, action_date, action_time,
  origin, destination, remarks, created_at`

// ListTimeline returns the full timeline in chronological order, for the
// detail view.
func (s *Storage) ListTimeline(ctx context.Context, consignmentID uint64) ([]models.TimelineEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+eventColumns+`
FROM tracking_events
WHERE consignment_id = $1
ORDER BY action_date ASC NULLS FIRST, action_time ASC NULLS FIRST, id ASC
`, consignmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select timeline")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestEvents returns up to limit events, most recent first. An event
// without a time sorts as midnight, so it loses to any timed event that day.
func (s *Storage) LatestEvents(ctx context.Context, consignmentID uint64, limit int) ([]models.TimelineEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT `+eventColumns+`
FROM tracking_events
WHERE consignment_id = $1
ORDER BY action_date DESC NULLS LAST, action_time DESC NULLS LAST, id DESC
LIMIT $2
`, consignmentID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select latest events")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// latestTwoPerConsignment feeds the summary page: the two most recent events
// for each requested consignment, keyed by consignment id.
func (s *Storage) latestTwoPerConsignment(ctx context.Context, ids []uint64) (map[uint64][]models.TimelineEvent, error) {
	out := make(map[uint64][]models.TimelineEvent, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT `+eventColumns+`
FROM (
  SELECT *,
         ROW_NUMBER() OVER (
           PARTITION BY consignment_id
           ORDER BY action_date DESC NULLS LAST, action_time DESC NULLS LAST, id DESC
         ) AS rn
  FROM tracking_events
  WHERE consignment_id = ANY($1)
) e
WHERE rn <= 2
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select summary events")
	}
	defer rows.Close()

	evs, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range evs {
		out[e.ConsignmentID] = append(out[e.ConsignmentID], e)
	}
	return out, nil
}

// ListStatusHistory returns the transition log, newest first.
func (s *Storage) ListStatusHistory(ctx context.Context, consignmentID uint64) ([]models.StatusHistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, consignment_id, old_status, new_status, changed_at
FROM tracking_history
WHERE consignment_id = $1
ORDER BY changed_at DESC, id DESC
`, consignmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select status history")
	}
	defer rows.Close()

	var out []models.StatusHistoryEntry
	for rows.Next() {
		var h models.StatusHistoryEntry
		if err := rows.Scan(&h.ID, &h.ConsignmentID, &h.OldStatus, &h.NewStatus, &h.ChangedAt); err != nil {
			return nil, errors.Wrap(err, "scan history entry")
		}
		out = append(out, h)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanEvents(rows pgx.Rows) ([]models.TimelineEvent, error) {
	var out []models.TimelineEvent
	for rows.Next() {
		var e models.TimelineEvent
		if err := rows.Scan(
			&e.ID, &e.ConsignmentID, &e.Action, &e.ActionDate, &e.ActionTime,
			&e.Origin, &e.Destination, &e.Remarks, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
