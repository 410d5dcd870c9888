package pgconsignment

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parcelops/trackdesk/internal/apperr"
	"github.com/parcelops/trackdesk/internal/models"
	"github.com/pkg/errors"
)

const consignmentColumns = `
  id, awb, last_status, origin, destination,
  booked_on, last_updated_on,
  last_checked_at, next_check_at, check_fail_count, last_error,
  created_at, updated_at`

// CreateOrGetConsignments registers AWBs for tracking. Existing rows are
// returned untouched.
func (s *Storage) CreateOrGetConsignments(ctx context.Context, items []models.ConsignmentCreateInput) ([]*models.Consignment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO consignments (awb, next_check_at, created_at, updated_at)
VALUES ($1,$2,$3,$3)
ON CONFLICT (awb)
DO UPDATE SET updated_at = consignments.updated_at
RETURNING id
`, it.AWB, now, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert consignment")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetConsignmentsByIDs(ctx, ids)
}

func (s *Storage) GetConsignmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Consignment, error) {
	if len(ids) == 0 {
		return []*models.Consignment{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+consignmentColumns+` FROM consignments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select consignments")
	}
	defer rows.Close()

	return scanConsignments(rows, len(ids))
}

func (s *Storage) GetConsignmentByAWB(ctx context.Context, awb string) (*models.Consignment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+consignmentColumns+` FROM consignments WHERE awb = $1`, awb)
	if err != nil {
		return nil, errors.Wrap(err, "select consignment")
	}
	defer rows.Close()

	out, err := scanConsignments(rows, 1)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(apperr.ErrNotFound, "awb %s", awb)
	}
	return out[0], nil
}

// IngestResult reports what one ingestion transaction actually changed.
type IngestResult struct {
	ConsignmentID  uint64
	PreviousStatus *string
	NewEvents      int
	StatusChanged  bool
}

// IngestTracking is the per-AWB unit of atomicity: upsert the consignment,
// append unseen timeline events, and log a status transition, all in one
// transaction. The initial upsert takes the row lock, so concurrent
// ingestions of the same AWB serialize here and the previous status is read
// under that lock — two racing polls can neither suppress a real transition
// nor record it twice.
func (s *Storage) IngestTracking(ctx context.Context, header models.ConsignmentHeader, events []models.TimelineEvent, checkedAt, nextCheckAt time.Time) (IngestResult, error) {
	var res IngestResult

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
INSERT INTO consignments (awb, next_check_at, created_at, updated_at)
VALUES ($1,$2,$3,$3)
ON CONFLICT (awb) DO UPDATE SET updated_at = now()
RETURNING id, last_status
`, header.AWB, nextCheckAt.UTC(), checkedAt.UTC()).Scan(&res.ConsignmentID, &res.PreviousStatus)
	if err != nil {
		return res, errors.Wrap(err, "upsert consignment")
	}

	// Partial-update semantics: absent header fields never erase stored values.
	_, err = tx.Exec(ctx, `
UPDATE consignments
SET
  last_status = COALESCE($2, last_status),
  origin = COALESCE($3, origin),
  destination = COALESCE($4, destination),
  booked_on = COALESCE($5, booked_on),
  last_updated_on = COALESCE($6, last_updated_on),
  last_checked_at = $7,
  check_fail_count = 0,
  last_error = NULL,
  next_check_at = $8,
  updated_at = now()
WHERE id = $1
`, res.ConsignmentID,
		header.LastStatus, header.Origin, header.Destination,
		header.BookedOn, header.LastUpdatedOn,
		checkedAt.UTC(), nextCheckAt.UTC())
	if err != nil {
		return res, errors.Wrap(err, "update consignment")
	}

	for _, e := range events {
		tag, err := tx.Exec(ctx, `
INSERT INTO tracking_events (
  consignment_id, action, action_date, action_time, origin, destination, remarks, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7, now())
ON CONFLICT (consignment_id, action, action_date, action_time) DO NOTHING
`, res.ConsignmentID, e.Action, e.ActionDate, e.ActionTime, e.Origin, e.Destination, e.Remarks)
		if err != nil {
			return res, errors.Wrap(err, "insert tracking event")
		}
		res.NewEvents += int(tag.RowsAffected())
	}

	// The transition log is strict: only real changes of the effective status
	// are appended. A header without a status keeps the stored one and logs
	// nothing, so repeated polls stay no-ops.
	if header.LastStatus != nil && !equalStatus(res.PreviousStatus, header.LastStatus) {
		_, err = tx.Exec(ctx, `
INSERT INTO tracking_history (consignment_id, old_status, new_status, changed_at)
VALUES ($1,$2,$3, now())
`, res.ConsignmentID, res.PreviousStatus, header.LastStatus)
		if err != nil {
			return res, errors.Wrap(err, "insert status transition")
		}
		res.StatusChanged = true
	}

	if err := tx.Commit(ctx); err != nil {
		return res, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

// BackoffLadder is the retry schedule applied to consecutive failed checks:
// the first failure waits the first entry, the fourth and later failures the
// last one.
type BackoffLadder [4]time.Duration

// MarkCheckFailed records a failed poll without touching tracking data. The
// next check is scheduled from the incremented fail count so the delay and
// the counter can never disagree. Unregistered AWBs are a no-op.
func (s *Storage) MarkCheckFailed(ctx context.Context, awb string, errText string, checkedAt time.Time, backoff BackoffLadder) error {
	_, err := s.db.Exec(ctx, `
UPDATE consignments
SET
  last_checked_at = $2,
  check_fail_count = check_fail_count + 1,
  last_error = $3,
  next_check_at = $2 + make_interval(secs => (
    CASE LEAST(check_fail_count + 1, 4)
      WHEN 1 THEN $4::float8
      WHEN 2 THEN $5::float8
      WHEN 3 THEN $6::float8
      ELSE $7::float8
    END)),
  updated_at = now()
WHERE awb = $1
`, awb, checkedAt.UTC(), errText,
		backoff[0].Seconds(), backoff[1].Seconds(), backoff[2].Seconds(), backoff[3].Seconds())
	return errors.Wrap(err, "mark check failed")
}

// RefreshConsignment makes one AWB due for polling immediately.
func (s *Storage) RefreshConsignment(ctx context.Context, awb string) error {
	tag, err := s.db.Exec(ctx, `UPDATE consignments SET next_check_at = now(), updated_at = now() WHERE awb = $1`, awb)
	if err != nil {
		return errors.Wrap(err, "refresh consignment")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(apperr.ErrNotFound, "awb %s", awb)
	}
	return nil
}

// ClaimDueConsignments picks rows ready for a re-poll and leases them so a
// second worker run does not pick them up mid-flight.
// Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueConsignments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Consignment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+consignmentColumns+`
FROM consignments
WHERE next_check_at <= $1
  AND (last_status IS NULL OR LOWER(last_status) NOT LIKE '%delivered%')
ORDER BY next_check_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due consignments")
	}
	picked, err := scanConsignments(rows, limit)
	rows.Close()
	if err != nil {
		return nil, err
	}

	leaseUntil := now.UTC().Add(lease)
	for _, c := range picked {
		_, err := tx.Exec(ctx, `UPDATE consignments SET next_check_at = $2, updated_at = now() WHERE id = $1`, c.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease consignment")
		}
		c.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func scanConsignments(rows pgx.Rows, sizeHint int) ([]*models.Consignment, error) {
	out := make([]*models.Consignment, 0, sizeHint)
	for rows.Next() {
		var c models.Consignment
		if err := rows.Scan(
			&c.ID, &c.AWB, &c.LastStatus, &c.Origin, &c.Destination,
			&c.BookedOn, &c.LastUpdatedOn,
			&c.LastCheckedAt, &c.NextCheckAt, &c.CheckFailCount, &c.LastError,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan consignment")
		}
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func equalStatus(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
