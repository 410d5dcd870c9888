package pgconsignment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS consignments (
  id BIGSERIAL PRIMARY KEY,
  awb TEXT NOT NULL UNIQUE,
  last_status TEXT NULL,
  origin TEXT NULL,
  destination TEXT NULL,
  booked_on DATE NULL,
  last_updated_on TIMESTAMPTZ NULL,
  last_checked_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_consignments_next_check_at ON consignments(next_check_at)`,
		`CREATE INDEX IF NOT EXISTS idx_consignments_last_updated_on ON consignments(last_updated_on DESC)`,
		`
CREATE TABLE IF NOT EXISTS tracking_events (
  id BIGSERIAL PRIMARY KEY,
  consignment_id BIGINT NOT NULL REFERENCES consignments(id) ON DELETE CASCADE,
  action TEXT NOT NULL,
  action_date DATE NULL,
  action_time TEXT NULL,
  origin TEXT NULL,
  destination TEXT NULL,
  remarks TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_order ON tracking_events(consignment_id, action_date DESC, action_time DESC)`,
		// Repeated polling of the same AWB must never duplicate a scan.
		// NULLS NOT DISTINCT so two events with an absent time still collide.
		`
CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_dedup
ON tracking_events(consignment_id, action, action_date, action_time)
NULLS NOT DISTINCT`,
		`
CREATE TABLE IF NOT EXISTS tracking_history (
  id BIGSERIAL PRIMARY KEY,
  consignment_id BIGINT NOT NULL REFERENCES consignments(id) ON DELETE CASCADE,
  old_status TEXT NULL,
  new_status TEXT NULL,
  changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_history_consignment ON tracking_history(consignment_id, changed_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
