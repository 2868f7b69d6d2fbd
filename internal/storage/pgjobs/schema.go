package pgjobs

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS jobs (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  state TEXT NOT NULL,
  attempt_count INT NOT NULL DEFAULT 0,
  payload JSONB NOT NULL,
  tracking_number TEXT NULL,
  label_ref TEXT NULL,
  last_error TEXT NULL,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  booked_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_state_next_attempt_at ON jobs(state, next_attempt_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_booked_at ON jobs(booked_at) WHERE booked_at IS NOT NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
