package pgjobs

import (
	"context"
	"time"

	"github.com/BearBump/PackBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const jobColumns = `
  id, order_id, state, attempt_count, payload::text,
  tracking_number, label_ref, last_error,
  next_attempt_at, booked_at,
  created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	if err := row.Scan(
		&j.ID, &j.OrderID, &j.State, &j.AttemptCount, &j.PayloadJSON,
		&j.TrackingNumber, &j.LabelRef, &j.LastError,
		&j.NextAttemptAt, &j.BookedAt,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateIfAbsent вставляет новую джобу в QUEUED. Если order_id уже есть,
// существующая строка возвращается нетронутой (payload не перезаписывается).
func (s *Storage) CreateIfAbsent(ctx context.Context, orderID, payloadJSON string) (*models.Job, bool, error) {
	now := time.Now().UTC()

	row := s.db.QueryRow(ctx, `
INSERT INTO jobs (order_id, state, payload, next_attempt_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4, $4)
ON CONFLICT (order_id) DO NOTHING
RETURNING`+jobColumns,
		orderID, models.JobStateQueued, payloadJSON, now)

	j, err := scanJob(row)
	if err == nil {
		return j, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.Wrap(err, "insert job")
	}

	existing, err := s.GetJob(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Storage) GetJob(ctx context.Context, orderID string) (*models.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT`+jobColumns+` FROM jobs WHERE order_id = $1`, orderID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select job")
	}
	return j, nil
}

// ResetFailed переводит FAILED -> QUEUED (явный повторный enqueue).
// Возвращает false, если джоба уже не в FAILED.
func (s *Storage) ResetFailed(ctx context.Context, orderID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE jobs
SET state = $2, attempt_count = 0, last_error = NULL, next_attempt_at = now(), updated_at = now()
WHERE order_id = $1 AND state = $3
`, orderID, models.JobStateQueued, models.JobStateFailed)
	if err != nil {
		return false, errors.Wrap(err, "reset failed job")
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimNext атомарно забирает одну готовую джобу в состоянии from и
// переводит её в to внутри одной транзакции (FOR UPDATE SKIP LOCKED),
// чтобы два воркера никогда не взяли одну строку. Возвращает nil, если
// готовых джоб нет.
func (s *Storage) ClaimNext(ctx context.Context, from, to string, now time.Time) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
SELECT`+jobColumns+`
FROM jobs
WHERE state = $1 AND next_attempt_at <= $2
ORDER BY id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED
`, from, now.UTC())

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select claimable job")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET state = $2, updated_at = now() WHERE id = $1`, j.ID, to); err != nil {
		return nil, errors.Wrap(err, "claim job")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	j.State = to
	return j, nil
}

// TransitionFields — опциональные поля, записываемые вместе с переходом.
// nil-поля не трогают колонку; LastError записывается всегда (nil очищает
// прошлую ошибку, как того требует успешный переход).
type TransitionFields struct {
	TrackingNumber *string
	LabelRef       *string
	BookedAt       *time.Time
	AttemptCount   *int32
	LastError      *string
	NextAttemptAt  *time.Time
}

// Transition переводит джобу from -> to с оптимистичной проверкой: если
// текущий state не равен from, возвращается ErrConflict. Это защита от
// упавшего воркера, который после рестарта пытается применить переход по
// устаревшему снимку строки.
func (s *Storage) Transition(ctx context.Context, orderID, from, to string, f TransitionFields) error {
	tag, err := s.db.Exec(ctx, `
UPDATE jobs
SET
  state = $3,
  tracking_number = COALESCE($4, tracking_number),
  label_ref = COALESCE($5, label_ref),
  booked_at = COALESCE($6, booked_at),
  attempt_count = COALESCE($7, attempt_count),
  last_error = $8,
  next_attempt_at = COALESCE($9, next_attempt_at),
  updated_at = now()
WHERE order_id = $1 AND state = $2
`, orderID, from, to,
		f.TrackingNumber, f.LabelRef, f.BookedAt, f.AttemptCount, f.LastError, f.NextAttemptAt)
	if err != nil {
		return errors.Wrap(err, "transition job")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Разбираемся, почему не сошлось: нет строки или не тот state.
	cur, err := s.GetJob(ctx, orderID)
	if err != nil {
		return err
	}
	return errors.Wrapf(ErrConflict, "order %s: want %s, have %s", orderID, from, cur.State)
}

// ListByStates возвращает джобы в указанных состояниях в порядке брони
// (booked_at, затем id) — этот порядок сохраняет merge.
func (s *Storage) ListByStates(ctx context.Context, states ...string) ([]*models.Job, error) {
	if len(states) == 0 {
		return []*models.Job{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT`+jobColumns+`
FROM jobs
WHERE state = ANY($1)
ORDER BY booked_at ASC NULLS LAST, id ASC
`, states)
	if err != nil {
		return nil, errors.Wrap(err, "select jobs by state")
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, j)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
