package enqueuer

import (
	"context"
	"encoding/json"

	"github.com/BearBump/PackBox/internal/models"
	"github.com/pkg/errors"
)

type Result string

const (
	ResultCreated         Result = "created"
	ResultAlreadyQueued   Result = "already_queued"
	ResultResetFromFailed Result = "reset_from_failed"
)

type Repository interface {
	CreateIfAbsent(ctx context.Context, orderID, payloadJSON string) (*models.Job, bool, error)
	ResetFailed(ctx context.Context, orderID string) (bool, error)
}

type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// Enqueue создаёт джобу для заказа. Повторный вызов для живой джобы —
// no-op (payload уже в полёте, молча менять детали отправления нельзя);
// для FAILED — явный ретрай со сбросом attempt_count и last_error.
func (s *Service) Enqueue(ctx context.Context, payload models.OrderPayload) (Result, error) {
	if payload.OrderID == "" {
		return "", errors.New("order_id is required")
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal payload")
	}

	job, created, err := s.repo.CreateIfAbsent(ctx, payload.OrderID, string(b))
	if err != nil {
		return "", err
	}
	if created {
		return ResultCreated, nil
	}

	if job.State == models.JobStateFailed {
		ok, err := s.repo.ResetFailed(ctx, payload.OrderID)
		if err != nil {
			return "", err
		}
		if ok {
			return ResultResetFromFailed, nil
		}
		// Кто-то успел сбросить её раньше нас.
	}
	return ResultAlreadyQueued, nil
}

// EnqueueAll enqueues a batch, skipping in-batch duplicates by order_id.
func (s *Service) EnqueueAll(ctx context.Context, payloads []models.OrderPayload) (map[string]Result, error) {
	if len(payloads) == 0 {
		return nil, errors.New("payloads is empty")
	}
	if len(payloads) > 10_000 {
		return nil, errors.New("too many payloads (max 10000)")
	}

	out := make(map[string]Result, len(payloads))
	for _, p := range payloads {
		if _, ok := out[p.OrderID]; ok && p.OrderID != "" {
			continue
		}
		res, err := s.Enqueue(ctx, p)
		if err != nil {
			return out, errors.Wrapf(err, "enqueue order %s", p.OrderID)
		}
		out[p.OrderID] = res
	}
	return out, nil
}
