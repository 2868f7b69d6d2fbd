package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BearBump/PackBox/internal/broker/messages"
	"github.com/BearBump/PackBox/internal/cache"
	"github.com/BearBump/PackBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetJob(ctx context.Context, orderID string) (*models.Job, error)
	ListByStates(ctx context.Context, states ...string) ([]*models.Job, error)
}

// recentLimit ограничивает ленту последних kafka-событий в памяти.
const recentLimit = 100

var allStates = []string{
	models.JobStateQueued,
	models.JobStateBooking,
	models.JobStateBooked,
	models.JobStateFetching,
	models.JobStateMerged,
	models.JobStateReporting,
	models.JobStateDone,
	models.JobStateFailed,
}

// Service — read-сторона pack-api: отдаёт состояние джоб, кэшируя
// "текущее состояние" в redis, и ведёт ленту последних событий из kafka.
type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration

	recentMu sync.Mutex
	recent   []messages.JobUpdated
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func (s *Service) GetJob(ctx context.Context, orderID string) (*models.Job, error) {
	if orderID == "" {
		return nil, errors.New("order_id is required")
	}

	// Кэш — лучшее усилие: любая ошибка или мусор в значении означает miss.
	if s.cache != nil && s.currentTTL > 0 {
		b, ok, err := s.cache.Get(ctx, currentKey(orderID))
		if err == nil && ok {
			var j models.Job
			if json.Unmarshal(b, &j) == nil {
				return &j, nil
			}
		}
	}

	j, err := s.repo.GetJob(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.currentTTL > 0 {
		b, _ := json.Marshal(j)
		_ = s.cache.Set(ctx, currentKey(orderID), b, s.currentTTL)
	}
	return j, nil
}

func (s *Service) ListJobs(ctx context.Context, states []string) ([]*models.Job, error) {
	if len(states) == 0 {
		states = allStates
	}
	for _, st := range states {
		if !validState(st) {
			return nil, errors.Errorf("unknown state %q", st)
		}
	}
	return s.repo.ListByStates(ctx, states...)
}

// ApplyKafkaUpdate принимает событие воркера: пишет его в ленту и
// перезагружает кэш текущего состояния из БД.
func (s *Service) ApplyKafkaUpdate(ctx context.Context, msg messages.JobUpdated) error {
	if msg.OrderID == "" {
		return errors.New("order_id is required")
	}
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}

	s.recentMu.Lock()
	s.recent = append(s.recent, msg)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
	s.recentMu.Unlock()

	if s.cache != nil && s.currentTTL > 0 {
		j, err := s.repo.GetJob(ctx, msg.OrderID)
		if err == nil {
			b, _ := json.Marshal(j)
			_ = s.cache.Set(ctx, currentKey(msg.OrderID), b, s.currentTTL)
		}
	}
	return nil
}

// RecentEvents возвращает копию ленты, новые события в конце.
func (s *Service) RecentEvents() []messages.JobUpdated {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	out := make([]messages.JobUpdated, len(s.recent))
	copy(out, s.recent)
	return out
}

func validState(s string) bool {
	for _, st := range allStates {
		if st == s {
			return true
		}
	}
	return false
}

func currentKey(orderID string) string {
	return fmt.Sprintf("job:%s:current", orderID)
}
