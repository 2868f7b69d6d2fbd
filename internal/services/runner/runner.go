package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BearBump/PackBox/internal/broker/messages"
	"github.com/BearBump/PackBox/internal/integrations/booking"
	"github.com/BearBump/PackBox/internal/integrations/failure"
	"github.com/BearBump/PackBox/internal/integrations/fulfillment"
	"github.com/BearBump/PackBox/internal/models"
	"github.com/BearBump/PackBox/internal/observability"
	"github.com/BearBump/PackBox/internal/storage/pgjobs"
)

type Repository interface {
	ClaimNext(ctx context.Context, from, to string, now time.Time) (*models.Job, error)
	Transition(ctx context.Context, orderID, from, to string, f pgjobs.TransitionFields) error
	ListByStates(ctx context.Context, states ...string) ([]*models.Job, error)
}

type Labels interface {
	FetchAndMerge(ctx context.Context, jobs []*models.Job, runAt time.Time) (string, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Runner гоняет джобы по конвейеру QUEUED -> BOOKING -> BOOKED -> FETCHING
// -> MERGED -> REPORTING -> DONE. Один прогон (runOnce) — это три фазы:
// бронирование всех готовых джоб, склейка этикеток одной пачкой, отчёт в
// магазин. БД — единственный источник правды, kafka-события вторичны.
type Runner struct {
	repo     Repository
	booking  booking.Client
	reporter fulfillment.Client // nil: отчёт выключен, MERGED -> DONE напрямую
	labels   Labels
	producer Producer
	rl       RateLimiter

	topic string

	planner *Planner

	pollInterval       time.Duration
	maxAttempts        int32
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalBooked         atomic.Int64
	totalMerged         atomic.Int64
	totalDone           atomic.Int64
	totalFailed         atomic.Int64
	totalErrors         atomic.Int64

	lastErrorMu    sync.Mutex
	lastError      string
	lastMergedFile string
}

func New(repo Repository, bookingClient booking.Client, labels Labels, producer Producer, rl RateLimiter, topic string) *Runner {
	return &Runner{
		repo: repo, booking: bookingClient, labels: labels, producer: producer, rl: rl, topic: topic,
		planner:            DefaultPlanner(),
		pollInterval:       5 * time.Second,
		maxAttempts:        3,
		rateLimitPerMinute: 60,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Runner) WithSettings(pollInterval time.Duration, maxAttempts int, rlPerMin int64) *Runner {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if maxAttempts > 0 {
		r.maxAttempts = int32(maxAttempts)
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

func (r *Runner) WithPlanner(cfg PlannerConfig) *Runner {
	r.planner = NewPlanner(cfg)
	return r
}

func (r *Runner) WithReporter(c fulfillment.Client) *Runner {
	r.reporter = c
	return r
}

// Trigger forces an immediate run (best-effort, non-blocking).
func (r *Runner) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalBooked    int64      `json:"totalBooked"`
	TotalMerged    int64      `json:"totalMerged"`
	TotalDone      int64      `json:"totalDone"`
	TotalFailed    int64      `json:"totalFailed"`
	TotalErrors    int64      `json:"totalErrors"`
	LastError      string     `json:"lastError,omitempty"`
	LastMergedFile string     `json:"lastMergedFile,omitempty"`
}

func (r *Runner) Stats() Stats {
	st := Stats{
		StartedAt:   time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalBooked: r.totalBooked.Load(),
		TotalMerged: r.totalMerged.Load(),
		TotalDone:   r.totalDone.Load(),
		TotalFailed: r.totalFailed.Load(),
		TotalErrors: r.totalErrors.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	st.LastMergedFile = r.lastMergedFile
	r.lastErrorMu.Unlock()
	return st
}

func (r *Runner) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	r.lastCycleUnixNano.Store(now.UnixNano())

	if err := r.recoverStale(ctx, now); err != nil {
		r.noteError(err)
		slog.Error("recover stale jobs", "error", err.Error())
		return
	}

	r.bookPhase(ctx)
	r.mergePhase(ctx, now)
	r.reportPhase(ctx)
}

// recoverStale возвращает в конвейер джобы, застрявшие в промежуточных
// состояниях после падения воркера. BOOKING с уже сохранённым label_ref
// означает, что бронь прошла до падения: повторный book не нужен.
func (r *Runner) recoverStale(ctx context.Context, now time.Time) error {
	stale, err := r.repo.ListByStates(ctx, models.JobStateBooking, models.JobStateFetching, models.JobStateReporting)
	if err != nil {
		return err
	}

	for _, j := range stale {
		switch j.State {
		case models.JobStateBooking:
			if j.HasLabelRef() {
				err = r.repo.Transition(ctx, j.OrderID, models.JobStateBooking, models.JobStateBooked, pgjobs.TransitionFields{})
			} else {
				// Запрос к перевозчику мог уйти до падения — возможен дубль брони.
				slog.Warn("booking interrupted mid-flight, consignment may already exist",
					"order_id", j.OrderID, "attempt", j.AttemptCount)
				attempt := j.AttemptCount + 1
				next := now.Add(r.planner.Delay(attempt))
				msg := "booking interrupted by worker restart"
				err = r.repo.Transition(ctx, j.OrderID, models.JobStateBooking, models.JobStateQueued, pgjobs.TransitionFields{
					AttemptCount:  &attempt,
					LastError:     &msg,
					NextAttemptAt: &next,
				})
			}
		case models.JobStateFetching:
			err = r.repo.Transition(ctx, j.OrderID, models.JobStateFetching, models.JobStateBooked, pgjobs.TransitionFields{})
		case models.JobStateReporting:
			err = r.repo.Transition(ctx, j.OrderID, models.JobStateReporting, models.JobStateMerged, pgjobs.TransitionFields{})
		}
		if err != nil {
			// Конфликт означает, что джобу уже подхватил другой воркер.
			slog.Warn("recover job", "order_id", j.OrderID, "state", j.State, "error", err.Error())
		}
	}
	return nil
}

func (r *Runner) bookPhase(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j, err := r.repo.ClaimNext(ctx, models.JobStateQueued, models.JobStateBooking, time.Now().UTC())
		if err != nil {
			r.noteError(err)
			slog.Error("claim queued job", "error", err.Error())
			return
		}
		if j == nil {
			return
		}

		if err := r.bookOne(ctx, j); err != nil {
			r.totalErrors.Add(1)
			r.noteError(err)
			slog.Error("book job", "order_id", j.OrderID, "error", err.Error())
		}
	}
}

func (r *Runner) bookOne(ctx context.Context, j *models.Job) error {
	now := time.Now().UTC()

	if r.rl != nil && r.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:booking:%s", now.Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Слишком много броней в минуту: притормозим, API перевозчика строгий.
			slog.Warn("booking rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	// Этикетка уже есть — бронь прошла в прошлой жизни воркера.
	// Второй вызов book здесь недопустим.
	if j.HasLabelRef() {
		if err := r.repo.Transition(ctx, j.OrderID, models.JobStateBooking, models.JobStateBooked, pgjobs.TransitionFields{}); err != nil {
			return err
		}
		r.publish(ctx, j.OrderID, models.JobStateBooked, j.TrackingNumber, j.AttemptCount, "")
		return nil
	}

	var payload models.OrderPayload
	if err := json.Unmarshal([]byte(j.PayloadJSON), &payload); err != nil {
		return r.failJob(ctx, j, models.JobStateBooking, failure.Permanent("decode payload", err), nil)
	}

	start := time.Now()
	res, err := r.booking.Book(ctx, payload)
	observability.BookingDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := failure.KindOf(err)
		if kind == failure.KindPermanent {
			return r.failJob(ctx, j, models.JobStateBooking, err, nil)
		}
		if kind == failure.KindAmbiguous {
			slog.Warn("booking outcome unknown, retry may duplicate consignment",
				"order_id", j.OrderID, "error", err.Error())
		}

		attempt := j.AttemptCount + 1
		if attempt >= r.maxAttempts {
			return r.failJob(ctx, j, models.JobStateBooking, err, &attempt)
		}

		observability.BookingRetries.Inc()
		next := now.Add(r.planner.Delay(attempt))
		errStr := err.Error()
		return r.repo.Transition(ctx, j.OrderID, models.JobStateBooking, models.JobStateQueued, pgjobs.TransitionFields{
			AttemptCount:  &attempt,
			LastError:     &errStr,
			NextAttemptAt: &next,
		})
	}

	bookedAt := now
	if err := r.repo.Transition(ctx, j.OrderID, models.JobStateBooking, models.JobStateBooked, pgjobs.TransitionFields{
		TrackingNumber: &res.TrackingNumber,
		LabelRef:       &res.LabelRef,
		BookedAt:       &bookedAt,
	}); err != nil {
		return err
	}

	observability.JobsBooked.Inc()
	r.totalBooked.Add(1)
	slog.Info("order booked", "order_id", j.OrderID, "tracking_number", res.TrackingNumber)
	r.publish(ctx, j.OrderID, models.JobStateBooked, &res.TrackingNumber, j.AttemptCount, "")
	return nil
}

func (r *Runner) failJob(ctx context.Context, j *models.Job, from string, cause error, attempt *int32) error {
	kind := failure.KindOf(cause)
	errStr := cause.Error()
	if err := r.repo.Transition(ctx, j.OrderID, from, models.JobStateFailed, pgjobs.TransitionFields{
		AttemptCount: attempt,
		LastError:    &errStr,
	}); err != nil {
		return err
	}

	observability.JobsFailed.WithLabelValues(kind.String()).Inc()
	r.totalFailed.Add(1)
	slog.Error("job failed", "order_id", j.OrderID, "kind", kind.String(), "error", errStr)

	ac := j.AttemptCount
	if attempt != nil {
		ac = *attempt
	}
	r.publish(ctx, j.OrderID, models.JobStateFailed, j.TrackingNumber, ac, errStr)
	return nil
}

// mergePhase склеивает этикетки всех BOOKED-джоб в один документ. Пачка
// строго "всё или ничего": частичный провал возвращает всех в BOOKED.
func (r *Runner) mergePhase(ctx context.Context, runAt time.Time) {
	batch, err := r.repo.ListByStates(ctx, models.JobStateBooked)
	if err != nil {
		r.noteError(err)
		slog.Error("list booked jobs", "error", err.Error())
		return
	}
	if len(batch) == 0 {
		return
	}

	claimed := make([]*models.Job, 0, len(batch))
	for _, j := range batch {
		if err := r.repo.Transition(ctx, j.OrderID, models.JobStateBooked, models.JobStateFetching, pgjobs.TransitionFields{}); err != nil {
			// Конфликт: джобу увёл другой воркер, пачка просто будет короче.
			slog.Warn("claim for merge", "order_id", j.OrderID, "error", err.Error())
			continue
		}
		claimed = append(claimed, j)
	}
	if len(claimed) == 0 {
		return
	}

	out, err := r.labels.FetchAndMerge(ctx, claimed, runAt)
	if err != nil {
		observability.MergeRuns.WithLabelValues("failed").Inc()
		r.noteError(err)
		slog.Error("merge labels", "jobs", len(claimed), "error", err.Error())
		errStr := err.Error()
		for _, j := range claimed {
			if terr := r.repo.Transition(ctx, j.OrderID, models.JobStateFetching, models.JobStateBooked, pgjobs.TransitionFields{
				LastError: &errStr,
			}); terr != nil {
				slog.Error("revert after merge failure", "order_id", j.OrderID, "error", terr.Error())
			}
		}
		return
	}

	observability.MergeRuns.WithLabelValues("ok").Inc()
	r.lastErrorMu.Lock()
	r.lastMergedFile = out
	r.lastErrorMu.Unlock()
	slog.Info("labels merged", "file", out, "jobs", len(claimed))

	for _, j := range claimed {
		if err := r.repo.Transition(ctx, j.OrderID, models.JobStateFetching, models.JobStateMerged, pgjobs.TransitionFields{}); err != nil {
			r.noteError(err)
			slog.Error("mark merged", "order_id", j.OrderID, "error", err.Error())
			continue
		}
		r.totalMerged.Add(1)
		r.publish(ctx, j.OrderID, models.JobStateMerged, j.TrackingNumber, j.AttemptCount, "")
	}
}

func (r *Runner) reportPhase(ctx context.Context) {
	batch, err := r.repo.ListByStates(ctx, models.JobStateMerged)
	if err != nil {
		r.noteError(err)
		slog.Error("list merged jobs", "error", err.Error())
		return
	}

	for _, j := range batch {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if r.reporter == nil {
			if err := r.repo.Transition(ctx, j.OrderID, models.JobStateMerged, models.JobStateDone, pgjobs.TransitionFields{}); err != nil {
				slog.Warn("mark done", "order_id", j.OrderID, "error", err.Error())
				continue
			}
			r.totalDone.Add(1)
			r.publish(ctx, j.OrderID, models.JobStateDone, j.TrackingNumber, j.AttemptCount, "")
			continue
		}

		if err := r.repo.Transition(ctx, j.OrderID, models.JobStateMerged, models.JobStateReporting, pgjobs.TransitionFields{}); err != nil {
			slog.Warn("claim for report", "order_id", j.OrderID, "error", err.Error())
			continue
		}

		tn := ""
		if j.TrackingNumber != nil {
			tn = *j.TrackingNumber
		}
		if err := r.reporter.Report(ctx, j.OrderID, tn); err != nil {
			r.totalErrors.Add(1)
			r.noteError(err)
			if failure.KindOf(err) == failure.KindPermanent {
				_ = r.failJob(ctx, j, models.JobStateReporting, err, nil)
				continue
			}
			attempt := j.AttemptCount + 1
			if attempt >= r.maxAttempts {
				_ = r.failJob(ctx, j, models.JobStateReporting, err, &attempt)
				continue
			}
			// Возвращаем в MERGED и повторим в следующем прогоне:
			// бронь и этикетка уже есть, теряется только отметка в магазине.
			slog.Warn("report fulfillment", "order_id", j.OrderID, "error", err.Error())
			errStr := err.Error()
			if terr := r.repo.Transition(ctx, j.OrderID, models.JobStateReporting, models.JobStateMerged, pgjobs.TransitionFields{
				AttemptCount: &attempt,
				LastError:    &errStr,
			}); terr != nil {
				slog.Error("revert after report failure", "order_id", j.OrderID, "error", terr.Error())
			}
			continue
		}

		if err := r.repo.Transition(ctx, j.OrderID, models.JobStateReporting, models.JobStateDone, pgjobs.TransitionFields{}); err != nil {
			slog.Warn("mark done", "order_id", j.OrderID, "error", err.Error())
			continue
		}
		r.totalDone.Add(1)
		slog.Info("order fulfilled", "order_id", j.OrderID, "tracking_number", tn)
		r.publish(ctx, j.OrderID, models.JobStateDone, j.TrackingNumber, j.AttemptCount, "")
	}
}

func (r *Runner) publish(ctx context.Context, orderID, state string, trackingNumber *string, attempt int32, errMsg string) {
	if r.producer == nil {
		return
	}
	msg := messages.JobUpdated{
		EventID:      uuid.NewString(),
		OrderID:      orderID,
		State:        state,
		At:           time.Now().UTC(),
		AttemptCount: attempt,
		Error:        errMsg,
	}
	if trackingNumber != nil {
		msg.TrackingNumber = *trackingNumber
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal job update", "order_id", orderID, "error", err.Error())
		return
	}
	// Лента событий вторична относительно БД: джобу из-за kafka не валим.
	if err := r.producer.Publish(ctx, r.topic, []byte(orderID), b); err != nil {
		slog.Warn("publish job update", "order_id", orderID, "error", err.Error())
	}
}

func (r *Runner) noteError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
