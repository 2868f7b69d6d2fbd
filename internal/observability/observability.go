package observability

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packbox_jobs_enqueued_total",
		Help: "Total enqueue requests by outcome.",
	}, []string{"result"}) // result: created, already_queued, reset_from_failed

	JobsBooked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packbox_jobs_booked_total",
		Help: "Total jobs that received a consignment number.",
	})

	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packbox_jobs_failed_total",
		Help: "Total jobs moved to FAILED.",
	}, []string{"kind"}) // kind: transient, permanent, ambiguous

	BookingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packbox_booking_retries_total",
		Help: "Total booking attempts that were rescheduled.",
	})

	MergeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packbox_merge_runs_total",
		Help: "Label merge runs by status.",
	}, []string{"status"}) // status: ok, failed

	BookingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "packbox_booking_duration_seconds",
		Help:    "Duration of a single booking call.",
		Buckets: prometheus.LinearBuckets(0.1, 0.2, 10),
	})
)

// NewLogger returns the structured JSON logger both binaries use.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// MetricsHandler экспортирует prometheus-метрики; вешается на админский роутер.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
