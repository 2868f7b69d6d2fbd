package jobsapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/PackBox/internal/models"
	"github.com/BearBump/PackBox/internal/services/enqueuer"
	"github.com/BearBump/PackBox/internal/services/jobs"
	"github.com/BearBump/PackBox/internal/storage/pgjobs"
)

type JobsAPI struct {
	enq *enqueuer.Service
	svc *jobs.Service

	// apiToken пустой — аутентификация выключена (локальный запуск).
	apiToken string
}

func New(enq *enqueuer.Service, svc *jobs.Service, apiToken string) *JobsAPI {
	return &JobsAPI{enq: enq, svc: svc, apiToken: apiToken}
}

func (a *JobsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.auth)

	r.Post("/orders", a.enqueueOrders)
	r.Get("/jobs", a.listJobs)
	r.Get("/jobs/recent", a.recentEvents)
	r.Get("/jobs/{orderID}", a.getJob)
	return r
}

func (a *JobsAPI) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != a.apiToken {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type enqueueRequest struct {
	Orders []models.OrderPayload `json:"orders"`
}

type enqueueResponse struct {
	Results map[string]enqueuer.Result `json:"results"`
}

func (a *JobsAPI) enqueueOrders(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	results, err := a.enq.EnqueueAll(r.Context(), req.Orders)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, enqueueResponse{Results: results})
}

func (a *JobsAPI) listJobs(w http.ResponseWriter, r *http.Request) {
	var states []string
	if q := r.URL.Query().Get("state"); q != "" {
		states = strings.Split(q, ",")
	}

	js, err := a.svc.ListJobs(r.Context(), states)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": toJobViews(js)})
}

func (a *JobsAPI) getJob(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	j, err := a.svc.GetJob(r.Context(), orderID)
	if errors.Is(err, pgjobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toJobView(j))
}

func (a *JobsAPI) recentEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": a.svc.RecentEvents()})
}

// jobView — внешнее представление джобы. payload наружу не отдаём:
// там телефон и адрес покупателя.
type jobView struct {
	ID             uint64     `json:"id"`
	OrderID        string     `json:"order_id"`
	State          string     `json:"state"`
	AttemptCount   int32      `json:"attempt_count"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	LabelRef       string     `json:"label_ref,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	BookedAt       *time.Time `json:"booked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toJobView(j *models.Job) jobView {
	return jobView{
		ID:             j.ID,
		OrderID:        j.OrderID,
		State:          j.State,
		AttemptCount:   j.AttemptCount,
		TrackingNumber: derefString(j.TrackingNumber),
		LabelRef:       derefString(j.LabelRef),
		LastError:      derefString(j.LastError),
		NextAttemptAt:  j.NextAttemptAt,
		BookedAt:       j.BookedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func toJobViews(js []*models.Job) []jobView {
	out := make([]jobView, 0, len(js))
	for _, j := range js {
		out = append(out, toJobView(j))
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
