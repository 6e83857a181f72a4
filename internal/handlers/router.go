// Package handlers exposes the workflow engine over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/parts-workflow/internal/history"
	"github.com/ukydev/parts-workflow/internal/middleware"
	"github.com/ukydev/parts-workflow/internal/models"
	"github.com/ukydev/parts-workflow/internal/notify"
	"github.com/ukydev/parts-workflow/internal/scheduler"
	"github.com/ukydev/parts-workflow/internal/workflow"
)

const MaxBodyBytes = 1 << 20

// Scanner runs one scheduler pass on demand.
type Scanner interface {
	Scan(now time.Time) scheduler.Result
}

// Options configures the router.
type Options struct {
	// RequireAttachment makes commit-to-main reject Orders records with no
	// attached file.
	RequireAttachment bool
	RateLimit         int
	RateLimitWindow   time.Duration
	// Limiter tracks API clients for the rate limit; nil creates a new one.
	Limiter           *middleware.RateLimitMiddleware
	Gatherer          prometheus.Gatherer
	Scanner           Scanner
	Logger            logrus.FieldLogger
	Now               func() time.Time
}

// Handler serves the workflow API.
type Handler struct {
	engine *workflow.Engine
	feed   *notify.Feed
	opts   Options
	log    logrus.FieldLogger
}

// NewHandler creates a handler. A nil logger falls back to the standard one.
func NewHandler(engine *workflow.Engine, feed *notify.Feed, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		engine: engine,
		feed:   feed,
		opts:   opts,
		log:    opts.Logger.WithField("component", "http"),
	}
}

// NewRouter builds the full HTTP surface with its middleware stack.
func NewRouter(engine *workflow.Engine, feed *notify.Feed, opts Options) http.Handler {
	h := NewHandler(engine, feed, opts)
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recoverer(h.log))
	r.Use(middleware.RequestLogger(h.log))

	r.Get("/health", h.Health)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimit > 0 && opts.RateLimitWindow > 0 {
			limiter := opts.Limiter
			if limiter == nil {
				limiter = middleware.NewRateLimitMiddleware()
			}
			r.Use(limiter.RateLimit(opts.RateLimit, opts.RateLimitWindow))
		}
		h.RegisterRoutes(r)
	})
	return r
}

// RegisterRoutes mounts the API routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stages", h.ListStages)
	r.Get("/stages/{stage}", h.GetStage)

	r.Post("/orders", h.CreateOrders)
	r.Route("/records", func(r chi.Router) {
		r.Delete("/", h.DeleteRecords)
		r.Get("/{id}", h.GetRecord)
		r.Patch("/{id}", h.UpdateRecord)
		r.Put("/{id}/part-status", h.UpdatePartStatus)
		r.Put("/{id}/booking-status", h.UpdateBookingStatus)
	})
	r.Get("/booking-statuses", h.GetBookingStatuses)
	r.Put("/booking-statuses", h.SetBookingStatuses)

	r.Route("/transitions", func(r chi.Router) {
		r.Post("/commit-to-main", h.CommitToMainSheet)
		r.Post("/call", h.SendToCallList)
		r.Post("/booking", h.SendToBooking)
		r.Post("/archive", h.SendToArchive)
		r.Post("/reorder", h.SendToReorder)
	})

	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.GetHistory)
		r.Post("/undo", h.Undo)
		r.Post("/redo", h.Redo)
		r.Post("/commit", h.AddCommit)
		r.Post("/save", h.CommitSave)
		r.Post("/restore/{id}", h.RestoreToCommit)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.ListNotifications)
		r.Delete("/", h.ClearNotifications)
		r.Post("/read-all", h.MarkAllNotificationsRead)
		r.Post("/{id}/read", h.MarkNotificationRead)
		r.Delete("/{id}", h.RemoveNotification)
	})

	r.Get("/sync/errors", h.ListSyncErrors)
	r.Delete("/sync/errors", h.ClearSyncErrors)
	r.Post("/scan", h.Scan)
}

// Health reports liveness plus the restore flag.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"restoring": h.engine.Restoring(),
	})
}

// Scan runs one scheduler pass immediately.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	if h.opts.Scanner == nil {
		http.Error(w, "Scheduler not configured", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Scanner.Scan(h.opts.Now()))
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrReasonRequired),
		errors.Is(err, workflow.ErrAttachmentRequired),
		errors.Is(err, workflow.ErrEmptyValue),
		errors.Is(err, models.ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrRecordNotFound),
		errors.Is(err, history.ErrCommitNotFound),
		errors.Is(err, notify.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrDuplicateRecord),
		errors.Is(err, workflow.ErrRestoreInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and
// their detail kept out of the response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"action":     action,
			"request_id": chimw.GetReqID(r.Context()),
		}).Error("Request failed")
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
