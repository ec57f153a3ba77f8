package jobs

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-inventory/internal/platform/httpx"
)

// QueueInspector is the read-only subset of *asynq.Inspector used by the
// HTTP endpoints.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	SchedulerEntries() ([]*asynq.SchedulerEntry, error)
}

// Handler exposes queue state and the cron schedule over HTTP.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/schedule", h.schedule)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Paused    bool   `json:"paused"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	body := queueHealth{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, body)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue unavailable", "")
		return
	}
	if info != nil {
		body.Pending = info.Pending
		body.Active = info.Active
		body.Scheduled = info.Scheduled
		body.Retry = info.Retry
		body.Archived = info.Archived
		body.Paused = info.Paused
	}
	httpx.JSON(w, http.StatusOK, body)
}

type scheduleEntry struct {
	Task string     `json:"task"`
	Spec string     `json:"spec"`
	Next time.Time  `json:"next"`
	Prev *time.Time `json:"prev,omitempty"`
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	out := []scheduleEntry{}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	entries, err := h.inspector.SchedulerEntries()
	if err != nil {
		h.logger.Warn("jobs schedule", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Scheduler unavailable", "")
		return
	}
	for _, e := range entries {
		if e == nil || e.Task == nil {
			continue
		}
		item := scheduleEntry{Task: e.Task.Type(), Spec: e.Spec, Next: e.Next.UTC()}
		if !e.Prev.IsZero() {
			prev := e.Prev.UTC()
			item.Prev = &prev
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	httpx.JSON(w, http.StatusOK, out)
}
