package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-inventory/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-inventory/internal/shared"
)

// ServicePort is the engine surface the HTTP handler depends on.
type ServicePort interface {
	AdjustLots(ctx context.Context, input AdjustLotsInput) ([]AdjustedLot, error)
	InsertLots(ctx context.Context, input InsertLotsInput) ([]Lot, error)
	SelectLotForAllocation(ctx context.Context, req AllocationRequest) (*Lot, error)
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/lots", h.handleInsertLots)
	r.Post("/lots/adjustments", h.handleAdjustLots)
	r.Get("/lots/allocation", h.handleSelectLot)
}

type adjustLotsRequest struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Records        []AdjustmentRecord `json:"records"`
}

type insertLotsRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Records        []LotInsertRecord `json:"records"`
}

func (h *Handler) handleAdjustLots(w http.ResponseWriter, r *http.Request) {
	var req adjustLotsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	adjusted, err := h.service.AdjustLots(r.Context(), AdjustLotsInput{
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: req.IdempotencyKey,
		Records:        req.Records,
	})
	if err != nil {
		h.respondError(w, r, "adjust lots failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjusted": adjusted})
}

func (h *Handler) handleInsertLots(w http.ResponseWriter, r *http.Request) {
	var req insertLotsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	created, err := h.service.InsertLots(r.Context(), InsertLotsInput{
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: req.IdempotencyKey,
		Records:        req.Records,
	})
	if err != nil {
		h.respondError(w, r, "insert lots failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"lots": created})
}

func (h *Handler) handleSelectLot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AllocationRequest{Strategy: AllocationStrategy(q.Get("strategy"))}
	if req.Strategy == "" {
		req.Strategy = StrategyFIFO
	}
	var bad []string
	for name, dst := range map[string]*int64{
		"inventory_id": &req.InventoryID,
		"warehouse_id": &req.WarehouseID,
		"quantity":     &req.Quantity,
	} {
		v, err := strconv.ParseInt(q.Get(name), 10, 64)
		if err != nil {
			bad = append(bad, name)
			continue
		}
		*dst = v
	}
	if len(bad) > 0 {
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title:  "Bad Request",
			Status: http.StatusBadRequest,
			Detail: "invalid query parameters",
			Extra:  map[string]any{"fields": bad},
		})
		return
	}
	lot, err := h.service.SelectLotForAllocation(r.Context(), req)
	if err != nil {
		h.respondError(w, r, "select lot failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lot": lot})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	problem := httpx.ProblemDetail{Title: http.StatusText(status), Status: status, Detail: err.Error()}
	extra := map[string]any{}
	if entry, ok := asEntryError(err); ok {
		extra["entry"] = entry.Index
		if s := lotString(entry.LotID); s != "" {
			extra["lot_id"] = s
		}
	}
	if verr, ok := asValidationError(err); ok {
		extra["fields"] = verr.Fields
	}
	if len(extra) > 0 {
		problem.Extra = extra
	}
	httpx.WriteProblem(w, problem)
}
