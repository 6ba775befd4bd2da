package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjustments", h.handleAdjustment)
	r.Get("/movements", h.handleMovements)
	r.Get("/products/{id}/summary", h.handleProductSummary)
	r.Get("/summary", h.handlePeriodSummary)
	r.Get("/anomalies", h.handleAnomalies)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	reference := ReferenceKind(req.ReferenceKind)
	if req.ReferenceKind == "" {
		reference = ReferenceAdjustment
	}
	snap, err := h.service.AdjustStock(r.Context(), AdjustInput{
		ProductID:   req.ProductID,
		Delta:       req.Delta,
		Reference:   reference,
		ReferenceID: req.ReferenceID,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Warn("stock adjustment rejected", slog.Int64("product_id", req.ProductID), slog.Any("error", err))
		RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, AdjustmentResponse{
		ProductID:     req.ProductID,
		Delta:         req.Delta,
		PreviousStock: snap.Previous,
		NewStock:      snap.New,
	})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := HistoryFilter{}
	if raw := q.Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "product_id must be an integer")
			return
		}
		filter.ProductID = &id
	}
	if raw := q.Get("reference"); raw != "" {
		ref := ReferenceKind(raw)
		if !ref.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "unknown reference kind")
			return
		}
		filter.Reference = &ref
	}
	var ok bool
	if filter.From, ok = parseDateParam(w, q.Get("from"), false); !ok {
		return
	}
	if filter.To, ok = parseDateParam(w, q.Get("to"), true); !ok {
		return
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	rows, pagination, err := h.service.MovementHistory(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"movements":  rows,
		"pagination": pagination,
	})
}

func (h *Handler) handleProductSummary(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "product id must be an integer")
		return
	}
	summary, err := h.service.ProductMovementSummary(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handlePeriodSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := parseDateParam(w, q.Get("from"), false)
	if !ok {
		return
	}
	to, ok := parseDateParam(w, q.Get("to"), true)
	if !ok {
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	summary, err := h.service.GetPeriodSummary(r.Context(), from, to)
	if err != nil {
		h.logger.Error("period summary", slog.Any("error", err))
		RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	windowDays, _ := strconv.Atoi(q.Get("window_days"))
	absQty, _ := strconv.ParseInt(q.Get("abs_qty"), 10, 64)
	count, _ := strconv.ParseInt(q.Get("count"), 10, 64)
	anomalies, err := h.service.Anomalies(r.Context(), time.Duration(windowDays)*24*time.Hour, absQty, count)
	if err != nil {
		h.logger.Error("anomaly scan", slog.Any("error", err))
		RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}

func parseDateParam(w http.ResponseWriter, raw string, endOfDay bool) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "dates must use YYYY-MM-DD")
		return time.Time{}, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true
}

// RespondError maps ledger errors onto RFC7807 responses. Lock timeouts are
// marked retryable via Retry-After.
func RespondError(w http.ResponseWriter, err error) {
	var persistence *PersistenceError
	switch {
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Product Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidMovement):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Movement", err.Error())
	case errors.Is(err, ErrLockTimeout), errors.Is(err, ErrSerialization):
		w.Header().Set("Retry-After", "1")
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", err.Error())
	case errors.As(err, &persistence):
		httpx.Problem(w, http.StatusInternalServerError, "Persistence Failure", "")
	default:
		httpx.RespondError(w, err)
	}
}
