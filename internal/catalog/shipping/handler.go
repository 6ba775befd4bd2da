package shipping

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
)

// SaveRequest is the create/update payload.
type SaveRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Cost int64  `json:"cost" validate:"gte=0"`
}

// Handler wires HTTP endpoints for shipping areas.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the shipping handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers shipping routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	areas, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list shipping areas", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"areas": areas})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.areaID(w, r)
	if !ok {
		return
	}
	area, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, area)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSave(w, r)
	if !ok {
		return
	}
	created, err := h.service.Create(r.Context(), Area{Name: req.Name, Cost: req.Cost})
	if err != nil {
		h.logger.Warn("create shipping area rejected", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.areaID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeSave(w, r)
	if !ok {
		return
	}
	if err := h.service.Update(r.Context(), id, Area{Name: req.Name, Cost: req.Cost}); err != nil {
		h.logger.Warn("update shipping area rejected", slog.Int64("area_id", id), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	area, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, area)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.areaID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Warn("delete shipping area rejected", slog.Int64("area_id", id), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeSave(w http.ResponseWriter, r *http.Request) (SaveRequest, bool) {
	var req SaveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return SaveRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return SaveRequest{}, false
	}
	return req, true
}

func (h *Handler) areaID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "area id must be an integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Area Not Found", err.Error())
	case errors.Is(err, ErrReferencedByOrders):
		httpx.Problem(w, http.StatusConflict, "Area In Use", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
