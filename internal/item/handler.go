package item

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/schema"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler wires HTTP endpoints for inventory items.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	authz    shared.AuthzMiddleware
	validate *validator.Validate
}

// NewHandler constructs the item handler.
func NewHandler(logger *slog.Logger, service *Service, authz shared.AuthzMiddleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz, validate: validator.New()}
}

// MountRoutes registers item routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("items.view"))
		r.Get("/businesses/{businessID}/items", h.handleList)
		r.Get("/businesses/{businessID}/items/{itemID}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("items.edit"))
		r.Post("/businesses/{businessID}/items", h.handleCreate)
		r.Patch("/businesses/{businessID}/items/{itemID}", h.handleUpdate)
		r.Delete("/businesses/{businessID}/items/{itemID}", h.handleDelete)
	})
}

type itemPayload struct {
	Data map[string]any `json:"data" validate:"required"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	items, pagination, err := h.service.List(r.Context(), businessID, page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": pagination})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	itemID, ok := parseID(w, chi.URLParam(r, "itemID"), "item")
	if !ok {
		return
	}
	it, err := h.service.Get(r.Context(), businessID, itemID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	var payload itemPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	it, err := h.service.Create(r.Context(), businessID, payload.Data, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, it)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	itemID, ok := parseID(w, chi.URLParam(r, "itemID"), "item")
	if !ok {
		return
	}
	var payload itemPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	it, err := h.service.Update(r.Context(), businessID, itemID, payload.Data, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	itemID, ok := parseID(w, chi.URLParam(r, "itemID"), "item")
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.Delete(r.Context(), businessID, itemID, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, schema.ErrSnapshotIncompatible):
		httpx.Problem(w, http.StatusBadRequest, "Schema Mismatch", err.Error())
	case errors.Is(err, schema.ErrDuplicateRole):
		httpx.Problem(w, http.StatusBadRequest, "Schema Mismatch", err.Error())
	default:
		h.logger.Error("item request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseID(w http.ResponseWriter, raw, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+label+" id")
		return uuid.Nil, false
	}
	return id, true
}
