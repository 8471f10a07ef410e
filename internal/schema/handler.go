package schema

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler wires HTTP endpoints for business schemas.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	authz    shared.AuthzMiddleware
	validate *validator.Validate
}

// NewHandler constructs the schema handler.
func NewHandler(logger *slog.Logger, service *Service, authz shared.AuthzMiddleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz, validate: validator.New()}
}

// MountRoutes registers schema routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("schema.view"))
		r.Get("/businesses/{businessID}/schema", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("schema.edit"))
		r.Put("/businesses/{businessID}/schema", h.handleReplace)
	})
}

type columnPayload struct {
	ID       string   `json:"id"`
	Name     string   `json:"name" validate:"required,max=120"`
	Type     string   `json:"type" validate:"required,oneof=text number currency date select"`
	Role     string   `json:"role" validate:"omitempty,oneof=name quantity minQuantity price cost"`
	Options  []string `json:"options"`
	Required bool     `json:"required"`
	Order    int      `json:"order"`
}

type replacePayload struct {
	Columns []columnPayload `json:"columns" validate:"required,min=1,dive"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid business id")
		return
	}
	resolved, err := h.service.Resolve(r.Context(), businessID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	columns := resolved.Columns()
	if columns == nil {
		columns = []ColumnDefinition{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"columns": columns})
}

func (h *Handler) handleReplace(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid business id")
		return
	}
	var payload replacePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	columns := make([]ColumnDefinition, 0, len(payload.Columns))
	for _, p := range payload.Columns {
		col := ColumnDefinition{
			Name:     p.Name,
			Type:     ColumnType(p.Type),
			Role:     Role(p.Role),
			Options:  p.Options,
			Required: p.Required,
			Order:    p.Order,
		}
		if p.ID != "" {
			id, err := uuid.Parse(p.ID)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid column id")
				return
			}
			col.ID = id
		}
		columns = append(columns, col)
	}

	actor, _ := shared.ActorFromContext(r.Context())
	resolved, err := h.service.Replace(r.Context(), businessID, columns, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"columns": resolved.Columns()})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDuplicateRole):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("schema request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
