package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler wires HTTP endpoints for the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   shared.AuthzMiddleware
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service, authz shared.AuthzMiddleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("logs.view"))
		r.Get("/businesses/{businessID}/logs", h.handleTimeline)
	})
}

type timelineResponse struct {
	Logs    []Log `json:"logs"`
	Page    int   `json:"page"`
	PerPage int   `json:"perPage"`
	HasNext bool  `json:"hasNext"`
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid business id")
		return
	}
	query := TimelineQuery{BusinessID: businessID}
	query.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	query.PerPage, _ = strconv.Atoi(r.URL.Query().Get("perPage"))
	query.Action = Action(r.URL.Query().Get("action"))
	if raw := r.URL.Query().Get("itemId"); raw != "" {
		itemID, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
			return
		}
		query.ItemID = &itemID
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			query.From = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			query.To = t
		}
	}

	result, err := h.service.Timeline(r.Context(), query)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if result.Rows == nil {
		result.Rows = []Log{}
	}
	httpx.JSON(w, http.StatusOK, timelineResponse{
		Logs:    result.Rows,
		Page:    result.Page,
		PerPage: result.PerPage,
		HasNext: result.HasNext,
	})
}
