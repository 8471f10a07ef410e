package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/item"
	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/schema"
	"github.com/stocklane/stocklane/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	SchemaHandler *schema.Handler
	ItemHandler   *item.Handler
	AuditHandler  *audit.Handler
	LedgerHandler *ledger.Handler
	JobHandler    *jobs.Handler
}

// NewRouter constructs the chi.Router with Stocklane defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		params.SchemaHandler.MountRoutes(r)
		params.ItemHandler.MountRoutes(r)
		params.AuditHandler.MountRoutes(r)
		params.LedgerHandler.MountRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
