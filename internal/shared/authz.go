package shared

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Authorizer answers whether an actor may perform an action on a business.
// Session issuance and role resolution live outside this service; handlers
// consume the gate as a plain yes/no check before invoking the ledger.
type Authorizer interface {
	Allowed(ctx context.Context, actorID, businessID uuid.UUID, action string) (bool, error)
}

// AllowAll grants every request. Used in tests and single-tenant deployments.
type AllowAll struct{}

// Allowed always returns true.
func (AllowAll) Allowed(context.Context, uuid.UUID, uuid.UUID, string) (bool, error) {
	return true, nil
}

// AuthzMiddleware guards routes with the authorization gate.
type AuthzMiddleware struct {
	Gate   Authorizer
	Logger *slog.Logger
}

// Require ensures the current actor may perform action on the business named
// in the route. The actor arrives from upstream auth via header.
func (m AuthzMiddleware) Require(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			ok, err := m.Gate.Allowed(r.Context(), actorID, businessID, action)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz check", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			ctx := ContextWithActor(r.Context(), Actor{ID: actorID, Name: r.Header.Get("X-Actor-Name")})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
