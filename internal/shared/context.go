package shared

import (
	"context"

	"github.com/google/uuid"
)

// Actor identifies the user performing a request. Authentication happens
// upstream; the ledger only needs a stable identity for audit stamps.
type Actor struct {
	ID   uuid.UUID
	Name string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
