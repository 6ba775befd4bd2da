package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting admin id in context. A nil id marks a
// system-initiated request.
func ContextWithActor(ctx context.Context, adminID *int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, adminID)
}

// ActorFromContext extracts the acting admin id from context. Returns nil for
// system-initiated requests.
func ActorFromContext(ctx context.Context) *int64 {
	id, _ := ctx.Value(actorContextKey{}).(*int64)
	return id
}
