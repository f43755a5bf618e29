package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

// Caller is the authenticated principal Auth derives from the bearer token.
type Caller struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext reports false on routes that did not pass through Auth.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok && caller.UserID != uuid.Nil
}

// subject is the caller id used to key per-user state, empty when anonymous.
func subject(ctx context.Context) string {
	if caller, ok := CallerFromContext(ctx); ok {
		return caller.UserID.String()
	}
	return ""
}
