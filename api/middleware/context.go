package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

type contextKey string

const (
	ctxBusinessID contextKey = "business_id"
	ctxActorID    contextKey = "actor_id"
	ctxRole       contextKey = "actor_role"
)

// BusinessIDFromContext returns the business the caller's token is scoped to.
func BusinessIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(ctxBusinessID).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// ActorIDFromContext returns the token subject, when one was present.
func ActorIDFromContext(ctx context.Context) *uuid.UUID {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxActorID).(uuid.UUID); ok {
		return &v
	}
	return nil
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

// WithIdentity seeds the caller identity. actorID may be nil.
func WithIdentity(ctx context.Context, businessID uuid.UUID, actorID *uuid.UUID, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxBusinessID, businessID)
	ctx = context.WithValue(ctx, ctxRole, role)
	if actorID != nil {
		ctx = context.WithValue(ctx, ctxActorID, *actorID)
	}
	return ctx
}
