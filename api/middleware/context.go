package middleware

import (
	"context"

	pkgAuth "github.com/angelmondragon/wasessions-backend/pkg/auth"
)

type actorKey struct{}

// Actor is the authenticated caller of a request.
type Actor struct {
	TenantID string
	Subject  string
	Role     pkgAuth.Role
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the zero Actor for unauthenticated requests.
func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return Actor{}
	}
	actor, _ := ctx.Value(actorKey{}).(Actor)
	return actor
}

func TenantIDFromContext(ctx context.Context) string {
	return ActorFromContext(ctx).TenantID
}

func RoleFromContext(ctx context.Context) pkgAuth.Role {
	return ActorFromContext(ctx).Role
}

// WithTenantID scopes ctx to tenantID, keeping any role already present.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	actor := ActorFromContext(ctx)
	actor.TenantID = tenantID
	return WithActor(ctx, actor)
}

func WithRole(ctx context.Context, role pkgAuth.Role) context.Context {
	actor := ActorFromContext(ctx)
	actor.Role = role
	return WithActor(ctx, actor)
}
