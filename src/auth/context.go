package auth

import (
	"context"
)

type contextKey string

const PrincipalKey contextKey = "principal"

const (
	RoleAdmin     = "admin"
	RoleScheduler = "scheduler"
)

// Principal is the authenticated caller of the HTTP interface.
type Principal struct {
	Role string
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

func GetPrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*Principal)
	return p, ok
}
