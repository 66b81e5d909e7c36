package rbac

import "context"

// Principal describes the authenticated actor of a request.
type Principal struct {
	User    *AuthenticatedUser
	Fetcher PermissionFetcher
}

type principalContextKey struct{}

type gateContextKey struct{ module ModuleKey }

// ContextWithPrincipal stores the principal in ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal, nil when absent.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

func contextWithGate(ctx context.Context, g *Gate) context.Context {
	return context.WithValue(ctx, gateContextKey{module: g.Module()}, g)
}

// GateFromContext returns the resolved gate the middleware attached for
// module, nil when none was attached.
func GateFromContext(ctx context.Context, module ModuleKey) *Gate {
	g, _ := ctx.Value(gateContextKey{module: module}).(*Gate)
	return g
}
