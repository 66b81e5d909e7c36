package rbac

import (
	"context"
	"log/slog"
	"sync"
)

// PermissionFetcher loads the signed-in user's permissions.
type PermissionFetcher interface {
	MyPermissions(ctx context.Context) (MyPermissions, error)
}

// GateState tracks permission resolution.
type GateState int

const (
	GateUnresolved GateState = iota
	GateResolving
	GateResolved
)

func (s GateState) String() string {
	switch s {
	case GateResolving:
		return "resolving"
	case GateResolved:
		return "resolved"
	}
	return "unresolved"
}

// Gate answers authorization questions for one module on behalf of one
// user. Can fails closed until resolution has completed.
type Gate struct {
	module          ModuleKey
	known           bool
	superAdmin      bool
	enterpriseAdmin bool
	fetcher         PermissionFetcher
	logger          *slog.Logger

	start sync.Once
	done  chan struct{}

	mu    sync.RWMutex
	state GateState
	perms PermissionsMap
	err   error
}

// NewGate binds a gate to module, which may be a shorthand such as
// "users" or "property".
func NewGate(user *AuthenticatedUser, module string, fetcher PermissionFetcher, logger *slog.Logger) *Gate {
	resolved, known := ResolveModule(module)
	return &Gate{
		module:          resolved,
		known:           known,
		superAdmin:      IsSuperAdmin(user),
		enterpriseAdmin: IsEnterpriseAdmin(user),
		fetcher:         fetcher,
		logger:          logger,
		done:            make(chan struct{}),
	}
}

// Module returns the canonical module the gate is bound to.
func (g *Gate) Module() ModuleKey {
	return g.module
}

// Start begins resolution. Super-admins and users who are not enterprise
// admins resolve immediately without a fetch; enterprise admins fetch
// their permissions in the background. Calling Start again is a no-op.
func (g *Gate) Start(ctx context.Context) {
	g.start.Do(func() {
		if g.superAdmin || !g.enterpriseAdmin || g.fetcher == nil {
			g.finish(nil, nil)
			return
		}
		g.mu.Lock()
		g.state = GateResolving
		g.mu.Unlock()
		go func() {
			mine, err := g.fetcher.MyPermissions(ctx)
			if err != nil {
				if g.logger != nil {
					g.logger.Warn("rbac resolve permissions", slog.String("module", string(g.module)), slog.Any("error", err))
				}
				g.finish(nil, err)
				return
			}
			g.finish(mine.Permissions, nil)
		}()
	})
}

func (g *Gate) finish(perms PermissionsMap, err error) {
	g.mu.Lock()
	g.perms = perms
	g.err = err
	g.state = GateResolved
	g.mu.Unlock()
	close(g.done)
}

// Resolve starts resolution if needed and waits for it to complete or for
// ctx to end. The underlying fetch is not cancelled when ctx ends first.
func (g *Gate) Resolve(ctx context.Context) error {
	g.Start(ctx)
	select {
	case <-g.done:
		return nil
	default:
	}
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the gate has resolved.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// State returns the current resolution state.
func (g *Gate) State() GateState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// PermissionReady reports whether resolution has completed.
func (g *Gate) PermissionReady() bool {
	return g.State() == GateResolved
}

// Err returns the fetch error of a failed resolution.
func (g *Gate) Err() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.err
}

// IsSuperAdmin reports the super-admin shortcut.
func (g *Gate) IsSuperAdmin() bool {
	return g.superAdmin
}

// IsEnterpriseAdmin reports whether permissions are consulted at all.
func (g *Gate) IsEnterpriseAdmin() bool {
	return g.enterpriseAdmin
}

// Can reports whether action is allowed on the gate's module. Any action
// other than view additionally requires view.
func (g *Gate) Can(action ActionKey) bool {
	if g.superAdmin {
		return true
	}
	if !g.enterpriseAdmin {
		return false
	}
	g.mu.RLock()
	state, perms := g.state, g.perms
	g.mu.RUnlock()
	if state != GateResolved || perms == nil || !g.known {
		return false
	}
	module, ok := perms[g.module]
	if !ok {
		return false
	}
	if action == ActionView {
		return module.View
	}
	return module.View && module.Allows(action)
}

// Capabilities reports Can for every action.
func (g *Gate) Capabilities() map[ActionKey]bool {
	out := make(map[ActionKey]bool, len(Actions()))
	for _, action := range Actions() {
		out[action] = g.Can(action)
	}
	return out
}
