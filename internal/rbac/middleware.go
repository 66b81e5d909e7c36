package rbac

import (
	"log/slog"
	"net/http"

	"github.com/estatedesk/estatedesk/internal/platform/httpx"
)

// Decision outcomes reported to a DecisionRecorder.
const (
	OutcomeAllowed     = "allowed"
	OutcomeDenied      = "denied"
	OutcomeAnonymous   = "anonymous"
	OutcomeUnavailable = "unavailable"
)

// DecisionRecorder observes route authorization outcomes.
type DecisionRecorder interface {
	RecordDecision(module, outcome string)
}

// Middleware gates HTTP handlers on module permissions.
type Middleware struct {
	Logger    *slog.Logger
	Decisions DecisionRecorder
}

func (m Middleware) record(module, outcome string) {
	if m.Decisions != nil {
		m.Decisions.RecordDecision(module, outcome)
	}
}

// RequireAll ensures the current principal may perform every action on
// module.
func (m Middleware) RequireAll(module string, actions ...ActionKey) func(http.Handler) http.Handler {
	return m.require(module, actions, func(g *Gate) bool {
		for _, action := range actions {
			if !g.Can(action) {
				return false
			}
		}
		return true
	})
}

// RequireAny ensures the current principal may perform at least one of
// actions on module.
func (m Middleware) RequireAny(module string, actions ...ActionKey) func(http.Handler) http.Handler {
	return m.require(module, actions, func(g *Gate) bool {
		if len(actions) == 0 {
			return true
		}
		for _, action := range actions {
			if g.Can(action) {
				return true
			}
		}
		return false
	})
}

func (m Middleware) require(module string, actions []ActionKey, allowed func(*Gate) bool) func(http.Handler) http.Handler {
	label := module
	if canonical, ok := ResolveModule(module); ok {
		label = string(canonical)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil || principal.User == nil {
				m.record(label, OutcomeAnonymous)
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
				return
			}
			gate := NewGate(principal.User, module, principal.Fetcher, m.Logger)
			if err := gate.Resolve(r.Context()); err != nil {
				if m.Logger != nil {
					m.Logger.Warn("rbac gate resolve", slog.String("module", module), slog.Any("error", err))
				}
				m.record(label, OutcomeUnavailable)
				httpx.Problem(w, http.StatusServiceUnavailable, "Permissions Unavailable", "")
				return
			}
			if !allowed(gate) {
				if m.Logger != nil {
					m.Logger.Info("rbac denied",
						slog.String("module", string(gate.Module())),
						slog.Any("actions", actions),
						slog.Int64("user_id", principal.User.ID))
				}
				m.record(label, OutcomeDenied)
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			m.record(label, OutcomeAllowed)
			next.ServeHTTP(w, r.WithContext(contextWithGate(r.Context(), gate)))
		})
	}
}
