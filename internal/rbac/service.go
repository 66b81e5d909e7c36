package rbac

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"
)

// ErrInvalidInput indicates a request rejected before reaching the backend.
var ErrInvalidInput = errors.New("rbac: invalid input")

// Transport is the subset of the platform REST client the service needs.
type Transport interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
	Patch(ctx context.Context, path string, body any) (json.RawMessage, error)
	Delete(ctx context.Context, path string) (json.RawMessage, error)
}

const (
	rolesPath         = "/rbac/roles"
	myPermissionsPath = "/rbac/my-permissions"

	keyRolesAll      = "rbac-roles:all"
	keyMyPermissions = "rbac-my-permissions"
)

func roleKey(id int64) string {
	return fmt.Sprintf("rbac-role:%d", id)
}

func rolePath(id int64) string {
	return fmt.Sprintf("%s/%d", rolesPath, id)
}

// Service is the gateway to the role and permission backend. Reads go
// through the Deduper; every response is normalized.
type Service struct {
	transport Transport
	dedup     *Deduper
	validate  *validator.Validate
	scope     string
}

// NewService constructs a Service. A nil dedup gets a default Deduper.
func NewService(transport Transport, dedup *Deduper) *Service {
	if dedup == nil {
		dedup = NewDeduper()
	}
	return &Service{transport: transport, dedup: dedup, validate: validator.New()}
}

// Scoped returns a Service calling through transport on behalf of the
// holder of token. Cache keys are partitioned per token so sessions never
// observe each other's results; the Deduper itself stays shared.
func (s *Service) Scoped(transport Transport, token string) *Service {
	clone := *s
	clone.transport = transport
	clone.scope = tokenScope(token)
	return &clone
}

func tokenScope(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func (s *Service) key(base string) string {
	if s.scope == "" {
		return base
	}
	return base + "@" + s.scope
}

// ListRoles returns every role visible to the caller.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := Dedupe(ctx, s.dedup, s.key(keyRolesAll), func(ctx context.Context) ([]Role, error) {
		raw, err := s.transport.Get(ctx, rolesPath)
		if err != nil {
			return nil, fmt.Errorf("rbac: list roles: %w", err)
		}
		items := ToRoleArray(raw)
		roles := make([]Role, 0, len(items))
		for _, item := range items {
			roles = append(roles, NormalizeRole(item))
		}
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Role, len(roles))
	for i, role := range roles {
		out[i] = cloneRole(role)
	}
	return out, nil
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := Dedupe(ctx, s.dedup, s.key(roleKey(id)), func(ctx context.Context) (Role, error) {
		raw, err := s.transport.Get(ctx, rolePath(id))
		if err != nil {
			return Role{}, fmt.Errorf("rbac: get role %d: %w", id, err)
		}
		return normalizeRole(unwrapEnvelope(decodeWire(raw))), nil
	})
	if err != nil {
		return Role{}, err
	}
	return cloneRole(role), nil
}

// CreateRole creates a role and returns the normalized result.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (Role, error) {
	in.Role = strings.TrimSpace(in.Role)
	if err := s.validate.Struct(in); err != nil {
		return Role{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.Permission == nil {
		in.Permission = []PermissionsMap{}
	}
	raw, err := s.transport.Post(ctx, rolesPath, in)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: create role: %w", err)
	}
	s.dedup.Forget(s.key(keyRolesAll))
	return normalizeRole(unwrapEnvelope(decodeWire(raw))), nil
}

type updatePermissionsBody struct {
	Permission []PermissionsMap `json:"permission"`
}

// UpdateRolePermissions replaces a role's permissions. Name and
// organization cannot be changed after creation.
func (s *Service) UpdateRolePermissions(ctx context.Context, id int64, in UpdatePermissionsInput) (Role, error) {
	body := updatePermissionsBody{Permission: []PermissionsMap{in.Effective()}}
	raw, err := s.transport.Patch(ctx, rolePath(id), body)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: update role %d: %w", id, err)
	}
	s.forgetRole(id)
	return normalizeRole(unwrapEnvelope(decodeWire(raw))), nil
}

// DeleteRole removes a role.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if _, err := s.transport.Delete(ctx, rolePath(id)); err != nil {
		return fmt.Errorf("rbac: delete role %d: %w", id, err)
	}
	s.forgetRole(id)
	return nil
}

func (s *Service) forgetRole(id int64) {
	s.dedup.Forget(s.key(keyRolesAll))
	s.dedup.Forget(s.key(roleKey(id)))
}

// MyPermissions returns the role name and permissions of the caller.
func (s *Service) MyPermissions(ctx context.Context) (MyPermissions, error) {
	mine, err := Dedupe(ctx, s.dedup, s.key(keyMyPermissions), func(ctx context.Context) (MyPermissions, error) {
		raw, err := s.transport.Get(ctx, myPermissionsPath)
		if err != nil {
			return MyPermissions{}, fmt.Errorf("rbac: my permissions: %w", err)
		}
		return normalizeMyPermissions(raw), nil
	})
	if err != nil {
		return MyPermissions{}, err
	}
	return MyPermissions{Role: mine.Role, Permissions: mine.Permissions.Clone()}, nil
}

func cloneRole(r Role) Role {
	out := r
	out.Permissions = make([]PermissionEntry, len(r.Permissions))
	for i, entry := range r.Permissions {
		out.Permissions[i] = PermissionEntry{ID: entry.ID, Permissions: entry.Permissions.Clone()}
	}
	out.Users = append([]RoleUser{}, r.Users...)
	if r.Organization != nil {
		org := *r.Organization
		out.Organization = &org
	}
	return out
}
