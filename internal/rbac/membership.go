package rbac

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role keys that classify an identity.
const (
	RoleSuperAdmin      = "super_admin"
	RoleEnterpriseAdmin = "enterprise_role"
)

// StructuredRole is a role reference carried as an object.
type StructuredRole struct {
	Role       string `json:"role,omitempty"`
	Name       string `json:"name,omitempty"`
	LegacyName string `json:"Name,omitempty"`
	RoleTitle  string `json:"role_title,omitempty"`
}

// RoleRef references a role either by bare name or by object.
type RoleRef struct {
	Named      string
	Structured *StructuredRole
}

// NamedRole builds a bare-name reference.
func NamedRole(name string) RoleRef {
	return RoleRef{Named: name}
}

// Candidates lists the names a reference can match on.
func (r RoleRef) Candidates() []string {
	if r.Structured == nil {
		if r.Named == "" {
			return nil
		}
		return []string{r.Named}
	}
	out := make([]string, 0, 4)
	for _, name := range []string{r.Structured.Role, r.Structured.Name, r.Structured.LegacyName, r.Structured.RoleTitle} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// UnmarshalJSON accepts a string or an object.
func (r *RoleRef) UnmarshalJSON(data []byte) error {
	v := decodeWire(data)
	switch v.kind {
	case shapeObject:
		r.Named = ""
		r.Structured = &StructuredRole{
			Role:       v.firstString("role"),
			Name:       v.firstString("name"),
			LegacyName: v.firstString("Name"),
			RoleTitle:  v.firstString("role_title"),
		}
	case shapeScalar:
		s, _ := stringValue(data)
		r.Named = s
		r.Structured = nil
	default:
		*r = RoleRef{}
	}
	return nil
}

// MarshalJSON writes the reference in the shape it was read.
func (r RoleRef) MarshalJSON() ([]byte, error) {
	if r.Structured != nil {
		return json.Marshal(r.Structured)
	}
	return json.Marshal(r.Named)
}

// AuthenticatedUser is the signed-in identity.
type AuthenticatedUser struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Roles     []RoleRef `json:"roles,omitempty"`
}

var errUserNotObject = errors.New("rbac: user payload is not an object")

// UnmarshalJSON decodes the user leniently; only a non-object payload is
// an error.
func (u *AuthenticatedUser) UnmarshalJSON(data []byte) error {
	v := decodeWire(data)
	if v.kind != shapeObject {
		return errUserNotObject
	}
	id, _ := v.firstInt("id", "Id")
	*u = AuthenticatedUser{
		ID:        id,
		FirstName: v.firstString("first_name", "firstName"),
		LastName:  v.firstString("last_name", "lastName"),
		Name:      v.firstString("name", "full_name"),
		Email:     v.firstString("email"),
	}
	if raw, ok := v.field("roles"); ok {
		if roles := decodeWire(raw); roles.kind == shapeArray {
			u.Roles = make([]RoleRef, 0, len(roles.array))
			for _, item := range roles.array {
				var ref RoleRef
				_ = ref.UnmarshalJSON(item)
				u.Roles = append(u.Roles, ref)
			}
		}
	}
	return nil
}

// NormalizeRoleName lowercases name and strips whitespace, underscores
// and hyphens, so "Super Admin", "super_admin" and "SUPER-ADMIN" compare
// equal.
func NormalizeRoleName(name string) string {
	lowered := cases.Lower(language.Und).String(name)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '_' || r == '-' {
			return -1
		}
		return r
	}, lowered)
}

// HasRole reports whether any of the user's role references matches role.
func HasRole(user *AuthenticatedUser, role string) bool {
	if user == nil || user.Roles == nil {
		return false
	}
	target := NormalizeRoleName(role)
	for _, ref := range user.Roles {
		for _, candidate := range ref.Candidates() {
			if NormalizeRoleName(candidate) == target {
				return true
			}
		}
	}
	return false
}

// IsSuperAdmin reports whether the user holds the super-admin role.
func IsSuperAdmin(user *AuthenticatedUser) bool {
	return HasRole(user, RoleSuperAdmin)
}

// IsEnterpriseAdmin reports whether the user holds the enterprise-admin role.
func IsEnterpriseAdmin(user *AuthenticatedUser) bool {
	return HasRole(user, RoleEnterpriseAdmin)
}

// SatisfiesConsolePolicy reports whether the user may hold a console
// session at all.
func SatisfiesConsolePolicy(user *AuthenticatedUser) bool {
	return IsSuperAdmin(user) || IsEnterpriseAdmin(user)
}
