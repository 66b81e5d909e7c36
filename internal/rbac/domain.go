package rbac

import "strings"

// ModuleKey identifies a protected resource domain.
type ModuleKey string

// Canonical module keys.
const (
	ModuleCampaign       ModuleKey = "campaign"
	ModuleProperties     ModuleKey = "properties"
	ModuleUserManagement ModuleKey = "user_management"
)

// ActionKey identifies an operation within a module.
type ActionKey string

// Canonical action keys, in dependency order.
const (
	ActionView   ActionKey = "view"
	ActionAdd    ActionKey = "add"
	ActionEdit   ActionKey = "edit"
	ActionDelete ActionKey = "delete"
)

// Modules lists the canonical module keys.
func Modules() []ModuleKey {
	return []ModuleKey{ModuleCampaign, ModuleProperties, ModuleUserManagement}
}

// Actions lists the canonical action keys in dependency order.
func Actions() []ActionKey {
	return []ActionKey{ActionView, ActionAdd, ActionEdit, ActionDelete}
}

var moduleAliases = map[string]ModuleKey{
	"property": ModuleProperties,
	"users":    ModuleUserManagement,
}

// ResolveModule maps caller shorthand and legacy aliases onto a canonical
// module key. The boolean is false for keys outside the canonical set.
func ResolveModule(key string) (ModuleKey, bool) {
	key = strings.TrimSpace(key)
	if alias, ok := moduleAliases[key]; ok {
		return alias, true
	}
	switch m := ModuleKey(key); m {
	case ModuleCampaign, ModuleProperties, ModuleUserManagement:
		return m, true
	}
	return "", false
}

// ParseAction reports whether key is a canonical action.
func ParseAction(key string) (ActionKey, bool) {
	switch a := ActionKey(strings.TrimSpace(key)); a {
	case ActionView, ActionAdd, ActionEdit, ActionDelete:
		return a, true
	}
	return "", false
}

// ModulePermissions holds every action flag of a module.
type ModulePermissions struct {
	View   bool `json:"view"`
	Add    bool `json:"add"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// Allows returns the stored flag for action, ignoring dependencies.
func (p ModulePermissions) Allows(action ActionKey) bool {
	switch action {
	case ActionView:
		return p.View
	case ActionAdd:
		return p.Add
	case ActionEdit:
		return p.Edit
	case ActionDelete:
		return p.Delete
	}
	return false
}

func (p *ModulePermissions) set(action ActionKey, value bool) {
	switch action {
	case ActionView:
		p.View = value
	case ActionAdd:
		p.Add = value
	case ActionEdit:
		p.Edit = value
	case ActionDelete:
		p.Delete = value
	}
}

// PermissionsMap maps modules to their permissions. A missing module is
// equivalent to one with every action denied.
type PermissionsMap map[ModuleKey]ModulePermissions

// Module returns the permissions stored for m, all false when absent.
func (pm PermissionsMap) Module(m ModuleKey) ModulePermissions {
	if pm == nil {
		return ModulePermissions{}
	}
	return pm[m]
}

// Clone returns an independent copy.
func (pm PermissionsMap) Clone() PermissionsMap {
	out := make(PermissionsMap, len(pm))
	for k, v := range pm {
		out[k] = v
	}
	return out
}

// PermissionsMatrix is the module × action grid used by role editors.
type PermissionsMatrix map[ModuleKey]map[ActionKey]bool

// PermissionEntry wraps a PermissionsMap in the list shape older
// consumers expect.
type PermissionEntry struct {
	ID          int64          `json:"id"`
	Permissions PermissionsMap `json:"permissions"`
}

// Organization owns a role.
type Organization struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RoleUser summarises a user currently holding a role.
type RoleUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Role is the canonical representation of a named role.
type Role struct {
	ID           int64             `json:"id"`
	Role         string            `json:"role"`
	Name         string            `json:"name"`
	RoleTitle    string            `json:"role_title,omitempty"`
	Organization *Organization     `json:"organization"`
	Permissions  []PermissionEntry `json:"permissions"`
	Users        []RoleUser        `json:"users"`
	UserCount    int               `json:"user_count"`
}

// PermissionsMap returns the role's permissions, empty when none are set.
func (r Role) PermissionsMap() PermissionsMap {
	if len(r.Permissions) == 0 || r.Permissions[0].Permissions == nil {
		return PermissionsMap{}
	}
	return r.Permissions[0].Permissions
}

// MyPermissions is the permission summary of the signed-in user.
type MyPermissions struct {
	Role        string         `json:"role"`
	Permissions PermissionsMap `json:"permissions"`
}

// CreateRoleInput describes a role creation request.
type CreateRoleInput struct {
	Role           string           `json:"role" validate:"required"`
	OrganizationID *int64           `json:"organization_id,omitempty" validate:"omitempty,gt=0"`
	Permission     []PermissionsMap `json:"permission"`
}

// UpdatePermissionsInput accepts either the single-map or the list shape.
// Permissions wins when both are present.
type UpdatePermissionsInput struct {
	Permissions PermissionsMap   `json:"permissions,omitempty"`
	Permission  []PermissionsMap `json:"permission,omitempty"`
}

// Effective resolves the map that will be sent to the backend.
func (in UpdatePermissionsInput) Effective() PermissionsMap {
	if in.Permissions != nil {
		return in.Permissions
	}
	if len(in.Permission) > 0 && in.Permission[0] != nil {
		return in.Permission[0]
	}
	return PermissionsMap{}
}
