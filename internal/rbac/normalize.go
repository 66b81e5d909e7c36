package rbac

import (
	"bytes"
	"encoding/json"
	"errors"
)

// wireModuleAliases lists legacy module keys the backend still emits.
// The canonical key wins when both are present.
var wireModuleAliases = map[ModuleKey][]string{
	ModuleProperties: {"property"},
}

// NormalizePermissionsMap converts a raw permissions object into a
// PermissionsMap. Only canonical modules whose value is an object are
// kept; every action is present. Non-object input yields an empty map.
func NormalizePermissionsMap(raw json.RawMessage) PermissionsMap {
	return normalizePermissionsMap(decodeWire(raw))
}

var errPermissionsNotObject = errors.New("rbac: permissions payload is not an object")

// UnmarshalJSON applies NormalizePermissionsMap to request bodies. null
// leaves the map untouched; any other non-object is an error.
func (pm *PermissionsMap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	v := decodeWire(data)
	if v.kind != shapeObject {
		return errPermissionsNotObject
	}
	*pm = normalizePermissionsMap(v)
	return nil
}

func normalizePermissionsMap(v wireValue) PermissionsMap {
	out := PermissionsMap{}
	if v.kind != shapeObject {
		return out
	}
	for _, module := range Modules() {
		moduleValue, ok := lookupModule(v, module)
		if !ok {
			continue
		}
		var perms ModulePermissions
		for _, action := range Actions() {
			raw, _ := moduleValue.field(string(action))
			perms.set(action, truthy(raw))
		}
		out[module] = perms
	}
	return out
}

func lookupModule(v wireValue, module ModuleKey) (wireValue, bool) {
	keys := append([]string{string(module)}, wireModuleAliases[module]...)
	for _, key := range keys {
		raw, ok := v.field(key)
		if !ok {
			continue
		}
		if mv := decodeWire(raw); mv.kind == shapeObject {
			return mv, true
		}
	}
	return wireValue{}, false
}

// ExtractPermissionsMap accepts a list of permission entries (first
// element wins), a single entry, or a bare map. Entries carrying a nested
// "permissions" field contribute that field.
func ExtractPermissionsMap(raw json.RawMessage) PermissionsMap {
	return extractPermissionsMap(decodeWire(raw))
}

func extractPermissionsMap(v wireValue) PermissionsMap {
	switch v.kind {
	case shapeArray:
		return permissionsFromEntry(v.first())
	case shapeObject:
		return permissionsFromEntry(v)
	}
	return PermissionsMap{}
}

func permissionsFromEntry(entry wireValue) PermissionsMap {
	if raw, ok := entry.field("permissions"); ok {
		if nested := decodeWire(raw); nested.kind != shapeEmpty {
			return normalizePermissionsMap(nested)
		}
	}
	return normalizePermissionsMap(entry)
}

// NormalizeRole converts a raw role payload into a Role. Missing fields
// take their zero value; the function never fails.
func NormalizeRole(raw json.RawMessage) Role {
	return normalizeRole(decodeWire(raw))
}

func normalizeRole(v wireValue) Role {
	id, _ := v.firstInt("id", "Id")
	name := v.firstString("role", "name", "Name")
	role := Role{
		ID:        id,
		Role:      name,
		Name:      name,
		RoleTitle: v.firstString("role_title"),
		Users:     []RoleUser{},
	}

	permsRaw, ok := v.field("permissions")
	if !ok {
		permsRaw, _ = v.field("permission")
	}
	role.Permissions = []PermissionEntry{{ID: 0, Permissions: extractPermissionsMap(decodeWire(permsRaw))}}

	if raw, ok := v.field("organization"); ok {
		role.Organization = normalizeOrganization(decodeWire(raw))
	}

	if raw, ok := v.field("users"); ok {
		if users := decodeWire(raw); users.kind == shapeArray {
			role.Users = make([]RoleUser, 0, len(users.array))
			for _, item := range users.array {
				role.Users = append(role.Users, normalizeRoleUser(decodeWire(item)))
			}
		}
	}

	if count, ok := v.firstInt("user_count"); ok {
		role.UserCount = int(count)
	} else {
		role.UserCount = len(role.Users)
	}
	return role
}

func normalizeOrganization(v wireValue) *Organization {
	if v.kind != shapeObject {
		return nil
	}
	id, _ := v.firstInt("id", "Id")
	org := &Organization{ID: id, Name: v.firstString("name", "Name")}
	for key, raw := range v.object {
		switch key {
		case "id", "Id", "name", "Name":
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		if org.Metadata == nil {
			org.Metadata = make(map[string]any)
		}
		org.Metadata[key] = value
	}
	return org
}

func normalizeRoleUser(v wireValue) RoleUser {
	id, _ := v.firstInt("id", "Id")
	return RoleUser{
		ID:        id,
		FirstName: v.firstString("first_name", "firstName"),
		LastName:  v.firstString("last_name", "lastName"),
		FullName:  v.firstString("full_name", "name"),
		Email:     v.firstString("email"),
	}
}

// ToRoleArray unwraps list responses: a bare array or {"data": [...]}.
// Anything else yields an empty list.
func ToRoleArray(raw json.RawMessage) []json.RawMessage {
	v := decodeWire(raw)
	if v.kind == shapeObject {
		v = unwrapEnvelope(v)
	}
	if v.kind != shapeArray {
		return []json.RawMessage{}
	}
	return v.array
}

func normalizeMyPermissions(raw json.RawMessage) MyPermissions {
	v := unwrapEnvelope(decodeWire(raw)).first()
	permsRaw, _ := v.field("permissions")
	return MyPermissions{
		Role:        v.firstString("role", "name", "Name"),
		Permissions: extractPermissionsMap(decodeWire(permsRaw)),
	}
}
