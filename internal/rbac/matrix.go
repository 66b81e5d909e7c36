package rbac

import "encoding/json"

// NewPermissionsMatrix returns a matrix with every module and action denied.
func NewPermissionsMatrix() PermissionsMatrix {
	matrix := make(PermissionsMatrix, len(Modules()))
	for _, module := range Modules() {
		row := make(map[ActionKey]bool, len(Actions()))
		for _, action := range Actions() {
			row[action] = false
		}
		matrix[module] = row
	}
	return matrix
}

// MapPermissionsToMatrix overlays the permissions extracted from entries
// onto a fully denied matrix. Unknown modules and actions are ignored.
func MapPermissionsToMatrix(entries json.RawMessage) PermissionsMatrix {
	return overlayMatrix(NewPermissionsMatrix(), ExtractPermissionsMap(entries))
}

// MatrixFromPermissionsMap is MapPermissionsToMatrix for an already
// normalized map.
func MatrixFromPermissionsMap(pm PermissionsMap) PermissionsMatrix {
	return overlayMatrix(NewPermissionsMatrix(), pm)
}

func overlayMatrix(matrix PermissionsMatrix, pm PermissionsMap) PermissionsMatrix {
	for key, perms := range pm {
		module, ok := ResolveModule(string(key))
		if !ok {
			continue
		}
		row := matrix[module]
		for _, action := range Actions() {
			row[action] = perms.Allows(action)
		}
	}
	return matrix
}

// MapMatrixToPermissionsMap copies a matrix into a PermissionsMap,
// defaulting missing cells to false.
func MapMatrixToPermissionsMap(matrix PermissionsMatrix) PermissionsMap {
	out := make(PermissionsMap, len(Modules()))
	for _, module := range Modules() {
		var perms ModulePermissions
		row := matrix[module]
		for _, action := range Actions() {
			perms.set(action, row[action])
		}
		out[module] = perms
	}
	return out
}
