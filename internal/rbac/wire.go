package rbac

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// shape tags the JSON forms the permission backend has emitted over time.
type shape int

const (
	shapeEmpty shape = iota
	shapeObject
	shapeArray
	shapeScalar
)

// wireValue is a decoded payload tagged with its shape. Only the field
// matching kind is populated.
type wireValue struct {
	kind   shape
	object map[string]json.RawMessage
	array  []json.RawMessage
	scalar json.RawMessage
}

func decodeWire(raw json.RawMessage) wireValue {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return wireValue{kind: shapeEmpty}
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return wireValue{kind: shapeEmpty}
		}
		return wireValue{kind: shapeObject, object: obj}
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return wireValue{kind: shapeEmpty}
		}
		return wireValue{kind: shapeArray, array: arr}
	}
	if !json.Valid(trimmed) {
		return wireValue{kind: shapeEmpty}
	}
	return wireValue{kind: shapeScalar, scalar: trimmed}
}

// unwrapEnvelope strips a {"data": ...} envelope. Any other shape is
// returned unchanged.
func unwrapEnvelope(v wireValue) wireValue {
	if v.kind != shapeObject {
		return v
	}
	if data, ok := v.object["data"]; ok {
		return decodeWire(data)
	}
	return v
}

// first returns the first element of an array payload, or v itself.
func (v wireValue) first() wireValue {
	if v.kind != shapeArray {
		return v
	}
	if len(v.array) == 0 {
		return wireValue{kind: shapeEmpty}
	}
	return decodeWire(v.array[0])
}

func (v wireValue) field(name string) (json.RawMessage, bool) {
	if v.kind != shapeObject {
		return nil, false
	}
	raw, ok := v.object[name]
	return raw, ok
}

// firstString returns the first non-empty string among names.
func (v wireValue) firstString(names ...string) string {
	for _, name := range names {
		raw, ok := v.field(name)
		if !ok {
			continue
		}
		if s, ok := stringValue(raw); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstInt returns the first field among names holding an integer.
func (v wireValue) firstInt(names ...string) (int64, bool) {
	for _, name := range names {
		raw, ok := v.field(name)
		if !ok {
			continue
		}
		if n, ok := intValue(raw); ok {
			return n, true
		}
	}
	return 0, false
}

func stringValue(raw json.RawMessage) (string, bool) {
	v := decodeWire(raw)
	if v.kind != shapeScalar || v.scalar[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v.scalar, &s); err != nil {
		return "", false
	}
	return s, true
}

func intValue(raw json.RawMessage) (int64, bool) {
	v := decodeWire(raw)
	if v.kind != shapeScalar {
		return 0, false
	}
	if v.scalar[0] == '"' {
		s, _ := stringValue(raw)
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	var f float64
	if err := json.Unmarshal(v.scalar, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// truthy applies JSON-truthy coercion: false, 0, "", null and missing are
// false, everything else is true.
func truthy(raw json.RawMessage) bool {
	v := decodeWire(raw)
	switch v.kind {
	case shapeEmpty:
		return false
	case shapeObject, shapeArray:
		return true
	}
	switch v.scalar[0] {
	case 't':
		return true
	case 'f':
		return false
	case '"':
		s, _ := stringValue(raw)
		return s != ""
	}
	var f float64
	if err := json.Unmarshal(v.scalar, &f); err != nil {
		return false
	}
	return f != 0
}
