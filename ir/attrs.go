package ir

import (
	"github.com/gomlx/exceptions"
	"golang.org/x/exp/maps"
	"slices"
)

// Attr is an attribute value. The supported concrete types are:
// bool, int64, float64, string, []int64, []string and []byte (opaque blob,
// used for the compiled device binary).
type Attr any

func validAttr(value Attr) bool {
	switch value.(type) {
	case bool, int64, float64, string, []int64, []string, []byte:
		return true
	}
	return false
}

// SetAttr sets an attribute on the operation, replacing a previous value.
func (op *Op) SetAttr(key string, value Attr) {
	if !validAttr(value) {
		exceptions.Panicf("ir: unsupported attribute type %T for key %q on op %q", value, key, op.name)
	}
	if op.attrs == nil {
		op.attrs = make(map[string]Attr)
	}
	op.attrs[key] = value
}

// Attr returns the attribute stored under key, or nil.
func (op *Op) Attr(key string) Attr {
	if op.attrs == nil {
		return nil
	}
	return op.attrs[key]
}

// HasAttr reports whether the attribute is set.
func (op *Op) HasAttr(key string) bool {
	_, found := op.attrs[key]
	return found
}

// RemoveAttr removes the attribute if present.
func (op *Op) RemoveAttr(key string) {
	delete(op.attrs, key)
}

// AttrKeys returns the attribute keys in sorted order.
func (op *Op) AttrKeys() []string {
	keys := maps.Keys(op.attrs)
	slices.Sort(keys)
	return keys
}

// IntAttr returns the int64 attribute under key, or def when absent or of a
// different type.
func (op *Op) IntAttr(key string, def int64) int64 {
	if v, ok := op.Attr(key).(int64); ok {
		return v
	}
	return def
}

// FloatAttr returns the float64 attribute under key, or def.
func (op *Op) FloatAttr(key string, def float64) float64 {
	if v, ok := op.Attr(key).(float64); ok {
		return v
	}
	return def
}

// StrAttr returns the string attribute under key, or "".
func (op *Op) StrAttr(key string) string {
	if v, ok := op.Attr(key).(string); ok {
		return v
	}
	return ""
}

// BoolAttr returns the bool attribute under key, or false.
func (op *Op) BoolAttr(key string) bool {
	if v, ok := op.Attr(key).(bool); ok {
		return v
	}
	return false
}

// IntsAttr returns the []int64 attribute under key, or nil.
func (op *Op) IntsAttr(key string) []int64 {
	if v, ok := op.Attr(key).([]int64); ok {
		return v
	}
	return nil
}

// StrsAttr returns the []string attribute under key, or nil.
func (op *Op) StrsAttr(key string) []string {
	if v, ok := op.Attr(key).([]string); ok {
		return v
	}
	return nil
}

// BytesAttr returns the []byte attribute under key, or nil.
func (op *Op) BytesAttr(key string) []byte {
	if v, ok := op.Attr(key).([]byte); ok {
		return v
	}
	return nil
}
