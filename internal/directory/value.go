package directory

import (
	"encoding/json"
	"slices"
)

// Value is an attribute value: either a single string or an ordered list.
// A list stays a list even when it holds one element or none.
type Value struct {
	values []string
	list   bool
}

// Scalar returns a single-valued Value.
func Scalar(s string) Value {
	return Value{values: []string{s}}
}

// List returns a multi-valued Value holding vs in order.
func List(vs ...string) Value {
	return Value{values: slices.Clone(vs), list: true}
}

// IsList reports whether v is multi-valued.
func (v Value) IsList() bool {
	return v.list
}

// String returns the scalar value, or the first element of a list.
func (v Value) String() string {
	if len(v.values) == 0 {
		return ""
	}
	return v.values[0]
}

// Strings returns a copy of all values.
func (v Value) Strings() []string {
	return slices.Clone(v.values)
}

// Len returns the number of values held.
func (v Value) Len() int {
	return len(v.values)
}

func (v Value) appendValues(vs ...string) Value {
	return Value{values: slices.Concat(v.values, vs), list: true}
}

// Interface returns a string for a scalar and a []string for a list.
func (v Value) Interface() any {
	if v.list {
		if v.values == nil {
			return []string{}
		}
		return v.Strings()
	}
	return v.String()
}

// MarshalJSON encodes a scalar as a string and a list as an array.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// MarshalYAML encodes the value the same way as MarshalJSON.
func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}
