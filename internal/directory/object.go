package directory

import (
	"encoding/json"
	"slices"
	"strings"
)

// Object is a directory entry mapped to plain data. Attribute names are
// lower-cased and each appears once, in the order the directory returned
// them. The entry's DN is kept apart from the attributes.
//
// An Object holds no reference to the connection or logger that produced it,
// so everything reachable from ToMap is serializable domain data.
type Object struct {
	kind  Kind
	dn    string
	names []string
	attrs map[string]Value
}

func newObject(kind Kind, dn string) *Object {
	return &Object{
		kind:  kind,
		dn:    dn,
		attrs: make(map[string]Value),
	}
}

// Kind returns the kind the object was queried as.
func (o *Object) Kind() Kind {
	return o.kind
}

// DN returns the distinguished name of the source entry.
func (o *Object) DN() string {
	return o.dn
}

// Has reports whether the object carries the named attribute.
func (o *Object) Has(name string) bool {
	_, ok := o.attrs[strings.ToLower(name)]
	return ok
}

// Get returns the named attribute.
func (o *Object) Get(name string) (Value, bool) {
	v, ok := o.attrs[strings.ToLower(name)]
	return v, ok
}

// Names returns the attribute names in encounter order.
func (o *Object) Names() []string {
	return slices.Clone(o.names)
}

// Len returns the number of attributes.
func (o *Object) Len() int {
	return len(o.names)
}

// ToMap returns the attributes as strings and string slices.
func (o *Object) ToMap() map[string]any {
	m := make(map[string]any, len(o.names))
	for _, name := range o.names {
		m[name] = o.attrs[name].Interface()
	}
	return m
}

// MarshalJSON encodes the object as a map of lower-case attribute names.
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.ToMap())
}

// MarshalYAML encodes the object as a map of lower-case attribute names.
func (o *Object) MarshalYAML() (any, error) {
	return o.ToMap(), nil
}

// set stores v under name, keeping the original position of an existing name.
func (o *Object) set(name string, v Value) {
	if _, ok := o.attrs[name]; !ok {
		o.names = append(o.names, name)
	}
	o.attrs[name] = v
}

// setList replaces the named attribute with a list, as membership expansion does.
func (o *Object) setList(name string, vs []string) {
	o.set(strings.ToLower(name), List(vs...))
}

// scalars returns the single-valued attributes in encounter order.
func (o *Object) scalars() []string {
	var out []string
	for _, name := range o.names {
		if v := o.attrs[name]; !v.IsList() {
			out = append(out, v.String())
		}
	}
	return out
}
