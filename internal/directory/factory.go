package directory

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/adq/internal/ldap"
)

// NewObject maps one search result entry to an Object of the given kind.
//
// An attribute name can appear more than once in an entry when a server
// splits a large value set across response chunks. Names seen more than once
// always become lists holding every value of every occurrence, in order.
// Other names become a scalar when they carry exactly one value and a list
// otherwise. Names are compared and stored lower-cased.
//
// NewObject never fails and makes no directory calls. An entry without
// attributes yields an Object without attributes.
func NewObject(kind Kind, entry *goldap.Entry) *Object {
	if entry == nil {
		return newObject(kind, "")
	}

	obj := newObject(kind, entry.DN)

	seen := make(map[string]int, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		seen[strings.ToLower(attr.Name)]++
	}

	for _, attr := range entry.Attributes {
		name := strings.ToLower(attr.Name)
		values := decodeValues(name, attr)

		if seen[name] > 1 {
			current, ok := obj.attrs[name]
			if !ok {
				current = List()
			}
			obj.set(name, current.appendValues(values...))
			continue
		}

		if len(values) == 1 {
			obj.set(name, Scalar(values[0]))
		} else {
			obj.set(name, List(values...))
		}
	}

	return obj
}

// NewObjects maps every entry with NewObject.
func NewObjects(kind Kind, entries []*goldap.Entry) []*Object {
	objects := make([]*Object, 0, len(entries))
	for _, entry := range entries {
		objects = append(objects, NewObject(kind, entry))
	}
	return objects
}

// decodeValues renders the values of one attribute as strings. objectGUID
// and SIDs get their canonical text forms; any other value that is not valid
// UTF-8 is base64 encoded.
func decodeValues(name string, attr *goldap.EntryAttribute) []string {
	raw := attr.ByteValues
	if len(raw) != len(attr.Values) {
		raw = make([][]byte, len(attr.Values))
		for i, v := range attr.Values {
			raw[i] = []byte(v)
		}
	}

	values := make([]string, 0, len(raw))
	for _, b := range raw {
		values = append(values, decodeValue(name, b))
	}
	return values
}

func decodeValue(name string, b []byte) string {
	switch name {
	case "objectguid":
		if s, err := ldap.DecodeGUID(b); err == nil {
			return s
		}
	case "objectsid", "sidhistory":
		if s, err := ldap.DecodeSID(b); err == nil {
			return s
		}
	}

	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}
