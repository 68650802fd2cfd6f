package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for an unknown output format.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DefaultIndent is the indentation width used when none is set.
const DefaultIndent = 2

// ParseFormat parses "json" or "yaml", ignoring case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// SerializeOptions controls Serialize.
type SerializeOptions struct {
	Format Format
	Indent int
	// AttributesOnly writes the sorted attribute names of the first object
	// instead of the objects themselves.
	AttributesOnly bool
}

// Serialize writes objects to w as a JSON or YAML sequence of attribute
// maps. Map keys are sorted and HTML characters are left unescaped.
func Serialize(w io.Writer, objects []*Object, opts SerializeOptions) error {
	if opts.AttributesOnly {
		return Encode(w, attributeNames(objects), opts)
	}

	maps := make([]map[string]any, 0, len(objects))
	for _, obj := range objects {
		maps = append(maps, obj.ToMap())
	}
	return Encode(w, maps, opts)
}

// Encode writes any JSON and YAML encodable value in the format and
// indentation of opts. An empty format selects JSON.
func Encode(w io.Writer, data any, opts SerializeOptions) error {
	indent := opts.Indent
	if indent <= 0 {
		indent = DefaultIndent
	}

	switch opts.Format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", strings.Repeat(" ", indent))
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(indent)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
	}
}

func attributeNames(objects []*Object) []string {
	if len(objects) == 0 {
		return []string{}
	}

	names := append([]string{}, objects[0].Names()...)
	slices.Sort(names)
	return names
}
