package directory

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPattern is returned when a grep pattern does not compile.
var ErrInvalidPattern = errors.New("invalid pattern")

// CompilePatterns compiles patterns case-insensitive, multi-line and with
// '.' matching newlines.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?ims)" + p)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidPattern, p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Grep keeps the objects whose single-valued attributes, joined by spaces in
// attribute order, match every pattern. List attributes are not searched.
// An empty pattern list keeps everything; otherwise an object without
// single-valued attributes is dropped.
func Grep(objects []*Object, patterns []string) ([]*Object, error) {
	if len(patterns) == 0 {
		return objects, nil
	}

	compiled, err := CompilePatterns(patterns)
	if err != nil {
		return nil, err
	}

	filtered := make([]*Object, 0, len(objects))
	for _, obj := range objects {
		if matchesAll(obj, compiled) {
			filtered = append(filtered, obj)
		}
	}
	return filtered, nil
}

func matchesAll(obj *Object, patterns []*regexp.Regexp) bool {
	scalars := obj.scalars()
	if len(scalars) == 0 {
		return false
	}

	text := strings.Join(scalars, " ")
	for _, re := range patterns {
		if !re.MatchString(text) {
			return false
		}
	}
	return true
}
