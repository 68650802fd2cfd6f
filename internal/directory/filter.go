package directory

import (
	"errors"
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
)

// ErrInvalidIdentifier is returned for identifiers that cannot be placed in
// a search filter.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// IdentifierAttribute is the attribute identifiers are matched against.
const IdentifierAttribute = "sAMAccountName"

// Object class predicates. Users and groups exclude the other overlapping
// classes since computer objects also carry objectClass=user.
var kindPredicates = map[Kind]string{
	KindUser:     "(objectClass=user)(!(objectClass=group))(!(objectClass=computer))",
	KindGroup:    "(objectClass=group)(!(objectClass=user))(!(objectClass=computer))",
	KindComputer: "(objectClass=computer)",
}

// FilterSpec describes a search for objects of one kind by identifier.
type FilterSpec struct {
	Kind        Kind
	Identifiers []string
}

// Filter renders the spec as an LDAP filter. With no identifiers every
// object of the kind matches; one identifier is an equality match and
// several are ORed in the order given, without de-duplication.
//
// Identifier values are escaped, except that '*' is kept as a wildcard.
func (s FilterSpec) Filter() (string, error) {
	predicate, ok := kindPredicates[s.Kind]
	if !ok {
		return "", fmt.Errorf("no filter for %s", s.Kind)
	}

	match, err := identifierMatch(s.Identifiers)
	if err != nil {
		return "", err
	}

	return "(&" + predicate + match + ")", nil
}

// BuildFilter is shorthand for FilterSpec{kind, identifiers}.Filter().
func BuildFilter(kind Kind, identifiers ...string) (string, error) {
	return FilterSpec{Kind: kind, Identifiers: identifiers}.Filter()
}

func identifierMatch(identifiers []string) (string, error) {
	switch len(identifiers) {
	case 0:
		return "(" + IdentifierAttribute + "=*)", nil
	case 1:
		return equality(identifiers[0])
	}

	var b strings.Builder
	b.WriteString("(|")
	for _, id := range identifiers {
		clause, err := equality(id)
		if err != nil {
			return "", err
		}
		b.WriteString(clause)
	}
	b.WriteString(")")
	return b.String(), nil
}

func equality(id string) (string, error) {
	escaped, err := escapeIdentifier(id)
	if err != nil {
		return "", err
	}
	return "(" + IdentifierAttribute + "=" + escaped + ")", nil
}

// escapeIdentifier escapes RFC 4515 metacharacters in id while keeping '*'
// as a substring wildcard.
func escapeIdentifier(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidIdentifier)
	}
	if strings.ContainsRune(id, 0) {
		return "", fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidIdentifier, id)
	}
	parts := strings.Split(id, "*")
	for i, part := range parts {
		parts[i] = goldap.EscapeFilter(part)
	}
	return strings.Join(parts, "*"), nil
}

// dnEquality renders (attr=dn) with the whole DN escaped.
func dnEquality(attr, dn string) string {
	return "(" + attr + "=" + goldap.EscapeFilter(dn) + ")"
}
