package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// NormalizeDNCase upper-cases the attribute type descriptors of a DN to match
// Active Directory's canonical format. Values keep their case.
//
//	cn=john,ou=users,dc=example,dc=com -> CN=john,OU=users,DC=example,DC=com
func NormalizeDNCase(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	return formatDN(parsed, strings.ToUpper, func(s string) string { return s }), nil
}

// DNKey returns a case-folded form of dn suitable as a map or cache key.
// Unparsable DNs are lower-cased as-is.
func DNKey(dn string) string {
	parsed, err := ldap.ParseDN(strings.TrimSpace(dn))
	if err != nil {
		return strings.ToLower(dn)
	}

	return formatDN(parsed, strings.ToLower, strings.ToLower)
}

// EqualDN reports whether two DNs name the same entry, ignoring case.
// Unparsable DNs fall back to a case-insensitive string comparison.
func EqualDN(a, b string) bool {
	pa, errA := ldap.ParseDN(a)
	pb, errB := ldap.ParseDN(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}

	return pa.EqualFold(pb)
}

func formatDN(parsed *ldap.DN, typeCase, valueCase func(string) string) string {
	rdns := make([]string, 0, len(parsed.RDNs))

	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, typeCase(attr.Type)+"="+ldap.EscapeDN(valueCase(attr.Value)))
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}

	return strings.Join(rdns, ",")
}

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if dn == "" {
		return errors.New("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}
