package directory

import (
	"context"
	"fmt"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adq/internal/ldap"
)

// MatchingRuleInChain is LDAP_MATCHING_RULE_IN_CHAIN. The server walks nested
// group links itself, terminating on cycles and returning each entry once.
const MatchingRuleInChain = "1.2.840.113556.1.4.1941"

const (
	attrMember   = "member"
	attrMemberOf = "memberof"
)

// Expander replaces the direct membership of users and groups with their
// transitive membership.
type Expander struct {
	searcher Searcher
	baseDN   string
}

// NewExpander creates an Expander searching under baseDN.
func NewExpander(searcher Searcher, baseDN string) *Expander {
	return &Expander{searcher: searcher, baseDN: baseDN}
}

// Expand updates obj in place. A group's member attribute becomes every
// entry that is a member through any chain of nested groups; a user's
// memberof attribute becomes every group that contains the user through any
// chain. Objects without the attribute, computers, and calls with
// explicitOnly set are left untouched and cause no search.
//
// An expansion search that finds nothing leaves an empty list.
func (e *Expander) Expand(ctx context.Context, obj *Object, explicitOnly bool) error {
	if explicitOnly || obj == nil || !obj.Kind().expandsMembership() {
		return nil
	}

	attr, filter := membershipQuery(obj)
	if !obj.Has(attr) {
		return nil
	}

	tflog.SubsystemDebug(ctx, ldap.SubsystemQuery, "Expanding membership", map[string]any{
		"dn":     obj.DN(),
		"filter": filter,
	})

	entries, err := e.searcher.SearchPaged(ctx, e.baseDN, filter, noAttributes)
	if err != nil {
		return fmt.Errorf("expanding %s of %s: %w", attr, obj.DN(), err)
	}

	obj.setList(attr, entryDNs(entries))
	return nil
}

// ExpandAll calls Expand for every object, stopping at the first error.
func (e *Expander) ExpandAll(ctx context.Context, objects []*Object, explicitOnly bool) error {
	for _, obj := range objects {
		if err := e.Expand(ctx, obj, explicitOnly); err != nil {
			return err
		}
	}
	return nil
}

// membershipQuery returns the attribute to replace and the chain filter for obj.
func membershipQuery(obj *Object) (attr, filter string) {
	if obj.Kind() == KindGroup {
		return attrMember, fmt.Sprintf("(memberOf:%s:=%s)", MatchingRuleInChain, goldap.EscapeFilter(obj.DN()))
	}
	return attrMemberOf, fmt.Sprintf("(member:%s:=%s)", MatchingRuleInChain, goldap.EscapeFilter(obj.DN()))
}

func entryDNs(entries []*goldap.Entry) []string {
	dns := make([]string, 0, len(entries))
	for _, entry := range entries {
		dns = append(dns, entry.DN)
	}
	return dns
}

// IsMember reports whether groupDN is among the memberof values of obj.
// DNs are compared without regard to case. The answer reflects direct
// membership only when obj was fetched with explicit membership.
func IsMember(obj *Object, groupDN string) bool {
	v, ok := obj.Get(attrMemberOf)
	if !ok {
		return false
	}

	for _, dn := range v.Strings() {
		if ldap.EqualDN(dn, groupDN) {
			return true
		}
	}
	return false
}
