package directory

import (
	"context"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"
)

// mockSearcher is a testify mock of Searcher.
type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) SearchPaged(ctx context.Context, baseDN, filter string, attributes []string) ([]*goldap.Entry, error) {
	args := m.Called(ctx, baseDN, filter, attributes)
	if entries := args.Get(0); entries != nil {
		return entries.([]*goldap.Entry), args.Error(1)
	}
	return nil, args.Error(1)
}

// searchCall records one search made against a fakeSearcher.
type searchCall struct {
	baseDN     string
	filter     string
	attributes []string
}

// fakeSearcher answers searches from a table keyed by filter and records
// every call.
type fakeSearcher struct {
	results map[string][]*goldap.Entry
	err     error
	calls   []searchCall
}

func (f *fakeSearcher) SearchPaged(_ context.Context, baseDN, filter string, attributes []string) ([]*goldap.Entry, error) {
	f.calls = append(f.calls, searchCall{baseDN: baseDN, filter: filter, attributes: attributes})
	if f.err != nil {
		return nil, f.err
	}
	return f.results[filter], nil
}

func (f *fakeSearcher) filters() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.filter)
	}
	return out
}

// entry builds an entry keeping attributes in the order given, unlike
// goldap.NewEntry which sorts them.
func entry(dn string, attrs ...*goldap.EntryAttribute) *goldap.Entry {
	return &goldap.Entry{DN: dn, Attributes: attrs}
}

func attr(name string, values ...string) *goldap.EntryAttribute {
	return goldap.NewEntryAttribute(name, values)
}

func binaryAttr(name string, values ...[]byte) *goldap.EntryAttribute {
	a := &goldap.EntryAttribute{Name: name, ByteValues: values}
	for _, v := range values {
		a.Values = append(a.Values, string(v))
	}
	return a
}

// dnEntries returns attribute-less entries for the given DNs, as a "1.1"
// search does.
func dnEntries(dns ...string) []*goldap.Entry {
	out := make([]*goldap.Entry, 0, len(dns))
	for _, dn := range dns {
		out = append(out, &goldap.Entry{DN: dn})
	}
	return out
}

func nameEntry(dn, name string) *goldap.Entry {
	return entry(dn, attr("sAMAccountName", name))
}

func chainFilter(attribute, dn string) string {
	return "(" + attribute + ":" + MatchingRuleInChain + ":=" + goldap.EscapeFilter(dn) + ")"
}

func orDN(dns ...string) string {
	var b strings.Builder
	b.WriteString("(|")
	for _, dn := range dns {
		b.WriteString(dnEquality("distinguishedName", dn))
	}
	b.WriteString(")")
	return b.String()
}
