package directory

import (
	"context"

	goldap "github.com/go-ldap/ldap/v3"
)

// Searcher runs a subtree search and returns every matching entry across all
// result pages. ldap.Client satisfies it.
type Searcher interface {
	SearchPaged(ctx context.Context, baseDN, filter string, attributes []string) ([]*goldap.Entry, error)
}

// noAttributes requests entries without attributes (RFC 4511 section 4.5.1.8).
var noAttributes = []string{"1.1"}
