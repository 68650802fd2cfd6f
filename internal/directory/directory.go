package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/adq/internal/ldap"
)

// QueryOptions selects and shapes the objects returned by a query.
type QueryOptions struct {
	// Identifiers are sAMAccountName values; empty selects every object of the kind.
	Identifiers []string
	// Attributes limits the attributes fetched; empty fetches all of them.
	Attributes []string
	// ExplicitMembershipOnly keeps the stored member/memberOf values instead
	// of expanding them through nested groups.
	ExplicitMembershipOnly bool
}

// Directory runs read-only queries for users, groups and computers.
type Directory struct {
	searcher Searcher
	baseDN   string
	expander *Expander
	resolver *Resolver
	timeout  time.Duration
}

// New creates a Directory searching under baseDN.
func New(searcher Searcher, baseDN string) *Directory {
	return &Directory{
		searcher: searcher,
		baseDN:   baseDN,
		expander: NewExpander(searcher, baseDN),
		resolver: NewResolver(searcher, baseDN, DefaultResolverTTL),
	}
}

// SetTimeout bounds each query, including its membership searches. Zero
// means no bound beyond the connection's own timeout.
func (d *Directory) SetTimeout(timeout time.Duration) {
	d.timeout = timeout
}

// BaseDN returns the search base.
func (d *Directory) BaseDN() string {
	return d.baseDN
}

// Resolver returns the name resolver bound to this directory.
func (d *Directory) Resolver() *Resolver {
	return d.resolver
}

// Users returns users matching opts, with memberof expanded unless
// opts.ExplicitMembershipOnly is set.
func (d *Directory) Users(ctx context.Context, opts QueryOptions) ([]*Object, error) {
	return d.Query(ctx, KindUser, opts)
}

// User returns the user with the given sAMAccountName, or nil when there is none.
func (d *Directory) User(ctx context.Context, name string, opts QueryOptions) (*Object, error) {
	return d.one(ctx, KindUser, name, opts)
}

// Groups returns groups matching opts, with member expanded unless
// opts.ExplicitMembershipOnly is set.
func (d *Directory) Groups(ctx context.Context, opts QueryOptions) ([]*Object, error) {
	return d.Query(ctx, KindGroup, opts)
}

// Group returns the group with the given sAMAccountName, or nil when there is none.
func (d *Directory) Group(ctx context.Context, name string, opts QueryOptions) (*Object, error) {
	return d.one(ctx, KindGroup, name, opts)
}

// Computers returns computers matching opts. Computers have no membership
// to expand.
func (d *Directory) Computers(ctx context.Context, opts QueryOptions) ([]*Object, error) {
	return d.Query(ctx, KindComputer, opts)
}

// Computer returns the computer with the given sAMAccountName, or nil when there is none.
func (d *Directory) Computer(ctx context.Context, name string, opts QueryOptions) (*Object, error) {
	return d.one(ctx, KindComputer, name, opts)
}

// Query searches for objects of kind, maps them and expands membership.
func (d *Directory) Query(ctx context.Context, kind Kind, opts QueryOptions) (objects []*Object, err error) {
	done := ldap.LogQueryOperation(ctx, kind.String(), "query", map[string]any{
		"identifiers": opts.Identifiers,
		"base_dn":     d.baseDN,
	})
	defer func() { done(len(objects), err) }()

	filter, err := BuildFilter(kind, opts.Identifiers...)
	if err != nil {
		return nil, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	tflog.SubsystemDebug(ctx, ldap.SubsystemQuery, "Search filter", map[string]any{
		"kind":   kind.String(),
		"filter": filter,
	})

	entries, err := d.searcher.SearchPaged(ctx, d.baseDN, filter, opts.Attributes)
	if err != nil {
		return nil, fmt.Errorf("searching for %ss: %w", kind, err)
	}

	objects = NewObjects(kind, entries)
	if err := d.expander.ExpandAll(ctx, objects, opts.ExplicitMembershipOnly); err != nil {
		return nil, err
	}

	return objects, nil
}

func (d *Directory) one(ctx context.Context, kind Kind, name string, opts QueryOptions) (*Object, error) {
	opts.Identifiers = []string{name}

	objects, err := d.Query(ctx, kind, opts)
	if err != nil {
		return nil, err
	}

	if len(objects) == 0 {
		tflog.SubsystemInfo(ctx, ldap.SubsystemQuery, "Unable to retrieve object by sAMAccountName", map[string]any{
			"kind":           kind.String(),
			"sAMAccountName": name,
		})
		return nil, nil
	}

	return objects[0], nil
}
