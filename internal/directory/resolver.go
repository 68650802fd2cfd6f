package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/patrickmn/go-cache"

	"github.com/isometry/adq/internal/ldap"
)

// DefaultResolverTTL is how long resolved names are remembered.
const DefaultResolverTTL = 10 * time.Minute

// Resolver maps distinguished names to sAMAccountName values.
type Resolver struct {
	searcher Searcher
	baseDN   string
	cache    *cache.Cache
}

// NewResolver creates a Resolver searching under baseDN. A ttl of zero
// selects DefaultResolverTTL.
func NewResolver(searcher Searcher, baseDN string, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultResolverTTL
	}

	return &Resolver{
		searcher: searcher,
		baseDN:   baseDN,
		cache:    cache.New(ttl, ttl+5*time.Minute),
	}
}

// Resolve looks up all uncached DNs with a single OR search and returns a map
// from each input DN to its name. DNs without a matching entry, or whose
// entry has no sAMAccountName, are left out of the map.
func (r *Resolver) Resolve(ctx context.Context, dns []string) (map[string]string, error) {
	names := make(map[string]string, len(dns))
	pending := make(map[string][]string)
	var order []string

	for _, dn := range dns {
		key := ldap.DNKey(dn)
		if cached, ok := r.cache.Get(dnCacheKey(key)); ok {
			names[dn] = cached.(string)
			continue
		}
		if _, ok := pending[key]; !ok {
			order = append(order, key)
		}
		pending[key] = append(pending[key], dn)
	}

	if len(pending) == 0 {
		return names, nil
	}

	var filter strings.Builder
	filter.WriteString("(|")
	for _, key := range order {
		filter.WriteString(dnEquality("distinguishedName", pending[key][0]))
	}
	filter.WriteString(")")

	tflog.SubsystemDebug(ctx, ldap.SubsystemQuery, "Resolving distinguished names", map[string]any{
		"count":  len(order),
		"cached": len(names),
		"filter": filter.String(),
	})

	entries, err := r.searcher.SearchPaged(ctx, r.baseDN, filter.String(), []string{IdentifierAttribute})
	if err != nil {
		return nil, fmt.Errorf("resolving %d distinguished names: %w", len(order), err)
	}

	for _, entry := range entries {
		name := entry.GetEqualFoldAttributeValue(IdentifierAttribute)
		if name == "" {
			continue
		}

		key := ldap.DNKey(entry.DN)
		inputs, ok := pending[key]
		if !ok {
			continue
		}

		r.remember(entry.DN, name)
		for _, dn := range inputs {
			names[dn] = name
		}
		delete(pending, key)
	}

	for _, key := range order {
		if inputs, ok := pending[key]; ok {
			tflog.SubsystemInfo(ctx, ldap.SubsystemQuery, "Unable to resolve distinguished name", map[string]any{
				"dn": inputs[0],
			})
		}
	}

	return names, nil
}

// LookupDNs is the reverse of Resolve: it maps sAMAccountName values to the
// DNs of their entries with one OR search. Names are matched without regard
// to case and must not contain wildcards; names without an entry are left out.
func (r *Resolver) LookupDNs(ctx context.Context, names []string) (map[string]string, error) {
	dns := make(map[string]string, len(names))
	pending := make(map[string][]string)
	var order []string

	for _, name := range names {
		if strings.Contains(name, "*") {
			return nil, fmt.Errorf("%w: wildcard in %q", ErrInvalidIdentifier, name)
		}
		key := strings.ToLower(name)
		if cached, ok := r.cache.Get(nameCacheKey(key)); ok {
			dns[name] = cached.(string)
			continue
		}
		if _, ok := pending[key]; !ok {
			order = append(order, key)
		}
		pending[key] = append(pending[key], name)
	}

	if len(pending) == 0 {
		return dns, nil
	}

	ids := make([]string, 0, len(order))
	for _, key := range order {
		ids = append(ids, pending[key][0])
	}
	match, err := identifierMatch(ids)
	if err != nil {
		return nil, err
	}

	tflog.SubsystemDebug(ctx, ldap.SubsystemQuery, "Looking up distinguished names", map[string]any{
		"count":  len(order),
		"filter": match,
	})

	entries, err := r.searcher.SearchPaged(ctx, r.baseDN, match, []string{IdentifierAttribute})
	if err != nil {
		return nil, fmt.Errorf("looking up %d names: %w", len(order), err)
	}

	for _, entry := range entries {
		name := entry.GetEqualFoldAttributeValue(IdentifierAttribute)
		inputs, ok := pending[strings.ToLower(name)]
		if name == "" || !ok {
			continue
		}

		r.remember(entry.DN, name)
		for _, input := range inputs {
			dns[input] = entry.DN
		}
		delete(pending, strings.ToLower(name))
	}

	for _, key := range order {
		if inputs, ok := pending[key]; ok {
			tflog.SubsystemInfo(ctx, ldap.SubsystemQuery, "Unable to retrieve object by sAMAccountName", map[string]any{
				"sAMAccountName": inputs[0],
			})
		}
	}

	return dns, nil
}

// remember caches a resolved pair in both directions.
func (r *Resolver) remember(dn, name string) {
	r.cache.Set(dnCacheKey(ldap.DNKey(dn)), name, cache.DefaultExpiration)
	r.cache.Set(nameCacheKey(strings.ToLower(name)), dn, cache.DefaultExpiration)
}

func dnCacheKey(key string) string { return "dn:" + key }
func nameCacheKey(key string) string { return "name:" + key }

// ResolveOne resolves a single DN. The bool is false when it does not resolve.
func (r *Resolver) ResolveOne(ctx context.Context, dn string) (string, bool, error) {
	names, err := r.Resolve(ctx, []string{dn})
	if err != nil {
		return "", false, err
	}

	name, ok := names[dn]
	return name, ok, nil
}

// GroupNames returns the names of the groups in the memberof attribute of
// obj, in attribute order. Groups that do not resolve are skipped.
func (r *Resolver) GroupNames(ctx context.Context, obj *Object) ([]string, error) {
	v, ok := obj.Get(attrMemberOf)
	if !ok || v.Len() == 0 {
		tflog.SubsystemInfo(ctx, ldap.SubsystemQuery, "Object has no group membership", map[string]any{
			"dn": obj.DN(),
		})
		return []string{}, nil
	}

	dns := v.Strings()
	names, err := r.Resolve(ctx, dns)
	if err != nil {
		return nil, err
	}

	groups := make([]string, 0, len(names))
	for _, dn := range dns {
		if name, ok := names[dn]; ok {
			groups = append(groups, name)
		}
	}

	if len(groups) == 0 {
		tflog.SubsystemInfo(ctx, ldap.SubsystemQuery, "Unable to resolve any groups", map[string]any{
			"dn": obj.DN(),
		})
	}

	return groups, nil
}
