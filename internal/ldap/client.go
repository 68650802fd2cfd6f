package ldap

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

var (
	dnFormatPattern  = regexp.MustCompile(`^[A-Za-z]+=.*`)
	sidFormatPattern = regexp.MustCompile(`^S-\d+-\d+-\d+(-\d+)*$`)
)

// searchFunc issues one search request on a connection.
type searchFunc func(conn *ldap.Conn, req *ldap.SearchRequest) (*ldap.SearchResult, error)

// client implements the Client interface.
type client struct {
	pool   ConnectionPool
	config *ConnectionConfig
	search searchFunc
}

// NewClient creates a new LDAP client with connection pooling. ctx carries
// the logging subsystems used for the lifetime of the client.
func NewClient(ctx context.Context, config *ConnectionConfig) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Creating new LDAP client", map[string]any{
		"domain":          config.Domain,
		"ldap_urls_count": len(config.LDAPURLs),
		"auth_method":     config.GetAuthMethod().String(),
		"use_tls":         config.UseTLS,
		"page_size":       config.PageSize,
		"max_connections": config.MaxConnections,
	})

	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		tflog.SubsystemError(ctx, SubsystemLDAP, "Failed to create connection pool", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return newClient(pool, config), nil
}

func newClient(pool ConnectionPool, config *ConnectionConfig) *client {
	return &client{
		pool:   pool,
		config: config,
		search: func(conn *ldap.Conn, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return conn.Search(req)
		},
	}
}

// Connect verifies that a connection can be established and answers the root DSE.
func (c *client) Connect(ctx context.Context) error {
	return LogOperation(ctx, SubsystemLDAP, "connection_test", map[string]any{
		"domain": c.config.Domain,
	}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		defer conn.Close()

		if err := c.ping(conn); err != nil {
			return WrapError("ping", err)
		}

		tflog.SubsystemInfo(ctx, SubsystemLDAP, "Connection test successful", map[string]any{
			"server": ServerInfoToURL(conn.ServerInfo()),
		})
		return nil
	})
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// Bind re-authenticates the pooled connection with explicit credentials.
func (c *client) Bind(ctx context.Context, username, password string) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return WrapError("bind", c.withRetry(ctx, func() error {
		return conn.Conn().Bind(username, password)
	}))
}

// BindWithConfig re-authenticates the pooled connection with the configured method.
func (c *client) BindWithConfig(ctx context.Context) error {
	if !c.config.HasAuthentication() {
		return errors.New("no authentication configuration available")
	}

	method := c.config.GetAuthMethod()
	return LogOperation(ctx, SubsystemLDAP, "authentication", map[string]any{
		"auth_method": method.String(),
		"username":    c.config.Username,
	}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		return WrapError("bind", c.withRetry(ctx, func() error {
			return c.authenticate(ctx, conn)
		}))
	})
}

func (c *client) authenticate(ctx context.Context, conn *PooledConnection) error {
	switch method := c.config.GetAuthMethod(); method {
	case AuthMethodSimpleBind:
		if c.config.Username == "" {
			return errors.New("username is required for simple bind authentication")
		}
		return conn.Conn().Bind(c.config.Username, c.config.Password)
	case AuthMethodKerberos:
		return performKerberosAuth(ctx, conn.Conn(), c.config, conn.ServerInfo())
	case AuthMethodExternal:
		return conn.Conn().ExternalBind()
	default:
		return fmt.Errorf("unsupported authentication method: %s", method.String())
	}
}

// Search performs a single, unpaged LDAP search.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
		"size_limit": req.SizeLimit,
	}
	start := time.Now()

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		nil,
	)

	var result *ldap.SearchResult
	err = c.withRetry(ctx, func() error {
		var searchErr error
		result, searchErr = c.search(conn.Conn(), ldapReq)
		return searchErr
	})
	if err != nil {
		LogLDAPError(ctx, SubsystemLDAP, "search", err, fields)
		return nil, c.searchError(req.BaseDN, err)
	}

	LogPerformance(ctx, SubsystemLDAP, "search", time.Since(start), map[string]any{
		"filter":        req.Filter,
		"entries_found": len(result.Entries),
	})

	return &SearchResult{
		Entries: result.Entries,
		Total:   len(result.Entries),
		HasMore: req.SizeLimit > 0 && len(result.Entries) >= req.SizeLimit,
		Pages:   1,
	}, nil
}

// SearchWithPaging performs an LDAP search with the simple paged results
// control, following the server cookie until it comes back empty.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	start := time.Now()
	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"filter":     req.Filter,
		"scope":      req.Scope.String(),
		"attributes": req.Attributes,
		"page_size":  c.config.PageSize,
	}

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Starting paged search", fields)

	conn, err := c.pool.Get(ctx)
	if err != nil {
		LogLDAPError(ctx, SubsystemLDAP, "get_connection", err, fields)
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var entries []*ldap.Entry
	paging := ldap.NewControlPaging(c.config.PageSize)
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			tflog.SubsystemWarn(ctx, SubsystemLDAP, "Paged search cancelled", map[string]any{
				"pages_completed": pages,
				"entries_found":   len(entries),
			})
			c.abandonPaging(ctx, conn, req, paging)
			return nil, err
		}

		pages++
		ldapReq := ldap.NewSearchRequest(
			req.BaseDN,
			int(req.Scope),
			int(req.DerefAliases),
			0,
			int(req.TimeLimit.Seconds()),
			false,
			req.Filter,
			req.Attributes,
			[]ldap.Control{paging},
		)

		var result *ldap.SearchResult
		err = c.withRetry(ctx, func() error {
			var searchErr error
			result, searchErr = c.search(conn.Conn(), ldapReq)
			return searchErr
		})
		if err != nil {
			fields["page_number"] = pages
			LogLDAPError(ctx, SubsystemLDAP, "paged_search", err, fields)
			c.abandonPaging(ctx, conn, req, paging)
			return nil, c.searchError(req.BaseDN, err)
		}

		entries = append(entries, result.Entries...)

		tflog.SubsystemTrace(ctx, SubsystemLDAP, "Completed search page", map[string]any{
			"page_number":     pages,
			"entries_in_page": len(result.Entries),
			"total_entries":   len(entries),
		})

		response, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(response.Cookie) == 0 {
			break
		}
		paging.SetCookie(response.Cookie)
	}

	LogPerformance(ctx, SubsystemLDAP, "paged_search", time.Since(start), map[string]any{
		"base_dn":         req.BaseDN,
		"filter":          req.Filter,
		"total_entries":   len(entries),
		"pages_processed": pages,
	})

	return &SearchResult{
		Entries: entries,
		Total:   len(entries),
		Pages:   pages,
	}, nil
}

// abandonPaging releases the server-side paging state of an unfinished
// search by sending its last cookie with a page size of zero.
func (c *client) abandonPaging(ctx context.Context, conn *PooledConnection, req *SearchRequest, paging *ldap.ControlPaging) {
	if len(paging.Cookie) == 0 {
		return
	}

	paging.PagingSize = 0
	_, err := c.search(conn.Conn(), ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		0,
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		[]ldap.Control{paging},
	))
	if err != nil {
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Failed to abandon paged search", map[string]any{
			"error": err.Error(),
		})
	}
}

// SearchPaged runs a subtree paged search and returns every entry in
// server order. An empty result is an empty slice, not an error.
func (c *client) SearchPaged(ctx context.Context, baseDN, filter string, attributes []string) ([]*ldap.Entry, error) {
	result, err := c.SearchWithPaging(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: attributes,
		TimeLimit:  c.config.Timeout,
	})
	if err != nil {
		return nil, err
	}

	if result.Entries == nil {
		return []*ldap.Entry{}, nil
	}
	return result.Entries, nil
}

// searchError classifies a failed search. A malformed filter or base DN is a
// validation error rather than a transport one.
func (c *client) searchError(baseDN string, err error) error {
	wrapped := NewLDAPError("search", err)
	if wrapped.LDAPCode == ldap.LDAPResultNoSuchObject {
		wrapped.DN = baseDN
	}
	return wrapped
}

// Ping tests connectivity to the LDAP server.
func (c *client) Ping(ctx context.Context) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return c.ping(conn)
}

// ping reads the root DSE.
func (c *client) ping(conn *PooledConnection) error {
	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"defaultNamingContext"},
		nil,
	)

	_, err := c.search(conn.Conn(), req)
	return err
}

// Stats returns pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// withRetry retries retryable failures with exponential backoff.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			tflog.SubsystemDebug(ctx, SubsystemLDAP, "Retrying operation", map[string]any{
				"attempt":    attempt,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				tflog.SubsystemInfo(ctx, SubsystemLDAP, "Operation succeeded after retries", map[string]any{
					"total_attempts": attempt + 1,
				})
			}
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}

		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	tflog.SubsystemError(ctx, SubsystemLDAP, "Operation failed after all retries exhausted", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})

	return NewConnectionError("operation failed after retries", false, lastErr)
}

// isRetryableError determines if an error should be retried.
func (c *client) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultTimeLimitExceeded) {
		return true
	}

	return IsRetryableError(err)
}

// WhoAmI performs the LDAP Who Am I? extended operation.
func (c *client) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var result *ldap.WhoAmIResult
	err = c.withRetry(ctx, func() error {
		var whoamiErr error
		result, whoamiErr = conn.Conn().WhoAmI(nil)
		return whoamiErr
	})
	if err != nil {
		return nil, WrapError("whoami", err)
	}

	if result == nil {
		return nil, errors.New("WhoAmI operation returned nil result")
	}

	return parseAuthzID(result.AuthzID), nil
}

// parseAuthzID classifies an authorization identity as returned by Active Directory.
func parseAuthzID(authzID string) *WhoAmIResult {
	result := &WhoAmIResult{AuthzID: authzID}

	if authzID == "" {
		result.Format = "empty"
		return result
	}

	id := strings.TrimPrefix(strings.TrimPrefix(authzID, "dn:"), "u:")

	switch {
	case isDNFormat(id):
		result.Format = "dn"
		result.DN = id
	case strings.Contains(id, "@") && !strings.Contains(id, `\`):
		result.Format = "upn"
		result.UserPrincipalName = id
	case strings.Contains(id, `\`):
		result.Format = "sam"
		result.SAMAccountName = id
	case sidFormatPattern.MatchString(id):
		result.Format = "sid"
		result.SID = id
	default:
		result.Format = "unknown"
	}

	return result
}

func isDNFormat(s string) bool {
	upper := strings.ToUpper(s)
	return dnFormatPattern.MatchString(s) &&
		(strings.Contains(upper, "CN=") || strings.Contains(upper, "OU=") || strings.Contains(upper, "DC="))
}

// GetBaseDN retrieves defaultNamingContext from the root DSE.
func (c *client) GetBaseDN(ctx context.Context) (string, error) {
	result, err := c.Search(ctx, &SearchRequest{
		BaseDN:     "",
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"defaultNamingContext"},
		SizeLimit:  1,
		TimeLimit:  5 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get base DN: %w", err)
	}

	if len(result.Entries) == 0 {
		return "", errors.New("no root DSE found")
	}

	baseDN := result.Entries[0].GetAttributeValue("defaultNamingContext")
	if baseDN == "" {
		return "", errors.New("no defaultNamingContext found in root DSE")
	}

	return baseDN, nil
}
