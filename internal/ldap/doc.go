/*
Package ldap is the directory transport used by adq. It owns everything that
touches the wire: server discovery, connection pooling, authentication and
paged searching. It knows nothing about users, groups or computers.

# Connection Management

The Client interface wraps a bounded connection pool:

  - LDAP URLs are used as given; otherwise domain controllers are found
    through _ldaps._tcp, _ldap._tcp and _gc._tcp SRV records
  - LDAPS, or plain LDAP upgraded with StartTLS
  - Simple bind, Kerberos (GSSAPI) or SASL EXTERNAL with a client certificate
  - Retry with exponential backoff for transient failures

The pool defaults to a single connection. Get blocks until the connection
is returned, so one session never issues two requests at once.

# Searching

SearchPaged runs a subtree search with the Simple Paged Results control and
returns every entry across all pages. An empty result is an empty slice, not
an error.

# Attribute Helpers

DecodeGUID and DecodeSID turn the binary objectGUID and objectSid values
into their canonical string forms. DNKey and EqualDN compare distinguished
names without regard to case.

# Errors

Failures are returned as *LDAPError, categorized (connection,
authentication, permission, not_found, validation, server) and marked
retryable where appropriate. Use the Is*Error predicates rather than
inspecting result codes.

# Example Usage

	config := ldap.DefaultConfig()
	config.Domain = "example.com"
	config.Username = "jdoe@EXAMPLE.COM"
	config.Password = "secret"

	client, err := ldap.NewClient(ctx, config)
	if err != nil {
		return err
	}
	defer client.Close()

	baseDN, err := client.GetBaseDN(ctx)
	if err != nil {
		return err
	}

	entries, err := client.SearchPaged(ctx, baseDN, "(objectClass=user)", []string{"*"})
*/
package ldap
