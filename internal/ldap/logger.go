package ldap

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Logging subsystems registered by the CLI.
const (
	SubsystemLDAP     = "ldap"
	SubsystemPool     = "pool"
	SubsystemKerberos = "kerberos"
	SubsystemQuery    = "query"
)

// Subsystems lists every logging subsystem used by adq.
var Subsystems = []string{SubsystemLDAP, SubsystemPool, SubsystemKerberos, SubsystemQuery}

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", SanitizeFields(fields))

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		tflog.SubsystemError(ctx, subsystem, "Operation failed", SanitizeFields(fields))
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", SanitizeFields(fields))
	}

	return err
}

// LogPerformance logs an operation duration, escalating the level for slow ones.
func LogPerformance(ctx context.Context, subsystem, operation string, duration time.Duration, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 5*time.Second:
		tflog.SubsystemWarn(ctx, subsystem, "Slow operation detected", fields)
	case duration > time.Second:
		tflog.SubsystemInfo(ctx, subsystem, "Operation performance", fields)
	default:
		tflog.SubsystemDebug(ctx, subsystem, "Operation performance", fields)
	}
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["error"] = err.Error()

	if ldapErr, ok := err.(*ldap.Error); ok {
		fields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			fields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", fields)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "established", "authenticated":
		tflog.SubsystemInfo(ctx, SubsystemLDAP, "Connection event", fields)
	case "failed", "lost":
		tflog.SubsystemWarn(ctx, SubsystemLDAP, "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Connection event", fields)
	}
}

// LogKerberosEvent logs Kerberos-specific events.
func LogKerberosEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "ticket_acquired", "keytab_loaded", "ccache_loaded":
		tflog.SubsystemInfo(ctx, SubsystemKerberos, "Kerberos event", fields)
	case "config_load_failed", "keytab_load_failed", "ccache_load_failed", "authentication_failed":
		tflog.SubsystemError(ctx, SubsystemKerberos, "Kerberos event", fields)
	case "principal_resolved":
		tflog.SubsystemDebug(ctx, SubsystemKerberos, "Kerberos event", fields)
	default:
		tflog.SubsystemTrace(ctx, SubsystemKerberos, "Kerberos event", fields)
	}
}

// LogPoolEvent logs connection pool events.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "created", "closed":
		tflog.SubsystemDebug(ctx, SubsystemPool, "Pool event", fields)
	case "exhausted":
		tflog.SubsystemWarn(ctx, SubsystemPool, "Pool event", fields)
	default:
		tflog.SubsystemTrace(ctx, SubsystemPool, "Pool event", fields)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":    true,
		"passwd":      true,
		"secret":      true,
		"token":       true,
		"key":         true,
		"private_key": true,
		"credential":  true,
		"credentials": true,
	}

	for k, v := range fields {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"key=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// LogQueryOperation logs entry to a directory query and returns a func that
// logs its exit with the number of results.
func LogQueryOperation(ctx context.Context, kind, operation string, fields map[string]any) func(count int, err error) {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}

	entryFields := make(map[string]any, len(fields)+2)
	maps.Copy(entryFields, fields)
	entryFields["kind"] = kind
	entryFields["operation"] = operation

	tflog.SubsystemDebug(ctx, SubsystemQuery, "Starting query", entryFields)

	return func(count int, err error) {
		exitFields := make(map[string]any, len(fields)+5)
		maps.Copy(exitFields, fields)
		exitFields["kind"] = kind
		exitFields["operation"] = operation
		exitFields["duration_ms"] = time.Since(start).Milliseconds()
		exitFields["results"] = count

		if err != nil {
			exitFields["error"] = err.Error()
			tflog.SubsystemError(ctx, SubsystemQuery, "Query failed", exitFields)
			return
		}
		tflog.SubsystemDebug(ctx, SubsystemQuery, "Query completed", exitFields)
	}
}
