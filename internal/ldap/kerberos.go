package ldap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

const defaultKrb5ConfPath = "/etc/krb5.conf"

// kerberosCredential identifies which credential source a GSSAPI client was built from.
type kerberosCredential string

const (
	credentialCCache   kerberosCredential = "ccache"
	credentialKeytab   kerberosCredential = "keytab"
	credentialPassword kerberosCredential = "password"
)

// performKerberosAuth binds conn with GSSAPI using the configured credentials.
func performKerberosAuth(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	client, source, err := createGSSAPIClient(ctx, cfg)
	if err != nil {
		LogKerberosEvent(ctx, "authentication_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer client.Close()

	LogKerberosEvent(ctx, "principal_resolved", map[string]any{
		"spn":        spn,
		"credential": string(source),
	})

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		LogKerberosEvent(ctx, "authentication_failed", map[string]any{
			"spn":   spn,
			"error": err.Error(),
		})
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	LogKerberosEvent(ctx, "ticket_acquired", map[string]any{"spn": spn})
	return nil
}

// createGSSAPIClient builds a GSSAPI client. Credentials are tried in order:
// explicit ccache, explicit keytab, password, default ccache, default keytab.
func createGSSAPIClient(ctx context.Context, cfg *ConnectionConfig) (*gssapi.Client, kerberosCredential, error) {
	if cfg == nil {
		return nil, "", errors.New("configuration cannot be nil")
	}

	username, realm := kerberosPrincipal(cfg)
	if realm == "" {
		return nil, "", errors.New("kerberos realm is required (set --kerberos-realm or use user@REALM)")
	}

	krb5conf, err := loadKrb5Config(ctx, cfg, realm)
	if err != nil {
		return nil, "", err
	}

	settings := krb5client.DisablePAFXFAST(true)

	if fileExists(cfg.KerberosCCache) {
		return clientFromCCache(ctx, cfg.KerberosCCache, krb5conf, settings)
	}

	if fileExists(cfg.KerberosKeytab) {
		return clientFromKeytab(ctx, username, realm, cfg.KerberosKeytab, krb5conf, settings)
	}

	if username != "" && cfg.Password != "" {
		kc := krb5client.NewWithPassword(username, realm, cfg.Password, krb5conf, settings)
		return &gssapi.Client{Client: kc}, credentialPassword, nil
	}

	if path := getDefaultCCachePath(); fileExists(path) {
		return clientFromCCache(ctx, path, krb5conf, settings)
	}

	if path := getDefaultKeytabPath(); username != "" && fileExists(path) {
		return clientFromKeytab(ctx, username, realm, path, krb5conf, settings)
	}

	return nil, "", errors.New("no suitable Kerberos credentials found: provide --keytab, a password, or a credential cache")
}

func clientFromCCache(ctx context.Context, path string, krb5conf *krb5config.Config, settings func(*krb5client.Settings)) (*gssapi.Client, kerberosCredential, error) {
	ccache, err := credentials.LoadCCache(path)
	if err != nil {
		LogKerberosEvent(ctx, "ccache_load_failed", map[string]any{"path": path, "error": err.Error()})
		return nil, "", fmt.Errorf("failed to load credential cache %s: %w", path, err)
	}

	kc, err := krb5client.NewFromCCache(ccache, krb5conf, settings)
	if err != nil {
		return nil, "", fmt.Errorf("failed to use credential cache %s: %w", path, err)
	}

	LogKerberosEvent(ctx, "ccache_loaded", map[string]any{"path": path})
	return &gssapi.Client{Client: kc}, credentialCCache, nil
}

func clientFromKeytab(ctx context.Context, username, realm, path string, krb5conf *krb5config.Config, settings func(*krb5client.Settings)) (*gssapi.Client, kerberosCredential, error) {
	if username == "" {
		return nil, "", errors.New("username (principal) is required for keytab authentication")
	}

	kt, err := keytab.Load(path)
	if err != nil {
		LogKerberosEvent(ctx, "keytab_load_failed", map[string]any{"path": path, "error": err.Error()})
		return nil, "", fmt.Errorf("failed to load keytab %s: %w", path, err)
	}

	LogKerberosEvent(ctx, "keytab_loaded", map[string]any{"path": path, "principal": username})
	return &gssapi.Client{Client: krb5client.NewWithKeytab(username, realm, kt, krb5conf, settings)}, credentialKeytab, nil
}

// loadKrb5Config loads the configured krb5.conf. When no file is configured and
// the default one is absent, a DNS-discovery configuration is generated instead.
func loadKrb5Config(ctx context.Context, cfg *ConnectionConfig, realm string) (*krb5config.Config, error) {
	path := cfg.KerberosConfig
	if path == "" {
		path = defaultKrb5ConfPath
		if !fileExists(path) {
			return krb5ConfigFromString(ctx, generateRuntimeKrb5Conf(realm, cfg.Domain))
		}
	}

	if !fileExists(path) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s; example:\n%s",
			path, generateRuntimeKrb5Conf(realm, cfg.Domain))
	}

	conf, err := krb5config.Load(path)
	if err != nil {
		var unsupported krb5config.UnsupportedDirective
		if !errors.As(err, &unsupported) {
			LogKerberosEvent(ctx, "config_load_failed", map[string]any{"path": path, "error": err.Error()})
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	return conf, nil
}

func krb5ConfigFromString(ctx context.Context, s string) (*krb5config.Config, error) {
	conf, err := krb5config.NewFromString(s)
	if err != nil {
		var unsupported krb5config.UnsupportedDirective
		if !errors.As(err, &unsupported) {
			return nil, fmt.Errorf("failed to build runtime krb5 configuration: %w", err)
		}
	}

	LogKerberosEvent(ctx, "runtime_config", map[string]any{
		"default_realm": conf.LibDefaults.DefaultRealm,
	})
	return conf, nil
}

// generateRuntimeKrb5Conf renders a krb5.conf that locates KDCs through DNS SRV records.
func generateRuntimeKrb5Conf(realm, domain string) string {
	realm = strings.ToUpper(realm)
	if domain == "" || !strings.Contains(domain, ".") {
		domain = realm
	}
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
  default_realm = %[1]s
  dns_lookup_kdc = true
  dns_lookup_realm = false
  rdns = false

[realms]
  %[1]s = {
  }

[domain_realm]
  .%[2]s = %[1]s
  %[2]s = %[1]s
`, realm, domain)
}

// kerberosPrincipal splits user@REALM, preferring an explicitly configured realm.
func kerberosPrincipal(cfg *ConnectionConfig) (username, realm string) {
	username = cfg.Username
	realm = cfg.KerberosRealm

	if at := strings.LastIndex(username, "@"); at > 0 {
		if realm == "" {
			realm = username[at+1:]
		}
		username = username[:at]
	}

	if slash := strings.Index(username, `\`); slash >= 0 {
		username = username[slash+1:]
	}

	return username, strings.ToUpper(realm)
}

// buildServicePrincipal constructs the LDAP service principal name from server info.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", errors.New("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil || serverInfo.Host == "" {
		return "", errors.New("hostname is required for service principal")
	}

	hostname := serverInfo.Host
	if colon := strings.Index(hostname, ":"); colon != -1 {
		hostname = hostname[:colon]
	}

	return "ldap/" + hostname, nil
}

// getDefaultCCachePath returns the default credential cache location.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// getDefaultKeytabPath returns the default keytab location.
func getDefaultKeytabPath() string {
	if kt := os.Getenv("KRB5_KTNAME"); kt != "" {
		return strings.TrimPrefix(kt, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
