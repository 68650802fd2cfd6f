package cli

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/isometry/adq/internal/directory"
	"github.com/isometry/adq/internal/ldap"
)

// Environment variables read by the CLI.
const (
	EnvLogLevel    = "ADQ_LOG"
	EnvBaseDN      = "ADQ_BASE_DN"
	EnvDomain      = "ADQ_DOMAIN"
	EnvSRVDomain   = "ADQ_SRV_DOMAIN"
	EnvHost        = "ADQ_HOST"
	EnvURL         = "ADQ_URL"
	EnvUser        = "ADQ_USER"
	EnvPassword    = "ADQ_PASSWORD"
	EnvPageSize    = "ADQ_PAGE_SIZE"
	EnvTLSNoVerify = "ADQ_TLS_NO_VERIFY"
	EnvTLSCert     = "ADQ_TLS_CLIENT_CERT"
	EnvTLSKey      = "ADQ_TLS_CLIENT_KEY"
	EnvEnvFile     = "ADQ_ENV_FILE"
)

const (
	defaultDomain    = "EXAMPLE"
	defaultHost      = "ldap"
	defaultPort      = 389
	defaultLDAPSPort = 636
	defaultPageSize  = 300
)

// Config is the resolved command line configuration for one invocation.
type Config struct {
	User     string
	Password string

	Host      string
	Port      int
	URLs      []string
	SRVDomain string
	LDAPS     bool

	TLSNoVerify   bool
	TLSClientCert string
	TLSClientKey  string
	PageSize      int
	BaseDN        string

	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string

	Attributes             []string
	Grep                   []string
	AttributesOnly         bool
	Format                 directory.Format
	ExplicitMembershipOnly bool

	Verbose bool
	Debug   bool
}

func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Usage:   "bind as `USER` (default: DOMAIN\\login)",
			EnvVars: []string{EnvUser},
		},
		&cli.StringFlag{
			Name:    "password",
			Aliases: []string{"p"},
			Usage:   "bind password, prompted for when not given",
			EnvVars: []string{EnvPassword},
		},
		&cli.StringFlag{
			Name:    "domain",
			Usage:   "NetBIOS `DOMAIN` of the default bind user",
			Value:   defaultDomain,
			EnvVars: []string{EnvDomain},
		},
		&cli.StringFlag{
			Name:    "host",
			Aliases: []string{"H"},
			Usage:   "directory server `HOST`",
			Value:   defaultHost,
			EnvVars: []string{EnvHost},
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"P"},
			Usage:   "directory server `PORT` (default: 389, or 636 with --ldaps)",
		},
		&cli.StringSliceFlag{
			Name:    "url",
			Usage:   "directory server `URL`, overriding --host and --port (repeatable)",
			EnvVars: []string{EnvURL},
		},
		&cli.StringFlag{
			Name:    "srv-domain",
			Usage:   "discover directory servers from DNS SRV records of `DNSDOMAIN`",
			EnvVars: []string{EnvSRVDomain},
		},
		&cli.BoolFlag{
			Name:  "ldaps",
			Usage: "connect with LDAPS instead of StartTLS",
		},
		&cli.BoolFlag{
			Name:    "tls-no-verify",
			Usage:   "skip verification of the server certificate",
			EnvVars: []string{EnvTLSNoVerify},
		},
		&cli.PathFlag{
			Name:    "tls-client-cert",
			Usage:   "client certificate `FILE` (PEM) for a SASL EXTERNAL bind",
			EnvVars: []string{EnvTLSCert},
		},
		&cli.PathFlag{
			Name:    "tls-client-key",
			Usage:   "private key `FILE` (PEM) of --tls-client-cert",
			EnvVars: []string{EnvTLSKey},
		},
		&cli.IntFlag{
			Name:    "page-size",
			Aliases: []string{"s"},
			Usage:   "entries per result page",
			Value:   defaultPageSize,
			EnvVars: []string{EnvPageSize},
		},
		&cli.StringFlag{
			Name:    "base-dn",
			Aliases: []string{"b"},
			Usage:   "search base `DN` (default: the server's defaultNamingContext)",
			EnvVars: []string{EnvBaseDN},
		},
		&cli.StringFlag{
			Name:  "kerberos-realm",
			Usage: "bind with Kerberos in `REALM`",
		},
		&cli.PathFlag{
			Name:  "keytab",
			Usage: "Kerberos keytab `FILE`",
		},
		&cli.PathFlag{
			Name:  "krb5-conf",
			Usage: "krb5.conf `FILE`",
		},
		&cli.PathFlag{
			Name:    "env-file",
			Usage:   "load ADQ_* settings from `FILE`",
			EnvVars: []string{EnvEnvFile},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "log informational messages",
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "log debug messages",
		},
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output-format",
		Aliases: []string{"f"},
		Usage:   "output `FORMAT`: json or yaml",
		Value:   string(directory.FormatJSON),
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "attribute",
			Aliases: []string{"a"},
			Usage:   "fetch only `ATTRIBUTE` (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:    "grep",
			Aliases: []string{"g"},
			Usage:   "keep objects matching `REGEX` (repeatable, all must match)",
		},
		&cli.BoolFlag{
			Name:    "attributes-only",
			Aliases: []string{"A"},
			Usage:   "print the attribute names of the first result",
		},
		formatFlag(),
	}
}

func membershipFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "explicit-membership-only",
			Aliases: []string{"e"},
			Usage:   "report direct membership without following nested groups",
		},
	}
}

// configFromContext resolves flags and environment into a Config.
func configFromContext(c *cli.Context) (*Config, error) {
	format, err := directory.ParseFormat(c.String("output-format"))
	if err != nil {
		return nil, err
	}

	pageSize := c.Int("page-size")
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	baseDN, err := ldap.NormalizeDNCase(c.String("base-dn"))
	if err != nil {
		return nil, fmt.Errorf("invalid base DN: %w", err)
	}

	cfg := &Config{
		User:                   c.String("user"),
		Password:               c.String("password"),
		Host:                   c.String("host"),
		Port:                   c.Int("port"),
		URLs:                   c.StringSlice("url"),
		SRVDomain:              c.String("srv-domain"),
		LDAPS:                  c.Bool("ldaps"),
		TLSNoVerify:            c.Bool("tls-no-verify"),
		TLSClientCert:          c.Path("tls-client-cert"),
		TLSClientKey:           c.Path("tls-client-key"),
		PageSize:               pageSize,
		BaseDN:                 baseDN,
		KerberosRealm:          c.String("kerberos-realm"),
		KerberosKeytab:         c.Path("keytab"),
		KerberosConfig:         c.Path("krb5-conf"),
		Attributes:             c.StringSlice("attribute"),
		Grep:                   c.StringSlice("grep"),
		AttributesOnly:         c.Bool("attributes-only"),
		Format:                 format,
		ExplicitMembershipOnly: c.Bool("explicit-membership-only"),
		Verbose:                c.Bool("verbose"),
		Debug:                  c.Bool("debug"),
	}

	if cfg.User == "" {
		login, err := currentLogin()
		if err != nil {
			return nil, err
		}
		cfg.User = defaultUser(c.String("domain"), login)
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}

	if (cfg.TLSClientCert == "") != (cfg.TLSClientKey == "") {
		return nil, errors.New("--tls-client-cert and --tls-client-key must be given together")
	}

	return cfg, nil
}

// defaultUser returns DOMAIN\login with the domain upper-cased.
func defaultUser(domain, login string) string {
	if domain == "" {
		return login
	}
	return strings.ToUpper(domain) + `\` + login
}

func currentLogin() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("determining login name: %w", err)
	}

	login := u.Username
	// Windows reports DOMAIN\login
	if i := strings.LastIndex(login, `\`); i >= 0 {
		login = login[i+1:]
	}
	return login, nil
}

// serverURLs returns the URLs to connect to. Explicit URLs win over
// --host/--port; an SRV domain yields no URLs.
func (cfg *Config) serverURLs() []string {
	if len(cfg.URLs) > 0 {
		return cfg.URLs
	}
	if cfg.SRVDomain != "" {
		return nil
	}

	scheme, port := "ldap", defaultPort
	if cfg.LDAPS {
		scheme, port = "ldaps", defaultLDAPSPort
	}
	if cfg.Port != 0 {
		port = cfg.Port
	}

	return []string{scheme + "://" + net.JoinHostPort(cfg.Host, strconv.Itoa(port))}
}

// usesKerberos reports whether the bind goes through GSSAPI.
func (cfg *Config) usesKerberos() bool {
	return cfg.KerberosRealm != ""
}

// usesCertificate reports whether a client certificate is configured.
func (cfg *Config) usesCertificate() bool {
	return cfg.TLSClientCert != ""
}

// needsPassword reports whether a simple bind is configured without a password.
func (cfg *Config) needsPassword() bool {
	return !cfg.usesKerberos() && !cfg.usesCertificate() && cfg.Password == ""
}

// ConnectionConfig maps the CLI settings onto an LDAP connection configuration.
func (cfg *Config) ConnectionConfig() *ldap.ConnectionConfig {
	conn := ldap.DefaultConfig()

	conn.LDAPURLs = cfg.serverURLs()
	conn.Domain = cfg.SRVDomain
	conn.BaseDN = cfg.BaseDN
	conn.PageSize = uint32(cfg.PageSize)
	conn.UseTLS = true
	conn.TLSInsecureSkipVerify = cfg.TLSNoVerify
	conn.TLSClientCertFile = cfg.TLSClientCert
	conn.TLSClientKeyFile = cfg.TLSClientKey

	conn.Username = cfg.User
	conn.Password = cfg.Password
	conn.KerberosRealm = cfg.KerberosRealm
	conn.KerberosKeytab = cfg.KerberosKeytab
	conn.KerberosConfig = cfg.KerberosConfig

	return conn
}

// LogLevel maps --verbose and --debug onto a log level. Warnings and errors
// are always logged.
func (cfg *Config) LogLevel() hclog.Level {
	switch {
	case cfg.Debug:
		return hclog.Debug
	case cfg.Verbose:
		return hclog.Info
	default:
		return hclog.Warn
	}
}

// envFileFromArgs finds the value of --env-file in args, falling back to
// ADQ_ENV_FILE. Environment files must be loaded before flags are parsed so
// that their settings act as flag defaults.
func envFileFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "env-file" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(EnvEnvFile)
}

// loadEnvFile loads an environment file. Variables already set in the
// environment keep their values.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("environment file %s not found", path)
		}
		return fmt.Errorf("loading environment file %s: %w", path, err)
	}
	return nil
}
