package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/adq/internal/ldap"
)

func TestConfig_ServerURLs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "host with StartTLS default port",
			cfg:  Config{Host: "ldap"},
			want: []string{"ldap://ldap:389"},
		},
		{
			name: "explicit port",
			cfg:  Config{Host: "dc1.example.com", Port: 3268},
			want: []string{"ldap://dc1.example.com:3268"},
		},
		{
			name: "ldaps default port",
			cfg:  Config{Host: "dc1.example.com", LDAPS: true},
			want: []string{"ldaps://dc1.example.com:636"},
		},
		{
			name: "IPv6 host",
			cfg:  Config{Host: "2001:db8::1", LDAPS: true, Port: 3269},
			want: []string{"ldaps://[2001:db8::1]:3269"},
		},
		{
			name: "URLs win",
			cfg:  Config{Host: "ignored", URLs: []string{"ldaps://a.example.com", "ldaps://b.example.com"}, SRVDomain: "example.com"},
			want: []string{"ldaps://a.example.com", "ldaps://b.example.com"},
		},
		{
			name: "SRV discovery",
			cfg:  Config{Host: "ignored", SRVDomain: "example.com"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.serverURLs())
		})
	}
}

func TestConfig_ConnectionConfig(t *testing.T) {
	cfg := &Config{
		User:           `EXAMPLE\jdoe`,
		Password:       "secret",
		Host:           "ldap",
		SRVDomain:      "example.com",
		URLs:           []string{"ldaps://dc1.example.com"},
		TLSNoVerify:    true,
		PageSize:       500,
		BaseDN:         "OU=Departments,DC=example,DC=com",
		KerberosConfig: "/etc/krb5.conf",
	}

	conn := cfg.ConnectionConfig()
	assert.Equal(t, []string{"ldaps://dc1.example.com"}, conn.LDAPURLs)
	assert.Equal(t, "example.com", conn.Domain)
	assert.Equal(t, "OU=Departments,DC=example,DC=com", conn.BaseDN)
	assert.Equal(t, uint32(500), conn.PageSize)
	assert.True(t, conn.UseTLS)
	assert.True(t, conn.TLSInsecureSkipVerify)
	assert.Equal(t, `EXAMPLE\jdoe`, conn.Username)
	assert.Equal(t, "secret", conn.Password)
	assert.Equal(t, "/etc/krb5.conf", conn.KerberosConfig)
	assert.Equal(t, 1, conn.MaxConnections)
	assert.Equal(t, ldap.AuthMethodSimpleBind, conn.GetAuthMethod())

	cfg.Password = ""
	cfg.TLSClientCert = "/etc/adq/client.crt"
	cfg.TLSClientKey = "/etc/adq/client.key"
	conn = cfg.ConnectionConfig()
	assert.Equal(t, "/etc/adq/client.crt", conn.TLSClientCertFile)
	assert.Equal(t, "/etc/adq/client.key", conn.TLSClientKeyFile)
	assert.Equal(t, ldap.AuthMethodExternal, conn.GetAuthMethod())
}

func TestConfig_NeedsPassword(t *testing.T) {
	assert.True(t, (&Config{User: "jdoe"}).needsPassword())
	assert.False(t, (&Config{User: "jdoe", Password: "x"}).needsPassword())
	assert.False(t, (&Config{User: "jdoe", KerberosRealm: "EXAMPLE.COM"}).needsPassword())
	assert.False(t, (&Config{User: "jdoe", TLSClientCert: "c.crt", TLSClientKey: "c.key"}).needsPassword())
}

func TestConfig_LogLevel(t *testing.T) {
	assert.Equal(t, hclog.Warn, (&Config{}).LogLevel())
	assert.Equal(t, hclog.Info, (&Config{Verbose: true}).LogLevel())
	assert.Equal(t, hclog.Debug, (&Config{Debug: true}).LogLevel())
	assert.Equal(t, hclog.Debug, (&Config{Verbose: true, Debug: true}).LogLevel())
}

func TestDefaultUser(t *testing.T) {
	assert.Equal(t, `EXAMPLE\jdoe`, defaultUser("example", "jdoe"))
	assert.Equal(t, `CORP\jdoe`, defaultUser("CORP", "jdoe"))
	assert.Equal(t, "jdoe", defaultUser("", "jdoe"))
}

func TestEnvFileFromArgs(t *testing.T) {
	t.Setenv(EnvEnvFile, "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "separate value", args: []string{"user", "--env-file", "prod.env", "alice"}, want: "prod.env"},
		{name: "equals form", args: []string{"group", "--env-file=dev.env"}, want: "dev.env"},
		{name: "single dash", args: []string{"group", "-env-file", "x.env"}, want: "x.env"},
		{name: "absent", args: []string{"user", "alice"}, want: ""},
		{name: "after terminator", args: []string{"user", "--", "--env-file", "x.env"}, want: ""},
		{name: "missing value", args: []string{"user", "--env-file"}, want: ""},
		{name: "other flag value", args: []string{"user", "-g", "env-file"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, envFileFromArgs(tt.args))
		})
	}
}

func TestEnvFileFromArgs_Environment(t *testing.T) {
	t.Setenv(EnvEnvFile, "from-env.env")

	assert.Equal(t, "from-env.env", envFileFromArgs([]string{"user"}))
	assert.Equal(t, "flag.env", envFileFromArgs([]string{"user", "--env-file", "flag.env"}))
}

func TestLoadEnvFile(t *testing.T) {
	const (
		fromFile = "ADQ_TEST_FROM_FILE"
		preset   = "ADQ_TEST_PRESET"
	)
	t.Setenv(preset, "environment")
	t.Cleanup(func() { os.Unsetenv(fromFile) })

	path := filepath.Join(t.TempDir(), "adq.env")
	require.NoError(t, os.WriteFile(path, []byte(fromFile+"=file\n"+preset+"=file\n"), 0o600))

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "file", os.Getenv(fromFile))
	assert.Equal(t, "environment", os.Getenv(preset))

	assert.NoError(t, loadEnvFile(""))

	err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
