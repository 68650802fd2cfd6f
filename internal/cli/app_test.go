package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/adq/internal/directory"
	"github.com/isometry/adq/internal/ldap"
)

const (
	testBaseDN = "DC=example,DC=com"
	aliceDN    = "CN=Alice,OU=Eng,DC=example,DC=com"
	engDN      = "CN=Engineering,OU=Groups,DC=example,DC=com"
	staffDN    = "CN=Staff,OU=Groups,DC=example,DC=com"
)

// fakeClient serves searches from a table keyed by filter. Methods it does
// not override panic through the nil embedded interface.
type fakeClient struct {
	ldap.Client

	results   map[string][]*goldap.Entry
	baseDN    string
	whoami    *ldap.WhoAmIResult
	filters   []string
	bases     []string
	closed    bool
	baseErr   error
	whoamiErr error
}

func (f *fakeClient) SearchPaged(_ context.Context, baseDN, filter string, _ []string) ([]*goldap.Entry, error) {
	f.filters = append(f.filters, filter)
	f.bases = append(f.bases, baseDN)
	return f.results[filter], nil
}

func (f *fakeClient) GetBaseDN(context.Context) (string, error) {
	return f.baseDN, f.baseErr
}

func (f *fakeClient) WhoAmI(context.Context) (*ldap.WhoAmIResult, error) {
	return f.whoami, f.whoamiErr
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

// harness runs the command line against a fakeClient.
type harness struct {
	client   *fakeClient
	configs  []*ldap.ConnectionConfig
	prompts  []string
	password string
	logs     bytes.Buffer
	levels   []hclog.Level
}

func newHarness(client *fakeClient) *harness {
	return &harness{client: client, password: "prompted"}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	a := &App{
		connect: func(_ context.Context, cfg *ldap.ConnectionConfig) (ldap.Client, error) {
			h.configs = append(h.configs, cfg)
			return h.client, nil
		},
		prompt: func(user string) (string, error) {
			h.prompts = append(h.prompts, user)
			if h.password == "" {
				return "", errNoTerminal
			}
			return h.password, nil
		},
		logContext: func(ctx context.Context, level hclog.Level) context.Context {
			h.levels = append(h.levels, level)
			return tflogtest.RootLogger(ctx, &h.logs)
		},
	}

	var out, errOut bytes.Buffer
	app := a.cliApp("test")
	app.Writer = &out
	app.ErrWriter = &errOut

	err := app.RunContext(context.Background(), append([]string{"adq"}, args...))
	return out.String(), err
}

func filterFor(t *testing.T, kind directory.Kind, ids ...string) string {
	t.Helper()
	f, err := directory.BuildFilter(kind, ids...)
	require.NoError(t, err)
	return f
}

func chain(attribute, dn string) string {
	return "(" + attribute + ":" + directory.MatchingRuleInChain + ":=" + goldap.EscapeFilter(dn) + ")"
}

func aliceClient(t *testing.T) *fakeClient {
	return &fakeClient{
		baseDN: testBaseDN,
		results: map[string][]*goldap.Entry{
			filterFor(t, directory.KindUser, "alice"): {{
				DN: aliceDN,
				Attributes: []*goldap.EntryAttribute{
					goldap.NewEntryAttribute("sAMAccountName", []string{"alice"}),
					goldap.NewEntryAttribute("department", []string{"Engineering"}),
					goldap.NewEntryAttribute("memberOf", []string{engDN}),
				},
			}},
			chain("member", aliceDN): {{DN: engDN}, {DN: staffDN}},
		},
	}
}

func TestUserCommand(t *testing.T) {
	h := newHarness(aliceClient(t))

	out, err := h.run(t, "user", "-u", `EXAMPLE\jdoe`, "-p", "secret", "alice")
	require.NoError(t, err)

	assert.JSONEq(t, `[{
		"samaccountname": "alice",
		"department": "Engineering",
		"memberof": ["`+engDN+`", "`+staffDN+`"]
	}]`, out)

	require.Len(t, h.configs, 1)
	cfg := h.configs[0]
	assert.Equal(t, []string{"ldap://ldap:389"}, cfg.LDAPURLs)
	assert.Equal(t, `EXAMPLE\jdoe`, cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, uint32(300), cfg.PageSize)
	assert.True(t, cfg.UseTLS)
	assert.False(t, cfg.TLSInsecureSkipVerify)

	assert.Empty(t, h.prompts)
	assert.True(t, h.client.closed)
	assert.Equal(t, []string{testBaseDN, testBaseDN}, h.client.bases)
	assert.Equal(t, []hclog.Level{hclog.Warn}, h.levels)
}

func TestUserCommand_ExplicitMembership(t *testing.T) {
	h := newHarness(aliceClient(t))

	out, err := h.run(t, "user", "-u", "jdoe", "-p", "x", "-e", "-f", "yaml", "alice")
	require.NoError(t, err)

	assert.Equal(t, "- department: Engineering\n  memberof: "+engDN+"\n  samaccountname: alice\n", out)
	assert.Equal(t, []string{filterFor(t, directory.KindUser, "alice")}, h.client.filters)
}

func TestUserCommand_Grep(t *testing.T) {
	h := newHarness(aliceClient(t))

	out, err := h.run(t, "user", "-u", "jdoe", "-p", "x", "-g", "^alice", "-g", "sales", "alice")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	h = newHarness(aliceClient(t))
	out, err = h.run(t, "user", "-u", "jdoe", "-p", "x", "-g", "engineering", "-A", "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `["department", "memberof", "samaccountname"]`, out)
}

func TestUserCommand_InvalidGrep(t *testing.T) {
	h := newHarness(aliceClient(t))

	_, err := h.run(t, "user", "-u", "jdoe", "-p", "x", "-g", "(", "alice")
	assert.ErrorIs(t, err, directory.ErrInvalidPattern)
	assert.Empty(t, h.configs)
}

func TestUserCommand_InvalidFormat(t *testing.T) {
	h := newHarness(aliceClient(t))

	_, err := h.run(t, "user", "-u", "jdoe", "-p", "x", "-f", "xml", "alice")
	assert.ErrorIs(t, err, directory.ErrUnsupportedFormat)
	assert.Empty(t, h.configs)
}

func TestGroupCommand_BaseDNFlag(t *testing.T) {
	groupsDN := "OU=Groups,DC=example,DC=com"
	client := &fakeClient{
		results: map[string][]*goldap.Entry{
			filterFor(t, directory.KindGroup, "eng", "staff"): {
				{DN: engDN, Attributes: []*goldap.EntryAttribute{goldap.NewEntryAttribute("cn", []string{"Engineering"})}},
				{DN: staffDN, Attributes: []*goldap.EntryAttribute{goldap.NewEntryAttribute("cn", []string{"Staff"})}},
			},
		},
		baseErr: errors.New("root DSE must not be read"),
	}
	h := newHarness(client)

	out, err := h.run(t, "group", "-u", "jdoe", "-p", "x", "-b", groupsDN, "-v", "eng", "staff")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"cn": "Engineering"}, {"cn": "Staff"}]`, out)
	assert.Equal(t, []string{groupsDN}, client.bases)
	assert.Equal(t, groupsDN, h.configs[0].BaseDN)
	assert.Equal(t, []hclog.Level{hclog.Info}, h.levels)
}

func TestComputerCommand(t *testing.T) {
	client := &fakeClient{
		baseDN: testBaseDN,
		results: map[string][]*goldap.Entry{
			filterFor(t, directory.KindComputer): {
				{DN: "CN=PC1,DC=example,DC=com", Attributes: []*goldap.EntryAttribute{
					goldap.NewEntryAttribute("cn", []string{"PC1"}),
					goldap.NewEntryAttribute("memberOf", []string{engDN}),
				}},
			},
		},
	}
	h := newHarness(client)

	out, err := h.run(t, "computer", "-u", "jdoe", "-p", "x", "-d", "--ldaps", "-H", "dc1.example.com")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"cn": "PC1", "memberof": "`+engDN+`"}]`, out)
	assert.Len(t, client.filters, 1)
	assert.Equal(t, []string{"ldaps://dc1.example.com:636"}, h.configs[0].LDAPURLs)
	assert.Equal(t, []hclog.Level{hclog.Debug}, h.levels)

	_, err = newHarness(client).run(t, "computer", "-u", "jdoe", "-p", "x", "-e")
	assert.Error(t, err)
}

func TestPasswordPrompt(t *testing.T) {
	h := newHarness(aliceClient(t))

	_, err := h.run(t, "user", "-u", `EXAMPLE\jdoe`, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{`EXAMPLE\jdoe`}, h.prompts)
	assert.Equal(t, "prompted", h.configs[0].Password)

	h = newHarness(aliceClient(t))
	h.password = ""
	_, err = h.run(t, "user", "-u", "jdoe", "alice")
	assert.ErrorIs(t, err, errNoTerminal)
	assert.Empty(t, h.configs)
}

func TestKerberosSkipsPrompt(t *testing.T) {
	h := newHarness(aliceClient(t))

	_, err := h.run(t, "user", "-u", "jdoe", "--kerberos-realm", "EXAMPLE.COM", "--keytab", "/etc/jdoe.keytab", "alice")
	require.NoError(t, err)
	assert.Empty(t, h.prompts)

	cfg := h.configs[0]
	assert.Equal(t, "EXAMPLE.COM", cfg.KerberosRealm)
	assert.Equal(t, "/etc/jdoe.keytab", cfg.KerberosKeytab)
	assert.Equal(t, ldap.AuthMethodKerberos, cfg.GetAuthMethod())
}

func TestBaseDNError(t *testing.T) {
	client := aliceClient(t)
	client.baseErr = errors.New("no defaultNamingContext found in root DSE")
	h := newHarness(client)

	_, err := h.run(t, "user", "-u", "jdoe", "-p", "x", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaultNamingContext")
	assert.True(t, client.closed)
	assert.Empty(t, client.filters)
}

func TestWhoAmICommand(t *testing.T) {
	client := &fakeClient{
		baseDN: testBaseDN,
		whoami: &ldap.WhoAmIResult{AuthzID: `u:EXAMPLE\jdoe`, Format: "sam", SAMAccountName: `EXAMPLE\jdoe`},
	}
	h := newHarness(client)

	out, err := h.run(t, "whoami", "-u", `EXAMPLE\jdoe`, "-p", "x")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"authzid": "u:EXAMPLE\\jdoe",
		"format": "sam",
		"base_dn": "DC=example,DC=com",
		"samaccountname": "EXAMPLE\\jdoe"
	}`, out)
	assert.True(t, client.closed)
}

func TestBaseDNNormalized(t *testing.T) {
	client := aliceClient(t)
	h := newHarness(client)

	_, err := h.run(t, "user", "-u", "jdoe", "-p", "x", "-e", "-b", "ou=Eng,dc=example,dc=com", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"OU=Eng,DC=example,DC=com"}, client.bases)
	assert.Equal(t, "OU=Eng,DC=example,DC=com", h.configs[0].BaseDN)

	h = newHarness(aliceClient(t))
	_, err = h.run(t, "user", "-u", "jdoe", "-p", "x", "-b", "not a dn", "alice")
	require.ErrorContains(t, err, "invalid base DN")
	assert.Empty(t, h.configs)
}

func TestClientCertificateSkipsPrompt(t *testing.T) {
	h := newHarness(aliceClient(t))

	_, err := h.run(t, "user", "-u", "jdoe", "--tls-client-cert", "/etc/adq/client.crt", "--tls-client-key", "/etc/adq/client.key", "alice")
	require.NoError(t, err)
	assert.Empty(t, h.prompts)

	cfg := h.configs[0]
	assert.Equal(t, "/etc/adq/client.crt", cfg.TLSClientCertFile)
	assert.Equal(t, "/etc/adq/client.key", cfg.TLSClientKeyFile)
	assert.Equal(t, ldap.AuthMethodExternal, cfg.GetAuthMethod())

	h = newHarness(aliceClient(t))
	_, err = h.run(t, "user", "-u", "jdoe", "--tls-client-cert", "/etc/adq/client.crt", "alice")
	require.ErrorContains(t, err, "must be given together")
	assert.Empty(t, h.configs)
}

func TestWhoAmICommand_RejectsQueryFlags(t *testing.T) {
	for _, flag := range []string{"--grep=x", "--attribute=cn", "--attributes-only", "-e"} {
		t.Run(flag, func(t *testing.T) {
			h := newHarness(&fakeClient{baseDN: testBaseDN, whoami: &ldap.WhoAmIResult{Format: "empty"}})
			_, err := h.run(t, "whoami", "-u", "jdoe", "-p", "x", flag)
			assert.Error(t, err)
			assert.Empty(t, h.configs)
		})
	}

	h := newHarness(&fakeClient{baseDN: testBaseDN, whoami: &ldap.WhoAmIResult{Format: "empty"}})
	out, err := h.run(t, "whoami", "-u", "jdoe", "-p", "x", "-f", "yaml")
	require.NoError(t, err)
	assert.Equal(t, "authzid: \"\"\nbase_dn: DC=example,DC=com\nformat: empty\n", out)
}

func TestWithHint(t *testing.T) {
	tests := []struct {
		category ldap.ErrorCategory
		hint     string
	}{
		{category: ldap.ErrorCategoryConnection, hint: "--tls-no-verify"},
		{category: ldap.ErrorCategoryAuthentication, hint: "--password"},
		{category: ldap.ErrorCategoryPermission, hint: "read access"},
		{category: ldap.ErrorCategoryNotFound, hint: "--base-dn names an existing entry"},
		{category: ldap.ErrorCategoryValidation, hint: "rejected the request"},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			cause := &ldap.LDAPError{Operation: "search", Category: tt.category, Message: "failed"}
			err := withHint(fmt.Errorf("searching for users: %w", cause))

			require.Error(t, err)
			assert.ErrorIs(t, err, cause)
			assert.Contains(t, err.Error(), "\nhint: ")
			assert.Contains(t, err.Error(), tt.hint)
		})
	}

	server := &ldap.LDAPError{Operation: "search", Category: ldap.ErrorCategoryServer}
	assert.Same(t, error(server), withHint(server))

	plain := errors.New("connection refused")
	assert.Same(t, plain, withHint(plain))
	assert.NoError(t, withHint(nil))
}
