// Package cli implements the adq command line: one subcommand per object
// kind, sharing connection and output flags.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/urfave/cli/v2"

	"github.com/isometry/adq/internal/directory"
	"github.com/isometry/adq/internal/ldap"
)

// App holds the collaborators of the command line. Tests replace them to run
// commands without a directory server or terminal.
type App struct {
	connect    func(ctx context.Context, cfg *ldap.ConnectionConfig) (ldap.Client, error)
	prompt     func(user string) (string, error)
	logContext func(ctx context.Context, level hclog.Level) context.Context
}

// NewApp returns the adq command line wired to a real directory connection.
func NewApp(version string) *cli.App {
	a := &App{
		connect:    ldap.NewClient,
		prompt:     passwordPrompt,
		logContext: newLogContext,
	}
	return a.cliApp(version)
}

// Run loads the environment file named by --env-file or ADQ_ENV_FILE and runs
// the command line. args includes the program name.
func Run(ctx context.Context, version string, args []string) error {
	if len(args) > 1 {
		if err := loadEnvFile(envFileFromArgs(args[1:])); err != nil {
			return err
		}
	}
	return withHint(NewApp(version).RunContext(ctx, args))
}

// withHint appends a suggestion for directory errors whose cause is usually
// a setting on the command line.
func withHint(err error) error {
	var ldapErr *ldap.LDAPError
	if !errors.As(err, &ldapErr) {
		return err
	}

	var hint string
	switch {
	case ldap.IsConnectionError(err):
		hint = "check --host, --url or --srv-domain; --tls-no-verify accepts an untrusted server certificate"
	case ldap.IsAuthenticationError(err):
		hint = "check --user and --password, or the Kerberos and client certificate settings"
	case ldap.IsPermissionError(err):
		hint = "the bind account may lack read access to the searched objects"
	case ldap.IsNotFoundError(err):
		hint = "check that --base-dn names an existing entry"
	case ldap.IsValidationError(err):
		hint = "the server rejected the request; check --base-dn and --attribute"
	default:
		return err
	}

	return fmt.Errorf("%w\nhint: %s", err, hint)
}

func (a *App) cliApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "adq"
	app.Usage = "query Active Directory users, groups and computers"
	app.Version = version
	app.HideHelpCommand = true
	app.Commands = a.commands()
	return app
}

func (a *App) commands() []*cli.Command {
	queryFlags := slices.Concat(connectionFlags(), outputFlags())
	membershipQueryFlags := slices.Concat(queryFlags, membershipFlags())

	return []*cli.Command{
		{
			Name:      "user",
			Usage:     "Query users by sAMAccountName.",
			ArgsUsage: "[sAMAccountName...]",
			Flags:     membershipQueryFlags,
			Action:    a.queryAction(directory.KindUser),
		},
		{
			Name:      "group",
			Usage:     "Query groups by sAMAccountName.",
			ArgsUsage: "[sAMAccountName...]",
			Flags:     membershipQueryFlags,
			Action:    a.queryAction(directory.KindGroup),
		},
		{
			Name:      "computer",
			Usage:     "Query computers by sAMAccountName.",
			ArgsUsage: "[sAMAccountName...]",
			Flags:     queryFlags,
			Action:    a.queryAction(directory.KindComputer),
		},
		{
			Name:   "whoami",
			Usage:  "Show the identity the server authenticated.",
			Flags:  append(connectionFlags(), formatFlag()),
			Action: a.whoamiAction,
		},
	}
}

func (a *App) queryAction(kind directory.Kind) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := configFromContext(c)
		if err != nil {
			return err
		}

		// fail on bad patterns before connecting
		if _, err := directory.CompilePatterns(cfg.Grep); err != nil {
			return err
		}

		ctx := withSubsystems(a.logContext(c.Context, cfg.LogLevel()))

		client, baseDN, err := a.open(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		dir := directory.New(client, baseDN)
		objects, err := dir.Query(ctx, kind, directory.QueryOptions{
			Identifiers:            c.Args().Slice(),
			Attributes:             cfg.Attributes,
			ExplicitMembershipOnly: cfg.ExplicitMembershipOnly,
		})
		if err != nil {
			return err
		}

		tflog.Info(ctx, "Query returned objects", map[string]any{
			"kind":  kind.String(),
			"count": len(objects),
		})

		objects, err = directory.Grep(objects, cfg.Grep)
		if err != nil {
			return err
		}

		return directory.Serialize(c.App.Writer, objects, directory.SerializeOptions{
			Format:         cfg.Format,
			AttributesOnly: cfg.AttributesOnly,
		})
	}
}

func (a *App) whoamiAction(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}

	ctx := withSubsystems(a.logContext(c.Context, cfg.LogLevel()))

	client, baseDN, err := a.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.WhoAmI(ctx)
	if err != nil {
		return err
	}

	return writeWhoAmI(c.App.Writer, result, baseDN, cfg.Format)
}

// open connects and binds, then settles the search base: the configured one,
// or the server's defaultNamingContext.
func (a *App) open(ctx context.Context, cfg *Config) (ldap.Client, string, error) {
	if cfg.needsPassword() {
		password, err := a.prompt(cfg.User)
		if err != nil {
			return nil, "", err
		}
		cfg.Password = password
	}

	client, err := a.connect(ctx, cfg.ConnectionConfig())
	if err != nil {
		return nil, "", err
	}

	baseDN := cfg.BaseDN
	if baseDN == "" {
		baseDN, err = client.GetBaseDN(ctx)
		if err != nil {
			client.Close()
			return nil, "", err
		}
	}

	tflog.Debug(ctx, "Connected", map[string]any{
		"user":    cfg.User,
		"base_dn": baseDN,
	})

	return client, baseDN, nil
}

func writeWhoAmI(w io.Writer, result *ldap.WhoAmIResult, baseDN string, format directory.Format) error {
	out := map[string]string{
		"authzid": result.AuthzID,
		"format":  result.Format,
		"base_dn": baseDN,
	}
	for k, v := range map[string]string{
		"dn":                result.DN,
		"userprincipalname": result.UserPrincipalName,
		"samaccountname":    result.SAMAccountName,
		"sid":               result.SID,
	} {
		if v != "" {
			out[k] = v
		}
	}

	if err := directory.Encode(w, out, directory.SerializeOptions{Format: format}); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	return nil
}
