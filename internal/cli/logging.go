package cli

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"

	"github.com/isometry/adq/internal/ldap"
)

// rootLoggerName prefixes every log line's @module.
const rootLoggerName = "adq"

// newLogContext installs the root logger on ctx at level. ADQ_LOG overrides
// the level of the root logger.
func newLogContext(ctx context.Context, level hclog.Level) context.Context {
	if envLevel := hclog.LevelFromString(os.Getenv(EnvLogLevel)); envLevel != hclog.NoLevel {
		level = envLevel
	}

	return tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName(rootLoggerName),
		tfsdklog.WithLevel(level),
		tfsdklog.WithoutLocation(),
	)
}

// withSubsystems registers the ldap package's logging subsystems. Each
// inherits the root level unless ADQ_LOG_<SUBSYSTEM> names another.
func withSubsystems(ctx context.Context) context.Context {
	for _, subsystem := range ldap.Subsystems {
		ctx = tflog.NewSubsystem(ctx, subsystem,
			tflog.WithLevelFromEnv(EnvLogLevel, subsystem))
	}
	return ctx
}
