package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliFlags struct {
	configFile string
	dryRun     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var f cliFlags

	cmd := &cobra.Command{
		Use:   "qase-migrate",
		Short: "Migrate a Qase workspace into another workspace",
		Long: `Copies projects, users, custom fields, suites, cases, runs, results, defects
and attachments from a source Qase workspace into a target workspace.

Every created entity is recorded in the mappings file after each step, so an
interrupted migration can be continued with --resume.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, f.configFile, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, f.dryRun, cmd.OutOrStdout())
		},
	}
	cmd.SetVersionTemplate("qase-migrate {{.Version}}\n")

	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config", config.DefaultFile, "Config file (JSON or YAML)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Check both workspaces and show what would be migrated")

	fs.String("source-token", "", "Source workspace API token")
	fs.String("source-host", "qase.io", "Source workspace host")
	fs.Bool("source-enterprise", false, "Source is an enterprise workspace")
	fs.Bool("source-ssl", true, "Use https for the source")
	fs.String("source-scim-token", "", "Source SCIM token (groups)")
	fs.String("source-scim-host", "", "Source SCIM host")

	fs.String("target-token", "", "Target workspace API token")
	fs.String("target-host", "qase.io", "Target workspace host")
	fs.Bool("target-enterprise", false, "Target is an enterprise workspace")
	fs.Bool("target-ssl", true, "Use https for the target")
	fs.String("target-scim-token", "", "Target SCIM token (user and group creation)")
	fs.String("target-scim-host", "", "Target SCIM host")

	fs.String("mappings-file", "mappings.json", "File to save and load id mappings")
	fs.Bool("preserve-ids", false, "Keep source case ids in the target")
	fs.StringSlice("skip-projects", nil, "Project codes to skip")
	fs.StringSlice("only-projects", nil, "Migrate only these project codes")
	fs.Bool("resume", false, "Resume from the saved mappings file")
	fs.Float64("rate-limit", 0, "Maximum requests per second per workspace (0 = unlimited)")

	fs.Bool("migrate-users", false, "Match users by email")
	fs.Bool("create-users", false, "Create unmatched users in the target through SCIM")
	fs.Int("default-user", 1, "Target user id for authors that cannot be mapped")
	fs.Bool("create-groups", false, "Copy groups through SCIM")

	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.String("log-file", "migration.log", "Log file (empty disables it)")
	fs.String("status-addr", "", "Serve migration status on this address, e.g. :8080")

	bindFlags(v, fs)
	return cmd
}

// flagKeys binds command-line flags to config keys. Bound flags override
// the config file and environment only when set explicitly.
var flagKeys = map[string]string{
	"source-token":      config.KeySourceToken,
	"source-host":       config.KeySourceHost,
	"source-enterprise": config.KeySourceEnterprise,
	"source-ssl":        config.KeySourceSSL,
	"source-scim-token": config.KeySourceSCIMToken,
	"source-scim-host":  config.KeySourceSCIMHost,
	"target-token":      config.KeyTargetToken,
	"target-host":       config.KeyTargetHost,
	"target-enterprise": config.KeyTargetEnterprise,
	"target-ssl":        config.KeyTargetSSL,
	"target-scim-token": config.KeyTargetSCIMToken,
	"target-scim-host":  config.KeyTargetSCIMHost,
	"mappings-file":     config.KeyMappingsFile,
	"preserve-ids":      config.KeyPreserveIDs,
	"skip-projects":     config.KeySkipProjects,
	"only-projects":     config.KeyOnlyProjects,
	"resume":            config.KeyResume,
	"rate-limit":        config.KeyRateLimit,
	"migrate-users":     config.KeyMigrateUsers,
	"create-users":      config.KeyCreateUsers,
	"default-user":      config.KeyDefaultUser,
	"create-groups":     config.KeyCreateGroups,
	"log-level":         config.KeyLogLevel,
	"log-format":        config.KeyLogFormat,
	"log-file":          config.KeyLogFile,
	"status-addr":       config.KeyStatusAddr,
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}
