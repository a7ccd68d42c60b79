// Package config resolves migration settings from defaults, an optional
// config file, QASE_MIGRATE_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

// DefaultFile is read when no config file is named explicitly. It is optional.
const DefaultFile = "config.json"

// EnvPrefix prefixes every environment override, e.g. QASE_MIGRATE_SOURCE_API_TOKEN.
const EnvPrefix = "QASE_MIGRATE"

// Keys shared by the config file, the environment and flag bindings.
const (
	KeySourceToken      = "source.api_token"
	KeySourceHost       = "source.host"
	KeySourceEnterprise = "source.enterprise"
	KeySourceSSL        = "source.ssl"
	KeySourceSCIMToken  = "source.scim_token"
	KeySourceSCIMHost   = "source.scim_host"

	KeyTargetToken      = "target.api_token"
	KeyTargetHost       = "target.host"
	KeyTargetEnterprise = "target.enterprise"
	KeyTargetSSL        = "target.ssl"
	KeyTargetSCIMToken  = "target.scim_token"
	KeyTargetSCIMHost   = "target.scim_host"

	KeyMappingsFile = "options.mappings_file"
	KeyPreserveIDs  = "options.preserve_ids"
	KeySkipProjects = "options.skip_projects"
	KeyOnlyProjects = "options.only_projects"
	KeyResume       = "options.resume"
	KeyRateLimit    = "options.rate_limit"

	KeyMigrateUsers = "users.migrate"
	KeyCreateUsers  = "users.create"
	KeyDefaultUser  = "users.default"
	KeyCreateGroups = "groups.create"

	KeyLogLevel   = "log.level"
	KeyLogFormat  = "log.format"
	KeyLogFile    = "log.file"
	KeyStatusAddr = "status.listen"
)

// WorkspaceConfig is one side of the migration.
type WorkspaceConfig struct {
	APIToken   string
	Host       string
	Enterprise bool
	SSL        bool
	SCIMToken  string
	SCIMHost   string
}

// Workspace converts the settings into a named workspace.
func (w WorkspaceConfig) Workspace(name string) *models.Workspace {
	return &models.Workspace{
		Name:       name,
		Host:       w.Host,
		Token:      w.APIToken,
		Enterprise: w.Enterprise,
		SSL:        w.SSL,
		SCIMToken:  w.SCIMToken,
		SCIMHost:   w.SCIMHost,
	}
}

// Config holds the resolved settings of one migration run.
type Config struct {
	Source WorkspaceConfig
	Target WorkspaceConfig

	MappingsFile string
	PreserveIDs  bool
	SkipProjects []string
	OnlyProjects []string
	Resume       bool
	// RateLimit caps requests per second per workspace; 0 disables it.
	RateLimit float64

	MigrateUsers bool
	CreateUsers  bool
	DefaultUser  int
	CreateGroups bool

	LogLevel  string
	LogFormat string
	LogFile   string

	// StatusAddr enables the status server when non-empty.
	StatusAddr string
}

// ErrMissingToken is returned when either API token is unset.
var ErrMissingToken = errors.New("both source and target API tokens are required")

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeySourceHost, "qase.io")
	v.SetDefault(KeySourceSSL, true)
	v.SetDefault(KeyTargetHost, "qase.io")
	v.SetDefault(KeyTargetSSL, true)
	v.SetDefault(KeyMappingsFile, "mappings.json")
	v.SetDefault(KeyMigrateUsers, false)
	v.SetDefault(KeyDefaultUser, 1)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyLogFile, "migration.log")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load merges the config file at path into v and resolves the result.
// A missing file is an error only when required is set.
func Load(v *viper.Viper, path string, required bool) (*Config, error) {
	if path != "" {
		values, err := loadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !required:
		case err != nil:
			return nil, err
		default:
			if err := v.MergeConfigMap(values); err != nil {
				return nil, fmt.Errorf("merging %s: %w", path, err)
			}
		}
	}

	c := &Config{
		Source:       workspaceConfig(v, "source"),
		Target:       workspaceConfig(v, "target"),
		MappingsFile: v.GetString(KeyMappingsFile),
		PreserveIDs:  v.GetBool(KeyPreserveIDs),
		SkipProjects: projectList(v.GetStringSlice(KeySkipProjects)),
		OnlyProjects: projectList(v.GetStringSlice(KeyOnlyProjects)),
		Resume:       v.GetBool(KeyResume),
		RateLimit:    v.GetFloat64(KeyRateLimit),
		MigrateUsers: v.GetBool(KeyMigrateUsers),
		CreateUsers:  v.GetBool(KeyCreateUsers),
		DefaultUser:  v.GetInt(KeyDefaultUser),
		CreateGroups: v.GetBool(KeyCreateGroups),
		LogLevel:     v.GetString(KeyLogLevel),
		LogFormat:    v.GetString(KeyLogFormat),
		LogFile:      v.GetString(KeyLogFile),
		StatusAddr:   v.GetString(KeyStatusAddr),
	}
	return c, nil
}

// Validate checks the settings a migration cannot start without.
func (c *Config) Validate() error {
	if c.Source.APIToken == "" || c.Target.APIToken == "" {
		return ErrMissingToken
	}
	if c.MappingsFile == "" {
		return errors.New("mappings file must not be empty")
	}
	if c.DefaultUser <= 0 {
		return fmt.Errorf("default user must be positive, got %d", c.DefaultUser)
	}
	return nil
}

func workspaceConfig(v *viper.Viper, side string) WorkspaceConfig {
	return WorkspaceConfig{
		APIToken:   v.GetString(side + ".api_token"),
		Host:       v.GetString(side + ".host"),
		Enterprise: v.GetBool(side + ".enterprise"),
		SSL:        v.GetBool(side + ".ssl"),
		SCIMToken:  v.GetString(side + ".scim_token"),
		SCIMHost:   v.GetString(side + ".scim_host"),
	}
}

// projectList accepts both repeated values and comma-separated ones, so
// QASE_MIGRATE_OPTIONS_SKIP_PROJECTS="A,B" works like --skip-projects A,B.
func projectList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, code := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, code)
		}
	}
	return out
}

// loadFile reads a YAML or JSON config file into a nested map.
func loadFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var file map[string]interface{}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if file == nil {
		file = map[string]interface{}{}
	}
	return file, nil
}
