// Package config defines the gwdirector configuration surface and loads it
// from file, environment, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the gwdirector configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (GWDIRECTOR_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Auth configures the delegated service-account credential.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Scope selects which users and groups to enumerate.
	Scope ScopeConfig `mapstructure:"scope" yaml:"scope"`

	// API controls Directory API pacing and retries.
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Provision controls POSIX attribute allocation for new users.
	Provision ProvisionConfig `mapstructure:"provision" yaml:"provision"`

	// Groups controls directory-group materialisation.
	Groups GroupsConfig `mapstructure:"groups" yaml:"groups"`

	// Outdir is the destination directory for the rendered
	// passwd/group/shadow files.
	Outdir string `mapstructure:"outdir" validate:"required" yaml:"outdir"`

	// DB is the identity cache location (SQLite file path).
	DB string `mapstructure:"db" validate:"required" yaml:"db"`

	// MetricsFile, when set, is written in Prometheus text exposition format
	// after each run, for the node_exporter textfile collector.
	MetricsFile string `mapstructure:"metrics_file" yaml:"metrics_file,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// AuthConfig configures domain-wide delegation.
//
// Exactly one of SAKey or SecretResource must be set: SAKey points at a
// service-account JSON key on disk, SecretResource names a Secret Manager
// secret (projects/<p>/secrets/<s>) holding the same payload.
type AuthConfig struct {
	// SAKey is the path to the service-account JSON key file.
	SAKey string `mapstructure:"sa_key" yaml:"sa_key,omitempty"`

	// SecretResource is the Secret Manager resource holding the key.
	SecretResource string `mapstructure:"secret_resource" yaml:"secret_resource,omitempty"`

	// SecretVersion is the secret version label. Default: "latest".
	SecretVersion string `mapstructure:"secret_version" yaml:"secret_version,omitempty"`

	// Impersonate is the admin subject to act as. Required for all
	// directory operations.
	Impersonate string `mapstructure:"impersonate" validate:"required,email" yaml:"impersonate"`
}

// ScopeConfig restricts enumeration to a domain or a customer tenant.
// Domain wins when both are considered; Customer defaults to "my_customer".
type ScopeConfig struct {
	Customer string `mapstructure:"customer" yaml:"customer,omitempty"`
	Domain   string `mapstructure:"domain" yaml:"domain,omitempty"`
}

// APIConfig controls Directory API consumption.
type APIConfig struct {
	// RPS is the request pacing ceiling. Default: 5.0.
	RPS float64 `mapstructure:"rps" validate:"gt=0" yaml:"rps"`

	// MaxRetries is the backoff attempt budget for transient errors.
	// Default: 5.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0" yaml:"max_retries"`
}

// ProvisionConfig controls how POSIX attribute sets are minted.
type ProvisionConfig struct {
	// StartUID is the lower bound for provisioned user UIDs. Default: 20000.
	StartUID int64 `mapstructure:"start_uid" validate:"gt=0" yaml:"start_uid"`

	// StartGID is the lower bound for provisioned primary GIDs when
	// GIDEqualsUID is false. Default: 20000.
	StartGID int64 `mapstructure:"start_gid" validate:"gt=0" yaml:"start_gid"`

	// GIDEqualsUID uses the freshly allocated UID as the primary GID
	// (user-private groups). Default: true.
	GIDEqualsUID bool `mapstructure:"gid_equals_uid" yaml:"gid_equals_uid"`

	// DefaultShell is the fallback login shell. Default: /bin/bash.
	DefaultShell string `mapstructure:"default_shell" validate:"required" yaml:"default_shell"`

	// HomeTemplate is the fallback home directory; {username} substitutes
	// the final username. Default: /home/{username}.
	HomeTemplate string `mapstructure:"home_template" validate:"required" yaml:"home_template"`

	// StripSuffix overrides the default "_<tld>_com" username suffix
	// stripper.
	StripSuffix string `mapstructure:"strip_suffix" yaml:"strip_suffix,omitempty"`
}

// GroupsConfig controls directory-group materialisation.
type GroupsConfig struct {
	// Sync enables fetching directory groups and memberships.
	Sync bool `mapstructure:"sync" yaml:"sync"`

	// StartGID / EndGID bound the GID range for directory groups.
	// Defaults: 30000 / 39999.
	StartGID int64 `mapstructure:"start_gid" validate:"gt=0" yaml:"start_gid"`
	EndGID   int64 `mapstructure:"end_gid" validate:"gt=0" yaml:"end_gid"`
}

// Resolved returns the effective customer/domain pair: the domain when one
// is configured, otherwise the customer with the "my_customer" default.
func (c *ScopeConfig) Resolved() (customer, domain string) {
	if c.Domain != "" {
		return "", c.Domain
	}
	if c.Customer != "" {
		return c.Customer, ""
	}
	return "my_customer", ""
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default search locations.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks struct tags and cross-field constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	if cfg.Auth.SAKey == "" && cfg.Auth.SecretResource == "" {
		return fmt.Errorf("one of auth.sa_key or auth.secret_resource is required")
	}
	if cfg.Auth.SAKey != "" && cfg.Auth.SecretResource != "" {
		return fmt.Errorf("auth.sa_key and auth.secret_resource are mutually exclusive")
	}
	if cfg.Scope.Customer != "" && cfg.Scope.Domain != "" {
		return fmt.Errorf("scope.customer and scope.domain are mutually exclusive")
	}
	if cfg.Groups.EndGID < cfg.Groups.StartGID {
		return fmt.Errorf("groups.end_gid (%d) must not be below groups.start_gid (%d)",
			cfg.Groups.EndGID, cfg.Groups.StartGID)
	}
	if !strings.Contains(cfg.Provision.HomeTemplate, "{username}") {
		return fmt.Errorf("provision.home_template must contain the {username} placeholder")
	}
	return nil
}

// Default returns the built-in configuration. Auth fields are left empty;
// they have no sensible defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Only the defaults set above are present, so decoding cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Save writes the configuration to path in YAML. Mode 0600: the file can
// reference credential material.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper wires environment variables, defaults, and file search paths.
// Environment variables use the GWDIRECTOR_ prefix with underscores, e.g.
// GWDIRECTOR_API_RPS=2.5 or GWDIRECTOR_GROUPS_SYNC=true.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("GWDIRECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath("/etc/gwdirector")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("auth.secret_version", "latest")

	v.SetDefault("api.rps", 5.0)
	v.SetDefault("api.max_retries", 5)

	v.SetDefault("provision.start_uid", 20000)
	v.SetDefault("provision.start_gid", 20000)
	v.SetDefault("provision.gid_equals_uid", true)
	v.SetDefault("provision.default_shell", "/bin/bash")
	v.SetDefault("provision.home_template", "/home/{username}")

	v.SetDefault("groups.sync", false)
	v.SetDefault("groups.start_gid", 30000)
	v.SetDefault("groups.end_gid", 39999)

	v.SetDefault("outdir", "/var/lib/extrausers")
	v.SetDefault("db", "/var/lib/googleworkspace-idcache/users.db")
}

// readConfigFile reads the configuration file if present. A missing file is
// not an error; defaults and environment cover the full surface.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
