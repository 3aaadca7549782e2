package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/granola-companion/internal/index"
	"github.com/starford/granola-companion/internal/integration"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/parser"
	"github.com/starford/granola-companion/internal/resolver"
	"github.com/starford/granola-companion/internal/syncconfig"
	"github.com/starford/granola-companion/internal/vault"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

var fieldNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Vault     VaultConfig       `yaml:"vault"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Companion CompanionConfig   `yaml:"companion"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Companion.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level    `yaml:"log_level"`
	LogFile  LogFileConfig `yaml:"log_file"`
	HTTP     HTTPConfig    `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.LogFile.Validate(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// LogFileConfig enables a rotating log file next to stdout. An empty Path
// disables it.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Validate validates the log file configuration.
func (c *LogFileConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxSizeMB, validation.Min(0)),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig locates the Markdown vault and the sync plugin's settings.
type VaultConfig struct {
	Path string `yaml:"path"`
	// ConfigDir is the vault-relative directory holding plugin settings.
	ConfigDir string `yaml:"config_dir"`
	// Watch turns on the fsnotify watcher so files written by the sync
	// process directly are picked up.
	Watch bool `yaml:"watch"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.ConfigDir, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// CompanionConfig holds the duplicate-prevention switches and timings.
type CompanionConfig struct {
	DuplicatePreventionEnabled bool          `yaml:"duplicate_prevention_enabled"`
	DebugMode                  bool          `yaml:"debug_mode"`
	SyncKeyField               string        `yaml:"sync_key_field"`
	UpstreamPluginID           string        `yaml:"upstream_plugin_id"`
	IndexDelay                 time.Duration `yaml:"index_delay"`
	GracePeriod                time.Duration `yaml:"grace_period"`
	ConfigTTL                  time.Duration `yaml:"config_ttl"`
	MetadataDelay              time.Duration `yaml:"metadata_delay"`
}

// Validate validates the companion configuration.
func (c *CompanionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SyncKeyField, validation.Required, validation.Match(fieldNameRe)),
		validation.Field(&c.UpstreamPluginID, validation.Required, validation.Match(fieldNameRe)),
		validation.Field(&c.IndexDelay, validation.Min(time.Duration(0)), validation.Max(10*time.Second)),
		validation.Field(&c.GracePeriod, validation.Min(time.Duration(0)), validation.Max(5*time.Second)),
		validation.Field(&c.ConfigTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.MetadataDelay, validation.Min(time.Duration(0)), validation.Max(10*time.Second)),
	)
}

// Settings returns the runtime switches handed to the core.
func (c *CompanionConfig) Settings() models.Settings {
	return models.Settings{
		DuplicatePreventionEnabled: c.DuplicatePreventionEnabled,
		DebugMode:                  c.DebugMode,
	}
}

// Integration returns the core tunables. configDir comes from the vault section.
func (c *CompanionConfig) Integration(configDir string) integration.Config {
	return integration.Config{
		SyncKeyField: c.SyncKeyField,
		ConfigDir:    configDir,
		PluginID:     c.UpstreamPluginID,
		IndexDelay:   c.IndexDelay,
		GracePeriod:  c.GracePeriod,
		ConfigTTL:    c.ConfigTTL,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			LogFile: LogFileConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:      "./vault",
			ConfigDir: syncconfig.DefaultConfigDir,
			Watch:     true,
		},
		SQLite: SQLiteConfig{
			Path: "./granola-companion.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Companion: CompanionConfig{
			DuplicatePreventionEnabled: true,
			SyncKeyField:               parser.KeySyncKey,
			UpstreamPluginID:           syncconfig.DefaultPluginID,
			IndexDelay:                 index.DefaultDelay,
			GracePeriod:                resolver.DefaultGracePeriod,
			ConfigTTL:                  syncconfig.DefaultTTL,
			MetadataDelay:              vault.DefaultMetadataDelay,
		},
	}
}
