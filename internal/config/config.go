// Package config loads switchboard configuration from defaults, an optional
// YAML file and SWITCHBOARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/switchboard/internal/logging"
	"github.com/fentz26/switchboard/internal/scheduler"
)

// DefaultListen is where the control plane API listens by default.
const DefaultListen = "127.0.0.1:7466"

// Config is the complete switchboard configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         logging.Config    `koanf:"log"`
	Paths       PathsConfig       `koanf:"paths"`
	Selection   SelectionConfig   `koanf:"selection"`
	Credentials CredentialsConfig `koanf:"credentials"`
	Secrets     SecretsConfig     `koanf:"secrets"`
	Lifecycle   LifecycleConfig   `koanf:"lifecycle"`
	Health      HealthConfig      `koanf:"health"`
	Snapshots   SnapshotsConfig   `koanf:"snapshots"`
	Concurrency scheduler.Config  `koanf:"concurrency"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Listen          string        `koanf:"listen"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// PathsConfig locates on-disk state. Empty values are derived from Home.
type PathsConfig struct {
	Home        string `koanf:"home"`
	StateDir    string `koanf:"state_dir"`
	StateDB     string `koanf:"state_db"`
	SnapshotDir string `koanf:"snapshot_dir"`
	Registry    string `koanf:"registry"`
}

// SelectionConfig tunes worker selection.
type SelectionConfig struct {
	Threshold float64 `koanf:"threshold"`
	Learning  bool    `koanf:"learning"`
}

// CredentialsConfig controls identity probing and interactive login.
type CredentialsConfig struct {
	Probe           string        `koanf:"probe"` // cli or sdk
	LoginTimeout    time.Duration `koanf:"login_timeout"`
	OAuthAutomation bool          `koanf:"oauth_automation"`
	ProbeCommand    []string      `koanf:"probe_command"`
	LoginCommand    []string      `koanf:"login_command"`
	DefaultRegion   string        `koanf:"default_region"`
}

// SecretsConfig selects the secret store backend.
type SecretsConfig struct {
	Backend string `koanf:"backend"` // keyring or file
	File    string `koanf:"file"`
	Service string `koanf:"service"`
}

// LifecycleConfig controls worker process management.
type LifecycleConfig struct {
	StopTimeout time.Duration `koanf:"stop_timeout"`
}

// HealthConfig controls post-setup validation.
type HealthConfig struct {
	MaxRetries  int           `koanf:"max_retries"`
	SettleDelay time.Duration `koanf:"settle_delay"`
	Parallel    bool          `koanf:"parallel"`
}

// SnapshotsConfig controls snapshot retention.
type SnapshotsConfig struct {
	Retention int `koanf:"retention"`
}

// Default returns the built-in configuration for the given home directory.
func Default(home string) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Listen:          DefaultListen,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:   logging.DefaultConfig(),
		Paths: PathsConfig{Home: home},
		Selection: SelectionConfig{
			Threshold: 0.7,
			Learning:  true,
		},
		Credentials: CredentialsConfig{
			Probe:         "cli",
			LoginTimeout:  300 * time.Second,
			ProbeCommand:  []string{"aws", "sts", "get-caller-identity"},
			LoginCommand:  []string{"aws", "sso", "login"},
			DefaultRegion: "us-east-1",
		},
		Secrets: SecretsConfig{
			Backend: "keyring",
			Service: "switchboard",
		},
		Lifecycle: LifecycleConfig{StopTimeout: 5 * time.Second},
		Health: HealthConfig{
			MaxRetries:  3,
			SettleDelay: 500 * time.Millisecond,
			Parallel:    true,
		},
		Snapshots:   SnapshotsConfig{Retention: 10},
		Concurrency: *scheduler.DefaultConfig(),
	}
	return cfg
}

// resolvePaths fills derived paths that were left empty.
func (c *Config) resolvePaths() error {
	if c.Paths.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.Paths.Home = home
	}
	if c.Paths.StateDir == "" {
		c.Paths.StateDir = filepath.Join(c.Paths.Home, ".switchboard")
	}
	if c.Paths.StateDB == "" {
		c.Paths.StateDB = filepath.Join(c.Paths.StateDir, "state.db")
	}
	if c.Paths.SnapshotDir == "" {
		c.Paths.SnapshotDir = filepath.Join(c.Paths.StateDir, "snapshots")
	}
	if c.Paths.Registry == "" {
		c.Paths.Registry = filepath.Join(c.Paths.StateDir, "registry.yaml")
	}
	if c.Secrets.File == "" {
		c.Secrets.File = filepath.Join(c.Paths.StateDir, "secrets.json")
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if c.Selection.Threshold <= 0 || c.Selection.Threshold > 1 {
		errs = append(errs, fmt.Errorf("selection.threshold must be in (0, 1], got %v", c.Selection.Threshold))
	}
	switch c.Credentials.Probe {
	case "cli":
		if len(c.Credentials.ProbeCommand) == 0 || len(c.Credentials.LoginCommand) == 0 {
			errs = append(errs, errors.New("credentials.probe_command and credentials.login_command are required for the cli probe"))
		}
	case "sdk":
		if len(c.Credentials.LoginCommand) == 0 {
			errs = append(errs, errors.New("credentials.login_command is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("credentials.probe must be cli or sdk, got %q", c.Credentials.Probe))
	}
	if c.Credentials.LoginTimeout <= 0 {
		errs = append(errs, errors.New("credentials.login_timeout must be positive"))
	}
	switch c.Secrets.Backend {
	case "keyring", "file":
	default:
		errs = append(errs, fmt.Errorf("secrets.backend must be keyring or file, got %q", c.Secrets.Backend))
	}
	if c.Lifecycle.StopTimeout <= 0 {
		errs = append(errs, errors.New("lifecycle.stop_timeout must be positive"))
	}
	if c.Health.MaxRetries < 1 {
		errs = append(errs, errors.New("health.max_retries must be at least 1"))
	}
	if c.Snapshots.Retention < 1 {
		errs = append(errs, errors.New("snapshots.retention must be at least 1"))
	}
	if err := c.Concurrency.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("concurrency: %w", err))
	}
	return errors.Join(errs...)
}
