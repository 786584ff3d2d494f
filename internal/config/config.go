package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all gateway configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Locks     LockConfig
	Snapshot  SnapshotConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8900"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// BrowserConfig holds browser binary and profile configuration.
//
// Beta and Canary overrides take precedence over the stable channel
// (beta > canary > stable). Running automation against a dedicated Beta or
// Canary install keeps the user's everyday browser free: a browser that is
// already open without a debug port will refuse to expose one.
type BrowserConfig struct {
	PrimaryUserDataDir string `envconfig:"CHROME_PROFILE_USER_DATA_DIR"`
	ProfileName        string `envconfig:"CHROME_PROFILE_NAME" default:"Default"`
	BinaryPath         string `envconfig:"CHROME_EXECUTABLE_PATH"`

	BetaBinaryPath  string `envconfig:"BETA_EXECUTABLE_PATH"`
	BetaUserDataDir string `envconfig:"BETA_PROFILE_USER_DATA_DIR"`
	BetaProfileName string `envconfig:"BETA_PROFILE_NAME"`

	CanaryBinaryPath  string `envconfig:"CANARY_EXECUTABLE_PATH"`
	CanaryUserDataDir string `envconfig:"CANARY_PROFILE_USER_DATA_DIR"`
	CanaryProfileName string `envconfig:"CANARY_PROFILE_NAME"`

	FixedDebugPort   int  `envconfig:"CHROME_REMOTE_DEBUG_PORT"`
	AttachAnyProfile bool `envconfig:"MCP_ATTACH_ANY_PROFILE"`
	StrictProfile    bool `envconfig:"CHROME_PROFILE_STRICT"`
	Headless         bool `envconfig:"MCP_HEADLESS"`
}

// LockConfig holds coordination-file configuration. Durations are in seconds
// to match the wire-level lock files.
type LockConfig struct {
	CoordDir           string `envconfig:"MCP_BROWSER_LOCK_DIR"`
	ActionLockTTLSecs  int    `envconfig:"MCP_ACTION_LOCK_TTL" default:"30"`
	ActionLockWaitSecs int    `envconfig:"MCP_ACTION_LOCK_WAIT" default:"60"`
	FileMutexStaleSecs int    `envconfig:"MCP_FILE_MUTEX_STALE_SECS" default:"60"`
	RegistryStaleSecs  int    `envconfig:"MCP_WINDOW_REGISTRY_STALE_SECS" default:"300"`
	RendezvousTTLSecs  int    `envconfig:"MCP_RENDEZVOUS_TTL_SECS" default:"86400"`
	StartupWaitSecs    int    `envconfig:"MCP_STARTUP_LOCK_WAIT_SECS" default:"8"`
}

// SnapshotConfig controls page snapshots attached to tool replies.
type SnapshotConfig struct {
	MaxChars   int `envconfig:"MCP_MAX_SNAPSHOT_CHARS" default:"10000"`
	SettleMS   int `envconfig:"SNAPSHOT_SETTLE_MS" default:"200"`
	CleanLevel int `envconfig:"MCP_SNAPSHOT_CLEAN_LEVEL" default:"1"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the HTTP transport.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Profile is the resolved (binary, user-data-dir, profile-name) triple after
// channel preference has been applied.
type Profile struct {
	Channel     string // "beta", "canary", or "stable"
	BinaryPath  string // may be empty; resolved per-platform at launch time
	UserDataDir string
	ProfileName string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// ResolveProfile applies the beta > canary > stable preference and validates
// that a user-data-dir is available for the selected channel.
func (c *Config) ResolveProfile() (Profile, error) {
	b := c.Browser

	if b.BetaBinaryPath != "" {
		if b.BetaUserDataDir == "" {
			return Profile{}, fmt.Errorf("BETA_PROFILE_USER_DATA_DIR is required when BETA_EXECUTABLE_PATH is set")
		}
		return Profile{
			Channel:     "beta",
			BinaryPath:  b.BetaBinaryPath,
			UserDataDir: b.BetaUserDataDir,
			ProfileName: orDefault(b.BetaProfileName),
		}, nil
	}

	if b.CanaryBinaryPath != "" {
		if b.CanaryUserDataDir == "" {
			return Profile{}, fmt.Errorf("CANARY_PROFILE_USER_DATA_DIR is required when CANARY_EXECUTABLE_PATH is set")
		}
		return Profile{
			Channel:     "canary",
			BinaryPath:  b.CanaryBinaryPath,
			UserDataDir: b.CanaryUserDataDir,
			ProfileName: orDefault(b.CanaryProfileName),
		}, nil
	}

	if b.PrimaryUserDataDir == "" {
		return Profile{}, fmt.Errorf("CHROME_PROFILE_USER_DATA_DIR is required (or BETA_/CANARY_ equivalents)")
	}
	return Profile{
		Channel:     "stable",
		BinaryPath:  b.BinaryPath,
		UserDataDir: b.PrimaryUserDataDir,
		ProfileName: orDefault(b.ProfileName),
	}, nil
}

// Validate checks that the configuration is complete enough to serve tool
// calls. It is the early-validation step of the exclusive-access protocol and
// must not touch any lock.
func (c *Config) Validate() error {
	prof, err := c.ResolveProfile()
	if err != nil {
		return err
	}
	if c.Browser.StrictProfile {
		if _, statErr := os.Stat(prof.UserDataDir); statErr != nil {
			return fmt.Errorf("user_data_dir does not exist: %s", prof.UserDataDir)
		}
	}
	return nil
}

// CoordDir returns the coordination-file directory, defaulting to a
// per-boot location under the system temp directory.
func (c *Config) CoordDir() string {
	if c.Locks.CoordDir != "" {
		return c.Locks.CoordDir
	}
	return filepath.Join(os.TempDir(), "browsergate_locks")
}

func (c *Config) ActionLockTTL() time.Duration {
	return time.Duration(c.Locks.ActionLockTTLSecs) * time.Second
}

func (c *Config) ActionLockWait() time.Duration {
	return time.Duration(c.Locks.ActionLockWaitSecs) * time.Second
}

func (c *Config) FileMutexStale() time.Duration {
	return time.Duration(c.Locks.FileMutexStaleSecs) * time.Second
}

func (c *Config) RegistryStale() time.Duration {
	return time.Duration(c.Locks.RegistryStaleSecs) * time.Second
}

func (c *Config) RendezvousTTL() time.Duration {
	return time.Duration(c.Locks.RendezvousTTLSecs) * time.Second
}

func (c *Config) StartupWait() time.Duration {
	return time.Duration(c.Locks.StartupWaitSecs) * time.Second
}

func orDefault(name string) string {
	if name == "" {
		return "Default"
	}
	return name
}
