// Package config loads grimoire configuration. Values are layered: built-in
// defaults, then <data_dir>/config.yaml, then <data_dir>/.env, then GRIMOIRE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/grimoire/internal/ipc"
	"github.com/forest6511/grimoire/pkg/auth"
)

const (
	// FileName is the YAML file looked up in the data directory.
	FileName = "config.yaml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GRIMOIRE_"
)

// Config holds all application configuration.
type Config struct {
	// DataDir holds the record, store, config, log and audit files.
	DataDir string `yaml:"data_dir"`
	// MasterPasswordFile is the Argon2id record. Relative paths are resolved
	// against DataDir.
	MasterPasswordFile string `yaml:"master_password_file"`
	// StoreFile is the encrypted secret store. Relative to DataDir.
	StoreFile string `yaml:"store_file"`

	// SocketPath is the Unix socket of the socket transport.
	SocketPath string `yaml:"socket_path"`
	// PipeName is the named pipe used instead of SocketPath on Windows.
	PipeName string `yaml:"pipe_name"`
	// HTTPAddr is the loopback address of the HTTP transport.
	HTTPAddr string `yaml:"http_addr"`

	SocketEnabled bool `yaml:"socket_enabled"`
	HTTPEnabled   bool `yaml:"http_enabled"`

	// MaxConnections bounds concurrently handled socket connections.
	MaxConnections int `yaml:"max_connections"`
	// ReadTimeout bounds reading one socket request. Zero disables it.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFile receives JSON logs. Relative to DataDir.
	LogFile string `yaml:"log_file"`

	AuditEnabled bool `yaml:"audit_enabled"`
	// AuditDir holds the audit log. Relative to DataDir.
	AuditDir string `yaml:"audit_dir"`

	// MetricsEnabled serves GET /metrics on the HTTP transport.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// Argon2 is the hashing cost used when a master password is set.
	Argon2 auth.Params `yaml:"argon2"`
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:            dataDir,
		MasterPasswordFile: "master_password",
		StoreFile:          "store.json",
		SocketPath:         "/tmp/grimoire.sock",
		PipeName:           `\\.\pipe\grimoire`,
		HTTPAddr:           ipc.DefaultHTTPAddr,
		SocketEnabled:      true,
		HTTPEnabled:        true,
		MaxConnections:     ipc.DefaultMaxConnections,
		LogLevel:           "info",
		LogFile:            "grimoire.log",
		AuditEnabled:       true,
		AuditDir:           "audit",
		Argon2:             auth.DefaultParams(),
	}
}

// DefaultDataDir returns the per-user configuration directory for grimoire.
func DefaultDataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to locate user config directory: %w", err)
	}
	return filepath.Join(dir, "grimoire"), nil
}

// Load builds the configuration. If path is empty the YAML file is looked up
// in the data directory, which itself may be moved by GRIMOIRE_DATA_DIR. A
// missing file is not an error unless path was given explicitly.
func Load(path string) (*Config, error) {
	dataDir := os.Getenv(EnvPrefix + "DATA_DIR")
	if dataDir == "" {
		var err error
		if dataDir, err = DefaultDataDir(); err != nil {
			return nil, err
		}
	}
	cfg := Default(dataDir)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(dataDir, FileName)
	}
	if err := cfg.loadYAML(path, explicit); err != nil {
		return nil, err
	}

	// .env values never override variables already set in the process.
	if err := godotenv.Load(filepath.Join(cfg.DataDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataDir = env.GetString(EnvPrefix+"DATA_DIR", c.DataDir)
	c.MasterPasswordFile = env.GetString(EnvPrefix+"MASTER_PASSWORD_FILE", c.MasterPasswordFile)
	c.StoreFile = env.GetString(EnvPrefix+"STORE_FILE", c.StoreFile)

	c.SocketPath = env.GetString(EnvPrefix+"SOCKET_PATH", c.SocketPath)
	c.PipeName = env.GetString(EnvPrefix+"PIPE_NAME", c.PipeName)
	c.HTTPAddr = env.GetString(EnvPrefix+"HTTP_ADDR", c.HTTPAddr)
	c.SocketEnabled = env.GetBool(EnvPrefix+"SOCKET_ENABLED", c.SocketEnabled)
	c.HTTPEnabled = env.GetBool(EnvPrefix+"HTTP_ENABLED", c.HTTPEnabled)
	c.MaxConnections = env.GetInt(EnvPrefix+"MAX_CONNECTIONS", c.MaxConnections)
	c.ReadTimeout = env.GetDuration(EnvPrefix+"READ_TIMEOUT_SECONDS", int64(c.ReadTimeout/time.Second), time.Second)

	c.LogLevel = env.GetString(EnvPrefix+"LOG_LEVEL", c.LogLevel)
	c.LogFile = env.GetString(EnvPrefix+"LOG_FILE", c.LogFile)
	c.AuditEnabled = env.GetBool(EnvPrefix+"AUDIT_ENABLED", c.AuditEnabled)
	c.AuditDir = env.GetString(EnvPrefix+"AUDIT_DIR", c.AuditDir)
	c.MetricsEnabled = env.GetBool(EnvPrefix+"METRICS_ENABLED", c.MetricsEnabled)

	c.Argon2.Memory = uint32(env.GetInt(EnvPrefix+"ARGON2_MEMORY", int(c.Argon2.Memory)))
	c.Argon2.Time = uint32(env.GetInt(EnvPrefix+"ARGON2_TIME", int(c.Argon2.Time)))
	c.Argon2.Threads = uint8(env.GetInt(EnvPrefix+"ARGON2_THREADS", int(c.Argon2.Threads)))
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return errors.New("config: data_dir is empty")
	case c.MasterPasswordFile == "":
		return errors.New("config: master_password_file is empty")
	case c.StoreFile == "":
		return errors.New("config: store_file is empty")
	case c.MaxConnections < 1:
		return fmt.Errorf("config: max_connections must be positive, got %d", c.MaxConnections)
	case c.ReadTimeout < 0:
		return fmt.Errorf("config: read_timeout must not be negative, got %s", c.ReadTimeout)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if err := c.Argon2.Validate(); err != nil {
		return fmt.Errorf("config: argon2: %w", err)
	}
	return nil
}

// Path resolves p against the data directory unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// RecordPath is the resolved master password record path.
func (c *Config) RecordPath() string { return c.Path(c.MasterPasswordFile) }

// StorePath is the resolved store path.
func (c *Config) StorePath() string { return c.Path(c.StoreFile) }

// LogPath is the resolved log file path.
func (c *Config) LogPath() string { return c.Path(c.LogFile) }

// AuditPath is the resolved audit directory.
func (c *Config) AuditPath() string { return c.Path(c.AuditDir) }

// SocketAddress returns the socket transport endpoint for this platform.
func (c *Config) SocketAddress() string {
	if runtime.GOOS == "windows" {
		return c.PipeName
	}
	return c.SocketPath
}
