package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	appDir     = "askme"
	configFile = "config.yaml"

	// DefaultBackendURL is used when nothing else names a backend.
	DefaultBackendURL = "http://localhost:8000"
)

// Environment variables that override the config file.
const (
	EnvBackendURL       = "ASKME_BACKEND_URL"
	EnvBackendURLLegacy = "BACKEND_URL"
	EnvStorage          = "ASKME_STORAGE"
	EnvDBPath           = "ASKME_DB_PATH"
	EnvLogLevel         = "ASKME_LOG_LEVEL"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	BackendURL string        `yaml:"backend_url"`
	Storage    StorageConfig `yaml:"storage"`
	Log        LogConfig     `yaml:"log"`
	Stream     StreamConfig  `yaml:"stream"`
}

// StorageConfig selects where sessions are kept.
type StorageConfig struct {
	Driver string `yaml:"driver"` // file, sqlite or memory
	Path   string `yaml:"path,omitempty"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
	Output      string `yaml:"output,omitempty"` // file path or stderr; empty means the CLI's log file
}

// StreamConfig tunes the completion client.
type StreamConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	ReadBuffer     int           `yaml:"read_buffer"`
	// AssistantRole is the role name sent for assistant turns.
	AssistantRole  string        `yaml:"assistant_role"`
}

// Default returns a Config whose storage lives under dir.
func Default(dir string) *Config {
	return &Config{
		BackendURL: DefaultBackendURL,
		Storage: StorageConfig{
			Driver: "file",
			Path:   filepath.Join(dir, "sessions.json"),
		},
		Log: LogConfig{
			Level: "warn",
		},
		Stream: StreamConfig{
			RequestTimeout: 60 * time.Second,
			MaxRetries:     0,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			ReadBuffer:     4096,
			AssistantRole:  "model",
		},
	}
}

// Validate checks the values a user can get wrong.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend url %q", c.BackendURL)
	}

	switch c.Storage.Driver {
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage driver %s requires a path", c.Storage.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	if strings.TrimSpace(c.Stream.AssistantRole) == "" {
		return fmt.Errorf("stream.assistant_role must not be empty")
	}

	if c.Stream.MaxRetries < 0 {
		return fmt.Errorf("stream.max_retries must not be negative")
	}
	return nil
}

// ApplyEnv overrides cfg with any environment variables that are set.
// getenv is usually os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvBackendURL); v != "" {
		cfg.BackendURL = v
	} else if v := getenv(EnvBackendURLLegacy); v != "" {
		cfg.BackendURL = v
	}
	if v := getenv(EnvStorage); v != "" {
		cfg.Storage.Driver = v
	}
	if v := getenv(EnvDBPath); v != "" {
		cfg.Storage.Path = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a configuration manager rooted in the user config dir.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, appDir)), nil
}

// NewManagerAt creates a configuration manager rooted in dir.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// Dir returns the directory holding the config file and default data.
func (m *Manager) Dir() string {
	return m.configDir
}

// GetConfigPath returns the absolute path to the config.yaml file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, configFile)
}

// Load reads the configuration from disk on top of the defaults.
// If the file does not exist, it returns the defaults and no error.
func (m *Manager) Load() (*Config, error) {
	cfg := Default(m.configDir)

	data, err := os.ReadFile(m.GetConfigPath())
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	return cfg, nil
}

// Resolve loads the file, applies the environment and validates the result.
func (m *Manager) Resolve() (*Config, error) {
	cfg, err := m.Load()
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.GetConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}
