package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir  = ".rag-client"
	DefaultConfigFile = "config.yaml"
)

// Config represents the application configuration
type Config struct {
	ServerURL      string        `yaml:"server_url"`
	UserID         string        `yaml:"user_id"`
	TopK           int           `yaml:"top_k"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	DataDir        string        `yaml:"data_dir"`
	Logging        LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls the rolling debug log
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`

	// File is the log path. Relative paths are resolved against the config directory.
	File string `yaml:"file"`

	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
}

func DefaultConfig() *Config {
	return &Config{
		ServerURL: "http://localhost:8000",
		// The backend has no authentication; every request carries this id.
		UserID:         "admin",
		TopK:           5,
		RequestTimeout: 30 * time.Second,
		ReadBufferSize: 4096,
		DataDir:        "db",
		Logging: LoggingConfig{
			Level:      "info",
			File:       "rag-client.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Dir returns the configuration directory under the user's home
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultConfigDir), nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, DefaultConfigFile), nil
}

// Load loads the configuration from the default path, creating it if missing
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from path. A missing file is replaced by
// the defaults, which are written back when possible.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		// The client works without a config file on disk
		_ = SaveTo(cfg, path)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so a partial file only overrides what it names
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the default path
func Save(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, configPath)
}

// SaveTo writes the configuration to path, creating parent directories
func SaveTo(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration values
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url must use http or https, got %q", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("server_url must include a host, got %q", c.ServerURL)
	}

	if c.UserID == "" {
		return fmt.Errorf("user_id must not be empty")
	}

	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("top_k must be between 1 and 50, got %d", c.TopK)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}

	if c.ReadBufferSize < 64 {
		return fmt.Errorf("read_buffer_size must be at least 64, got %d", c.ReadBufferSize)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	if c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("logging.max_size_mb must be positive, got %d", c.Logging.MaxSizeMB)
	}

	return nil
}

// ResolvePath resolves p against the config directory unless it is absolute
func ResolvePath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, p), nil
}
