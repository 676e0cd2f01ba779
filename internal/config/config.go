// Package config loads and validates tftpd-aio's configuration: a
// YAML-tagged Config struct with DefaultConfig, LoadFromFile,
// ApplyEnvironmentVariables, and Validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tftpd-aio configuration.
type Config struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	RootPath string        `yaml:"root_path"`
	Paths    PathTemplates `yaml:"paths"`
	Privsep  PrivsepConfig `yaml:"privsep"`
	Logging  LoggingConfig `yaml:"logging"`
}

// PathTemplates holds the default and per-direction filename templates.
type PathTemplates struct {
	Default string `yaml:"filename"`
	Get     string `yaml:"filename_get"`
	Put     string `yaml:"filename_put"`
}

// ReadTemplate returns the template for RRQ (read) transfers: filename_get
// if set, else the shared default.
func (p PathTemplates) ReadTemplate() string {
	if p.Get != "" {
		return p.Get
	}
	return p.Default
}

// WriteTemplate returns the template for WRQ (write) transfers: filename_put
// if set, else the shared default.
func (p PathTemplates) WriteTemplate() string {
	if p.Put != "" {
		return p.Put
	}
	return p.Default
}

// PrivsepConfig holds the post-bind privilege-drop settings.
type PrivsepConfig struct {
	User  string `yaml:"user"`
	Group string `yaml:"group"`
	Umask string `yaml:"umask"` // octal, e.g. "022"
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultPort is the RFC 1350 well-known TFTP port.
const DefaultPort = 69

// DefaultConfig returns a configuration with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:     "",
		Port:     DefaultPort,
		RootPath: "./data",
		Paths: PathTemplates{
			Default: "{filename}",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a YAML file. A missing file yields
// defaults.
func LoadFromFile(filename string) (*Config, error) {
	cfg := DefaultConfig()

	if filename == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnvironmentVariables applies TFTPD_-prefixed environment variables.
func (c *Config) ApplyEnvironmentVariables() {
	if val := os.Getenv("TFTPD_HOST"); val != "" {
		c.Host = val
	}
	if val := os.Getenv("TFTPD_PORT"); val != "" {
		if port, err := parsePort(val); err == nil {
			c.Port = port
		}
	}
	if val := os.Getenv("TFTPD_ROOT_PATH"); val != "" {
		c.RootPath = val
	}
	if val := os.Getenv("TFTPD_FILENAME"); val != "" {
		c.Paths.Default = val
	}
	if val := os.Getenv("TFTPD_FILENAME_GET"); val != "" {
		c.Paths.Get = val
	}
	if val := os.Getenv("TFTPD_FILENAME_PUT"); val != "" {
		c.Paths.Put = val
	}
	if val := os.Getenv("TFTPD_USER"); val != "" {
		c.Privsep.User = val
	}
	if val := os.Getenv("TFTPD_GROUP"); val != "" {
		c.Privsep.Group = val
	}
	if val := os.Getenv("TFTPD_UMASK"); val != "" {
		c.Privsep.Umask = val
	}
	if val := os.Getenv("TFTPD_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
}

func parsePort(val string) (int, error) {
	var port int
	_, err := fmt.Sscanf(val, "%d", &port)
	return port, err
}

// Validate validates the configuration and canonicalizes RootPath in place,
// once at startup, so per-request path resolution never has to re-resolve
// symlinks on the root itself.
func (c *Config) Validate() error {
	if c.RootPath == "" {
		return fmt.Errorf("root_path cannot be empty")
	}
	if err := os.MkdirAll(c.RootPath, 0o755); err != nil {
		return fmt.Errorf("failed to create root_path: %w", err)
	}
	abs, err := filepath.Abs(c.RootPath)
	if err != nil {
		return fmt.Errorf("failed to resolve root_path: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("failed to canonicalize root_path: %w", err)
	}
	c.RootPath = canonical

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if c.Privsep.Umask != "" {
		if _, err := strconv.ParseUint(c.Privsep.Umask, 8, 32); err != nil {
			return fmt.Errorf("invalid umask %q: %w", c.Privsep.Umask, err)
		}
	}

	return nil
}
