package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Business BusinessConfig `yaml:"business"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownSeconds int      `yaml:"shutdown_seconds"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig points at the SQLite file
type DatabaseConfig struct {
	Path string `yaml:"path"` // ":memory:" for a throwaway database
}

// CatalogConfig points at the parts price list
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// BusinessConfig is printed on receipts and statements
type BusinessConfig struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ShutdownSeconds: 10,
		},
		Database: DatabaseConfig{Path: "./data/workshop.db"},
		Catalog:  CatalogConfig{Path: "bdmonarkbd.csv"},
		Business: BusinessConfig{Name: "Monark Motopecas e Bicicletaria"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file on top of the defaults. An empty
// path skips the file. Environment variables override both.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.overrideWithEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideWithEnv overrides config values with WORKSHOP_* environment variables
func (c *Config) overrideWithEnv() error {
	if val := os.Getenv("WORKSHOP_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("WORKSHOP_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("WORKSHOP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if val := os.Getenv("WORKSHOP_ALLOWED_ORIGINS"); val != "" {
		c.Server.AllowedOrigins = strings.Split(val, ",")
	}
	if val := os.Getenv("WORKSHOP_DB_PATH"); val != "" {
		c.Database.Path = val
	}
	if val := os.Getenv("WORKSHOP_CATALOG_PATH"); val != "" {
		c.Catalog.Path = val
	}
	if val := os.Getenv("WORKSHOP_BUSINESS_NAME"); val != "" {
		c.Business.Name = val
	}
	if val := os.Getenv("WORKSHOP_BUSINESS_PHONE"); val != "" {
		c.Business.Phone = val
	}
	if val := os.Getenv("WORKSHOP_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("WORKSHOP_LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ShutdownSeconds < 0 {
		errs = append(errs, errors.New("server.shutdown_seconds must not be negative"))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if strings.TrimSpace(c.Business.Name) == "" {
		errs = append(errs, errors.New("business.name is required"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
