// Package config loads and validates the evaloor configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultResultsDir is the default base directory for result stores.
	DefaultResultsDir = "./results"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultPostgresPort is the default postgres port.
	DefaultPostgresPort = 5432

	// DefaultPostgresSSLMode is the default postgres SSL mode.
	DefaultPostgresSSLMode = "disable"

	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "EVALOOR"
)

// Config is the root configuration for evaloor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Results  ResultsConfig  `yaml:"results" mapstructure:"results"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ResultsConfig contains result store location settings.
type ResultsConfig struct {
	// Dir is the base directory under which per-store database files are
	// created as <dir>/<paradigm>/<evaluation>/results[_suffix].db.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// DatabaseConfig selects and configures the database driver backing
// the result stores.
type DatabaseConfig struct {
	Driver   string                 `yaml:"driver" mapstructure:"driver"`
	Postgres PostgresDatabaseConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// PostgresDatabaseConfig contains postgres connection settings.
type PostgresDatabaseConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// Load reads a YAML configuration file and applies environment variable
// overrides (EVALOOR_SECTION_KEY). An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Results.Dir == "" {
		c.Results.Dir = DefaultResultsDir
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Postgres.Port == 0 {
			c.Database.Postgres.Port = DefaultPostgresPort
		}

		if c.Database.Postgres.SSLMode == "" {
			c.Database.Postgres.SSLMode = DefaultPostgresSSLMode
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		dir := filepath.Dir(c.Results.Dir)
		if dir != "." && dir != ".." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("results directory parent %q does not exist", dir)
			}
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	return nil
}
