// Package conn manages named database connections for txman: YAML
// configuration, lazy *sql.DB opening per driver, pool settings, and
// hot reload of the reloadable subset of the configuration.
package conn

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConnectionConfig describes one named database connection.
type ConnectionConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime,omitempty"`
}

// Config is the full connections configuration.
type Config struct {
	Default     string                      `mapstructure:"default" yaml:"default"`
	Connections map[string]ConnectionConfig `mapstructure:"connections" yaml:"connections"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a single in-memory SQLite connection, used when
// no configuration file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Default: "default",
		Connections: map[string]ConnectionConfig{
			"default": {Driver: "sqlite", DSN: ":memory:"},
		},
	}
}

var validDrivers = map[string]bool{
	"sqlite": true,
	"mysql":  true,
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if len(c.Connections) == 0 {
		return fmt.Errorf("no connections configured")
	}
	if c.Default == "" {
		return fmt.Errorf("default connection name cannot be empty")
	}
	if _, ok := c.Connections[c.Default]; !ok {
		return fmt.Errorf("default connection %q is not configured", c.Default)
	}
	for name, cc := range c.Connections {
		if !validDrivers[cc.Driver] {
			return fmt.Errorf("connection %q: unknown driver %q (must be sqlite or mysql)", name, cc.Driver)
		}
		if cc.DSN == "" {
			return fmt.Errorf("connection %q: dsn cannot be empty", name)
		}
		if cc.MaxOpenConns < 0 || cc.MaxIdleConns < 0 {
			return fmt.Errorf("connection %q: pool sizes cannot be negative", name)
		}
		if cc.ConnMaxLifetime < 0 {
			return fmt.Errorf("connection %q: conn_max_lifetime cannot be negative", name)
		}
	}
	return nil
}

// Redacted renders the configuration as YAML with DSN credentials
// masked, safe for startup logging.
func (c *Config) Redacted() (string, error) {
	out := Config{
		Default:     c.Default,
		Connections: make(map[string]ConnectionConfig, len(c.Connections)),
	}
	for name, cc := range c.Connections {
		cc.DSN = redactDSN(cc.DSN)
		out.Connections[name] = cc
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("rendering config: %w", err)
	}
	return string(b), nil
}

// redactDSN masks the password in user:pass@ style DSNs.
func redactDSN(dsn string) string {
	at := strings.IndexByte(dsn, '@')
	if at < 0 {
		return dsn
	}
	colon := strings.IndexByte(dsn[:at], ':')
	if colon < 0 {
		return dsn
	}
	return dsn[:colon+1] + "***" + dsn[at:]
}
