// Package config loads sqlrun CLI settings from a YAML file and SQLRUN_*
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ieshan/sqlrun"
	"github.com/ieshan/sqlrun/s3source"
)

// Connection is one named database.
type Connection struct {
	Name   string `yaml:"name"`
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// S3 mirrors s3source.Config. Credentials come from the AWS chain.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Source locates scripts: an S3 bucket when S3.Bucket is set, otherwise Dir,
// otherwise script names are plain file paths.
type Source struct {
	Dir string `yaml:"dir"`
	S3  S3     `yaml:"s3"`
}

type Config struct {
	Connections []Connection `yaml:"connections"`
	Connection  string       `yaml:"connection"`
	Delimiter   string       `yaml:"delimiter"`
	Reset       string       `yaml:"reset"`
	// StatementTimeout is a time.ParseDuration value; empty means no limit.
	StatementTimeout string            `yaml:"statement_timeout"`
	Vars             map[string]string `yaml:"vars"`
	Source           Source            `yaml:"source"`
	Scripts          []string          `yaml:"scripts"`
	LogLevel         string            `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Connection: "default",
		Delimiter:  string(sqlrun.DefaultDelimiter),
		Reset:      "none",
		LogLevel:   "info",
	}
}

// Load reads path (if non-empty) over the defaults and then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// Environment overrides:
//
//	SQLRUN_CONNECTION, SQLRUN_DRIVER, SQLRUN_DSN
//	SQLRUN_DELIMITER, SQLRUN_RESET, SQLRUN_STATEMENT_TIMEOUT, SQLRUN_LOG_LEVEL, SQLRUN_SCRIPT_DIR
//	SQLRUN_S3_BUCKET, SQLRUN_S3_PREFIX, SQLRUN_S3_REGION, SQLRUN_S3_ENDPOINT, SQLRUN_S3_PATH_STYLE
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("SQLRUN_CONNECTION", &c.Connection)
	set("SQLRUN_DELIMITER", &c.Delimiter)
	set("SQLRUN_RESET", &c.Reset)
	set("SQLRUN_STATEMENT_TIMEOUT", &c.StatementTimeout)
	set("SQLRUN_LOG_LEVEL", &c.LogLevel)
	set("SQLRUN_SCRIPT_DIR", &c.Source.Dir)
	set("SQLRUN_S3_BUCKET", &c.Source.S3.Bucket)
	set("SQLRUN_S3_PREFIX", &c.Source.S3.Prefix)
	set("SQLRUN_S3_REGION", &c.Source.S3.Region)
	set("SQLRUN_S3_ENDPOINT", &c.Source.S3.Endpoint)
	if v, ok := lookup("SQLRUN_S3_PATH_STYLE"); ok && v != "" {
		c.Source.S3.PathStyle = strings.EqualFold(v, "true")
	}

	driver, _ := lookup("SQLRUN_DRIVER")
	dsn, _ := lookup("SQLRUN_DSN")
	if driver != "" || dsn != "" {
		c.SetConnection(Connection{Name: c.Connection, Driver: driver, DSN: dsn})
	}
}

// SetConnection adds conn or overrides the non-empty fields of an existing
// connection with the same name.
func (c *Config) SetConnection(conn Connection) {
	for i := range c.Connections {
		if c.Connections[i].Name != conn.Name {
			continue
		}
		if conn.Driver != "" {
			c.Connections[i].Driver = conn.Driver
		}
		if conn.DSN != "" {
			c.Connections[i].DSN = conn.DSN
		}
		return
	}
	c.Connections = append(c.Connections, conn)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := c.RunOptions(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.Name == "" {
			return fmt.Errorf("connections[%d]: name required", i)
		}
		if _, dup := seen[conn.Name]; dup {
			return fmt.Errorf("connections[%d]: duplicate name %q", i, conn.Name)
		}
		seen[conn.Name] = struct{}{}
		switch conn.Driver {
		case sqlrun.DbSqlite, sqlrun.DbPostgres, sqlrun.DbMySQL:
		default:
			return fmt.Errorf("connections[%d]: %w %q", i, sqlrun.ErrUnsupportedDriver, conn.Driver)
		}
		if conn.DSN == "" {
			return fmt.Errorf("connections[%d]: dsn required", i)
		}
	}
	if _, ok := seen[c.Connection]; !ok && len(c.Connections) > 0 {
		return fmt.Errorf("connection %q is not defined", c.Connection)
	}
	return nil
}

// RunOptions converts the delimiter, reset mode, statement timeout and vars settings.
func (c Config) RunOptions() (sqlrun.RunOptions, error) {
	delimiter, err := sqlrun.ParseDelimiter(c.Delimiter)
	if err != nil {
		return sqlrun.RunOptions{}, fmt.Errorf("delimiter: %w", err)
	}
	reset, err := sqlrun.ParseResetMode(c.Reset)
	if err != nil {
		return sqlrun.RunOptions{}, fmt.Errorf("reset: %w", err)
	}
	var timeout time.Duration
	if c.StatementTimeout != "" {
		if timeout, err = time.ParseDuration(c.StatementTimeout); err != nil {
			return sqlrun.RunOptions{}, fmt.Errorf("statement_timeout: %w", err)
		}
		if timeout < 0 {
			return sqlrun.RunOptions{}, fmt.Errorf("statement_timeout: %s is negative", c.StatementTimeout)
		}
	}
	return sqlrun.RunOptions{Delimiter: delimiter, Vars: c.Vars, Reset: reset, StatementTimeout: timeout}, nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// S3Config returns the s3source settings, or false when scripts are read from disk.
func (c Config) S3Config() (s3source.Config, bool) {
	if c.Source.S3.Bucket == "" {
		return s3source.Config{}, false
	}
	return s3source.Config{
		Bucket:    c.Source.S3.Bucket,
		Prefix:    c.Source.S3.Prefix,
		Region:    c.Source.S3.Region,
		Endpoint:  c.Source.S3.Endpoint,
		PathStyle: c.Source.S3.PathStyle,
	}, true
}
