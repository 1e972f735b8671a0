// Package config loads the migrator configuration from a file and the
// environment using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. MIGRATOR_CONNECTION_URL.
	EnvPrefix = "MIGRATOR"

	// EnvMarker marks a string value that names an environment variable.
	EnvMarker = "env:"

	DefaultFile          = "migrator.yaml"
	DefaultMigrationsDir = "migrations"
	DefaultTable         = "_migrations"
	DefaultSchema        = "public"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Connection describes the target database. URL wins over the discrete
// fields when both are set. Every field is a string so that any of them can
// hold an env: marker.
type Connection struct {
	URL      string `mapstructure:"url" yaml:"url,omitempty"`
	Host     string `mapstructure:"host" yaml:"host,omitempty"`
	Port     string `mapstructure:"port" yaml:"port,omitempty"`
	User     string `mapstructure:"user" yaml:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Database string `mapstructure:"database" yaml:"database,omitempty"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode,omitempty"`
}

// DSN returns the connection string. Discrete fields build a PostgreSQL URL.
func (c Connection) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Host == "" && c.Database == "" {
		return ""
	}

	u := &url.URL{Scheme: "postgres", Host: c.Host, Path: "/" + c.Database}
	if c.Port != "" {
		u.Host = net.JoinHostPort(c.Host, c.Port)
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// Config is the resolved configuration of one invocation.
type Config struct {
	Connection    Connection `mapstructure:"connection" yaml:"connection"`
	MigrationsDir string     `mapstructure:"migrationsDir" yaml:"migrationsDir"`
	Table         string     `mapstructure:"table" yaml:"table"`
	Schema        string     `mapstructure:"schema" yaml:"schema"`
	// TypesFile enables the type-definition file when set.
	TypesFile string `mapstructure:"typesFile" yaml:"typesFile,omitempty"`
}

// Default returns the configuration written by setup.
func Default() Config {
	return Config{
		Connection:    Connection{URL: "env:DATABASE_URL"},
		MigrationsDir: DefaultMigrationsDir,
		Table:         DefaultTable,
		Schema:        DefaultSchema,
	}
}

// Overrides come from command-line flags and win over file and environment.
type Overrides struct {
	DatabaseURL   string
	MigrationsDir string
	Table         string
	Schema        string
}

// Load reads the config file at path, overlays MIGRATOR_* environment
// variables, resolves env: markers, applies o and makes relative paths
// relative to rootDir. The file may only be absent when o names a database
// or a migrations directory.
// The connection is not checked here; see Validate.
func Load(path, rootDir string, o Overrides) (*Config, error) {
	if rootDir == "" {
		rootDir = "."
	}
	if path == "" {
		path = filepath.Join(rootDir, DefaultFile)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("connection.url", "")
	v.SetDefault("connection.host", "")
	v.SetDefault("connection.port", "")
	v.SetDefault("connection.user", "")
	v.SetDefault("connection.password", "")
	v.SetDefault("connection.database", "")
	v.SetDefault("connection.sslmode", "")
	v.SetDefault("migrationsDir", DefaultMigrationsDir)
	v.SetDefault("table", DefaultTable)
	v.SetDefault("schema", DefaultSchema)
	v.SetDefault("typesFile", "")

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || (o.DatabaseURL == "" && o.MigrationsDir == "") {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	resolveEnv(reflect.ValueOf(&cfg).Elem(), os.LookupEnv)
	cfg.apply(o)

	cfg.MigrationsDir = resolvePath(rootDir, cfg.MigrationsDir)
	if cfg.TypesFile != "" {
		cfg.TypesFile = resolvePath(rootDir, cfg.TypesFile)
	}

	if err := cfg.validateLayout(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) apply(o Overrides) {
	if o.DatabaseURL != "" {
		c.Connection = Connection{URL: o.DatabaseURL}
	}
	if o.MigrationsDir != "" {
		c.MigrationsDir = o.MigrationsDir
	}
	if o.Table != "" {
		c.Table = o.Table
	}
	if o.Schema != "" {
		c.Schema = o.Schema
	}
}

// Validate checks that the configuration can reach a database. Load has
// already checked the rest.
func (c *Config) Validate() error {
	if c.Connection.DSN() == "" {
		return errors.New("config: connection must be set (url, or host and database)")
	}
	if c.Connection.URL == "" && c.Connection.Port != "" {
		if port, err := strconv.Atoi(c.Connection.Port); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("config: port %q is not a valid port number", c.Connection.Port)
		}
	}
	return c.validateLayout()
}

// validateLayout checks the fields that commands without a database
// connection depend on.
func (c *Config) validateLayout() error {
	if !identifier.MatchString(c.Table) {
		return fmt.Errorf("config: table %q is not a plain identifier", c.Table)
	}
	if c.Schema != "" && !identifier.MatchString(c.Schema) {
		return fmt.Errorf("config: schema %q is not a plain identifier", c.Schema)
	}
	if c.MigrationsDir == "" {
		return errors.New("config: migrationsDir must be set")
	}
	return nil
}

// resolveEnv replaces every string field holding "env:NAME" with the value
// of NAME. Unset variables resolve to the empty string.
func resolveEnv(v reflect.Value, lookup func(string) (string, bool)) {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			resolveEnv(v.Field(i), lookup)
		}
	case reflect.String:
		if name, ok := strings.CutPrefix(v.String(), EnvMarker); ok && v.CanSet() {
			value, _ := lookup(name)
			v.SetString(value)
		}
	}
}

func resolvePath(rootDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

// WriteTemplate writes cfg as YAML to path. An existing file is only
// replaced when force is set.
func WriteTemplate(path string, cfg Config, force bool) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode template: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return f.Close()
}
