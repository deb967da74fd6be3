// Package config loads the service configuration from, in increasing
// order of precedence, flag defaults, an optional YAML file, ERGOQUIZ_*
// environment variables and explicitly set flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix starts every environment variable read by Load. The first
// segment after it names the section: ERGOQUIZ_CACHE_FALLBACK_MESSAGE
// sets cache.fallback_message.
const EnvPrefix = "ERGOQUIZ_"

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	SQLite  SQLiteConfig  `koanf:"sqlite"`
	Store   StoreConfig   `koanf:"store"`
	Cache   CacheConfig   `koanf:"cache"`
	Content ContentConfig `koanf:"content"`

	// Sync updates and reconciles the content directory, then exits.
	Sync bool `koanf:"sync"`
	// Import names a markdown card file stored as a custom theme before
	// exiting.
	Import string `koanf:"import"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	BodyLimit       int64         `koanf:"body_limit" validate:"gt=0"`
	Metrics         bool          `koanf:"metrics"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type StoreConfig struct {
	Backend     string        `koanf:"backend" validate:"oneof=sqlite file redis memory"`
	FilePath    string        `koanf:"file_path" validate:"required_if=Backend file"`
	RedisURL    string        `koanf:"redis_url" validate:"required_if=Backend redis"`
	RedisPrefix string        `koanf:"redis_prefix"`
	RedisTTL    time.Duration `koanf:"redis_ttl" validate:"gte=0"`
}

type CacheConfig struct {
	Version            string        `koanf:"version" validate:"required"`
	Storage            string        `koanf:"storage" validate:"oneof=sqlite memory"`
	Manifest           []string      `koanf:"manifest" validate:"dive,startswith=/"`
	Origin             string        `koanf:"origin" validate:"omitempty,url"`
	FallbackMessage    string        `koanf:"fallback_message"`
	InstallConcurrency int           `koanf:"install_concurrency" validate:"gte=1"`
	Timeout            time.Duration `koanf:"timeout" validate:"gt=0"`
}

type ContentConfig struct {
	Dir          string `koanf:"dir"`
	GitURL       string `koanf:"git_url"`
	Branch       string `koanf:"branch"`
	CheckoutRoot string `koanf:"checkout_root"`
}

// DefaultManifest lists the core assets precached by default.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/css/style.css",
	"/js/app.js",
	"/manifest.webmanifest",
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// FlagSet declares every setting as a flag with its default value.
func FlagSet() *pflag.FlagSet {
	f := pflag.NewFlagSet("ergoquiz", pflag.ContinueOnError)
	f.String("config", "", "Path to a YAML configuration file")

	f.String("server.addr", ":8080", "HTTP listen address")
	f.Duration("server.shutdown_timeout", 15*time.Second, "Graceful shutdown timeout")
	f.Int64("server.body_limit", 5<<20, "Maximum request body size in bytes")
	f.Bool("server.metrics", true, "Expose Prometheus metrics on /metrics")

	f.String("log.level", "info", "Log level: debug, info, warn or error")
	f.String("log.format", "text", "Log format: text or json")

	f.String("sqlite.path", "ergoquiz.db", "SQLite database file")

	f.String("store.backend", "sqlite", "Progress store: sqlite, file, redis or memory")
	f.String("store.file_path", "", "JSON file used by the file store")
	f.String("store.redis_url", "", "Redis URL used by the redis store")
	f.String("store.redis_prefix", "ergoquiz:", "Key prefix used by the redis store")
	f.Duration("store.redis_ttl", 0, "Expiry of redis keys, 0 keeps them forever")

	f.String("cache.version", "v1", "Cache generation version")
	f.String("cache.storage", "sqlite", "Cache partitions storage: sqlite or memory")
	f.StringSlice("cache.manifest", DefaultManifest, "Core assets to precache")
	f.String("cache.origin", "", "Remote content origin URL, overrides content.dir")
	f.String("cache.fallback_message", "", "Message of the offline fallback document")
	f.Int("cache.install_concurrency", 8, "Parallel precache fetches")
	f.Duration("cache.timeout", 15*time.Second, "Origin request timeout")

	f.String("content.dir", "public", "Local content directory")
	f.String("content.git_url", "", "Git repository cloned into the content directory by --sync")
	f.String("content.branch", "", "Branch of the content repository")
	f.String("content.checkout_root", "", "Parent of per-repository checkouts, used when content.dir is empty")

	f.Bool("sync", false, "Sync and reconcile the content directory, then exit")
	f.String("import", "", "Import a markdown card file as a custom theme, then exit")
	return f
}

// Load parses args and merges every configuration source.
func Load(args []string) (*Config, error) {
	f := FlagSet()
	if err := f.Parse(args); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if path, _ := f.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Unchanged flags only fill keys no other source has set.
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps ERGOQUIZ_SECTION_SOME_KEY to section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return section
	}
	return section + "." + key
}

// Validate checks field constraints and the rules spanning sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	checkout := c.Content.GitURL != "" && c.Content.CheckoutRoot != ""
	if c.Cache.Origin == "" && c.Content.Dir == "" && !checkout {
		return fmt.Errorf("%w: either cache.origin, content.dir or content.git_url with content.checkout_root is required", ErrInvalid)
	}
	if c.Content.GitURL != "" && c.Content.Dir == "" && c.Content.CheckoutRoot == "" {
		return fmt.Errorf("%w: content.git_url needs content.dir or content.checkout_root", ErrInvalid)
	}
	if c.UsesSQLite() && c.SQLite.Path == "" {
		return fmt.Errorf("%w: sqlite.path is required", ErrInvalid)
	}
	return nil
}

// UsesSQLite reports whether any component is backed by the database.
func (c *Config) UsesSQLite() bool {
	return c.Store.Backend == "sqlite" || c.Cache.Storage == "sqlite"
}

// LocalContent reports whether content is served from content.dir.
func (c *Config) LocalContent() bool {
	return c.Cache.Origin == ""
}
