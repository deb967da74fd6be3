package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(5<<20), cfg.Server.BodyLimit)
	assert.True(t, cfg.Server.Metrics)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "ergoquiz.db", cfg.SQLite.Path)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "ergoquiz:", cfg.Store.RedisPrefix)
	assert.Equal(t, "v1", cfg.Cache.Version)
	assert.Equal(t, DefaultManifest, cfg.Cache.Manifest)
	assert.Equal(t, 8, cfg.Cache.InstallConcurrency)
	assert.Equal(t, "public", cfg.Content.Dir)
	assert.False(t, cfg.Sync)
	assert.Empty(t, cfg.Import)
	assert.True(t, cfg.UsesSQLite())
	assert.True(t, cfg.LocalContent())
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ergoquiz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
log:
  level: debug
cache:
  version: v7
  manifest: ["/index.html", "/js/app.js"]
store:
  backend: memory
`), 0o644))

	t.Setenv("ERGOQUIZ_LOG_LEVEL", "warn")
	t.Setenv("ERGOQUIZ_CACHE_FALLBACK_MESSAGE", "Pas de réseau")
	t.Setenv("ERGOQUIZ_SERVER_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load([]string{"--config", path, "--cache.version", "v8"})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr, "file over default")
	assert.Equal(t, "warn", cfg.Log.Level, "env over file")
	assert.Equal(t, "v8", cfg.Cache.Version, "flag over file")
	assert.Equal(t, []string{"/index.html", "/js/app.js"}, cfg.Cache.Manifest)
	assert.Equal(t, "Pas de réseau", cfg.Cache.FallbackMessage)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.True(t, cfg.UsesSQLite(), "cache storage still defaults to sqlite")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestLoadUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--nope"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string][]string{
		"log level":       {"--log.level", "loud"},
		"log format":      {"--log.format", "xml"},
		"backend":         {"--store.backend", "mongo"},
		"file path":       {"--store.backend", "file"},
		"redis url":       {"--store.backend", "redis"},
		"cache storage":   {"--cache.storage", "disk"},
		"empty version":   {"--cache.version", ""},
		"relative asset":  {"--cache.manifest", "index.html"},
		"origin url":      {"--cache.origin", "not a url"},
		"concurrency":     {"--cache.install_concurrency", "0"},
		"no content":      {"--content.dir", ""},
		"git without dir": {"--content.dir", "", "--cache.origin", "http://origin", "--content.git_url", "https://example.com/c.git"},
		"sqlite path":     {"--sqlite.path", ""},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(args)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidCombinations(t *testing.T) {
	cfg, err := Load([]string{
		"--store.backend", "redis", "--store.redis_url", "redis://localhost:6379/0",
		"--cache.storage", "memory", "--sqlite.path", "",
		"--cache.origin", "https://quiz.example.com", "--content.dir", "",
		"--sync",
	})
	require.NoError(t, err)
	assert.False(t, cfg.UsesSQLite())
	assert.False(t, cfg.LocalContent())
	assert.True(t, cfg.Sync)
}

func TestCheckoutRootReplacesDir(t *testing.T) {
	cfg, err := Load([]string{
		"--content.dir", "", "--content.git_url", "https://example.com/org/quiz.git",
		"--content.checkout_root", "repos", "--import", "cards.md",
	})
	require.NoError(t, err)
	assert.Equal(t, "repos", cfg.Content.CheckoutRoot)
	assert.Equal(t, "cards.md", cfg.Import)
	assert.True(t, cfg.LocalContent())

	_, err = Load([]string{"--content.dir", "", "--content.checkout_root", "repos"})
	assert.ErrorIs(t, err, ErrInvalid, "a checkout root alone locates nothing")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "cache.fallback_message", envKey("ERGOQUIZ_CACHE_FALLBACK_MESSAGE"))
	assert.Equal(t, "store.redis_url", envKey("ERGOQUIZ_STORE_REDIS_URL"))
	assert.Equal(t, "sync", envKey("ERGOQUIZ_SYNC"))
}
