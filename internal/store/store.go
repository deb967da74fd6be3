// Package store provides the namespaced key/value persistence used for a
// learner's progress. Values are opaque JSON documents; the typed views
// live in the progress package.
package store

import (
	"context"
	"fmt"
)

// Fixed namespace keys.
const (
	KeyHistory      = "ergoquiz_history"
	KeyErrors       = "ergoquiz_errors"
	KeyStats        = "ergoquiz_stats"
	KeyCustomThemes = "ergoquiz_custom_themes"
)

// Keys lists every namespace key in a stable order.
var Keys = []string{KeyHistory, KeyErrors, KeyStats, KeyCustomThemes}

// Store defines the interface for durable key/value storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the stored value for key.
	// Returns nil, nil if nothing is stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// SetMany replaces several keys at once. Either every value is
	// written or none is.
	SetMany(ctx context.Context, values map[string][]byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string
	FilePath string
	Redis    RedisConfig
}

// Opener builds the SQLite-backed store; it is injected so that this
// package does not depend on the database layer.
type Opener func() (Store, error)

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config, sqlite Opener) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.FilePath), nil
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case BackendSQLite:
		if sqlite == nil {
			return nil, fmt.Errorf("sqlite backend selected but no database is configured")
		}
		return sqlite()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
