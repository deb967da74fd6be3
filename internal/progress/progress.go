// Package progress holds the typed repositories over the local store:
// session history, per-question error counts, per-theme statistics and
// custom themes.
//
// Every write is a read-modify-write of one JSON document. Writers within
// a process are serialized; across processes the last writer wins.
// Corrupted documents are treated as empty and logged, never returned as
// errors.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/store"
)

// Repos groups the repositories sharing one store.
type Repos struct {
	History *History
	Errors  *Errors
	Stats   *Stats
	Themes  *Themes

	store store.Store
	mu    *sync.Mutex
}

// New creates the repositories over s.
func New(s store.Store) *Repos {
	mu := &sync.Mutex{}
	errs := &Errors{store: s, mu: mu}
	return &Repos{
		History: &History{store: s, mu: mu},
		Errors:  errs,
		Stats:   &Stats{store: s, mu: mu},
		Themes:  &Themes{store: s, mu: mu, errors: errs},
		store:   s,
		mu:      mu,
	}
}

// Store returns the underlying store.
func (r *Repos) Store() store.Store {
	return r.store
}

// Lock blocks every repository writer until the returned func is called.
// Bulk writers such as import hold it across their own read-modify-write.
func (r *Repos) Lock() (unlock func()) {
	r.mu.Lock()
	return r.mu.Unlock
}

// RecordResult stores a finished session: a history entry plus the
// theme's statistics.
func (r *Repos) RecordResult(ctx context.Context, res domain.SessionResult) (domain.HistoryEntry, error) {
	entry := res.HistoryEntry()
	if err := r.History.Append(ctx, entry); err != nil {
		return entry, err
	}
	if err := r.Stats.RecordSession(ctx, entry); err != nil {
		return entry, err
	}
	slog.Debug("session recorded", "theme", entry.ThemeID, "mode", entry.Mode, "percent", entry.Percent)
	return entry, nil
}

// Decode reads key into v. Missing values leave v untouched; corrupted
// ones reset it to its zero value.
func Decode[T any](ctx context.Context, s store.Store, key string, v *T) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		slog.Warn("ignoring corrupted stored data", "key", key, "error", err)
		var zero T
		*v = zero
	}
	return nil
}

func encode(key string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return b, nil
}

func save(ctx context.Context, s store.Store, key string, v any) error {
	b, err := encode(key, v)
	if err != nil {
		return err
	}
	if err := s.Set(ctx, key, b); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
