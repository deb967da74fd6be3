package progress

import (
	"context"
	"sync"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/store"
)

// History is the list of finished sessions, newest first.
type History struct {
	store store.Store
	mu    *sync.Mutex
}

// List returns every stored entry, newest first.
func (h *History) List(ctx context.Context) ([]domain.HistoryEntry, error) {
	var list []domain.HistoryEntry
	if err := Decode(ctx, h.store, store.KeyHistory, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.HistoryEntry{}
	}
	return list, nil
}

// Append puts e at the head of the list and drops the oldest entries
// beyond domain.MaxHistoryEntries.
func (h *History) Append(ctx context.Context, e domain.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	list, err := h.List(ctx)
	if err != nil {
		return err
	}
	list = append([]domain.HistoryEntry{e}, list...)
	if len(list) > domain.MaxHistoryEntries {
		list = list[:domain.MaxHistoryEntries]
	}
	return save(ctx, h.store, store.KeyHistory, list)
}

// ForTheme returns the entries of one theme, newest first.
func (h *History) ForTheme(ctx context.Context, themeID string) ([]domain.HistoryEntry, error) {
	list, err := h.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []domain.HistoryEntry{}
	for _, e := range list {
		if e.ThemeID == themeID {
			out = append(out, e)
		}
	}
	return out, nil
}
