package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/store"
)

// ErrThemeID is returned when saving a theme without an id.
var ErrThemeID = errors.New("custom theme has no id")

// Themes stores the user's custom themes keyed by id.
type Themes struct {
	store  store.Store
	mu     *sync.Mutex
	errors *Errors
}

// ThemesSummary describes the custom theme collection.
type ThemesSummary struct {
	Count            int `json:"count"`
	TotalQuestions   int `json:"totalQuestions"`
	AverageQuestions int `json:"averageQuestions"`
}

func (r *Themes) load(ctx context.Context) (map[string]domain.Theme, error) {
	var m map[string]domain.Theme
	if err := Decode(ctx, r.store, store.KeyCustomThemes, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]domain.Theme{}
	}
	return m, nil
}

// Save stores t, replacing any theme with the same id.
func (r *Themes) Save(ctx context.Context, t domain.Theme) error {
	if t.ID == "" {
		return ErrThemeID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.load(ctx)
	if err != nil {
		return err
	}
	m[t.ID] = t
	return save(ctx, r.store, store.KeyCustomThemes, m)
}

// Get returns the custom theme with id, or nil.
func (r *Themes) Get(ctx context.Context, id string) (*domain.Theme, error) {
	m, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := m[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// List returns every custom theme, oldest first.
func (r *Themes) List(ctx context.Context) ([]domain.Theme, error) {
	m, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]domain.Theme, 0, len(m))
	for _, t := range m {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// Delete removes a custom theme together with its error counts. It
// reports whether the theme existed.
func (r *Themes) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := m[id]; !ok {
		return false, nil
	}
	delete(m, id)

	staged := make(map[string][]byte, 2)
	if staged[store.KeyCustomThemes], err = encode(store.KeyCustomThemes, m); err != nil {
		return false, err
	}
	errs, found, err := r.errors.withoutTheme(ctx, id)
	if err != nil {
		return false, err
	}
	if found {
		if staged[store.KeyErrors], err = encode(store.KeyErrors, errs); err != nil {
			return false, err
		}
	}
	if err := r.store.SetMany(ctx, staged); err != nil {
		return false, fmt.Errorf("failed to delete theme %s: %w", id, err)
	}
	return true, nil
}

// Count returns the number of custom themes.
func (r *Themes) Count(ctx context.Context) (int, error) {
	m, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(m), nil
}

// Summary counts the custom themes and their questions.
func (r *Themes) Summary(ctx context.Context) (ThemesSummary, error) {
	m, err := r.load(ctx)
	if err != nil {
		return ThemesSummary{}, err
	}
	var s ThemesSummary
	for _, t := range m {
		s.Count++
		s.TotalQuestions += len(t.Questions)
	}
	if s.Count > 0 {
		s.AverageQuestions = int(math.Round(float64(s.TotalQuestions) / float64(s.Count)))
	}
	return s, nil
}
