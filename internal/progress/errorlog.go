package progress

import (
	"context"
	"sync"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/store"
)

// Errors counts wrong answers per theme and question.
type Errors struct {
	store store.Store
	mu    *sync.Mutex
}

// Load returns the whole error map. It is never nil.
func (r *Errors) Load(ctx context.Context) (domain.ErrorMap, error) {
	var m domain.ErrorMap
	if err := Decode(ctx, r.store, store.KeyErrors, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = domain.ErrorMap{}
	}
	return m, nil
}

// Increment adds one error to the question.
func (r *Errors) Increment(ctx context.Context, themeID, questionID string) error {
	return r.Add(ctx, themeID, questionID, 1)
}

// Add records n more errors on the question in a single write.
// An n below one counts as one.
func (r *Errors) Add(ctx context.Context, themeID, questionID string, n int) error {
	if n < 1 {
		n = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.Load(ctx)
	if err != nil {
		return err
	}
	if m[themeID] == nil {
		m[themeID] = map[string]int{}
	}
	m[themeID][questionID] += n
	return save(ctx, r.store, store.KeyErrors, m)
}

// Decrement removes amount errors from the question, never going below
// zero. Unknown or already resolved questions are left untouched.
// An amount below one counts as one.
func (r *Errors) Decrement(ctx context.Context, themeID, questionID string, amount int) error {
	if amount < 1 {
		amount = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.Load(ctx)
	if err != nil {
		return err
	}
	n := m[themeID][questionID]
	if n <= 0 {
		return nil
	}
	m[themeID][questionID] = max(0, n-amount)
	return save(ctx, r.store, store.KeyErrors, m)
}

// Count returns the error count of one question.
func (r *Errors) Count(ctx context.Context, themeID, questionID string) (int, error) {
	m, err := r.Load(ctx)
	if err != nil {
		return 0, err
	}
	return m[themeID][questionID], nil
}

// TotalForTheme sums the error counts of a theme.
func (r *Errors) TotalForTheme(ctx context.Context, themeID string) (int, error) {
	m, err := r.Load(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range m[themeID] {
		total += n
	}
	return total, nil
}

// DeleteTheme drops every count of a theme.
func (r *Errors) DeleteTheme(ctx context.Context, themeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, found, err := r.withoutTheme(ctx, themeID)
	if err != nil || !found {
		return err
	}
	return save(ctx, r.store, store.KeyErrors, m)
}

// withoutTheme loads the error map and removes themeID from it. found
// reports whether the theme had any entry.
func (r *Errors) withoutTheme(ctx context.Context, themeID string) (m domain.ErrorMap, found bool, err error) {
	m, err = r.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	if _, found = m[themeID]; found {
		delete(m, themeID)
	}
	return m, found, nil
}
