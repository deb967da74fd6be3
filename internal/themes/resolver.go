package themes

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/tidwall/gjson"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/offline"
	"github.com/conorfennell/ergoquiz/internal/progress"
)

// Resolution is the playable form of a theme.
type Resolution struct {
	// Theme carries the merged settings.
	Theme     domain.Theme      `json:"theme"`
	Questions []domain.Question `json:"questions"`
	// Source tells where a bundled document came from. It is empty for
	// custom themes.
	Source offline.Source `json:"source,omitempty"`
}

// Resolver loads the questions of a theme.
type Resolver struct {
	source  Source
	custom  *progress.Themes
	shuffle func(n int, swap func(i, j int))
}

// NewResolver creates a resolver fetching bundled documents from source
// and custom themes from the repository.
func NewResolver(source Source, custom *progress.Themes) *Resolver {
	return &Resolver{source: source, custom: custom, shuffle: rand.Shuffle}
}

// Resolve returns the questions of t. Settings found in the stored or
// fetched document override the ones already on t. When the merged
// settings ask for it the questions come back in random order; the stored
// order is never changed.
func (r *Resolver) Resolve(ctx context.Context, t domain.Theme) (*Resolution, error) {
	var (
		questions []domain.Question
		settings  *domain.Settings
		source    offline.Source
	)

	if t.IsCustom {
		stored, err := r.custom.Get(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("%w: custom theme %s", ErrThemeNotFound, t.ID)
		}
		questions = stored.Questions
		settings = stored.Settings
	} else {
		p, ok := documentPath(t)
		if !ok {
			return nil, fmt.Errorf("%w: theme %s declares no path or file", ErrThemeNotFound, t.ID)
		}
		body, res, err := get(ctx, r.source, p)
		if err != nil {
			return nil, err
		}
		questions, settings, err = parseQuestions(body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		source = res.Source
	}

	merged := domain.Settings{}.Merge(t.Settings).Merge(settings)
	t.Settings = &merged

	out := append([]domain.Question{}, questions...)
	if merged.Shuffle() {
		r.shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return &Resolution{Theme: t, Questions: out, Source: source}, nil
}

// Count returns the number of questions of t without shuffling.
func (r *Resolver) Count(ctx context.Context, t domain.Theme) (int, error) {
	if t.IsCustom {
		stored, err := r.custom.Get(ctx, t.ID)
		if err != nil || stored == nil {
			return 0, err
		}
		return len(stored.Questions), nil
	}
	p, ok := documentPath(t)
	if !ok {
		return 0, nil
	}
	body, _, err := get(ctx, r.source, p)
	if err != nil {
		return 0, err
	}
	doc := gjson.ParseBytes(body)
	if doc.IsArray() {
		return len(doc.Array()), nil
	}
	return len(doc.Get("questions").Array()), nil
}

// parseQuestions accepts either a bare question array or an object with
// "questions" and optional "settings".
func parseQuestions(body []byte) ([]domain.Question, *domain.Settings, error) {
	doc := gjson.ParseBytes(body)

	var questions []domain.Question
	switch {
	case doc.IsArray():
		if err := json.Unmarshal(body, &questions); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
		}
		return questions, nil, nil
	case doc.IsObject():
	default:
		return nil, nil, fmt.Errorf("%w: expected an array or an object", ErrMalformedData)
	}

	if q := doc.Get("questions"); q.IsArray() {
		if err := json.Unmarshal([]byte(q.Raw), &questions); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
		}
	}
	var settings *domain.Settings
	if s := doc.Get("settings"); s.IsObject() {
		settings = &domain.Settings{}
		if err := json.Unmarshal([]byte(s.Raw), settings); err != nil {
			return nil, nil, fmt.Errorf("%w: settings: %v", ErrMalformedData, err)
		}
	}
	return questions, settings, nil
}
