// Package themes resolves the theme catalog and the playable questions of
// each theme, whether bundled with the content origin or created by the
// user.
package themes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/offline"
	"github.com/conorfennell/ergoquiz/internal/progress"
)

// MainPath is the bundled catalog document.
const MainPath = "/data/theme-main.json"

// Source answers GET requests for content documents. *offline.Manager
// implements it.
type Source interface {
	Fetch(ctx context.Context, req *http.Request) offline.Result
}

// Modes lists the enabled study modes.
type Modes struct {
	Enabled []string `json:"enabled"`
	Default string   `json:"default"`
}

// ExamDefaults configures exam sessions.
type ExamDefaults struct {
	QuestionCount  int `json:"questionCount"`
	TimeLimitSec   int `json:"timeLimitSec"`
	PassingPercent int `json:"passingPercent"`
}

// ErrorReview configures error review sessions.
type ErrorReview struct {
	MaxPerSession  int `json:"maxPerSession"`
	DecayOnCorrect int `json:"decayOnCorrect"`
}

// App is the application block of the catalog document.
type App struct {
	Title         string       `json:"title"`
	DefaultLocale string       `json:"defaultLocale"`
	Modes         Modes        `json:"modes"`
	ExamDefaults  ExamDefaults `json:"examDefaults"`
	ErrorReview   ErrorReview  `json:"errorReview"`
}

// FlashcardMode is always enabled.
const FlashcardMode = "flashcard"

// DefaultApp returns the settings used for every field the catalog
// document leaves out.
func DefaultApp() App {
	return App{
		Title:         "Ergo Quiz",
		DefaultLocale: "fr-FR",
		Modes: Modes{
			Enabled: []string{"practice", "mcq_only", "exam", "error_review"},
			Default: "practice",
		},
		ExamDefaults: ExamDefaults{QuestionCount: 20, TimeLimitSec: 1500, PassingPercent: 80},
		ErrorReview:  ErrorReview{MaxPerSession: 15, DecayOnCorrect: 1},
	}
}

type mainDocument struct {
	App *struct {
		Title         string        `json:"title"`
		DefaultLocale string        `json:"defaultLocale"`
		Modes         *Modes        `json:"modes"`
		ExamDefaults  *ExamDefaults `json:"examDefaults"`
		ErrorReview   *ErrorReview  `json:"errorReview"`
	} `json:"app"`
	Themes []domain.Theme `json:"themes"`
}

func (d mainDocument) app() App {
	app := DefaultApp()
	if d.App == nil {
		app.Modes.Enabled = withFlashcard(app.Modes.Enabled)
		return app
	}
	if d.App.Title != "" {
		app.Title = d.App.Title
	}
	if d.App.DefaultLocale != "" {
		app.DefaultLocale = d.App.DefaultLocale
	}
	if m := d.App.Modes; m != nil {
		if len(m.Enabled) > 0 {
			app.Modes.Enabled = m.Enabled
		}
		if m.Default != "" {
			app.Modes.Default = m.Default
		}
	}
	if d.App.ExamDefaults != nil {
		app.ExamDefaults = *d.App.ExamDefaults
	}
	if d.App.ErrorReview != nil {
		app.ErrorReview = *d.App.ErrorReview
	}
	app.Modes.Enabled = withFlashcard(app.Modes.Enabled)
	return app
}

func withFlashcard(modes []string) []string {
	out := make([]string, 0, len(modes)+1)
	seen := map[string]bool{}
	for _, m := range append(modes, FlashcardMode) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Catalog merges the bundled themes with the user's custom themes.
type Catalog struct {
	source Source
	custom *progress.Themes

	mu      sync.RWMutex
	loaded  bool
	app     App
	bundled []domain.Theme
}

// NewCatalog creates a catalog reading bundled themes from source.
func NewCatalog(source Source, custom *progress.Themes) *Catalog {
	return &Catalog{source: source, custom: custom, app: DefaultApp()}
}

// LoadBundled fetches the catalog document and replaces the bundled
// theme list.
func (c *Catalog) LoadBundled(ctx context.Context) error {
	body, res, err := get(ctx, c.source, MainPath)
	if err != nil {
		return err
	}

	var doc mainDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedData, MainPath, err)
	}
	bundled := make([]domain.Theme, 0, len(doc.Themes))
	for _, t := range doc.Themes {
		if t.ID == "" {
			slog.Warn("skipping bundled theme without id", "title", t.Title)
			continue
		}
		t.IsCustom = false
		bundled = append(bundled, t)
	}

	c.mu.Lock()
	c.app = doc.app()
	c.bundled = bundled
	c.loaded = true
	c.mu.Unlock()

	slog.Debug("bundled themes loaded", "count", len(bundled), "source", res.Source)
	return nil
}

// App returns the application settings of the last loaded catalog.
func (c *Catalog) App() App {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.app
}

// Bundled reloads and returns the bundled themes. The source revalidates
// the catalog document in the background, so edits show up on a later
// call. Once a load has succeeded, a failed reload keeps the last list.
func (c *Catalog) Bundled(ctx context.Context) ([]domain.Theme, error) {
	if err := c.LoadBundled(ctx); err != nil {
		c.mu.RLock()
		loaded := c.loaded
		c.mu.RUnlock()
		if !loaded {
			return nil, err
		}
		slog.Warn("bundled catalog reload failed, keeping last list", "error", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Theme(nil), c.bundled...), nil
}

// ListAll returns the custom themes followed by every bundled theme whose
// id no custom theme uses. When the bundled catalog cannot be loaded the
// custom themes are still returned.
func (c *Catalog) ListAll(ctx context.Context) ([]domain.Theme, error) {
	custom, err := c.custom.List(ctx)
	if err != nil {
		return nil, err
	}

	all := make([]domain.Theme, 0, len(custom))
	shadowed := make(map[string]bool, len(custom))
	for _, t := range custom {
		all = append(all, NormalizeCustom(t))
		shadowed[t.ID] = true
	}

	bundled, err := c.Bundled(ctx)
	if err != nil {
		slog.Warn("bundled themes unavailable", "error", err)
		return all, nil
	}
	for _, t := range bundled {
		if !shadowed[t.ID] {
			all = append(all, t)
		}
	}
	return all, nil
}

// Find returns the theme with id from ListAll.
func (c *Catalog) Find(ctx context.Context, id string) (domain.Theme, error) {
	all, err := c.ListAll(ctx)
	if err != nil {
		return domain.Theme{}, err
	}
	for _, t := range all {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Theme{}, fmt.Errorf("%w: %s", ErrThemeNotFound, id)
}

// Summaries returns the id/title pair of every theme.
func (c *Catalog) Summaries(ctx context.Context) ([]domain.ThemeSummary, error) {
	all, err := c.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ThemeSummary, len(all))
	for i, t := range all {
		out[i] = t.Summary()
	}
	return out, nil
}

// NormalizeCustom marks t as custom and fills its optional collections.
func NormalizeCustom(t domain.Theme) domain.Theme {
	t.IsCustom = true
	if t.Questions == nil {
		t.Questions = []domain.Question{}
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Meta == nil {
		t.Meta = map[string]any{}
	}
	return t
}

// get fetches p through source. It maps the offline fallback document to
// ErrOfflineUnavailable and any other non-2xx answer to *FetchError.
func get(ctx context.Context, source Source, p string) ([]byte, offline.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p, nil)
	if err != nil {
		return nil, offline.Result{}, fmt.Errorf("invalid document path %q: %w", p, err)
	}
	res := source.Fetch(ctx, req)
	body := res.Response.Body

	if res.Source == offline.SourceFallback || isOfflineMarker(body) {
		return nil, res, fmt.Errorf("%w: %s", ErrOfflineUnavailable, p)
	}
	if !res.Response.OK() {
		if res.Source == offline.SourceOffline {
			return nil, res, fmt.Errorf("%w: %s", ErrOfflineUnavailable, p)
		}
		return nil, res, &FetchError{URL: p, StatusCode: res.Response.StatusCode}
	}
	if !gjson.ValidBytes(body) {
		return nil, res, fmt.Errorf("%w: %s is not valid JSON", ErrMalformedData, p)
	}
	return body, res, nil
}

func isOfflineMarker(body []byte) bool {
	return gjson.GetBytes(body, "error").String() == offline.OfflineUnavailable
}

// documentPath turns a theme's declared location into a request path.
func documentPath(t domain.Theme) (string, bool) {
	switch {
	case t.Path != "":
		if u, err := url.Parse(t.Path); err == nil && u.IsAbs() {
			return u.RequestURI(), true
		}
		p := strings.TrimPrefix(t.Path, "./")
		return path.Clean("/" + p), true
	case t.File != "":
		return path.Join(offline.DefaultDataPrefix, t.File), true
	default:
		return "", false
	}
}
