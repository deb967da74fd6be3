// Package transfer moves a learner's progress in and out of the local
// store as a portable JSON document.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/progress"
	"github.com/conorfennell/ergoquiz/internal/store"
)

// ErrInvalidDocument is returned for anything that is not an export
// document this engine can import.
var ErrInvalidDocument = errors.New("invalid export document")

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: missing or invalid %s", ErrInvalidDocument, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidDocument
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the fields an import relies on.
func Validate(doc *domain.ExportDocument) error {
	if doc == nil {
		return &ValidationError{Fields: []string{"document"}}
	}
	err := validate.Struct(doc)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return &ValidationError{Fields: fields}
}

// ParseDocument decodes and validates an export document.
func ParseDocument(r io.Reader) (*domain.ExportDocument, error) {
	var doc domain.ExportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FileName returns the conventional backup file name for day now.
func FileName(now time.Time) string {
	return "ergo-quiz-backup-" + now.UTC().Format(time.DateOnly) + ".json"
}

// Summary reports what an import brought in and what is stored after it.
type Summary struct {
	Imported Imported `json:"imported"`
	Total    Totals   `json:"total"`
}

// Imported counts the entries of the imported document. Errors counts
// themes, not individual questions.
type Imported struct {
	History int `json:"history"`
	Errors  int `json:"errors"`
	Stats   int `json:"stats"`
}

// Totals counts the merged collections.
type Totals struct {
	History int `json:"history"`
	Errors  int `json:"errors"`
}

// Engine exports and imports progress through the repositories.
type Engine struct {
	repos *progress.Repos
	now   func() time.Time
}

// NewEngine creates an engine over repos.
func NewEngine(repos *progress.Repos) *Engine {
	return &Engine{repos: repos, now: time.Now}
}

// Export snapshots history, errors and statistics. themes lists the
// catalog at export time.
func (e *Engine) Export(ctx context.Context, themes []domain.ThemeSummary) (*domain.ExportDocument, error) {
	history, err := e.repos.History.List(ctx)
	if err != nil {
		return nil, err
	}
	errs, err := e.repos.Errors.Load(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := e.repos.Stats.Load(ctx)
	if err != nil {
		return nil, err
	}
	if themes == nil {
		themes = []domain.ThemeSummary{}
	}
	return &domain.ExportDocument{
		Version:    domain.ExportVersion,
		ExportDate: e.now().UTC().Format(time.RFC3339Nano),
		History:    history,
		Errors:     errs,
		Stats:      stats,
		Themes:     themes,
	}, nil
}

// WriteFile writes doc as indented JSON.
func (e *Engine) WriteFile(doc *domain.ExportDocument, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// Import merges doc into the stored progress. History is deduplicated by
// timestamp, error counts are added and statistics are combined. The
// three merged documents are committed together or not at all.
//
// Importing the same document twice leaves history unchanged but doubles
// the error counts.
func (e *Engine) Import(ctx context.Context, doc *domain.ExportDocument) (Summary, error) {
	if err := Validate(doc); err != nil {
		return Summary{}, err
	}

	unlock := e.repos.Lock()
	defer unlock()

	history, err := e.repos.History.List(ctx)
	if err != nil {
		return Summary{}, err
	}
	errs, err := e.repos.Errors.Load(ctx)
	if err != nil {
		return Summary{}, err
	}
	stats, err := e.repos.Stats.Load(ctx)
	if err != nil {
		return Summary{}, err
	}

	history = MergeHistory(history, doc.History)
	errs = MergeErrors(errs, doc.Errors)
	stats = MergeStats(stats, doc.Stats)

	staged := make(map[string][]byte, 3)
	for key, v := range map[string]any{
		store.KeyHistory: history,
		store.KeyErrors:  errs,
		store.KeyStats:   stats,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return Summary{}, fmt.Errorf("failed to encode %s: %w", key, err)
		}
		staged[key] = b
	}
	if err := e.repos.Store().SetMany(ctx, staged); err != nil {
		return Summary{}, fmt.Errorf("failed to commit import: %w", err)
	}

	summary := Summary{
		Imported: Imported{
			History: len(doc.History),
			Errors:  len(doc.Errors),
			Stats:   len(doc.Stats),
		},
		Total: Totals{
			History: len(history),
			Errors:  len(errs),
		},
	}
	slog.Info("progress imported",
		"version", doc.Version,
		"history", summary.Imported.History,
		"themes_with_errors", summary.Imported.Errors,
		"stats", summary.Imported.Stats,
	)
	return summary, nil
}

// MergeHistory appends the incoming entries whose timestamp is not stored
// yet and sorts the result newest first. The result is not capped.
func MergeHistory(current, incoming []domain.HistoryEntry) []domain.HistoryEntry {
	merged := make([]domain.HistoryEntry, 0, len(current)+len(incoming))
	seen := make(map[int64]bool, len(current)+len(incoming))
	for _, h := range current {
		seen[h.At] = true
		merged = append(merged, h)
	}
	for _, h := range incoming {
		if seen[h.At] {
			continue
		}
		seen[h.At] = true
		merged = append(merged, h)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].At > merged[j].At })
	return merged
}

// MergeErrors adds the incoming counts to the current ones. A merged
// count never drops below zero.
func MergeErrors(current, incoming domain.ErrorMap) domain.ErrorMap {
	merged := current.Clone()
	for themeID, questions := range incoming {
		if merged[themeID] == nil {
			merged[themeID] = map[string]int{}
		}
		for qid, n := range questions {
			merged[themeID][qid] = max(0, merged[themeID][qid]+n)
		}
	}
	return merged
}

// MergeStats adopts the records of unknown themes. For known themes the
// sessions are combined in chronological order and only the latest
// domain.MaxThemeSessions are kept, the totals are summed and LastPlayed
// becomes the later of both.
func MergeStats(current, incoming domain.StatsMap) domain.StatsMap {
	merged := current.Clone()
	for themeID, in := range incoming {
		if in == nil {
			continue
		}
		rec := merged[themeID]
		if rec == nil {
			rec = in.Clone()
			rec.Sessions = domain.LatestSessions(rec.Sessions)
			merged[themeID] = rec
			continue
		}
		rec.Sessions = domain.LatestSessions(append(rec.Sessions, in.Sessions...))
		rec.TotalQuestions += in.TotalQuestions
		rec.TotalCorrect += in.TotalCorrect
		rec.TotalTime += in.TotalTime
		if in.LastPlayed != nil && (rec.LastPlayed == nil || *in.LastPlayed > *rec.LastPlayed) {
			lp := *in.LastPlayed
			rec.LastPlayed = &lp
		}
	}
	return merged
}
