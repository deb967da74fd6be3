package web

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/parser"
	"github.com/conorfennell/ergoquiz/internal/progress"
	"github.com/conorfennell/ergoquiz/internal/themes"
)

type themeList struct {
	App    themes.App             `json:"app"`
	Themes []domain.Theme         `json:"themes"`
	Counts map[string]int         `json:"counts,omitempty"`
	Custom progress.ThemesSummary `json:"custom"`
}

// handleListThemes lists custom and bundled themes, filtered by ?q=.
// ?counts=true adds the question count of every theme it can resolve.
func (s *Server) handleListThemes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		all, err := s.catalog.ListAll(ctx)
		if err != nil {
			internalError(w, r, err)
			return
		}
		list := themes.Filter(all, r.URL.Query().Get("q"))

		summary, err := s.repos.Themes.Summary(ctx)
		if err != nil {
			internalError(w, r, err)
			return
		}
		resp := themeList{
			App:    s.catalog.App(),
			Themes: list,
			Custom: summary,
		}

		if withCounts, _ := strconv.ParseBool(r.URL.Query().Get("counts")); withCounts {
			resp.Counts = make(map[string]int, len(list))
			for _, t := range list {
				n, err := s.resolver.Count(ctx, t)
				if err != nil {
					slog.Debug("question count unavailable", "theme", t.ID, "error", err)
					continue
				}
				resp.Counts[t.ID] = n
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleThemeQuestions resolves the playable questions of a theme.
func (s *Server) handleThemeQuestions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		t, err := s.catalog.Find(ctx, r.PathValue("id"))
		if err != nil {
			s.themeError(w, r, err)
			return
		}
		res, err := s.resolver.Resolve(ctx, t)
		if err != nil {
			s.themeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// themeError maps catalog and resolver failures onto status codes.
func (s *Server) themeError(w http.ResponseWriter, r *http.Request, err error) {
	var fetchErr *themes.FetchError
	switch {
	case errors.Is(err, themes.ErrThemeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, themes.ErrOfflineUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &fetchErr), errors.Is(err, themes.ErrMalformedData):
		slog.Warn("theme data unusable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		internalError(w, r, err)
	}
}

type importedTheme struct {
	Theme    domain.Theme `json:"theme"`
	Warnings []string     `json:"warnings,omitempty"`
}

// handleImportTheme validates, sanitizes and stores a JSON theme.
func (s *Server) handleImportTheme() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readBody(w, r, themes.MaxImportSize)
		if !ok {
			return
		}
		s.importTheme(w, r, raw)
	}
}

// handleImportMarkdown turns a markdown card file into a custom theme.
// The title comes from ?title=, the optional id from ?id=.
func (s *Server) handleImportMarkdown() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readBody(w, r, themes.MaxImportSize)
		if !ok {
			return
		}
		q := r.URL.Query()
		title := q.Get("title")
		if title == "" {
			title = "Markdown"
		}
		doc, err := parser.ThemeDocument(bytes.NewReader(raw), q.Get("id"), title)
		if errors.Is(err, parser.ErrNoCards) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.importTheme(w, r, doc)
	}
}

func (s *Server) importTheme(w http.ResponseWriter, r *http.Request, raw []byte) {
	theme, report, err := themes.Import(raw, s.now())
	var invalid *themes.InvalidThemeError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: themes.ErrInvalidTheme.Error(), Report: &invalid.Report})
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	if err := s.repos.Themes.Save(r.Context(), theme); err != nil {
		internalError(w, r, err)
		return
	}
	slog.Info("custom theme imported", "id", theme.ID, "questions", len(theme.Questions), "warnings", len(report.Warnings))
	writeJSON(w, http.StatusCreated, importedTheme{Theme: theme, Warnings: report.Warnings})
}

// handleDeleteTheme removes a custom theme and its error counts.
func (s *Server) handleDeleteTheme() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		deleted, err := s.repos.Themes.Delete(r.Context(), id)
		if err != nil {
			internalError(w, r, err)
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, "custom theme not found: "+id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
