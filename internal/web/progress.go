package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/progress"
	"github.com/conorfennell/ergoquiz/internal/transfer"
)

// handleHistory lists history entries, newest first. ?theme= restricts
// the list to one theme.
func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			entries []domain.HistoryEntry
			err     error
		)
		if theme := r.URL.Query().Get("theme"); theme != "" {
			entries, err = s.repos.History.ForTheme(r.Context(), theme)
		} else {
			entries, err = s.repos.History.List(r.Context())
		}
		if err != nil {
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type resultRequest struct {
	At         int64  `json:"at"`
	Mode       string `json:"mode" validate:"required"`
	ThemeID    string `json:"themeId" validate:"required"`
	ThemeTitle string `json:"themeTitle"`
	Score      int    `json:"score" validate:"gte=0,ltefield=Total"`
	Total      int    `json:"total" validate:"gte=0"`
	TotalTime  int64  `json:"totalTime" validate:"gte=0"`
}

// handlePostResult records a finished session in the history and the
// theme statistics.
func (s *Server) handlePostResult() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resultRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.bodyLimit)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "invalid result", Fields: fieldNames(err)})
			return
		}
		if req.At == 0 {
			req.At = s.now().UnixMilli()
		}

		entry, err := s.repos.RecordResult(r.Context(), domain.SessionResult{
			At:         req.At,
			Mode:       req.Mode,
			ThemeID:    req.ThemeID,
			ThemeTitle: req.ThemeTitle,
			Score:      req.Score,
			Total:      req.Total,
			TotalTime:  req.TotalTime,
		})
		if err != nil {
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func fieldNames(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, len(verrs))
	for i, fe := range verrs {
		out[i] = fe.Field()
	}
	return out
}

// MaxErrorDelta bounds the adjustment one request may apply.
const MaxErrorDelta = 1000

type errorCount struct {
	ThemeID    string `json:"themeId"`
	QuestionID string `json:"questionId"`
	Count      int    `json:"count"`
}

// handlePostError adjusts the error count of one question. Without
// ?delta= it records one more wrong answer; a negative delta resolves
// that many. |delta| is at most MaxErrorDelta.
func (s *Server) handlePostError() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		themeID, questionID := r.PathValue("theme"), r.PathValue("question")

		delta := 1
		if raw := r.URL.Query().Get("delta"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n == 0 || n > MaxErrorDelta || n < -MaxErrorDelta {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid delta %q", raw))
				return
			}
			delta = n
		}

		var err error
		if delta < 0 {
			err = s.repos.Errors.Decrement(ctx, themeID, questionID, -delta)
		} else {
			err = s.repos.Errors.Add(ctx, themeID, questionID, delta)
		}
		if err != nil {
			internalError(w, r, err)
			return
		}

		count, err := s.repos.Errors.Count(ctx, themeID, questionID)
		if err != nil {
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, errorCount{ThemeID: themeID, QuestionID: questionID, Count: count})
	}
}

type statsResponse struct {
	Stats  domain.StatsMap        `json:"stats"`
	Errors domain.ErrorMap        `json:"errors"`
	Custom progress.ThemesSummary `json:"custom"`
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		stats, err := s.repos.Stats.Load(ctx)
		if err != nil {
			internalError(w, r, err)
			return
		}
		errs, err := s.repos.Errors.Load(ctx)
		if err != nil {
			internalError(w, r, err)
			return
		}
		custom, err := s.repos.Themes.Summary(ctx)
		if err != nil {
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{Stats: stats, Errors: errs, Custom: custom})
	}
}

// handleDashboard returns one summary per played theme.
func (s *Server) handleDashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		summaries, err := s.catalog.Summaries(ctx)
		if err != nil {
			internalError(w, r, err)
			return
		}
		dash, err := s.repos.Dashboard(ctx, summaries)
		if err != nil {
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dash)
	}
}

// handleExport streams the backup document as a file download.
func (s *Server) handleExport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		summaries, err := s.catalog.Summaries(ctx)
		if err != nil {
			internalError(w, r, err)
			return
		}
		doc, err := s.transfer.Export(ctx, summaries)
		if err != nil {
			internalError(w, r, err)
			return
		}

		var buf bytes.Buffer
		if err := s.transfer.WriteFile(doc, &buf); err != nil {
			internalError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", transfer.FileName(s.now())))
		if _, err := w.Write(buf.Bytes()); err != nil {
			slog.Warn("failed to write export", "error", err)
		}
	}
}

// handleImport merges a backup document into the stored progress.
func (s *Server) handleImport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readBody(w, r, s.bodyLimit)
		if !ok {
			return
		}
		doc, err := transfer.ParseDocument(bytes.NewReader(raw))
		if err != nil {
			importError(w, err)
			return
		}
		summary, err := s.transfer.Import(r.Context(), doc)
		if err != nil {
			if errors.Is(err, transfer.ErrInvalidDocument) {
				importError(w, err)
				return
			}
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func importError(w http.ResponseWriter, err error) {
	var verr *transfer.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: transfer.ErrInvalidDocument.Error(), Fields: verr.Fields})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
