package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/ergoquiz/internal/domain"
	"github.com/conorfennell/ergoquiz/internal/offline"
	"github.com/conorfennell/ergoquiz/internal/progress"
	"github.com/conorfennell/ergoquiz/internal/store"
	"github.com/conorfennell/ergoquiz/internal/themes"
	"github.com/conorfennell/ergoquiz/internal/transfer"
)

var origin = map[string]string{
	"/index.html": "<!doctype html><title>Ergo Quiz</title>",
	"/js/app.js":  "console.log('ergo')",
	themes.MainPath: `{
		"app": {"title": "Ergo Quiz"},
		"themes": [
			{"id": "posture", "title": "Posture au bureau", "tags": ["bureau"], "file": "posture.json"},
			{"id": "gestes", "title": "Gestes et manutention", "file": "gestes.json"},
			{"id": "missing", "title": "Missing document", "file": "missing.json"}
		]
	}`,
	"/data/posture.json": `[{"id":"a","type":"true_false","prompt":"Écran à hauteur des yeux ?","answer":true},{"id":"b","type":"fill_in","prompt":"Distance ?","answer":"70 cm"}]`,
	"/data/gestes.json":  `{"questions":[{"id":"g","type":"true_false","prompt":"Dos droit ?","answer":true}]}`,
}

type fixture struct {
	server  *Server
	repos   *progress.Repos
	offline atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}

	files := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := origin[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	direct := offline.NewHandlerFetcher(files)
	fetcher := offline.FetcherFunc(func(ctx context.Context, req *http.Request) (*offline.Response, error) {
		if f.offline.Load() {
			return nil, errors.New("network unreachable")
		}
		return direct.Fetch(ctx, req)
	})

	m, err := offline.New(offline.Config{Version: "test", Manifest: []string{"/index.html", "/js/app.js"}}, offline.NewMemoryStorage(), fetcher)
	require.NoError(t, err)
	_, err = m.Install(context.Background())
	require.NoError(t, err)
	_, err = m.Activate(context.Background())
	require.NoError(t, err)
	t.Cleanup(m.Wait)

	f.repos = progress.New(store.NewMemoryStore())
	f.server = NewServer(Options{
		Manager:  m,
		Catalog:  themes.NewCatalog(m, f.repos.Themes),
		Resolver: themes.NewResolver(m, f.repos.Themes),
		Repos:    f.repos,
		Transfer: transfer.NewEngine(f.repos),
		Metrics:  true,
	})
	f.server.now = func() time.Time { return time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC) }
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func themeIDs(list []domain.Theme) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.ID
	}
	return out
}

const customTheme = `{
	"id": "custom-theme-mine",
	"title": "Mon thème",
	"description": "Perso",
	"tags": ["perso"],
	"questions": [{"type": "true_false", "prompt": "Pause toutes les heures ?", "answer": true}]
}`

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h := decode[health](t, rec)
	assert.Equal(t, health{Status: "ok", Cache: "active", Generation: "test"}, h)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/history", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ergoquiz_api_requests_total")
}

func TestShellServedThroughCache(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/index.html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(offline.SourcePrecache), rec.Header().Get(offline.CacheHeader))
	assert.Contains(t, rec.Body.String(), "Ergo Quiz")
}

func TestUnknownAPIEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get(offline.CacheHeader))
}

func TestListThemes(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/themes", customTheme).Code)

	rec := f.do(t, http.MethodGet, "/api/themes?counts=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[themeList](t, rec)
	assert.Equal(t, "Ergo Quiz", list.App.Title)
	assert.Equal(t, []string{"custom-theme-mine", "posture", "gestes", "missing"}, themeIDs(list.Themes))
	assert.Equal(t, 1, list.Custom.Count)
	assert.Equal(t, 1, list.Counts["custom-theme-mine"])
	assert.Equal(t, 2, list.Counts["posture"])
	assert.NotContains(t, list.Counts, "missing")

	rec = f.do(t, http.MethodGet, "/api/themes?q=BUREAU", "")
	list = decode[themeList](t, rec)
	assert.Equal(t, []string{"posture"}, themeIDs(list.Themes))
}

func TestThemeQuestions(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/themes/posture/questions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[themes.Resolution](t, rec)
	assert.Equal(t, "posture", res.Theme.ID)
	assert.Len(t, res.Questions, 2)
	assert.Equal(t, offline.SourceNetwork, res.Source)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/themes/unknown/questions", "").Code)
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodGet, "/api/themes/missing/questions", "").Code)
}

func TestThemeQuestionsOffline(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/themes/posture/questions", "").Code)

	f.offline.Store(true)

	rec := f.do(t, http.MethodGet, "/api/themes/posture/questions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[themes.Resolution](t, rec)
	assert.Equal(t, offline.SourceRuntime, res.Source)

	rec = f.do(t, http.MethodGet, "/api/themes/gestes/questions", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestImportTheme(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/themes", `{"title": "No description <b>", "questions": [{"type": "fill_in", "prompt": "P", "answer": "x"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	imported := decode[importedTheme](t, rec)
	assert.True(t, strings.HasPrefix(imported.Theme.ID, themes.CustomIDPrefix))
	assert.Equal(t, "No description &lt;b&gt;", imported.Theme.Title)
	assert.NotEmpty(t, imported.Warnings)

	stored, err := f.repos.Themes.Get(context.Background(), imported.Theme.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(1715938200000), stored.CreatedAt)
}

func TestImportThemeRejected(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/themes", `{"title": "", "questions": []}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[apiError](t, rec)
	require.NotNil(t, body.Report)
	assert.NotEmpty(t, body.Report.Errors)

	n, err := f.repos.Themes.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportThemeTooLarge(t *testing.T) {
	f := newFixture(t)
	big := `{"title": "` + strings.Repeat("x", themes.MaxImportSize) + `"}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(t, http.MethodPost, "/api/themes", big).Code)
}

func TestImportMarkdown(t *testing.T) {
	f := newFixture(t)

	md := "Q: Hauteur de l'écran ?\nA: Yeux\nC: Haut de l'écran\n---\nQ: Pause ?\nA: Toutes les heures\n"
	rec := f.do(t, http.MethodPost, "/api/themes/markdown?title=Notes&id=custom-theme-notes", md)
	require.Equal(t, http.StatusCreated, rec.Code)
	imported := decode[importedTheme](t, rec)
	assert.Equal(t, "custom-theme-notes", imported.Theme.ID)
	assert.Equal(t, "Notes", imported.Theme.Title)
	require.Len(t, imported.Theme.Questions, 2)
	assert.Equal(t, domain.QuestionFillIn, imported.Theme.Questions[0].Type)

	rec = f.do(t, http.MethodPost, "/api/themes/markdown", "just some prose")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeleteTheme(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/themes", customTheme).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/errors/custom-theme-mine/q1", "").Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/themes/custom-theme-mine", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/themes/custom-theme-mine", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/themes/posture", "").Code)

	total, err := f.repos.Errors.TotalForTheme(context.Background(), "custom-theme-mine")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestResultsHistoryAndDashboard(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/results", `{"mode":"practice","themeId":"posture","themeTitle":"Posture","score":2,"total":3,"totalTime":9000}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	entry := decode[domain.HistoryEntry](t, rec)
	assert.Equal(t, 67, entry.Percent)
	assert.Equal(t, int64(3000), entry.AvgTime)
	assert.Equal(t, int64(1715938200000), entry.At)

	rec = f.do(t, http.MethodPost, "/api/results", `{"mode":"exam","themeId":"gestes","score":1,"total":1,"totalTime":1000,"at":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	history := decode[[]domain.HistoryEntry](t, f.do(t, http.MethodGet, "/api/history", ""))
	require.Len(t, history, 2)
	assert.Equal(t, "gestes", history[0].ThemeID)

	history = decode[[]domain.HistoryEntry](t, f.do(t, http.MethodGet, "/api/history?theme=posture", ""))
	require.Len(t, history, 1)

	stats := decode[statsResponse](t, f.do(t, http.MethodGet, "/api/stats", ""))
	require.Contains(t, stats.Stats, "posture")
	assert.Equal(t, 3, stats.Stats["posture"].TotalQuestions)

	dash := decode[[]progress.ThemeDashboard](t, f.do(t, http.MethodGet, "/api/dashboard", ""))
	require.Len(t, dash, 2)
	assert.Equal(t, "posture", dash[0].ThemeID)
	assert.Equal(t, "Posture au bureau", dash[0].Title)
	assert.Equal(t, 67, dash[0].AvgScore)
}

func TestPostResultValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/results", `{"mode":"practice","themeId":"posture","score":4,"total":3}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{"Score"}, decode[apiError](t, rec).Fields)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/results", `{`).Code)
}

func TestPostError(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/errors/posture/a", "")
	rec := f.do(t, http.MethodPost, "/api/errors/posture/a?delta=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, errorCount{ThemeID: "posture", QuestionID: "a", Count: 3}, decode[errorCount](t, rec))

	rec = f.do(t, http.MethodPost, "/api/errors/posture/a?delta=-5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[errorCount](t, rec).Count)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/errors/posture/a?delta=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/errors/posture/a?delta=x", "").Code)
}

func TestPostErrorBoundsDelta(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/errors/posture/a?delta=1000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1000, decode[errorCount](t, rec).Count)

	for _, delta := range []string{"1001", "-1001", "9223372036854775807"} {
		rec := f.do(t, http.MethodPost, "/api/errors/posture/a?delta="+delta, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, delta)
	}
	n, err := f.repos.Errors.Count(context.Background(), "posture", "a")
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newFixture(t)
	src.do(t, http.MethodPost, "/api/results", `{"mode":"practice","themeId":"posture","score":1,"total":2,"totalTime":4000}`)
	src.do(t, http.MethodPost, "/api/errors/posture/b", "")

	rec := src.do(t, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="ergo-quiz-backup-2024-05-17.json"`, rec.Header().Get("Content-Disposition"))
	exported := rec.Body.String()
	assert.Contains(t, exported, `"version": "2.0"`)

	dst := newFixture(t)
	rec = dst.do(t, http.MethodPost, "/api/import", exported)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[transfer.Summary](t, rec)
	assert.Equal(t, transfer.Imported{History: 1, Errors: 1, Stats: 1}, summary.Imported)
	assert.Equal(t, transfer.Totals{History: 1, Errors: 1}, summary.Total)

	n, err := dst.repos.Errors.Count(context.Background(), "posture", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImportRejectsBadDocuments(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/import", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[apiError](t, rec).Fields, "version")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/import", `{"version":`).Code)
}
