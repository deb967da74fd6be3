// Package web exposes the offline front and the JSON API over the
// progress repositories.
package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conorfennell/ergoquiz/internal/offline"
	"github.com/conorfennell/ergoquiz/internal/progress"
	"github.com/conorfennell/ergoquiz/internal/themes"
	"github.com/conorfennell/ergoquiz/internal/transfer"
)

// DefaultBodyLimit bounds request bodies when Options leaves it unset.
const DefaultBodyLimit = 5 << 20

var apiRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ergoquiz_api_requests_total",
		Help: "JSON API requests, by method and status code",
	},
	[]string{"method", "code"},
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Options holds the dependencies for the HTTP server.
type Options struct {
	Manager  *offline.Manager
	Catalog  *themes.Catalog
	Resolver *themes.Resolver
	Repos    *progress.Repos
	Transfer *transfer.Engine

	// BodyLimit caps JSON import bodies in bytes.
	BodyLimit int64
	// Metrics mounts the Prometheus handler on /metrics.
	Metrics bool
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	manager   *offline.Manager
	catalog   *themes.Catalog
	resolver  *themes.Resolver
	repos     *progress.Repos
	transfer  *transfer.Engine
	bodyLimit int64
	metrics   bool
	now       func() time.Time

	router *http.ServeMux
}

// NewServer creates and configures a new server.
func NewServer(opts Options) *Server {
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = DefaultBodyLimit
	}
	s := &Server{
		manager:   opts.Manager,
		catalog:   opts.Catalog,
		resolver:  opts.Resolver,
		repos:     opts.Repos,
		transfer:  opts.Transfer,
		bodyLimit: opts.BodyLimit,
		metrics:   opts.Metrics,
		now:       time.Now,
		router:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/themes", s.handleListThemes())
	api.HandleFunc("POST /api/themes", s.handleImportTheme())
	api.HandleFunc("POST /api/themes/markdown", s.handleImportMarkdown())
	api.HandleFunc("GET /api/themes/{id}/questions", s.handleThemeQuestions())
	api.HandleFunc("DELETE /api/themes/{id}", s.handleDeleteTheme())

	api.HandleFunc("GET /api/history", s.handleHistory())
	api.HandleFunc("POST /api/results", s.handlePostResult())
	api.HandleFunc("POST /api/errors/{theme}/{question}", s.handlePostError())
	api.HandleFunc("GET /api/stats", s.handleStats())
	api.HandleFunc("GET /api/dashboard", s.handleDashboard())

	api.HandleFunc("GET /api/export", s.handleExport())
	api.HandleFunc("POST /api/import", s.handleImport())

	api.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "unknown endpoint")
	})

	s.router.Handle("/api/", promhttp.InstrumentHandlerCounter(apiRequests, api))
	s.router.HandleFunc("GET /healthz", s.handleHealth())
	if s.metrics {
		s.router.Handle("GET /metrics", promhttp.Handler())
	}

	// Everything else is the application itself, served through the
	// cache manager so that it keeps working offline.
	s.router.Handle("/", s.manager)
}

type health struct {
	Status     string `json:"status"`
	Cache      string `json:"cache"`
	Generation string `json:"generation"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, health{
			Status:     "ok",
			Cache:      s.manager.State().String(),
			Generation: s.manager.Generation().Version,
		})
	}
}

type apiError struct {
	Error  string         `json:"error"`
	Report *themes.Report `json:"report,omitempty"`
	Fields []string       `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// internalError logs err and answers 500 without leaking details.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// readBody reads at most limit bytes of the request body. It reports
// false after answering the request itself.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}
