// Package offline is the offline-first caching front of the study app.
//
// A Manager owns one cache Generation. Install fills the precache from a
// fixed manifest, Activate purges every older generation, and once active
// the manager answers each GET with the strategy matching its resource
// class: stale-while-revalidate for theme data, cache-first for core
// assets, network-first for everything else. Network failures never
// surface as errors; they resolve to cached copies, the application shell
// or an explicit offline response.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle position of a generation.
type State int32

const (
	StateIdle State = iota
	StateInstalling
	StateWaiting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotInstalled is returned by Activate before a successful Install.
var ErrNotInstalled = errors.New("generation is not installed")

// Defaults applied by New.
const (
	DefaultDataPrefix         = "/data/"
	DefaultDataSuffix         = ".json"
	DefaultShellPath          = "/index.html"
	DefaultInstallConcurrency = 8
)

// Config describes one cache generation.
type Config struct {
	// Version tags the generation's partitions. Bump it whenever the
	// manifest or the caching rules change.
	Version string

	// Manifest lists the absolute paths of the core assets.
	Manifest []string

	// DataPrefix and DataSuffix identify per-theme data resources.
	DataPrefix string
	DataSuffix string

	// ShellPath is the application shell served to offline navigations.
	ShellPath string

	// FallbackMessage is the message of the offline fallback document.
	FallbackMessage string

	// InstallConcurrency bounds parallel manifest fetches.
	InstallConcurrency int
}

// Manager routes requests through the cache partitions of one generation.
type Manager struct {
	cfg     Config
	gen     Generation
	storage CacheStorage
	fetcher Fetcher
	now     func() time.Time

	state atomic.Int32
	bg    sync.WaitGroup
}

// New creates a manager for cfg.Version over storage, fetching from fetcher.
func New(cfg Config, storage CacheStorage, fetcher Fetcher) (*Manager, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("cache version is required")
	}
	if storage == nil || fetcher == nil {
		return nil, fmt.Errorf("cache storage and fetcher are required")
	}
	if cfg.DataPrefix == "" {
		cfg.DataPrefix = DefaultDataPrefix
	}
	if cfg.DataSuffix == "" {
		cfg.DataSuffix = DefaultDataSuffix
	}
	if cfg.ShellPath == "" {
		cfg.ShellPath = DefaultShellPath
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = DefaultFallbackMessage
	}
	if cfg.InstallConcurrency <= 0 {
		cfg.InstallConcurrency = DefaultInstallConcurrency
	}
	cfg.Manifest = append([]string(nil), cfg.Manifest...)

	return &Manager{
		cfg:     cfg,
		gen:     Generation{Version: cfg.Version},
		storage: storage,
		fetcher: fetcher,
		now:     time.Now,
	}, nil
}

// Generation returns the manager's cache generation.
func (m *Manager) Generation() Generation {
	return m.gen
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// InstallReport lists which manifest assets were precached.
type InstallReport struct {
	Cached []string
	Failed []string
}

// Install fetches every manifest asset into the precache partition.
// Individual failures are logged and reported but never abort the
// install; once every fetch has settled the generation is Waiting.
func (m *Manager) Install(ctx context.Context) (InstallReport, error) {
	var report InstallReport

	m.state.Store(int32(StateInstalling))
	slog.Info("installing cache generation", "version", m.gen.Version, "assets", len(m.cfg.Manifest))

	precache := m.gen.Precache()
	if err := m.storage.Open(ctx, precache); err != nil {
		m.state.Store(int32(StateIdle))
		return report, fmt.Errorf("failed to open precache %s: %w", precache, err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(m.cfg.InstallConcurrency)

	for _, asset := range m.cfg.Manifest {
		g.Go(func() error {
			err := m.precache(ctx, asset)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("precache failed", "asset", asset, "error", err)
				precacheFailures.Inc()
				report.Failed = append(report.Failed, asset)
				return nil
			}
			report.Cached = append(report.Cached, asset)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Cached)
	sort.Strings(report.Failed)

	if len(report.Failed) == 0 {
		slog.Info("all assets precached", "version", m.gen.Version, "cached", len(report.Cached))
	} else {
		slog.Warn("some assets were not precached",
			"version", m.gen.Version,
			"cached", len(report.Cached),
			"failed", len(report.Failed),
		)
	}

	m.state.Store(int32(StateWaiting))
	return report, nil
}

func (m *Manager) precache(ctx context.Context, asset string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
	if err != nil {
		return fmt.Errorf("invalid manifest path: %w", err)
	}
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%s: status %d", asset, resp.StatusCode)
	}
	return m.storage.Put(ctx, m.gen.Precache(), newEntry(keyFor(req), resp, m.now()))
}

// Activate deletes every partition of older generations, then takes
// control of incoming requests. It returns the purged partition names.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	if s := m.State(); s != StateWaiting && s != StateActive {
		return nil, fmt.Errorf("cannot activate %s from %s: %w", m.gen.Version, s, ErrNotInstalled)
	}
	slog.Info("activating cache generation", "version", m.gen.Version)

	names, err := m.storage.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache partitions: %w", err)
	}

	var purged []string
	for _, name := range names {
		if !m.gen.Stale(name) {
			continue
		}
		if err := m.storage.DeletePartition(ctx, name); err != nil {
			return purged, fmt.Errorf("failed to delete partition %s: %w", name, err)
		}
		slog.Info("deleted stale cache partition", "partition", name)
		purged = append(purged, name)
	}

	if err := m.storage.Open(ctx, m.gen.Runtime()); err != nil {
		return purged, fmt.Errorf("failed to open runtime partition: %w", err)
	}

	m.state.Store(int32(StateActive))
	slog.Info("cache generation active", "version", m.gen.Version, "purged", len(purged))
	return purged, nil
}

// Wait blocks until every background revalidation has finished.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// Fetch routes req through the manager and always yields a response.
func (m *Manager) Fetch(ctx context.Context, req *http.Request) Result {
	strategy := m.Classify(req)

	var res Result
	switch strategy {
	case StrategyStaleWhileRevalidate:
		res = m.staleWhileRevalidate(ctx, req)
	case StrategyCacheFirst:
		res = m.cacheFirst(ctx, req)
	case StrategyNetworkFirst:
		res = m.networkFirst(ctx, req)
	default:
		res = m.bypass(ctx, req)
	}
	res.Strategy = strategy

	responsesServed.WithLabelValues(string(strategy), string(res.Source)).Inc()
	return res
}

// CacheHeader names the response header carrying the Result source.
const CacheHeader = "X-Ergo-Cache"

// ServeHTTP implements http.Handler.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := m.Fetch(r.Context(), r)

	h := w.Header()
	for k, vs := range res.Response.Header {
		h[k] = append([]string(nil), vs...)
	}
	h.Set(CacheHeader, string(res.Source))
	w.WriteHeader(res.Response.StatusCode)
	if r.Method != http.MethodHead {
		_, _ = w.Write(res.Response.Body)
	}
}
