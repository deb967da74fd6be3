package offline

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// Strategy names the caching policy applied to a request.
type Strategy string

const (
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
	StrategyCacheFirst           Strategy = "cache-first"
	StrategyNetworkFirst         Strategy = "network-first"
	StrategyBypass               Strategy = "bypass"
)

// Classify picks the strategy for req. Non-GET requests, and every
// request before activation, bypass the caches.
func (m *Manager) Classify(req *http.Request) Strategy {
	if req.Method != http.MethodGet || m.State() != StateActive {
		return StrategyBypass
	}
	p := req.URL.Path
	switch {
	case m.isDataResource(p):
		return StrategyStaleWhileRevalidate
	case m.isCoreAsset(p):
		return StrategyCacheFirst
	default:
		return StrategyNetworkFirst
	}
}

func (m *Manager) isDataResource(p string) bool {
	return strings.HasPrefix(p, m.cfg.DataPrefix) && strings.HasSuffix(p, m.cfg.DataSuffix)
}

// isCoreAsset matches a manifest entry exactly or as a path suffix, so
// "/app/js/app.js" is core when "/js/app.js" is in the manifest.
func (m *Manager) isCoreAsset(p string) bool {
	for _, asset := range m.cfg.Manifest {
		if p == asset || strings.HasSuffix(p, asset) {
			return true
		}
	}
	return false
}

// IsNavigation reports whether req loads a document rather than a
// subresource.
func IsNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Dest") == "document" || req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func (m *Manager) staleWhileRevalidate(ctx context.Context, req *http.Request) Result {
	runtime := m.gen.Runtime()
	key := keyFor(req)

	if cached := m.match(ctx, runtime, key); cached != nil {
		slog.Debug("serving cached data, revalidating", "url", req.URL.Path)
		m.revalidate(ctx, req, cached)
		return Result{Response: cached.Response(), Source: SourceRuntime}
	}

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		slog.Warn("data resource unavailable offline", "url", req.URL.Path, "error", err)
		return Result{Response: fallbackResponse(m.cfg.FallbackMessage), Source: SourceFallback}
	}
	if resp.OK() {
		m.put(ctx, runtime, key, resp)
	}
	return Result{Response: resp, Source: SourceNetwork}
}

// revalidate refreshes a cached data resource in the background. Its
// failures are only counted; the stale copy stays in place.
func (m *Manager) revalidate(ctx context.Context, req *http.Request, cached *Entry) {
	bgCtx := context.WithoutCancel(ctx)
	bgReq := req.Clone(bgCtx)
	bgReq.Body = http.NoBody
	runtime := m.gen.Runtime()

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()

		resp, err := m.fetcher.Fetch(bgCtx, bgReq)
		if err != nil {
			revalidations.WithLabelValues("failed").Inc()
			slog.Debug("revalidation failed", "url", bgReq.URL.Path, "error", err)
			return
		}
		if !resp.OK() {
			revalidations.WithLabelValues("rejected").Inc()
			slog.Debug("revalidation rejected", "url", bgReq.URL.Path, "status", resp.StatusCode)
			return
		}

		entry := newEntry(cached.Key, resp, m.now())
		if err := m.storage.Put(bgCtx, runtime, entry); err != nil {
			revalidations.WithLabelValues("failed").Inc()
			slog.Warn("failed to store revalidated entry", "url", bgReq.URL.Path, "error", err)
			return
		}
		if entry.Digest == cached.Digest {
			revalidations.WithLabelValues("unchanged").Inc()
			return
		}
		revalidations.WithLabelValues("updated").Inc()
		slog.Info("cache updated", "url", bgReq.URL.Path)
	}()
}

func (m *Manager) cacheFirst(ctx context.Context, req *http.Request) Result {
	precache := m.gen.Precache()
	key := keyFor(req)

	if cached := m.match(ctx, precache, key); cached != nil {
		return Result{Response: cached.Response(), Source: SourcePrecache}
	}

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		slog.Warn("core asset unavailable offline", "url", req.URL.Path, "error", err)
		if IsNavigation(req) {
			if shell := m.match(ctx, precache, RequestKey(http.MethodGet, m.cfg.ShellPath)); shell != nil {
				return Result{Response: shell.Response(), Source: SourceShell}
			}
		}
		return Result{Response: offlineResponse(http.StatusServiceUnavailable), Source: SourceOffline}
	}
	if resp.OK() {
		m.put(ctx, precache, key, resp)
	}
	return Result{Response: resp, Source: SourceNetwork}
}

func (m *Manager) networkFirst(ctx context.Context, req *http.Request) Result {
	runtime := m.gen.Runtime()
	key := keyFor(req)

	resp, err := m.fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.OK() {
			m.put(ctx, runtime, key, resp)
		}
		return Result{Response: resp, Source: SourceNetwork}
	}

	if cached := m.match(ctx, runtime, key); cached != nil {
		slog.Debug("network failed, serving runtime copy", "url", req.URL.Path)
		return Result{Response: cached.Response(), Source: SourceRuntime}
	}
	if IsNavigation(req) {
		shellKey := RequestKey(http.MethodGet, m.cfg.ShellPath)
		for _, partition := range []string{m.gen.Precache(), runtime} {
			if shell := m.match(ctx, partition, shellKey); shell != nil {
				return Result{Response: shell.Response(), Source: SourceShell}
			}
		}
	}
	slog.Warn("resource unavailable offline", "url", req.URL.Path, "error", err)
	return Result{Response: offlineResponse(http.StatusServiceUnavailable), Source: SourceOffline}
}

func (m *Manager) bypass(ctx context.Context, req *http.Request) Result {
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		slog.Warn("origin unreachable", "method", req.Method, "url", req.URL.Path, "error", err)
		return Result{Response: offlineResponse(http.StatusBadGateway), Source: SourceOffline}
	}
	return Result{Response: resp, Source: SourceBypass}
}

// match looks key up in partition. Storage errors count as a miss.
func (m *Manager) match(ctx context.Context, partition, key string) *Entry {
	e, err := m.storage.Match(ctx, partition, key)
	if err != nil {
		slog.Warn("cache lookup failed", "partition", partition, "key", key, "error", err)
		return nil
	}
	return e
}

// put stores resp; a failed write only costs a future cache hit.
func (m *Manager) put(ctx context.Context, partition, key string, resp *Response) {
	if err := m.storage.Put(ctx, partition, newEntry(key, resp, m.now())); err != nil {
		slog.Warn("cache write failed", "partition", partition, "key", key, "error", err)
	}
}
