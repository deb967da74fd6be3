package offline

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Path", r.URL.Path)
		w.Header().Set("X-Query", r.URL.RawQuery)
		w.WriteHeader(http.StatusCreated)
		w.Write(append([]byte(r.Method+":"), body...))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL+"/base/", srv.Client())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/data/t.json?v=2", strings.NewReader("payload"))
	resp, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/base/data/t.json", resp.Header.Get("X-Path"))
	assert.Equal(t, "v=2", resp.Header.Get("X-Query"))
	assert.Equal(t, "POST:payload", string(resp.Body))
}

func TestHTTPFetcherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f, err := NewHTTPFetcher(url, nil)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Error(t, err)
}

func TestNewHTTPFetcherRejectsBadOrigins(t *testing.T) {
	_, err := NewHTTPFetcher("ftp://example.com", nil)
	assert.Error(t, err)
	_, err = NewHTTPFetcher("://bad", nil)
	assert.Error(t, err)
}

func TestHandlerFetcher(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("shell"))
	})
	f := NewHandlerFetcher(mux)

	resp, err := f.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/index.html", nil))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "shell", string(resp.Body))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Error(t, err)
}

func TestHandlerFetcherDefaultsStatusAndKeepsHeaders(t *testing.T) {
	f := NewHandlerFetcher(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))

	resp, err := f.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/data/a.json", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	f = NewHandlerFetcher(http.NotFoundHandler())
	resp, err = f.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// gzipOrigin compresses every response whose request accepts gzip.
func gzipOrigin(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			io.WriteString(w, body)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		io.WriteString(zw, body)
		zw.Close()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcherDecodesCompressedOrigin(t *testing.T) {
	srv := gzipOrigin(t, `{"questions":[]}`)
	f, err := NewHTTPFetcher(srv.URL, srv.Client())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/data/t.json", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	resp, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.JSONEq(t, `{"questions":[]}`, string(resp.Body))
}

func TestCachedCompressedDataStaysReadable(t *testing.T) {
	srv := gzipOrigin(t, `{"questions":[{"id":"a"}]}`)
	fetcher, err := NewHTTPFetcher(srv.URL, srv.Client())
	require.NoError(t, err)
	m := newActiveManager(t, Config{Version: "gz"}, NewMemoryStorage(), fetcher)

	browser := httptest.NewRequest(http.MethodGet, "/data/t.json", nil)
	browser.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, browser)
	require.Equal(t, http.StatusOK, rec.Code)
	m.Wait()

	res := m.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/data/t.json", nil))
	m.Wait()
	assert.Equal(t, SourceRuntime, res.Source)
	assert.Empty(t, res.Response.Header.Get("Content-Encoding"))
	assert.True(t, json.Valid(res.Response.Body), "cached body is decoded JSON")
}
