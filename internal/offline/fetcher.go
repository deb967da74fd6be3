package offline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Fetcher retrieves resources from the content origin.
// A returned error means the origin could not be reached at all; HTTP
// error statuses are reported through the Response.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*Response, error)
}

// hopHeaders are not forwarded to the origin.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// HTTPFetcher fetches from a remote origin over HTTP.
type HTTPFetcher struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPFetcher creates a fetcher that resolves request paths against origin.
func NewHTTPFetcher(origin string, client *http.Client) (*HTTPFetcher, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin URL %q: %w", origin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin URL %q must be http or https", origin)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, origin: u}, nil
}

// Fetch forwards req to the origin and buffers the response.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	target := *f.origin
	target.Path = strings.TrimSuffix(f.origin.Path, "/") + req.URL.Path
	target.RawPath = ""
	target.RawQuery = req.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to build origin request: %w", err)
	}
	out.Header = req.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	// Cache keys ignore content coding, so let the transport negotiate
	// gzip and hand back the decoded body.
	out.Header.Del("Accept-Encoding")
	out.ContentLength = req.ContentLength

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL.Path, err)
	}
	return readResponse(resp)
}

// HandlerFetcher serves requests from an in-process handler, typically a
// file server over a local content directory.
type HandlerFetcher struct {
	handler http.Handler
}

// NewHandlerFetcher wraps h as a Fetcher.
func NewHandlerFetcher(h http.Handler) *HandlerFetcher {
	return &HandlerFetcher{handler: h}
}

// Fetch runs req through the wrapped handler.
func (f *HandlerFetcher) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &bufferedWriter{header: http.Header{}}
	f.handler.ServeHTTP(w, req.Clone(ctx))
	if w.overflow {
		return nil, fmt.Errorf("response body of %s exceeds %d bytes", req.URL.Path, maxBodySize)
	}
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return &Response{StatusCode: w.status, Header: w.header, Body: w.body.Bytes()}, nil
}

// bufferedWriter collects a handler's response in memory.
type bufferedWriter struct {
	header   http.Header
	status   int
	body     bytes.Buffer
	overflow bool
}

func (w *bufferedWriter) Header() http.Header {
	return w.header
}

func (w *bufferedWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.body.Len()+len(p) > maxBodySize {
		w.overflow = true
		return 0, fmt.Errorf("response body exceeds %d bytes", maxBodySize)
	}
	return w.body.Write(p)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*Response, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	return f(ctx, req)
}
