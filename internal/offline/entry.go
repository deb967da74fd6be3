package offline

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
)

// maxBodySize bounds how much of a single origin response is buffered.
const maxBodySize = 32 << 20

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Entry is a cached response keyed by request identity.
type Entry struct {
	Key        string
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
	Digest     uint64
}

// Response returns a copy of the entry as a Response.
func (e *Entry) Response() *Response {
	return &Response{
		StatusCode: e.StatusCode,
		Header:     e.Header.Clone(),
		Body:       append([]byte(nil), e.Body...),
	}
}

// RequestKey is the identity used to match cached entries: method plus
// path and query. Host is ignored; a manager fronts a single origin.
func RequestKey(method, requestURI string) string {
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + requestURI
}

func keyFor(req *http.Request) string {
	return RequestKey(req.Method, req.URL.RequestURI())
}

func newEntry(key string, resp *Response, now time.Time) *Entry {
	return &Entry{
		Key:        key,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       append([]byte(nil), resp.Body...),
		StoredAt:   now,
		Digest:     xxhash.Sum64(resp.Body),
	}
}

// readResponse buffers and closes an origin response.
func readResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBodySize)
	}

	header := resp.Header.Clone()
	header.Del("Content-Length")
	return &Response{StatusCode: resp.StatusCode, Header: header, Body: body}, nil
}
