package offline

import (
	"encoding/json"
	"net/http"
)

// Source says where a served response came from. Callers use it to tell
// live data apart from degraded answers.
type Source string

const (
	SourceNetwork  Source = "network"
	SourcePrecache Source = "precache"
	SourceRuntime  Source = "runtime"
	SourceShell    Source = "shell"
	SourceFallback Source = "fallback"
	SourceOffline  Source = "offline"
	SourceBypass   Source = "bypass"
)

// Degraded reports whether the response is a stand-in for data the
// manager could not obtain.
func (s Source) Degraded() bool {
	return s == SourceShell || s == SourceFallback || s == SourceOffline
}

// Result is the outcome of routing one request through the manager.
// It is never empty: network failures resolve to a fallback Response.
type Result struct {
	Response *Response
	Source   Source
	Strategy Strategy
}

// OfflineUnavailable is the error marker of the fallback document.
const OfflineUnavailable = "offline_unavailable"

// DefaultFallbackMessage is used when Config.FallbackMessage is empty.
const DefaultFallbackMessage = "Resource unavailable offline."

// FallbackDocument is served for a data resource that is neither cached
// nor reachable. It is shaped like a theme question document.
type FallbackDocument struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Questions []json.RawMessage `json:"questions"`
}

func fallbackResponse(message string) *Response {
	body, _ := json.Marshal(FallbackDocument{
		Error:     OfflineUnavailable,
		Message:   message,
		Questions: []json.RawMessage{},
	})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{StatusCode: http.StatusOK, Header: h, Body: body}
}

func offlineResponse(status int) *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{StatusCode: status, Header: h, Body: []byte("Offline")}
}
