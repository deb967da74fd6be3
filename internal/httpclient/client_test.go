package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFillsDefaults(t *testing.T) {
	c := New(ClientConfig{})
	assert.Equal(t, DefaultConfig().Timeout, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, DefaultConfig().ResponseHeaderTimeout, tr.ResponseHeaderTimeout)
	assert.Equal(t, DefaultConfig().MaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
}

func TestNewTimesOutSlowOrigin(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(ClientConfig{Timeout: 50 * time.Millisecond})
	_, err := c.Get(srv.URL)
	assert.Error(t, err)
}
