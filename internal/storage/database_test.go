package storage

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/ergoquiz/internal/offline"
	"github.com/conorfennell/ergoquiz/internal/store"
	"github.com/conorfennell/ergoquiz/internal/store/storetest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ergoquiz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var (
	_ store.Store          = (*DB)(nil)
	_ offline.CacheStorage = (*DB)(nil)
)

func TestKeyValueStore(t *testing.T) {
	storetest.Run(t, openTestDB(t))
}

func TestKeyValuePersistsAcrossConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ergoquiz.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Set(ctx, store.KeyHistory, []byte(`[{"at":5}]`)))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.Get(ctx, store.KeyHistory)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"at":5}]`, string(v))
}

func TestSetManyRollsBackOnCancelledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.SetMany(ctx, map[string][]byte{store.KeyHistory: []byte(`[]`), store.KeyErrors: []byte(`{}`)})
	require.Error(t, err)

	for _, k := range []string{store.KeyHistory, store.KeyErrors} {
		v, err := db.Get(context.Background(), k)
		require.NoError(t, err)
		assert.Nil(t, v, k)
	}
}

func TestCachePartitions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Open(ctx, "ergo-runtime-v1"))
	require.NoError(t, db.Open(ctx, "ergo-runtime-v1"), "opening twice")

	stored := time.Unix(1700000000, 42)
	header := http.Header{"Content-Type": {"application/json"}}
	require.NoError(t, db.Put(ctx, "ergo-precache-v1", &offline.Entry{
		Key:        "GET /index.html",
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       []byte("shell"),
		StoredAt:   stored,
		Digest:     ^uint64(0),
	}))

	names, err := db.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ergo-precache-v1", "ergo-runtime-v1"}, names)

	e, err := db.Match(ctx, "ergo-precache-v1", "GET /index.html")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, http.StatusOK, e.StatusCode)
	assert.Equal(t, "application/json", e.Header.Get("Content-Type"))
	assert.Equal(t, "shell", string(e.Body))
	assert.Equal(t, ^uint64(0), e.Digest)
	assert.True(t, e.StoredAt.Equal(stored))

	miss, err := db.Match(ctx, "ergo-runtime-v1", "GET /index.html")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, db.Put(ctx, "ergo-precache-v1", &offline.Entry{Key: "GET /index.html", StatusCode: 200, Body: []byte("shell v2")}))
	e, err = db.Match(ctx, "ergo-precache-v1", "GET /index.html")
	require.NoError(t, err)
	assert.Equal(t, "shell v2", string(e.Body))

	require.NoError(t, db.DeletePartition(ctx, "ergo-precache-v1"))
	names, err = db.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ergo-runtime-v1"}, names)

	e, err = db.Match(ctx, "ergo-precache-v1", "GET /index.html")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestCacheSurvivesRestartForOfflineServing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ergoquiz.db")
	ctx := context.Background()
	online := true
	origin := offline.FetcherFunc(func(ctx context.Context, req *http.Request) (*offline.Response, error) {
		if !online {
			return nil, context.DeadlineExceeded
		}
		return &offline.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("body of " + req.URL.Path)}, nil
	})
	cfg := offline.Config{Version: "v1", Manifest: []string{"/index.html"}}

	db, err := Open(path)
	require.NoError(t, err)
	m, err := offline.New(cfg, db, origin)
	require.NoError(t, err)
	_, err = m.Install(ctx)
	require.NoError(t, err)
	_, err = m.Activate(ctx)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodGet, "/data/t1.json", nil)
	m.Fetch(ctx, req)
	m.Wait()
	require.NoError(t, db.Close())

	online = false
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	m, err = offline.New(cfg, db, origin)
	require.NoError(t, err)
	_, err = m.Install(ctx)
	require.NoError(t, err)
	_, err = m.Activate(ctx)
	require.NoError(t, err)

	req, _ = http.NewRequest(http.MethodGet, "/data/t1.json", nil)
	res := m.Fetch(ctx, req)
	m.Wait()
	assert.Equal(t, offline.SourceRuntime, res.Source)
	assert.Equal(t, "body of /data/t1.json", string(res.Response.Body))

	req, _ = http.NewRequest(http.MethodGet, "/index.html", nil)
	res = m.Fetch(ctx, req)
	assert.Equal(t, offline.SourcePrecache, res.Source)
}
