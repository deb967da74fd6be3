package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/ergoquiz/internal/store"
	"github.com/conorfennell/ergoquiz/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, store.NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	storetest.Run(t, store.NewFileStore(filepath.Join(t.TempDir(), "nested", "progress.json")))
}

func TestFileStoreEmptyPath(t *testing.T) {
	s := store.NewFileStore("")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.KeyHistory, []byte(`[]`)))
	v, err := s.Get(ctx, store.KeyHistory)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFileStoreInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte("not valid json"), 0o644))

	s := store.NewFileStore(path)
	_, err := s.Get(context.Background(), store.KeyHistory)
	assert.Error(t, err)

	err = s.Set(context.Background(), store.KeyHistory, []byte(`[]`))
	assert.Error(t, err, "a corrupt file must not be silently overwritten")
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	ctx := context.Background()

	require.NoError(t, store.NewFileStore(path).Set(ctx, store.KeyErrors, []byte(`{"t":{"q":3}}`)))

	v, err := store.NewFileStore(path).Get(ctx, store.KeyErrors)
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":{"q":3}}`, string(v))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("ERGOQUIZ_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ERGOQUIZ_TEST_REDIS_URL not set")
	}
	s, err := store.NewRedisStore(context.Background(), store.RedisConfig{
		URL:    url,
		Prefix: "ergoquiz-test:" + t.Name() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, k := range append(store.Keys, "missing") {
			_ = s.Delete(context.Background(), k)
		}
		s.Close()
	})
	storetest.Run(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, store.Config{Backend: store.BackendMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)

	s, err = store.Open(ctx, store.Config{Backend: store.BackendFile, FilePath: filepath.Join(t.TempDir(), "p.json")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &store.FileStore{}, s)

	_, err = store.Open(ctx, store.Config{Backend: store.BackendSQLite}, nil)
	assert.Error(t, err)

	_, err = store.Open(ctx, store.Config{Backend: "etcd"}, nil)
	assert.Error(t, err)

	called := false
	_, err = store.Open(ctx, store.Config{Backend: store.BackendSQLite}, func() (store.Store, error) {
		called = true
		return store.NewMemoryStore(), nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
