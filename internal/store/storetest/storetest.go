// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/ergoquiz/internal/store"
)

// Run exercises s against the Store contract. s must start empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("MissingKeyIsNil", func(t *testing.T) {
		v, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("SetGetRoundTrip", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, store.KeyHistory, []byte(`[{"at":1}]`)))
		v, err := s.Get(ctx, store.KeyHistory)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"at":1}]`, string(v))
	})

	t.Run("SetReplaces", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, store.KeyErrors, []byte(`{"a":{"q1":1}}`)))
		require.NoError(t, s.Set(ctx, store.KeyErrors, []byte(`{"a":{"q1":2}}`)))
		v, err := s.Get(ctx, store.KeyErrors)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":{"q1":2}}`, string(v))
	})

	t.Run("SetManyWritesEveryKey", func(t *testing.T) {
		err := s.SetMany(ctx, map[string][]byte{
			store.KeyHistory: []byte(`[]`),
			store.KeyErrors:  []byte(`{}`),
			store.KeyStats:   []byte(`{"t":{"sessions":[]}}`),
		})
		require.NoError(t, err)

		for key, want := range map[string]string{
			store.KeyHistory: `[]`,
			store.KeyErrors:  `{}`,
			store.KeyStats:   `{"t":{"sessions":[]}}`,
		} {
			v, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.JSONEq(t, want, string(v), key)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, store.KeyCustomThemes, []byte(`{}`)))
		require.NoError(t, s.Delete(ctx, store.KeyCustomThemes))
		v, err := s.Get(ctx, store.KeyCustomThemes)
		require.NoError(t, err)
		assert.Nil(t, v)

		require.NoError(t, s.Delete(ctx, store.KeyCustomThemes), "deleting twice")
	})

	t.Run("CorruptValueIsReturnedVerbatim", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, store.KeyStats, []byte(`{not json`)))
		v, err := s.Get(ctx, store.KeyStats)
		require.NoError(t, err)
		assert.Equal(t, `{not json`, string(v))
	})
}
