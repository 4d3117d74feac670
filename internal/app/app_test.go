package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bad33ndj3/mcp-md-index/internal/config"
	"github.com/bad33ndj3/mcp-md-index/internal/index"
	"github.com/bad33ndj3/mcp-md-index/internal/store"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "index.db"), MaxConcurrentFetches: 1, EnableFTS: true}
	a, err := Create(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestCreate_WithFTSDisabledOnEmptyDatabaseHasNoChunks(t *testing.T) {
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "index.db"), MaxConcurrentFetches: 1, EnableFTS: false}
	a, err := Create(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 0, a.Index().ChunkCount())
}

func TestWithReadLock_SeesActiveStoreAndIndex(t *testing.T) {
	a := newTestApp(t)

	var seenStore *store.Store
	var seenIndex *index.Index
	err := a.WithReadLock(func(s *store.Store, idx *index.Index) error {
		seenStore = s
		seenIndex = idx
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, a.Store(), seenStore)
	assert.Same(t, a.Index(), seenIndex)
}

func TestSwap_WithReadLockObservesNewStoreAfterSwap(t *testing.T) {
	a := newTestApp(t)

	newStore, err := store.Open(filepath.Join(t.TempDir(), "index2.db"), false)
	require.NoError(t, err)
	newIndex := index.New()

	require.NoError(t, a.Swap(newStore, newIndex))

	err = a.WithReadLock(func(s *store.Store, idx *index.Index) error {
		assert.Same(t, newStore, s)
		assert.Same(t, newIndex, idx)
		return nil
	})
	require.NoError(t, err)
}
