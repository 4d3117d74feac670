// Package app wires together the store, in-memory index, and fetcher into
// the running server's shared state, and owns the brief swap-mutex used by
// the refresh coordinator to atomically hand readers a freshly rebuilt
// store and index.
package app

import (
	"fmt"
	"sync"

	"github.com/bad33ndj3/mcp-md-index/internal/config"
	"github.com/bad33ndj3/mcp-md-index/internal/fetcher"
	"github.com/bad33ndj3/mcp-md-index/internal/index"
	"github.com/bad33ndj3/mcp-md-index/internal/store"
)

// App holds the server's live collaborators. All tool handlers read Store
// and Index through their accessors rather than holding a reference,
// because Swap replaces both out from under them on every refresh.
type App struct {
	Config *config.Config

	mu    sync.RWMutex
	store *store.Store
	index *index.Index

	Fetcher *fetcher.Fetcher
}

// Create opens (creating if absent) the database at cfg.DBPath, builds the
// in-memory index from whatever documents already exist, and wires a
// Fetcher bounded by cfg.MaxConcurrentFetches.
func Create(cfg *config.Config) (*App, error) {
	st, err := store.Open(cfg.DBPath, false)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	idx := index.NewWithFTS(cfg.EnableFTS)
	if err := idx.Build(st); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("app: build index: %w", err)
	}

	return &App{
		Config:  cfg,
		store:   st,
		index:   idx,
		Fetcher: fetcher.New(cfg.MaxConcurrentFetches),
	}, nil
}

// Store returns the currently active store. Callers that only need a
// pointer for the lifetime of this call (e.g. passing it straight into
// WithReadLock's fn) are fine; anything that runs a query against the
// result afterward must go through WithReadLock instead, or it risks
// reading from a store a concurrent Swap has already closed.
func (a *App) Store() *store.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store
}

// Index returns the currently active in-memory index. See Store's caveat:
// prefer WithReadLock for anything that queries it.
func (a *App) Index() *index.Index {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index
}

// WithReadLock runs fn with the store and index active at the time of the
// call, holding the swap mutex in shared mode for fn's entire duration.
// This is the read-side quiescence SPEC_FULL §6.5 requires: a concurrent
// Swap's exclusive Lock cannot proceed (and so cannot close the store
// underneath fn) until every in-flight WithReadLock call has returned.
func (a *App) WithReadLock(fn func(s *store.Store, idx *index.Index) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return fn(a.store, a.index)
}

// Swap atomically replaces the active store and index with newStore and
// newIndex, then closes the previous store unless it is newStore itself
// (a swap that only replaces the index). The exclusive lock acquired
// here cannot be granted while any WithReadLock call is still in flight
// against the old store, so by the time old.Close() runs, nothing is still
// reading from it; this is the "brief in-process quiescence" refresh's
// atomic swap step is allowed (spec.md §4.6 step 4, §5).
func (a *App) Swap(newStore *store.Store, newIndex *index.Index) error {
	a.mu.Lock()
	old := a.store
	a.store = newStore
	a.index = newIndex
	a.mu.Unlock()

	if old != nil && old != newStore {
		return old.Close()
	}
	return nil
}

// Close releases the active store.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
