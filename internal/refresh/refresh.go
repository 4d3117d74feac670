// Package refresh implements the periodic and on-demand refresh of the
// document store: fetching every configured source, writing the results
// into a shadow copy of the database, and atomically swapping it in so
// readers never observe a half-written index. When an atomic rename is not
// available (e.g. the shadow copy lives on a different filesystem) it
// falls back to writing the live store directly under the same lock.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/bad33ndj3/mcp-md-index/internal/app"
	"github.com/bad33ndj3/mcp-md-index/internal/chunker"
	"github.com/bad33ndj3/mcp-md-index/internal/domain"
	"github.com/bad33ndj3/mcp-md-index/internal/index"
	"github.com/bad33ndj3/mcp-md-index/internal/store"
)

// SourceRefreshStats reports what happened to one configured source during
// a refresh.
type SourceRefreshStats struct {
	Name     string
	URL      string
	DocCount int
	Errors   []string
}

// Result summarizes the outcome of a single refresh cycle.
type Result struct {
	RefreshedCount   int
	IndexedDocuments int
	IndexedChunks    int
	Sources          []SourceRefreshStats
	Errors           []string
	Skipped          bool
	Reason           string
}

// sourceFetch is the fetch-phase output for one configured source, carried
// unlocked into the write phase.
type sourceFetch struct {
	source domain.Source
	docs   []domain.Document
	errs   []string
}

// Coordinator drives refresh cycles for an App.
type Coordinator struct {
	app     *app.App
	chunker *chunker.Chunker
	logger  *slog.Logger
}

// New returns a Coordinator for the given App.
func New(a *app.App, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{app: a, chunker: chunker.New(), logger: logger}
}

// Do runs one refresh cycle: fetch every configured source (unlocked),
// then acquire the cross-process lock and write the results into a shadow
// copy of the database before swapping it in.
func (c *Coordinator) Do(ctx context.Context) (*Result, error) {
	cfg := c.app.Config

	fetchResults := make([]sourceFetch, len(cfg.Sources))
	for i, src := range cfg.Sources {
		docs, errs := c.app.Fetcher.FetchSource(ctx, src)
		fetchResults[i] = sourceFetch{source: src, docs: docs, errs: errs}
	}

	lock := newFileLock(cfg.DBPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return &Result{Skipped: true, Reason: "Refresh locked by another instance"}, nil
	}
	defer func() { _ = lock.Unlock() }()

	result, err := c.writeShadow(cfg.DBPath, fetchResults)
	if err == nil {
		return result, nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return nil, err
	}

	c.logger.Warn("refresh_shadow_rename_unavailable_falling_back", slog.String("error", err.Error()))
	return c.writeSingleWriter(cfg.DBPath, fetchResults)
}

func (c *Coordinator) writeShadow(dbPath string, fetchResults []sourceFetch) (*Result, error) {
	shadowPath := dbPath + ".tmp"
	_ = os.Remove(shadowPath)
	if err := store.CopyFile(dbPath, shadowPath); err != nil {
		return nil, fmt.Errorf("refresh: copy shadow: %w", err)
	}
	defer os.Remove(shadowPath)

	shadowStore, err := store.Open(shadowPath, false)
	if err != nil {
		return nil, fmt.Errorf("refresh: open shadow: %w", err)
	}

	result := c.writeAllSources(shadowStore, fetchResults)

	newIndex := index.NewWithFTS(c.app.Config.EnableFTS)
	if err := newIndex.Build(shadowStore); err != nil {
		_ = shadowStore.Close()
		return nil, fmt.Errorf("refresh: build index on shadow: %w", err)
	}
	if err := shadowStore.Close(); err != nil {
		return nil, fmt.Errorf("refresh: close shadow: %w", err)
	}

	if err := os.Rename(shadowPath, dbPath); err != nil {
		return nil, err
	}

	newStore, err := store.Open(dbPath, false)
	if err != nil {
		return nil, fmt.Errorf("refresh: reopen after swap: %w", err)
	}
	if err := newIndex.Build(newStore); err != nil {
		_ = newStore.Close()
		return nil, fmt.Errorf("refresh: rebuild index after swap: %w", err)
	}

	if err := c.app.Swap(newStore, newIndex); err != nil {
		return nil, fmt.Errorf("refresh: swap: %w", err)
	}

	return result, nil
}

// writeSingleWriter writes directly to the live store, used only when the
// shadow copy's atomic rename is unavailable (e.g. cross-device).
func (c *Coordinator) writeSingleWriter(dbPath string, fetchResults []sourceFetch) (*Result, error) {
	live := c.app.Store()
	result := c.writeAllSources(live, fetchResults)

	newIndex := index.NewWithFTS(c.app.Config.EnableFTS)
	if err := newIndex.Build(live); err != nil {
		return nil, fmt.Errorf("refresh: rebuild index: %w", err)
	}
	if err := c.app.Swap(live, newIndex); err != nil {
		return nil, fmt.Errorf("refresh: swap: %w", err)
	}
	return result, nil
}

func (c *Coordinator) writeAllSources(s *store.Store, fetchResults []sourceFetch) *Result {
	result := &Result{}

	for _, fr := range fetchResults {
		stats := SourceRefreshStats{Name: fr.source.Name, URL: fr.source.URL, Errors: append([]string{}, fr.errs...)}
		result.Errors = append(result.Errors, fr.errs...)

		var validURLs []string
		for _, doc := range fr.docs {
			doc.ContentHash = store.HashContent(doc.Content)
			doc.UpdatedAt = time.Now().UTC()

			chunks := c.chunker.Chunk(0, doc.Content)
			_, _, err := s.UpsertDocument(doc, chunks)
			if err != nil {
				msg := fmt.Sprintf("Failed to store %s: %v", doc.DocURL, err)
				stats.Errors = append(stats.Errors, msg)
				result.Errors = append(result.Errors, msg)
				continue
			}
			validURLs = append(validURLs, doc.DocURL)
			stats.DocCount++
			result.IndexedDocuments++
			result.IndexedChunks += len(chunks)
		}

		if len(fr.docs) > 0 || len(fr.errs) == 0 {
			if _, err := s.DeleteStaleDocuments(fr.source.Name, validURLs); err != nil {
				msg := fmt.Sprintf("Failed to reap stale documents for %s: %v", fr.source.Name, err)
				stats.Errors = append(stats.Errors, msg)
				result.Errors = append(result.Errors, msg)
			}
		}

		result.Sources = append(result.Sources, stats)
		result.RefreshedCount++
	}

	return result
}

// StartPeriodic runs Do every cfg.RefreshIntervalHours until ctx is
// cancelled. A failed cycle is logged and the loop continues; it never
// exits except via context cancellation.
func (c *Coordinator) StartPeriodic(ctx context.Context) {
	interval := time.Duration(c.app.Config.RefreshIntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Do(ctx); err != nil {
				c.logger.Error("periodic_refresh_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// NeedsStartupRefresh decides whether a refresh should run at startup,
// before the periodic ticker takes over. It never forces a refresh just
// because a configured source is entirely absent from stats; that case is
// logged so an operator notices a likely misconfiguration instead.
func NeedsStartupRefresh(sources []domain.Source, stats []domain.SourceStats, refreshIntervalHours int, skip bool, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	if skip {
		return false
	}
	if len(stats) == 0 {
		return true
	}

	byName := make(map[string]domain.SourceStats, len(stats))
	for _, st := range stats {
		byName[st.Name] = st
	}

	threshold := time.Now().Add(-time.Duration(refreshIntervalHours) * time.Hour)
	for _, src := range sources {
		st, ok := byName[src.Name]
		if !ok || st.LastUpdated == nil {
			logger.Info("source_never_indexed", slog.String("source", src.Name))
			continue
		}
		if st.LastUpdated.Before(threshold) {
			return true
		}
	}
	return false
}
