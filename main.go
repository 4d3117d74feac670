// Package main is the entry point for the llmdoc-mcp server.
// It wires together all dependencies and starts the MCP server.
//
// This file is intentionally minimal - all business logic lives in internal/.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bad33ndj3/mcp-md-index/internal/app"
	"github.com/bad33ndj3/mcp-md-index/internal/config"
	"github.com/bad33ndj3/mcp-md-index/internal/logging"
	"github.com/bad33ndj3/mcp-md-index/internal/refresh"
	"github.com/bad33ndj3/mcp-md-index/internal/toolserver"
)

const (
	serverName      = "llmdoc-mcp"
	serverVersion   = "v1.0.0"
	defaultCacheDir = ".llmdoc-cache"
)

func main() {
	// IMPORTANT: MCP stdio servers must log to stderr only (for standard log package).
	log.SetOutput(os.Stderr)

	logger, logFile, err := logging.Setup(defaultCacheDir)
	if err != nil {
		log.Printf("Warning: failed to setup file logger: %v", err)
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	} else {
		defer logFile.Close()
	}

	logger.Info("server starting", "name", serverName, "version", serverVersion)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		log.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Sources) == 0 {
		logger.Warn("no sources configured; set LLMDOC_SOURCES or create llmdoc.json")
	}

	a, err := app.Create(cfg)
	if err != nil {
		logger.Error("failed to create app", "error", err)
		log.Fatalf("failed to create app: %v", err)
	}
	defer a.Close()

	coordinator := refresh.New(a, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats, err := a.Store().GetSourceStats()
	if err != nil {
		logger.Error("failed to read source stats", "error", err)
	}
	if refresh.NeedsStartupRefresh(cfg.Sources, stats, cfg.RefreshIntervalHours, cfg.SkipStartupRefresh, logger) {
		logger.Info("running startup refresh")
		if result, err := coordinator.Do(ctx); err != nil {
			logger.Error("startup refresh failed", "error", err)
		} else {
			logger.Info("startup refresh complete",
				"documents", result.IndexedDocuments,
				"chunks", result.IndexedChunks,
				"skipped", result.Skipped,
			)
		}
	}

	go coordinator.StartPeriodic(ctx)

	handlers := toolserver.NewHandlers(a, coordinator, logger)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, &mcp.ServerOptions{
		Instructions: "Use search_docs to find relevant documentation, get_doc to fetch a document (or a window of it) by url, and get_doc_excerpt for token-bounded context around a query within one document.",
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_docs",
		Description: "Ranked full-text search across every indexed document, optionally restricted to one source.",
	}, handlers.SearchDocs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_doc",
		Description: "Fetch the content of a single document by its url, windowed by offset and limit.",
	}, handlers.GetDoc)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_doc_excerpt",
		Description: "Find the most relevant excerpts within one document for a query, each with surrounding context.",
	}, handlers.GetDocExcerpt)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sources",
		Description: "List every configured source with its indexed document count and last-updated time.",
	}, handlers.ListSources)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "refresh_sources",
		Description: "Fetch every configured source again and refresh the index now, instead of waiting for the periodic refresh.",
	}, handlers.RefreshSources)

	logger.Info("server ready, waiting for requests")

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		logger.Error("server error", "error", err)
		log.Fatal(err)
	}
}
