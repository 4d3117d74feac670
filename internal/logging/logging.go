// Package logging sets up the server's file-based debug logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"log/slog"
)

// Setup creates an slog logger that writes to a dated debug file under
// cacheDir (format debug-YYYY-MM-DD.txt), returning the open file so the
// caller can close it on shutdown.
func Setup(cacheDir string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create cache dir: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(cacheDir, fmt.Sprintf("debug-%s.txt", date))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	handler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), file, nil
}
