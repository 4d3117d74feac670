// Package config resolves server configuration from environment variables,
// a JSON file, and hardcoded defaults, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bad33ndj3/mcp-md-index/internal/domain"
)

const (
	defaultDBPath               = "~/.llmdoc/index.db"
	defaultRefreshIntervalHours = 6
	defaultMaxConcurrentFetches = 5
	configFileName              = "llmdoc.json"

	minRefreshIntervalHours = 1
	maxRefreshIntervalHours = 168
	minConcurrentFetches    = 1
	maxConcurrentFetches    = 20
)

// Config holds the fully resolved server configuration.
type Config struct {
	Sources              []domain.Source
	DBPath               string
	RefreshIntervalHours int
	MaxConcurrentFetches int
	SkipStartupRefresh   bool
	EnableFTS            bool
}

// fileConfig mirrors the on-disk JSON shape of llmdoc.json.
type fileConfig struct {
	Sources              []string `json:"sources"`
	DBPath               string   `json:"db_path"`
	RefreshIntervalHours *int     `json:"refresh_interval_hours"`
	MaxConcurrentFetches *int     `json:"max_concurrent_fetches"`
	SkipStartupRefresh   *bool    `json:"skip_startup_refresh"`
	EnableFTS            *bool    `json:"enable_fts"`
}

// ParseSource parses a "name:url" or bare-url source string into a Source.
// When no name prefix is present, the name is derived from the URL's host,
// replacing "." and "-" with "_". A bare local path uses its file stem.
func ParseSource(s string) domain.Source {
	s = strings.TrimSpace(s)

	if idx := strings.Index(s, "://"); idx >= 0 {
		prefix := s[:idx]
		if colon := strings.LastIndex(prefix, ":"); colon >= 0 {
			name := prefix[:colon]
			url := s[colon+1:]
			return domain.Source{Name: name, URL: url}
		}
		return domain.Source{Name: deriveNameFromURL(s), URL: s}
	}

	// No scheme: treat as a bare local path, name = filename without extension.
	base := filepath.Base(s)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return domain.Source{Name: name, URL: s}
}

func deriveNameFromURL(rawURL string) string {
	rest := rawURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	host := rest
	if slash := strings.Index(host, "/"); slash >= 0 {
		host = host[:slash]
	}
	if at := strings.Index(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	host = strings.NewReplacer(".", "_", "-", "_").Replace(host)
	if host == "" {
		return "source"
	}
	return host
}

// Load resolves configuration with precedence env vars > JSON file > defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:               defaultDBPath,
		RefreshIntervalHours: defaultRefreshIntervalHours,
		MaxConcurrentFetches: defaultMaxConcurrentFetches,
		EnableFTS:            true,
	}

	usedEnvSources := false

	if raw := os.Getenv("LLMDOC_SOURCES"); raw != "" {
		usedEnvSources = true
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			cfg.Sources = append(cfg.Sources, ParseSource(part))
		}
	}
	if v := os.Getenv("LLMDOC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LLMDOC_REFRESH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshIntervalHours = n
		}
	}
	if v := os.Getenv("LLMDOC_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentFetches = n
		}
	}
	if v := os.Getenv("LLMDOC_SKIP_STARTUP_REFRESH"); v != "" {
		cfg.SkipStartupRefresh = isTruthy(v)
	}

	if fc, ok, err := loadConfigFile(); err != nil {
		return nil, err
	} else if ok {
		applyFileConfig(cfg, fc, usedEnvSources)
	}

	cfg.normalize()
	return cfg, nil
}

func loadConfigFile() (*fileConfig, bool, error) {
	data, err := os.ReadFile(configFileName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", configFileName, err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", configFileName, err)
	}
	return &fc, true, nil
}

func applyFileConfig(cfg *Config, fc *fileConfig, usedEnvSources bool) {
	if !usedEnvSources && len(fc.Sources) > 0 {
		for _, s := range fc.Sources {
			cfg.Sources = append(cfg.Sources, ParseSource(s))
		}
	}
	if fc.DBPath != "" && os.Getenv("LLMDOC_DB_PATH") == "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.RefreshIntervalHours != nil && os.Getenv("LLMDOC_REFRESH_INTERVAL") == "" {
		cfg.RefreshIntervalHours = *fc.RefreshIntervalHours
	}
	if fc.MaxConcurrentFetches != nil && os.Getenv("LLMDOC_MAX_CONCURRENT") == "" {
		cfg.MaxConcurrentFetches = *fc.MaxConcurrentFetches
	}
	if fc.SkipStartupRefresh != nil && os.Getenv("LLMDOC_SKIP_STARTUP_REFRESH") == "" {
		cfg.SkipStartupRefresh = *fc.SkipStartupRefresh
	}
	// enable_fts has no env var (spec §6); the JSON file is its only override.
	if fc.EnableFTS != nil {
		cfg.EnableFTS = *fc.EnableFTS
	}
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// normalize expands "~" in DBPath and clamps the tunable ranges.
func (c *Config) normalize() {
	if strings.HasPrefix(c.DBPath, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			c.DBPath = filepath.Join(home, strings.TrimPrefix(c.DBPath, "~"))
		}
	}

	if c.RefreshIntervalHours < minRefreshIntervalHours {
		c.RefreshIntervalHours = minRefreshIntervalHours
	} else if c.RefreshIntervalHours > maxRefreshIntervalHours {
		c.RefreshIntervalHours = maxRefreshIntervalHours
	}

	if c.MaxConcurrentFetches < minConcurrentFetches {
		c.MaxConcurrentFetches = minConcurrentFetches
	} else if c.MaxConcurrentFetches > maxConcurrentFetches {
		c.MaxConcurrentFetches = maxConcurrentFetches
	}
}
