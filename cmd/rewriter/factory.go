package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/rewriter"
	"github.com/ineyio/rewriter/provider/gemini"
	"github.com/ineyio/rewriter/provider/genai"
	"github.com/ineyio/rewriter/provider/openaicompat"
	"github.com/ineyio/rewriter/store/jsonfile"
	"github.com/ineyio/rewriter/store/postgres"
	storeredis "github.com/ineyio/rewriter/store/redis"
	"github.com/ineyio/rewriter/store/sqlite"
)

// redisRetention keeps a few days of history for the usage command.
const redisRetention = 72 * time.Hour

// pruner is implemented by stores that can drop old days.
type pruner interface {
	Prune(ctx context.Context, keepFrom rewriter.Day) (int64, error)
}

// openStore opens the configured backend. The closer may be nil.
func openStore(ctx context.Context, cfg rewriter.StoreConfig, logger *slog.Logger) (rewriter.StateStore, io.Closer, error) {
	switch cfg.Backend {
	case rewriter.BackendJSON, "":
		s, err := jsonfile.New(cfg.Dir, jsonfile.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case rewriter.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case rewriter.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
		}
		opts := []storeredis.Option{storeredis.WithRetention(redisRetention)}
		if cfg.KeyPrefix != "" {
			opts = append(opts, storeredis.WithKeyPrefix(cfg.KeyPrefix))
		}
		return storeredis.New(client, opts...), client, nil

	case rewriter.BackendPostgres:
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("store.dsn is required for the postgres backend")
		}
		var opts []postgres.Option
		if cfg.KeyPrefix != "" {
			opts = append(opts, postgres.WithTablePrefix(cfg.KeyPrefix))
		}
		s, err := postgres.Open(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case rewriter.BackendMemory:
		return rewriter.NewMemoryStore(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// newProvider builds the configured remote adapter.
func newProvider(cfg rewriter.ProviderConfig) (rewriter.Provider, error) {
	switch cfg.Name {
	case "gemini", "":
		return gemini.New(gemini.WithTimeout(cfg.Timeout), gemini.WithBaseURL(cfg.BaseURL)), nil

	case "genai":
		opts := []genai.Option{genai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout})}
		if cfg.BaseURL != "" {
			opts = append(opts, genai.WithBaseURL(cfg.BaseURL))
		}
		return genai.New(opts...), nil

	case "openai":
		opts := []openaicompat.Option{openaicompat.WithTimeout(cfg.Timeout)}
		if cfg.BaseURL != "" {
			return openaicompat.New("openai", cfg.BaseURL, opts...), nil
		}
		return openaicompat.NewGeminiCompat(opts...), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}
