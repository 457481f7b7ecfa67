// Package app wires configuration into the running components shared by
// the server and the command line tool.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docembed/internal/chunker"
	"github.com/dgallion1/docembed/internal/config"
	"github.com/dgallion1/docembed/internal/embedding"
	"github.com/dgallion1/docembed/internal/parser"
	"github.com/dgallion1/docembed/internal/pipeline"
	"github.com/dgallion1/docembed/internal/retry"
	"github.com/dgallion1/docembed/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config   config.Config
	Log      *slog.Logger
	DB       *pgxpool.Pool
	Store    *store.Postgres
	Counter  store.Counter
	Stats    *embedding.Stats
	Pipeline *pipeline.Pipeline

	closers []func() error
}

// ConnectionParams maps the database settings onto store params.
func ConnectionParams(cfg config.Config) store.ConnectionParams {
	return store.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	}
}

// RetryPolicy is the embedding retry policy the config describes.
func RetryPolicy(cfg config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		Multiplier:   cfg.RetryMultiplier,
	}
}

// New connects to the database and builds the ingestion pipeline.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	pool, err := store.Connect(ctx, ConnectionParams(cfg))
	if err != nil {
		return nil, err
	}
	a.DB = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.Store = store.NewPostgres(pool)

	counter, err := a.openCounter()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Counter = counter

	provider, err := NewProvider(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Stats = embedding.NewStats(cfg.StatsWindow)

	driver := pipeline.NewDriver(
		embedding.Instrument(provider, a.Stats),
		RetryPolicy(cfg),
		chunker.Budget(cfg.ContextTokensCutoff),
		cfg.MinContentLength,
		log,
	)
	coordinator := pipeline.NewCoordinator(a.Store, a.Counter, log)
	normalizer := &parser.Normalizer{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext}
	a.Pipeline = pipeline.NewPipeline(normalizer, driver, coordinator, log)

	log.Info("components ready",
		"provider", cfg.EmbeddingProvider,
		"model", cfg.EmbeddingModel,
		"counter", cfg.CounterBackend,
		"budget_tokens", chunker.Budget(cfg.ContextTokensCutoff),
	)
	return a, nil
}

func (a *App) openCounter() (store.Counter, error) {
	switch a.Config.CounterBackend {
	case "badger":
		c, err := store.OpenBadgerCounter(a.Config.BadgerPath, a.Log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	case "postgres", "":
		return store.NewPostgresCounter(a.DB), nil
	}
	return nil, fmt.Errorf("unknown counter backend %q", a.Config.CounterBackend)
}

// NewProvider builds the configured embedding provider.
func NewProvider(cfg config.Config, log *slog.Logger) (embedding.Provider, error) {
	switch cfg.EmbeddingProvider {
	case "openai", "":
		return embedding.NewOpenAI(cfg.OpenAIAPIKey,
			embedding.WithModel(cfg.EmbeddingModel),
			embedding.WithDimension(cfg.EmbeddingDimension),
			embedding.WithBaseURL(cfg.OpenAIBaseURL),
		), nil
	case "compatible":
		return embedding.NewCompatible(cfg.EmbeddingHost, cfg.EmbeddingModel,
			embedding.WithToken(cfg.OpenAIAPIKey),
			embedding.WithLogger(log),
		)
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
}

// Close releases everything New opened, last opened first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
