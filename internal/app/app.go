// Package app wires configuration into the engines, the audit log and the
// session registry shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"huddle/internal/config"
	"huddle/internal/db"
	"huddle/internal/draw"
	"huddle/internal/events"
	"huddle/internal/grouping"
	"huddle/internal/metrics"
	"huddle/internal/migrate"
	"huddle/internal/naming"
	"huddle/internal/repo"
	"huddle/internal/session"
)

type App struct {
	Config   *config.Config
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Metrics  *metrics.Metrics
	Grouping *grouping.Engine
	Sessions *session.Manager
	Logger   *slog.Logger
}

type Options struct {
	Workspace string
	Locale    string
	Logger    *slog.Logger
	// Scheduler overrides the spin timing from config.
	Scheduler draw.Scheduler
}

// Open opens the workspace audit log, runs migrations and builds the engines.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate audit log: %w", err)
	}
	m := metrics.New()
	g, err := NewGrouping(ctx, cfg, opts.Locale, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	g.OnFallback = m.ObserveFallback

	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = draw.IntervalScheduler{Interval: cfg.Draw.SpinInterval}
	}
	w := events.Writer{DB: conn}
	mgr := session.NewManager(session.Options{
		Grouping:  g,
		Events:    w,
		Metrics:   m,
		Scheduler: scheduler,
		Ticks:     cfg.Draw.SpinTicks,
		Logger:    logger,
	})
	return &App{
		Config:   cfg,
		DB:       conn,
		Repo:     repo.Repo{DB: conn},
		Events:   w,
		Metrics:  m,
		Grouping: g,
		Sessions: mgr,
		Logger:   logger,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// NewNamer returns the configured naming collaborator. The gemini provider
// without an API key degrades to offline with a warning.
func NewNamer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (grouping.Namer, error) {
	if cfg.Naming.Provider != config.ProviderGemini {
		return naming.Offline{}, nil
	}
	key := cfg.APIKey()
	if key == "" {
		logger.Warn("naming api key not set, using offline labels", "env", cfg.Naming.APIKeyEnv)
		return naming.Offline{}, nil
	}
	g, err := naming.NewGemini(ctx, naming.GeminiOptions{APIKey: key, Model: cfg.Naming.Model})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewGrouping builds a grouping engine for cfg. A non-empty locale overrides
// cfg.Locale.
func NewGrouping(ctx context.Context, cfg *config.Config, locale string, logger *slog.Logger) (*grouping.Engine, error) {
	namer, err := NewNamer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if locale == "" {
		locale = cfg.Locale
	}
	g := grouping.New(namer, grouping.NewLabels(locale))
	if cfg.Naming.Timeout > 0 {
		g.Timeout = cfg.Naming.Timeout
	}
	g.Logger = logger
	return g, nil
}
