package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/offer-scraper/internal/api"
	"github.com/maltedev/offer-scraper/internal/browser"
	"github.com/maltedev/offer-scraper/internal/config"
	"github.com/maltedev/offer-scraper/internal/database"
	"github.com/maltedev/offer-scraper/internal/extract"
	"github.com/maltedev/offer-scraper/internal/jobs"
	"github.com/maltedev/offer-scraper/internal/listing"
	"github.com/maltedev/offer-scraper/internal/locale"
	"github.com/maltedev/offer-scraper/internal/metrics"
	"github.com/maltedev/offer-scraper/internal/navigator"
	"github.com/maltedev/offer-scraper/internal/proxy"
	"github.com/maltedev/offer-scraper/internal/queue"
	"github.com/maltedev/offer-scraper/internal/scrape"
	"github.com/maltedev/offer-scraper/internal/storage"
)

type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	metrics      *metrics.Metrics
	results      *storage.ResultWriter
	db           *database.DB
	orchestrator *scrape.Orchestrator
	manager      *jobs.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	table, err := locale.Load(cfg.Scrape.LocaleTableFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load locale table: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		results: storage.NewResultWriter(cfg.Output.ResultsDir, cfg.Output.WriteLatest, cfg.Output.LatestName),
	}

	var archiver scrape.Archiver
	if cfg.ArchiveEnabled() {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		a.db = db
		archiver = database.NewArchive(db, cfg.Redis.Stream, logger)
		logger.Info("run archive enabled", "host", cfg.Database.Host, "database", cfg.Database.Name)
	}

	nav := navigator.New(table, navigator.Options{
		Shared:            cfg.Scrape.SessionsPerRun == 1,
		Strict:            cfg.Scrape.StrictLocale,
		NavigationTimeout: cfg.Scrape.NavigationTimeout,
		SettleTimeout:     cfg.Scrape.SettleTimeout,
		SelectSettle:      cfg.Scrape.SelectSettle,
	}, logger)

	factory := browser.NewFactory(browser.OptionsFromConfig(cfg.Browser, cfg.Scrape.NavigationTimeout), logger)

	a.orchestrator, err = scrape.New(scrape.Options{
		BaseURL:        cfg.Scrape.BaseURL,
		Locales:        cfg.Scrape.Locales,
		SessionsPerRun: cfg.Scrape.SessionsPerRun,
		ListingTimeout: cfg.Scrape.ListingTimeout,
		LocaleDelayMin: cfg.Scrape.LocaleDelayMin,
		LocaleDelayMax: cfg.Scrape.LocaleDelayMax,
		OfferDelay:     cfg.Scrape.OfferDelay,
	}, scrape.Deps{
		Gate:      proxy.NewGate(cfg.Proxy, logger),
		Launcher:  scrape.FactoryLauncher{Factory: factory},
		Table:     table,
		Navigator: nav,
		Collector: listing.NewCollector(table, nav, cfg.Scrape.ListingTimeout, logger),
		Extractor: extract.New(table),
		Sink:      a.results,
		Archiver:  archiver,
		Metrics:   a.metrics,
		Logger:    logger,
		OnStateChange: func(runID string, state scrape.State) {
			if a.manager != nil {
				a.manager.UpdateState(runID, string(state))
			}
		},
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// serve exposes the run API until ctx is canceled. Runs are executed by a
// single worker so sessions and the proxy are never shared between runs.
func (a *app) serve(ctx context.Context) error {
	q := queue.NewInMemoryQueue()
	a.manager = jobs.NewManager(q, a.orchestrator, a.metrics, a.logger)

	go func() {
		if err := a.manager.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("worker stopped with error", "error", err)
		}
	}()

	var outbox api.OutboxStats
	if a.db != nil {
		outbox = database.NewOutboxRepository(a.db)
		if a.cfg.RelayEnabled() {
			stop, err := a.startRelay(ctx)
			if err != nil {
				return err
			}
			defer stop()
		}
	}

	handlers := api.NewHandlers(a.manager, a.results, outbox, a.logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      api.NewRouter(handlers, a.metrics.Registry),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "port", a.cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server...")
	q.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

func (a *app) startRelay(ctx context.Context) (func(), error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	relay := database.NewRelay(database.NewOutboxRepository(a.db), redisClient, a.logger, database.RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("relay stopped with error", "error", err)
		}
	}()

	return func() { redisClient.Close() }, nil
}
