package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edvin/edgemetrics/internal/actor"
	"github.com/edvin/edgemetrics/internal/api"
	"github.com/edvin/edgemetrics/internal/collector"
	"github.com/edvin/edgemetrics/internal/config"
	"github.com/edvin/edgemetrics/internal/expose"
	"github.com/edvin/edgemetrics/internal/logging"
	"github.com/edvin/edgemetrics/internal/store"
	"github.com/edvin/edgemetrics/internal/upstream"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	catalogue, err := config.LoadCatalogue(cfg.CataloguePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load query catalogue")
	}

	if *migrateFlag && cfg.StateBackend == "postgres" {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := store.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateStore, closeStore, err := newStateStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to state store")
	}
	defer closeStore()

	client := upstream.NewClient(upstream.Config{
		BaseURL:        cfg.APIBaseURL,
		Token:          cfg.APIToken,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxRetries:     cfg.MaxRetries,
	}, logger)

	scheduler := actor.NewTimerScheduler(logger)

	// Serializer lists: env values, overridden by the catalogue file.
	denylist := cfg.MetricDenylist
	if len(catalogue.MetricDenylist) > 0 {
		denylist = catalogue.MetricDenylist
	}
	excludeLabels := cfg.ExcludeLabels
	if len(catalogue.ExcludeLabels) > 0 {
		excludeLabels = catalogue.ExcludeLabels
	}

	fleet := collector.NewFleetCoordinator(collector.Options{
		Catalogue:        catalogue,
		RefreshInterval:  cfg.RefreshInterval,
		AccountListTTL:   cfg.AccountListTTL,
		ZoneListTTL:      cfg.ZoneListTTL,
		ScrapeDelay:      cfg.ScrapeDelay,
		TimeWindow:       cfg.TimeWindow,
		AccountAllowlist: cfg.AccountAllowlist,
		ZoneAllowlist:    cfg.ZoneAllowlist,
		RestrictedPlans:  cfg.RestrictedPlans(),
		Expose:           expose.NewOptions(denylist, excludeLabels),
	}, client, stateStore, scheduler, logger)

	go func() {
		bootCtx, bootCancel := context.WithTimeout(ctx, 2*time.Minute)
		defer bootCancel()
		if err := fleet.Bootstrap(bootCtx); err != nil {
			logger.Error().Err(err).Msg("fleet bootstrap failed, will retry on first scrape")
		}
	}()

	srv := api.NewServer(logger, fleet, stateStore, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting metrics feed server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

func newStateStore(ctx context.Context, cfg *config.Config) (actor.StateStore, func(), error) {
	switch cfg.StateBackend {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "redis":
		rd, err := store.NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return rd, func() { rd.Close() }, nil
	default:
		return actor.NewMemoryStore(), func() {}, nil
	}
}
