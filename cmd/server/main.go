package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/clients/market"
	"github.com/atmx/atmx/internal/config"
	"github.com/atmx/atmx/internal/database"
	"github.com/atmx/atmx/internal/modules/contracts"
	contracthandlers "github.com/atmx/atmx/internal/modules/contracts/handlers"
	"github.com/atmx/atmx/internal/modules/events"
	"github.com/atmx/atmx/internal/modules/observations"
	"github.com/atmx/atmx/internal/modules/pricing"
	pricinghandlers "github.com/atmx/atmx/internal/modules/pricing/handlers"
	"github.com/atmx/atmx/internal/modules/settlement"
	settlementhandlers "github.com/atmx/atmx/internal/modules/settlement/handlers"
	"github.com/atmx/atmx/internal/modules/webhooks"
	webhookhandlers "github.com/atmx/atmx/internal/modules/webhooks/handlers"
	"github.com/atmx/atmx/internal/reliability"
	"github.com/atmx/atmx/internal/scheduler"
	"github.com/atmx/atmx/internal/server"
	"github.com/atmx/atmx/pkg/logger"
)

func main() {
	// Load configuration first so the log level is honored from the start
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting atmx settlement service")

	// Databases: the ledger holds contracts and the hash-chained settlement
	// records, the registry holds webhook subscriptions, the cache holds
	// observation bundles.
	ledgerDB := mustOpenDB(log, cfg.DataDir, "ledger", database.ProfileLedger)
	defer ledgerDB.Close()
	registryDB := mustOpenDB(log, cfg.DataDir, "registry", database.ProfileStandard)
	defer registryDB.Close()
	cacheDB := mustOpenDB(log, cfg.DataDir, "cache", database.ProfileCache)
	defer cacheDB.Close()

	// Observations
	catalogue := observations.NewDefaultCatalogue()
	asosClient := observations.NewClient(cfg.ASOSBaseURL, &http.Client{Timeout: cfg.ASOSTimeout}, log)
	bundleCache := observations.NewBundleCache(cacheDB, cfg.ObsCacheTTL, log)
	aggregator := observations.NewAggregator(catalogue, asosClient, bundleCache, log)

	// Contracts and settlement
	contractRepo := contracts.NewRepository(ledgerDB, log)
	recordRepo := settlement.NewRepository(ledgerDB, log)
	engine := settlement.NewEngine(contractRepo, recordRepo, aggregator, settlement.Options{
		MinStations:     cfg.MinStations,
		SpreadRatio:     cfg.DisputedSpreadRatio,
		FreezePivotC:    cfg.FreezePivotC,
		PrecipHourlyMax: cfg.PrecipHourlyMax,
	}, log)

	// Webhooks and live events
	webhookStore := webhooks.NewStore(registryDB, log)
	dispatcher := webhooks.NewDispatcher(webhookStore, &http.Client{Timeout: cfg.WebhookTimeout}, cfg.WebhookMaxRetries, log)
	hub := events.NewHub(log)

	// Pricing
	forecast := pricing.NewForecastClient(cfg.NWSBaseURL, &http.Client{Timeout: cfg.NWSTimeout}, log)
	pricingService := pricing.NewService(forecast, catalogue, cfg.LiquidityB, cfg.LoadingFactor, cfg.NotionalUSD, log)

	// Market engine RPC, best-effort
	var marketClient contracthandlers.MarketCreator
	if cfg.MarketEngineURL != "" {
		marketClient = market.New(cfg.MarketEngineURL, &http.Client{Timeout: 10 * time.Second}, log)
	}

	// Background jobs
	sched := scheduler.New(log)
	cronService := settlement.NewCronService(contractRepo, engine, dispatcher, hub, log)
	cronSchedule := fmt.Sprintf("@every %ds", int(cfg.CronInterval.Seconds()))
	if err := sched.AddJob(cronSchedule, cronService); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule settlement cron")
	}
	if err := sched.AddJob("@every 15m", observations.NewCleanupJob(bundleCache, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache cleanup")
	}
	registerArchiveJob(sched, cfg, ledgerDB, log)
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:        cfg.Port,
		Log:         log,
		DataDir:     cfg.DataDir,
		LedgerDB:    ledgerDB,
		RegistryDB:  registryDB,
		CacheDB:     cacheDB,
		Contracts:   contracthandlers.NewHandler(contractRepo, marketClient, log),
		Settlements: settlementhandlers.NewHandler(engine, recordRepo, log),
		Pricing:     pricinghandlers.NewHandler(pricingService, log),
		Webhooks:    webhookhandlers.NewHandler(webhookStore, log),
		EventHub:    hub,
		Scheduler:   sched,
		CronJob:     cronService,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	hub.Close()

	log.Info().Msg("Server stopped")
}

// mustOpenDB opens and migrates one database, exiting on failure.
func mustOpenDB(log zerolog.Logger, dataDir, name string, profile database.DatabaseProfile) *database.DB {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		log.Fatal().Err(err).Str("database", name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("database", name).Msg("Failed to run migrations")
	}
	return db
}

// registerArchiveJob wires the ledger archive when object storage is
// configured; without credentials the service runs without archiving.
func registerArchiveJob(sched *scheduler.Scheduler, cfg *config.Config, ledgerDB *database.DB, log zerolog.Logger) {
	if !cfg.Archive.Enabled {
		log.Info().Msg("Ledger archiving disabled, no object storage configured")
		return
	}

	s3Client, err := reliability.NewS3Client(cfg.Archive, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build archive storage client, archiving disabled")
		return
	}

	archiveService := reliability.NewArchiveService(ledgerDB, s3Client, cfg.DataDir, cfg.Archive.RetentionDays, log)
	if err := sched.AddJob(cfg.Archive.Schedule, reliability.NewArchiveJob(archiveService)); err != nil {
		log.Error().Err(err).Msg("Failed to schedule ledger archive job")
	}
}
