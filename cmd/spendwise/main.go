package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"spendwise/internal/backend"
	"spendwise/internal/cache"
	"spendwise/internal/classifier"
	"spendwise/internal/cli"
	"spendwise/internal/config"
	apphttp "spendwise/internal/http"
	"spendwise/internal/importer"
	"spendwise/internal/log"
	"spendwise/internal/services"
	gsheet "spendwise/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentApp)
	ctx := context.Background()

	var taxonomy config.TaxonomySource
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleTaxonomyRange, logger)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize Google Sheets taxonomy source", err)
		}
		taxonomy = client
	}

	settings, err := config.NewProvider(cfg.SettingsFile, taxonomy)
	if err != nil {
		cli.Fatal(logger, "Failed to load settings", err, "path", cfg.SettingsFile)
	}

	be, err := backend.NewFactory(logger).CreateBackend(ctx, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err)
	}

	analytics := services.NewAnalyticsService(be.Repo, cfg.AnalyticsCacheTTL, logger)
	caches := cache.NewManager(logger)
	if c := analytics.Cache(); c != nil {
		caches.Register(c)
		caches.StartCleanup(cfg.AnalyticsCacheTTL)
	}

	models := classifier.NewClient(backend.NewCompleters(&http.Client{}), logger)
	classification := services.NewClassificationService(be.Repo, models, settings, logger, analytics.InvalidateAll)
	expenses := services.NewExpenseService(be.Repo, settings, logger, analytics.InvalidateAll, closerFunc(be.Cleanup))
	imports := importer.New(be.Repo, be.Publisher, logger, importer.Options{
		AutoClassify: cfg.AutoClassify,
		OnImported:   analytics.InvalidateAll,
	})

	var processor *services.ClassifyProcessor
	if cfg.AutoClassifyInterval > 0 {
		pc := services.DefaultClassifyProcessorConfig()
		pc.PollInterval = cfg.AutoClassifyInterval
		processor = services.NewClassifyProcessor(classification, pc, logger)
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Importer:       imports,
		Classification: classification,
		Expenses:       expenses,
		Analytics:      analytics,
		Settings:       settings,
		Ready:          be.Repo.Ping,
		CacheStats:     analytics.CacheStats,
	}, apphttp.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
	}, logger)

	runCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if processor != nil {
			if err := processor.Stop(ctx); err != nil {
				logger.Warn("Classify processor stop error", log.FieldError, err)
			}
		}
		caches.Stop()
		if err := expenses.Close(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	if processor != nil {
		if err := processor.Start(runCtx); err != nil {
			cli.Fatal(logger, "Failed to start classify processor", err)
		}
	}

	logger.Info("Starting spendwise server",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		"default_service", settings.Current().DefaultService().Name,
		"auto_classify_interval", cfg.AutoClassifyInterval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err, "port", cfg.Port)
	}

	<-done
	logger.Info("Server stopped gracefully")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
