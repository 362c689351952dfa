package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spendwise/internal/backend"
	"spendwise/internal/classifier"
	"spendwise/internal/cli"
	"spendwise/internal/config"
	"spendwise/internal/log"
	"spendwise/internal/services"
	gsheet "spendwise/internal/sheets/google"
	"spendwise/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	logger.Info("Starting spendwise-worker", log.FieldOperation, log.OpStartup)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	ctx := context.Background()

	var taxonomy config.TaxonomySource
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleTaxonomyRange, logger)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize Google Sheets taxonomy source", err)
		}
		taxonomy = client
		logger.Info("Google Sheets taxonomy source enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	}

	settings, err := config.NewProvider(cfg.SettingsFile, taxonomy)
	if err != nil {
		cli.Fatal(logger, "Failed to load settings", err, "path", cfg.SettingsFile)
	}

	be, err := backend.NewFactory(logger).CreateBackend(ctx, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err)
	}
	defer be.Cleanup()
	if be.AMQP == nil {
		logger.Error("AMQP broker unreachable, worker has nothing to consume")
		os.Exit(1)
	}

	models := classifier.NewClient(backend.NewCompleters(&http.Client{}), logger)
	classification := services.NewClassificationService(be.Repo, models, settings, logger, nil)
	w := worker.NewClassifyWorker(classification, be.Repo, settings, logger)

	var processor *services.ClassifyProcessor
	if cfg.AutoClassifyInterval > 0 {
		pc := services.DefaultClassifyProcessorConfig()
		pc.PollInterval = cfg.AutoClassifyInterval
		processor = services.NewClassifyProcessor(classification, pc, logger)
	}

	runCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if processor != nil {
			if err := processor.Stop(ctx); err != nil {
				logger.Warn("Classify processor stop error", log.FieldError, err)
			}
		}
	})

	if err := w.StartupCheck(runCtx); err != nil {
		logger.Error("Startup classification check failed", log.FieldError, err)
	}

	if processor != nil {
		if err := processor.Start(runCtx); err != nil {
			cli.Fatal(logger, "Failed to start classify processor", err)
		}
	}

	if cfg.SettingsRefreshInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SettingsRefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					if err := w.RefreshSettings(runCtx); err != nil {
						logger.Warn("Periodic settings refresh failed", log.FieldError, err)
					}
				}
			}
		}()
	}

	err = be.AMQP.ConsumeClassifyRequests(runCtx, w.HandleClassifyRequest)
	if err != nil && !errors.Is(err, context.Canceled) {
		be.Cleanup()
		cli.Fatal(logger, "Message consumption failed", err)
	}

	<-done
	logger.Info("Worker stopped")
}
