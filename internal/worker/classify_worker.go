package worker

import (
	"context"
	"errors"
	"fmt"

	"spendwise/internal/amqp"
	"spendwise/internal/config"
	"spendwise/internal/core"
	"spendwise/internal/log"
	"spendwise/internal/services"
)

// EligibleCounter reports how many expenses still await a suggestion.
type EligibleCounter interface {
	CountEligible(ctx context.Context) (int, error)
}

// SettingsReloader rebuilds the settings snapshot, taxonomy included.
type SettingsReloader interface {
	Reload(ctx context.Context) (*config.Snapshot, error)
}

// ClassifyWorker runs classification batches requested over AMQP.
type ClassifyWorker struct {
	classifier services.BatchClassifier
	eligible   EligibleCounter
	settings   SettingsReloader
	logger     *log.Logger
}

// NewClassifyWorker wires the worker. settings may be nil.
func NewClassifyWorker(classifier services.BatchClassifier, eligible EligibleCounter, settings SettingsReloader, logger *log.Logger) *ClassifyWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ClassifyWorker{
		classifier: classifier,
		eligible:   eligible,
		settings:   settings,
		logger:     logger.WithComponent(log.ComponentWorker),
	}
}

// HandleClassifyRequest runs one batch for a request message. A request
// with an invalid limit is logged and acknowledged, since retrying it can
// never succeed.
func (w *ClassifyWorker) HandleClassifyRequest(ctx context.Context, msg *amqp.ClassifyRequestMessage) error {
	w.logger.InfoContext(ctx, "Processing classify request",
		log.FieldRequestID, msg.RequestID,
		"reason", msg.Reason,
		"limit", msg.Limit)

	sum, err := w.classifier.ClassifyBatch(ctx, msg.LimitPtr())
	if errors.Is(err, core.ErrValidation) {
		w.logger.WarnContext(ctx, "Dropping invalid classify request",
			log.FieldRequestID, msg.RequestID,
			log.FieldError, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("classify batch for request %s: %w", msg.RequestID, err)
	}

	w.logger.InfoContext(ctx, "Classify request completed",
		log.FieldRequestID, msg.RequestID,
		"matching_total", sum.MatchingTotal,
		"attempted", sum.Attempted,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed)
	return nil
}

// StartupCheck classifies whatever was left unclassified while the
// worker was down, such as requests lost before they reached the queue.
func (w *ClassifyWorker) StartupCheck(ctx context.Context) error {
	n, err := w.eligible.CountEligible(ctx)
	if err != nil {
		return fmt.Errorf("count eligible expenses for startup check: %w", err)
	}
	if n == 0 {
		w.logger.InfoContext(ctx, "No unclassified expenses found on startup")
		return nil
	}

	w.logger.InfoContext(ctx, "Found unclassified expenses on startup, processing...", "count", n)
	sum, err := w.classifier.ClassifyBatch(ctx, nil)
	if err != nil {
		return fmt.Errorf("startup classify batch: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup classification completed",
		"attempted", sum.Attempted,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed)
	return nil
}

// RefreshSettings reloads settings so a changed taxonomy sheet is picked
// up without a restart. A failed reload keeps the previous snapshot.
func (w *ClassifyWorker) RefreshSettings(ctx context.Context) error {
	if w.settings == nil {
		return nil
	}
	snap, err := w.settings.Reload(ctx)
	if err != nil {
		return fmt.Errorf("refresh settings: %w", err)
	}
	w.logger.InfoContext(ctx, "Settings refreshed",
		log.FieldOperation, log.OpReload,
		"categories", len(snap.Taxonomy().L1Names()))
	return nil
}
