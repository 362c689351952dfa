package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spendwise/internal/log"
)

// ClassifyProcessorConfig holds configuration for the classify processor
type ClassifyProcessorConfig struct {
	// PollInterval is how often to run a batch (default: 5m)
	PollInterval time.Duration

	// BatchSize caps each run; zero means the configured default.
	BatchSize int
}

func DefaultClassifyProcessorConfig() ClassifyProcessorConfig {
	return ClassifyProcessorConfig{
		PollInterval: 5 * time.Minute,
	}
}

// BatchClassifier runs one classification batch.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, limit *int) (BatchSummary, error)
}

// ClassifyProcessor periodically classifies whatever is still
// unclassified.
type ClassifyProcessor struct {
	classifier BatchClassifier
	config     ClassifyProcessorConfig
	logger     *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewClassifyProcessor(classifier BatchClassifier, config ClassifyProcessorConfig, logger *log.Logger) *ClassifyProcessor {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ClassifyProcessor{
		classifier: classifier,
		config:     config,
		logger:     logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *ClassifyProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("classify processor is already running")
	}
	if p.config.PollInterval <= 0 {
		return fmt.Errorf("classify processor needs a positive poll interval, got %v", p.config.PollInterval)
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.runLoop(ctx, p.stopCh, p.doneCh)

	p.logger.InfoContext(ctx, "Classify processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the current batch to finish.
func (p *ClassifyProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Classify processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Classify processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *ClassifyProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ClassifyProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	// A stop request cancels the batch in flight.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.runBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runBatch(ctx)
		}
	}
}

func (p *ClassifyProcessor) runBatch(ctx context.Context) {
	var limit *int
	if p.config.BatchSize > 0 {
		limit = &p.config.BatchSize
	}
	sum, err := p.classifier.ClassifyBatch(ctx, limit)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.ErrorContext(ctx, "Periodic classification failed", log.FieldError, err)
		}
		return
	}
	if sum.Attempted > 0 {
		p.logger.InfoContext(ctx, "Periodic classification ran",
			"attempted", sum.Attempted,
			"succeeded", sum.Succeeded,
			"failed", sum.Failed)
	}
}
