package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"spendwise/internal/classifier"
	"spendwise/internal/config"
	"spendwise/internal/core"
	"spendwise/internal/log"
)

// ClassificationStore is the persistence the orchestrator needs.
type ClassificationStore interface {
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	CountEligible(ctx context.Context) (int, error)
	ListEligibleIDs(ctx context.Context, limit int) ([]int64, error)
	SetAISuggestion(ctx context.Context, id int64, l1, l2 string) error
	ClearSuggestions(ctx context.Context, ids []int64) (int64, error)
}

// Classifier asks an external model for a category pair.
type Classifier interface {
	Classify(ctx context.Context, req classifier.Request, snap *config.Snapshot) (classifier.Result, error)
}

// SnapshotSource hands out the current settings snapshot.
type SnapshotSource interface {
	Current() *config.Snapshot
}

// BatchSummary reports one batch run. The counts are exact.
type BatchSummary struct {
	MatchingTotal int           `json:"matching_total"`
	Attempted     int           `json:"attempted"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Duration      time.Duration `json:"-"`
}

// ClassificationError is a failed classification of one expense. The
// expense is left unchanged.
type ClassificationError struct {
	ExpenseID int64
	Err       error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify expense %d: %v", e.ExpenseID, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// ClassificationService drives expenses from unclassified to AI-suggested.
// User confirmation is never overwritten.
type ClassificationService struct {
	store      ClassificationStore
	classifier Classifier
	settings   SnapshotSource
	logger     *log.StructuredLogger
	onWrite    func()
}

// NewClassificationService wires the orchestrator. onWrite, if set, runs
// after every stored suggestion.
func NewClassificationService(store ClassificationStore, cls Classifier, settings SnapshotSource, logger *log.Logger, onWrite func()) *ClassificationService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if onWrite == nil {
		onWrite = func() {}
	}
	return &ClassificationService{
		store:      store,
		classifier: cls,
		settings:   settings,
		logger:     log.NewStructuredLogger(logger.WithComponent(log.ComponentClassifier)),
		onWrite:    onWrite,
	}
}

// ClassifySingle classifies one expense and returns it as stored.
func (s *ClassificationService) ClassifySingle(ctx context.Context, id int64) (core.Expense, error) {
	return s.classifyOne(ctx, id, s.settings.Current())
}

func (s *ClassificationService) classifyOne(ctx context.Context, id int64, snap *config.Snapshot) (core.Expense, error) {
	e, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, err
	}
	if err := e.CheckEligible(); err != nil {
		return core.Expense{}, err
	}

	res, err := s.classifier.Classify(ctx, classifier.RequestFor(e), snap)
	if err != nil {
		return core.Expense{}, &ClassificationError{ExpenseID: id, Err: err}
	}

	// Guarded by is_user_confirmed=0: a confirmation made meanwhile wins.
	if err := s.store.SetAISuggestion(ctx, id, res.L1, res.L2); err != nil {
		return core.Expense{}, fmt.Errorf("store suggestion for expense %d: %w", id, err)
	}
	s.onWrite()
	s.logger.LogClassified(ctx, id, res.L1, res.L2)

	return s.store.GetExpense(ctx, id)
}

// ClassifyBatch classifies up to limit eligible expenses in creation
// order. A nil limit uses the configured default. Per-record failures are
// counted, not returned.
func (s *ClassificationService) ClassifyBatch(ctx context.Context, limit *int) (BatchSummary, error) {
	snap := s.settings.Current()
	cfg := snap.Classification()

	n := cfg.DefaultBatchLimit
	if limit != nil {
		if *limit <= 0 {
			return BatchSummary{}, fmt.Errorf("%w: limit must be a positive integer, got %d", core.ErrValidation, *limit)
		}
		n = *limit
	}

	start := time.Now()
	total, err := s.store.CountEligible(ctx)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("count eligible expenses: %w", err)
	}
	ids, err := s.store.ListEligibleIDs(ctx, n)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("list eligible expenses: %w", err)
	}

	summary := BatchSummary{MatchingTotal: total}
	if len(ids) == 0 {
		summary.Duration = time.Since(start)
		s.logBatch(ctx, summary)
		return summary, nil
	}

	var attempted, succeeded, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(max(cfg.Concurrency, 1))

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			attempted.Add(1)
			if _, err := s.classifyOne(ctx, id, snap); err != nil {
				failed.Add(1)
				s.logFailure(ctx, id, err)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	g.Wait()

	summary.Attempted = int(attempted.Load())
	summary.Succeeded = int(succeeded.Load())
	summary.Failed = int(failed.Load())
	summary.Duration = time.Since(start)
	s.logBatch(ctx, summary)

	return summary, ctx.Err()
}

func (s *ClassificationService) logFailure(ctx context.Context, id int64, err error) {
	fields := log.LogFields{log.FieldExpenseID: id}
	if kind := classifier.KindOf(err); kind != classifier.KindUnknown {
		fields[log.FieldErrorKind] = kind.String()
	}
	if errors.Is(err, core.ErrNotEligible) {
		s.logger.Logger().InfoContext(ctx, "Expense no longer eligible, skipped", fields.ToSlice()...)
		return
	}
	s.logger.LogError(ctx, "Classification failed", err, log.ComponentClassifier, log.OpBatch, fields)
}

func (s *ClassificationService) logBatch(ctx context.Context, sum BatchSummary) {
	s.logger.Logger().InfoContext(ctx, "Classification batch finished",
		log.FieldOperation, log.OpBatch,
		"matching_total", sum.MatchingTotal,
		"attempted", sum.Attempted,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		log.FieldDuration, sum.Duration.Milliseconds())
}

// UnclassifiedIDs lists every expense eligible for automatic
// classification, in creation order.
func (s *ClassificationService) UnclassifiedIDs(ctx context.Context) ([]int64, error) {
	return s.store.ListEligibleIDs(ctx, 0)
}

// ClearSuggestions resets AI suggestions on ids so they become eligible
// again. Confirmed expenses are left alone.
func (s *ClassificationService) ClearSuggestions(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.store.ClearSuggestions(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("clear suggestions: %w", err)
	}
	if n > 0 {
		s.onWrite()
	}
	return n, nil
}
