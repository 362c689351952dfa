package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"spendwise/internal/core"
	"spendwise/internal/log"
)

// ExpenseStore is the user-facing read and write contract on expenses.
type ExpenseStore interface {
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	ListExpenses(ctx context.Context, f core.ExpenseFilter) (core.ExpensePage, error)
	ConfirmCategories(ctx context.Context, id int64, u core.UserCategories) error
	SetHidden(ctx context.Context, id int64, hidden bool) error
	DeleteExpense(ctx context.Context, id int64) error
	ListImportBatches(ctx context.Context, limit int) ([]core.ImportBatch, error)
}

// ExpenseService applies user edits. Confirmed categories must belong to
// the configured taxonomy.
type ExpenseService struct {
	storage  ExpenseStore
	settings SnapshotSource
	closers  []io.Closer
	logger   *log.Logger
	onWrite  func()
}

// NewExpenseService wires the write contract. closers are released, in
// order, by Close.
func NewExpenseService(storage ExpenseStore, settings SnapshotSource, logger *log.Logger, onWrite func(), closers ...io.Closer) *ExpenseService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if onWrite == nil {
		onWrite = func() {}
	}
	return &ExpenseService{
		storage:  storage,
		settings: settings,
		closers:  closers,
		logger:   logger.WithComponent(log.ComponentStorage),
		onWrite:  onWrite,
	}
}

func (s *ExpenseService) Get(ctx context.Context, id int64) (core.Expense, error) {
	return s.storage.GetExpense(ctx, id)
}

func (s *ExpenseService) List(ctx context.Context, f core.ExpenseFilter) (core.ExpensePage, error) {
	return s.storage.ListExpenses(ctx, f.Normalize())
}

// ConfirmCategories sets both user categories or, with an empty pair,
// clears the confirmation.
func (s *ExpenseService) ConfirmCategories(ctx context.Context, id int64, u core.UserCategories) (core.Expense, error) {
	u = core.UserCategories{L1: strings.TrimSpace(u.L1), L2: strings.TrimSpace(u.L2)}
	if err := u.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	if u.Confirmed() && s.settings != nil {
		if !s.settings.Current().Taxonomy().HasPair(u.L1, u.L2) {
			return core.Expense{}, fmt.Errorf("%w: category %q / %q is not configured", core.ErrValidation, u.L1, u.L2)
		}
	}

	if err := s.storage.ConfirmCategories(ctx, id, u); err != nil {
		return core.Expense{}, err
	}
	s.onWrite()
	s.logger.InfoContext(ctx, "Expense categories confirmed",
		log.FieldOperation, log.OpConfirm,
		log.FieldExpenseID, id,
		log.FieldCategoryL1, u.L1,
		log.FieldCategoryL2, u.L2)
	return s.storage.GetExpense(ctx, id)
}

func (s *ExpenseService) SetHidden(ctx context.Context, id int64, hidden bool) error {
	if err := s.storage.SetHidden(ctx, id, hidden); err != nil {
		return err
	}
	s.onWrite()
	s.logger.InfoContext(ctx, "Expense visibility changed",
		log.FieldOperation, log.OpHide,
		log.FieldExpenseID, id,
		"hidden", hidden)
	return nil
}

func (s *ExpenseService) Delete(ctx context.Context, id int64) error {
	if err := s.storage.DeleteExpense(ctx, id); err != nil {
		return err
	}
	s.onWrite()
	s.logger.InfoContext(ctx, "Expense deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldExpenseID, id)
	return nil
}

func (s *ExpenseService) ImportBatches(ctx context.Context, limit int) ([]core.ImportBatch, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.storage.ListImportBatches(ctx, limit)
}

// Close releases storage and messaging connections.
func (s *ExpenseService) Close() error {
	var errs []error
	for _, c := range s.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close expense service: %w", err)
	}
	return nil
}
