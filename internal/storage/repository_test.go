package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendwise/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func draft(extID, when, amount, desc string) core.Draft {
	ts, err := time.Parse(core.TimeLayout, when)
	if err != nil {
		panic(err)
	}
	return core.Draft{
		ExternalTransactionID: extID,
		TransactionTime:       ts,
		Amount:                decimal.RequireFromString(amount),
		Channel:               core.ChannelWeChat,
		RawDescription:        desc,
		AIDescription:         desc,
	}
}

func TestMigrationsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	// Idempotent on an already migrated file.
	require.NoError(t, RunMigrations(path))

	version, dirty, err := SchemaVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestInsertIfAbsentDedup(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, inserted, err := repo.InsertIfAbsent(ctx, draft("T1", "2024-03-01 12:00:00", "-12.50", "星巴克"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, id)

	_, inserted, err = repo.InsertIfAbsent(ctx, draft("T1", "2024-03-02 12:00:00", "-99", "other"))
	require.NoError(t, err)
	assert.False(t, inserted, "same external id must be skipped")

	// Empty external ids never conflict.
	for i := 0; i < 2; i++ {
		_, inserted, err = repo.InsertIfAbsent(ctx, draft("", "2024-03-03 08:00:00", "-1", "cash"))
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	got, err := repo.GetExpense(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "T1", got.ExternalTransactionID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("-12.50")))
	assert.Equal(t, core.DefaultCurrency, got.Currency)
	assert.False(t, got.IsAIClassified)
	assert.False(t, got.IsUserConfirmed)
	assert.False(t, got.IsHidden)
	assert.Equal(t, "2024-03-01 12:00:00", got.TransactionTime.Format(core.TimeLayout))
}

func TestGetExpenseNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetExpense(context.Background(), 404)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEligibilityAndSuggestions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []int64
	for i, ext := range []string{"A", "B", "C"} {
		id, _, err := repo.InsertIfAbsent(ctx, draft(ext, fmt.Sprintf("2024-03-01 12:00:%02d", i), "-1", "x"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	n, err := repo.CountEligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := repo.ListEligibleIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[:2], got, "creation order")

	require.NoError(t, repo.SetAISuggestion(ctx, ids[0], "餐饮美食", "外卖"))
	require.NoError(t, repo.ConfirmCategories(ctx, ids[1], core.UserCategories{L1: "交通出行", L2: "打车"}))

	n, err = repo.CountEligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A confirmation made first wins over a late suggestion.
	err = repo.SetAISuggestion(ctx, ids[1], "餐饮美食", "外卖")
	assert.ErrorIs(t, err, core.ErrNotEligible)
	e, err := repo.GetExpense(ctx, ids[1])
	require.NoError(t, err)
	assert.Empty(t, e.AICategoryL1)
	assert.Equal(t, "交通出行", e.UserCategoryL1)

	assert.ErrorIs(t, repo.SetAISuggestion(ctx, 999, "a", "b"), core.ErrNotFound)

	cleared, err := repo.ClearSuggestions(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cleared, "confirmed row untouched")

	e, err = repo.GetExpense(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, e.IsAIClassified)
	assert.Empty(t, e.AICategoryL1)
}

func TestConfirmCategoriesBothOrNeither(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertIfAbsent(ctx, draft("X", "2024-03-01 12:00:00", "-1", "x"))
	require.NoError(t, err)

	err = repo.ConfirmCategories(ctx, id, core.UserCategories{L1: "餐饮美食"})
	assert.ErrorIs(t, err, core.ErrIncompleteCategories)

	require.NoError(t, repo.ConfirmCategories(ctx, id, core.UserCategories{L1: "餐饮美食", L2: "外卖"}))
	e, _ := repo.GetExpense(ctx, id)
	assert.True(t, e.IsUserConfirmed)

	require.NoError(t, repo.ConfirmCategories(ctx, id, core.UserCategories{}))
	e, _ = repo.GetExpense(ctx, id)
	assert.False(t, e.IsUserConfirmed)
	assert.Empty(t, e.UserCategoryL1)
}

func TestListExpensesFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a, _, _ := repo.InsertIfAbsent(ctx, draft("1", "2024-03-01 09:00:00", "-10", "星巴克 拿铁"))
	_, _, _ = repo.InsertIfAbsent(ctx, draft("2", "2024-03-02 09:00:00", "-20", "滴滴出行"))
	c, _, _ := repo.InsertIfAbsent(ctx, draft("3", "2024-03-03 09:00:00", "-30", "美团外卖"))
	require.NoError(t, repo.SetHidden(ctx, c, true))

	hidden := false
	page, err := repo.ListExpenses(ctx, core.ExpenseFilter{Hidden: &hidden, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "滴滴出行", page.Items[0].RawDescription, "newest first")

	page, err = repo.ListExpenses(ctx, core.ExpenseFilter{Query: "星巴克"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a, page.Items[0].ID)

	require.NoError(t, repo.DeleteExpense(ctx, a))
	assert.ErrorIs(t, repo.DeleteExpense(ctx, a), core.ErrNotFound)
}

func TestAggregateRowsRangeAndHidden(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, _ = repo.InsertIfAbsent(ctx, draft("1", "2024-01-31 23:59:59", "-1", "before"))
	in1, _, _ := repo.InsertIfAbsent(ctx, draft("2", "2024-02-01 00:00:00", "-2", "start"))
	_, _, _ = repo.InsertIfAbsent(ctx, draft("3", "2024-02-29 23:59:59", "-3", "end"))
	_, _, _ = repo.InsertIfAbsent(ctx, draft("4", "2024-03-01 00:00:00", "-4", "after"))
	hid, _, _ := repo.InsertIfAbsent(ctx, draft("5", "2024-02-10 10:00:00", "-5", "hidden"))
	require.NoError(t, repo.SetHidden(ctx, hid, true))
	require.NoError(t, repo.ConfirmCategories(ctx, in1, core.UserCategories{L1: "餐饮美食", L2: "外卖"}))

	dr, err := core.ParseDateRange("2024-02-01", "2024-02-29")
	require.NoError(t, err)

	sum := decimal.Zero
	count := 0
	require.NoError(t, repo.AggregateRows(ctx, dr, false, func(r core.AggregateRow) error {
		sum = sum.Add(r.Amount)
		count++
		return nil
	}))
	assert.Equal(t, 2, count)
	assert.Equal(t, "-5", sum.String())

	count = 0
	require.NoError(t, repo.AggregateRows(ctx, dr, true, func(r core.AggregateRow) error {
		assert.Equal(t, "餐饮美食", r.UserCategoryL1)
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestImportBatches(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := core.ImportBatch{
		SourceChannel:           core.ChannelAlipay,
		FileIdentifier:          "alipay.csv-1",
		RecordsSeen:             3,
		RecordsImported:         2,
		RecordsSkippedDuplicate: 1,
		Status:                  core.ImportSuccess,
	}
	require.NoError(t, repo.CreateImportBatch(ctx, &b))
	assert.NotZero(t, b.ID)

	batches, err := repo.ListImportBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, core.ChannelAlipay, batches[0].SourceChannel)
	assert.Equal(t, 2, batches[0].RecordsImported)
	assert.Equal(t, core.ImportSuccess, batches[0].Status)
}

func TestDeleteExpenseLogsAtDebugOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))

	a, _, err := repo.InsertIfAbsent(ctx, draft("D1", "2024-03-01 09:00:00", "-1", "a"))
	require.NoError(t, err)
	b, _, err := repo.InsertIfAbsent(ctx, draft("D2", "2024-03-01 09:00:00", "-1", "b"))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteExpense(ctx, a))
	assert.NotContains(t, buf.String(), "deleted", "the service owns the info-level delete line")

	level.Set(slog.LevelDebug)
	require.NoError(t, repo.DeleteExpense(ctx, b))
	assert.Contains(t, buf.String(), "Expense row deleted")
}
