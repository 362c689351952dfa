package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spendwise/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) stamp() string {
	return r.now().UTC().Format(core.TimeLayout)
}

// InsertIfAbsent stores d unless its external transaction id already
// exists. The check and the insert are one statement.
func (r *SQLiteRepository) InsertIfAbsent(ctx context.Context, d core.Draft) (int64, bool, error) {
	now := r.stamp()
	currency := d.Currency
	if currency == "" {
		currency = core.DefaultCurrency
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (
			external_transaction_id, transaction_time, amount, currency, channel,
			raw_description, ai_description, notes,
			source_category, source_payment_method, source_status, external_merchant_id,
			is_ai_classified, is_user_confirmed, is_hidden,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)
		ON CONFLICT(external_transaction_id) DO NOTHING`,
		nullString(d.ExternalTransactionID),
		d.TransactionTime.Format(core.TimeLayout),
		d.Amount.String(),
		currency,
		string(d.Channel),
		d.RawDescription,
		d.AIDescription,
		d.Notes,
		d.SourceCategory,
		d.SourcePaymentMethod,
		d.SourceStatus,
		d.ExternalMerchantID,
		now, now,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert expense: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert expense rows affected: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, true, fmt.Errorf("insert expense id: %w", err)
	}
	return id, true, nil
}

const expenseColumns = `
	id, external_transaction_id, transaction_time, amount, currency, channel,
	raw_description, ai_description,
	ai_category_l1, ai_category_l2, user_category_l1, user_category_l2,
	is_ai_classified, is_user_confirmed, is_hidden, notes,
	source_category, source_payment_method, source_status, external_merchant_id,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(s rowScanner) (core.Expense, error) {
	var (
		e                             core.Expense
		extID, aiL1, aiL2, uL1, uL2   sql.NullString
		txTime, amount, channel       string
		createdAt, updatedAt          string
		aiClassified, confirmed, hide bool
	)
	err := s.Scan(
		&e.ID, &extID, &txTime, &amount, &e.Currency, &channel,
		&e.RawDescription, &e.AIDescription,
		&aiL1, &aiL2, &uL1, &uL2,
		&aiClassified, &confirmed, &hide, &e.Notes,
		&e.SourceCategory, &e.SourcePaymentMethod, &e.SourceStatus, &e.ExternalMerchantID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return core.Expense{}, err
	}

	e.ExternalTransactionID = extID.String
	e.AICategoryL1, e.AICategoryL2 = aiL1.String, aiL2.String
	e.UserCategoryL1, e.UserCategoryL2 = uL1.String, uL2.String
	e.IsAIClassified, e.IsUserConfirmed, e.IsHidden = aiClassified, confirmed, hide
	e.Channel = core.Channel(channel)

	if e.TransactionTime, err = time.Parse(core.TimeLayout, txTime); err != nil {
		return core.Expense{}, fmt.Errorf("parse transaction_time %q: %w", txTime, err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Expense{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	e.CreatedAt, _ = time.Parse(core.TimeLayout, createdAt)
	e.UpdatedAt, _ = time.Parse(core.TimeLayout, updatedAt)
	return e, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	return e, nil
}

// ListExpenses returns one page of expenses, newest transaction first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, f core.ExpenseFilter) (core.ExpensePage, error) {
	f = f.Normalize()

	var (
		where []string
		args  []any
	)
	if f.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, string(f.Channel))
	}
	if f.Classified != nil {
		where = append(where, "is_ai_classified = ?")
		args = append(args, *f.Classified)
	}
	if f.Confirmed != nil {
		where = append(where, "is_user_confirmed = ?")
		args = append(args, *f.Confirmed)
	}
	if f.Hidden != nil {
		where = append(where, "is_hidden = ?")
		args = append(args, *f.Hidden)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(raw_description LIKE ? OR ai_description LIKE ? OR notes LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := core.ExpensePage{Items: []core.Expense{}, Page: f.Page, PageSize: f.PageSize}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses`+clause, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count expenses: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses`+clause+` ORDER BY transaction_time DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, f.PageSize, f.Offset())...)
	if err != nil {
		return page, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return page, fmt.Errorf("scan expense: %w", err)
		}
		page.Items = append(page.Items, e)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("iterate expenses: %w", err)
	}
	return page, nil
}

const eligibleClause = `is_ai_classified = 0 AND is_user_confirmed = 0`

// CountEligible counts expenses waiting for a first AI suggestion.
func (r *SQLiteRepository) CountEligible(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses WHERE `+eligibleClause).Scan(&n); err != nil {
		return 0, fmt.Errorf("count eligible expenses: %w", err)
	}
	return n, nil
}

// ListEligibleIDs returns up to limit eligible ids in creation order. A
// limit <= 0 returns all of them.
func (r *SQLiteRepository) ListEligibleIDs(ctx context.Context, limit int) ([]int64, error) {
	query := `SELECT id FROM expenses WHERE ` + eligibleClause + ` ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list eligible expenses: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan eligible id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetAISuggestion records a classifier suggestion. Only the suggestion
// columns and updated_at are written, and only while the expense is not
// user-confirmed.
func (r *SQLiteRepository) SetAISuggestion(ctx context.Context, id int64, l1, l2 string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE expenses
		SET ai_category_l1 = ?, ai_category_l2 = ?, is_ai_classified = 1, updated_at = ?
		WHERE id = ? AND is_user_confirmed = 0`,
		nullString(l1), nullString(l2), r.stamp(), id)
	if err != nil {
		return fmt.Errorf("set ai suggestion for %d: %w", id, err)
	}
	return r.requireRow(ctx, res, id)
}

// ClearSuggestions resets AI suggestions so the ids become eligible
// again. Confirmed expenses are left alone.
func (r *SQLiteRepository) ClearSuggestions(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, r.stamp())
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE expenses
		SET ai_category_l1 = NULL, ai_category_l2 = NULL, is_ai_classified = 0, updated_at = ?
		WHERE is_user_confirmed = 0 AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("clear suggestions: %w", err)
	}
	return res.RowsAffected()
}

// ConfirmCategories writes the user's category pair. An empty pair
// resets the confirmation.
func (r *SQLiteRepository) ConfirmCategories(ctx context.Context, id int64, u core.UserCategories) error {
	if err := u.Validate(); err != nil {
		return err
	}
	l1, l2 := strings.TrimSpace(u.L1), strings.TrimSpace(u.L2)

	res, err := r.db.ExecContext(ctx, `
		UPDATE expenses
		SET user_category_l1 = ?, user_category_l2 = ?, is_user_confirmed = ?, updated_at = ?
		WHERE id = ?`,
		nullString(l1), nullString(l2), u.Confirmed(), r.stamp(), id)
	if err != nil {
		return fmt.Errorf("confirm categories for %d: %w", id, err)
	}
	return r.requireRow(ctx, res, id)
}

func (r *SQLiteRepository) SetHidden(ctx context.Context, id int64, hidden bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET is_hidden = ?, updated_at = ? WHERE id = ?`, hidden, r.stamp(), id)
	if err != nil {
		return fmt.Errorf("set hidden for %d: %w", id, err)
	}
	return r.requireRow(ctx, res, id)
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	slog.DebugContext(ctx, "Expense row deleted", "component", "storage", "expense_id", id)
	return nil
}

// requireRow turns a zero-row update into ErrNotFound or, when the row
// exists but the guard excluded it, ErrNotEligible.
func (r *SQLiteRepository) requireRow(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %d: %w", id, err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM expenses WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check expense %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	return fmt.Errorf("expense %d: %w", id, core.ErrNotEligible)
}

// CreateImportBatch persists the batch summary and sets its ID.
func (r *SQLiteRepository) CreateImportBatch(ctx context.Context, b *core.ImportBatch) error {
	if b.ImportedAt.IsZero() {
		b.ImportedAt = r.now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO import_batches (
			source_channel, file_identifier, imported_at,
			records_seen, records_imported, records_skipped_duplicate,
			records_failed_parse, records_filtered, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.SourceChannel), b.FileIdentifier, b.ImportedAt.Format(core.TimeLayout),
		b.RecordsSeen, b.RecordsImported, b.RecordsSkippedDuplicate,
		b.RecordsFailedParse, b.RecordsFiltered, string(b.Status),
	)
	if err != nil {
		return fmt.Errorf("create import batch: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("create import batch id: %w", err)
	}
	return nil
}

// ListImportBatches returns the most recent batches first.
func (r *SQLiteRepository) ListImportBatches(ctx context.Context, limit int) ([]core.ImportBatch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_channel, file_identifier, imported_at,
			records_seen, records_imported, records_skipped_duplicate,
			records_failed_parse, records_filtered, status
		FROM import_batches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list import batches: %w", err)
	}
	defer rows.Close()

	batches := []core.ImportBatch{}
	for rows.Next() {
		var (
			b                 core.ImportBatch
			channel, at, stat string
		)
		if err := rows.Scan(&b.ID, &channel, &b.FileIdentifier, &at,
			&b.RecordsSeen, &b.RecordsImported, &b.RecordsSkippedDuplicate,
			&b.RecordsFailedParse, &b.RecordsFiltered, &stat); err != nil {
			return nil, fmt.Errorf("scan import batch: %w", err)
		}
		b.SourceChannel = core.Channel(channel)
		b.Status = core.ImportStatus(stat)
		b.ImportedAt, _ = time.Parse(core.TimeLayout, at)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// AggregateRows streams the non-hidden rows inside r to yield. Summing
// is left to the caller so amounts never pass through SQL arithmetic.
func (r *SQLiteRepository) AggregateRows(ctx context.Context, dr core.DateRange, confirmedOnly bool, yield func(core.AggregateRow) error) error {
	from, until := dr.Bounds()
	query := `
		SELECT transaction_time, channel, COALESCE(user_category_l1, ''), amount
		FROM expenses
		WHERE is_hidden = 0 AND transaction_time >= ? AND transaction_time < ?`
	if confirmedOnly {
		query += ` AND is_user_confirmed = 1 AND COALESCE(user_category_l1, '') <> ''`
	}

	rows, err := r.db.QueryContext(ctx, query, from, until)
	if err != nil {
		return fmt.Errorf("query aggregate rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row          core.AggregateRow
			txTime, amnt string
		)
		if err := rows.Scan(&txTime, &row.Channel, &row.UserCategoryL1, &amnt); err != nil {
			return fmt.Errorf("scan aggregate row: %w", err)
		}
		if row.TransactionTime, err = time.Parse(core.TimeLayout, txTime); err != nil {
			return fmt.Errorf("parse transaction_time %q: %w", txTime, err)
		}
		if row.Amount, err = decimal.NewFromString(amnt); err != nil {
			return fmt.Errorf("parse amount %q: %w", amnt, err)
		}
		if err := yield(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
