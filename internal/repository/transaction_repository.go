package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sibudis-api/internal/models"
)

// LedgerWriteStage identifies which half of a ledger write failed.
type LedgerWriteStage string

const (
	StageBegin       LedgerWriteStage = "begin"
	StageBalance     LedgerWriteStage = "balance"
	StageLedgerEntry LedgerWriteStage = "ledger_entry"
	StageCommit      LedgerWriteStage = "commit"
)

// ErrBalanceGuard is returned when the guarded balance update matched no row,
// either because the student vanished or the result would go negative.
var ErrBalanceGuard = errors.New("balance guard rejected update")

// LedgerWriteError carries the failing stage of a ledger write.
type LedgerWriteError struct {
	Stage LedgerWriteStage
	Err   error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write %s: %v", e.Stage, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

const transactionColumns = "t.id, t.student_id, t.kind, t.amount, t.note, t.actor_id, t.actor_role, t.resulting_balance, t.created_at"

// TransactionRepository persists ledger entries together with the balances
// they move.
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository constructs a TransactionRepository.
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Apply moves the student balance by the entry's signed amount and records the
// entry in one database transaction. The balance is incremented server side
// and guarded against going negative; the resulting value is written back to
// entry.ResultingBalance.
func (r *TransactionRepository) Apply(ctx context.Context, entry *models.Transaction) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	delta := entry.Kind.Delta(entry.Amount)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return &LedgerWriteError{Stage: StageBegin, Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	var balance int64
	const balanceQuery = `UPDATE students SET balance = balance + $2, updated_at = $3
        WHERE id = $1 AND balance + $2 >= 0 RETURNING balance`
	if err := tx.QueryRowxContext(ctx, balanceQuery, entry.StudentID, delta, entry.CreatedAt).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrBalanceGuard
		}
		return &LedgerWriteError{Stage: StageBalance, Err: err}
	}
	entry.ResultingBalance = balance

	const insertQuery = `INSERT INTO transactions (id, student_id, kind, amount, note, actor_id, actor_role, resulting_balance, created_at)
        VALUES (:id, :student_id, :kind, :amount, :note, :actor_id, :actor_role, :resulting_balance, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, entry); err != nil {
		return &LedgerWriteError{Stage: StageLedgerEntry, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &LedgerWriteError{Stage: StageCommit, Err: err}
	}
	return nil
}

// List returns entries matching the filter, newest first.
func (r *TransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	join := ""

	if len(filter.StudentIDs) > 0 {
		args = append(args, pq.Array(filter.StudentIDs))
		conditions = append(conditions, fmt.Sprintf("t.student_id = ANY($%d)", len(args)))
	}
	if filter.Class != "" {
		join = " JOIN students s ON s.id = t.student_id"
		args = append(args, filter.Class)
		conditions = append(conditions, fmt.Sprintf("s.class = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, fmt.Sprintf("t.kind = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("t.created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("t.created_at < $%d", len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM transactions t%s WHERE %s ORDER BY t.created_at DESC, t.id DESC",
		transactionColumns, join, strings.Join(conditions, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var entries []models.Transaction
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return entries, nil
}

// Reset deletes every ledger entry and zeroes every balance atomically.
func (r *TransactionRepository) Reset(ctx context.Context) (*models.LedgerResetResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	deleted, err := tx.ExecContext(ctx, "DELETE FROM transactions")
	if err != nil {
		return nil, fmt.Errorf("delete transactions: %w", err)
	}
	cleared, err := tx.ExecContext(ctx, "UPDATE students SET balance = 0, updated_at = $1 WHERE balance <> 0", time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("clear balances: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reset tx: %w", err)
	}

	result := &models.LedgerResetResult{}
	result.TransactionsDeleted, _ = deleted.RowsAffected()
	result.BalancesCleared, _ = cleared.RowsAffected()
	return result, nil
}

// Drift lists students whose stored balance differs from the ledger sum.
func (r *TransactionRepository) Drift(ctx context.Context) ([]models.BalanceDrift, error) {
	const query = `SELECT s.id AS student_id, s.name, s.class, s.balance AS stored_balance,
        COALESCE(SUM(CASE WHEN t.kind = 'deposit' THEN t.amount ELSE -t.amount END), 0) AS ledger_balance
        FROM students s LEFT JOIN transactions t ON t.student_id = s.id
        GROUP BY s.id, s.name, s.class, s.balance
        HAVING s.balance <> COALESCE(SUM(CASE WHEN t.kind = 'deposit' THEN t.amount ELSE -t.amount END), 0)
        ORDER BY s.name ASC`
	var drifts []models.BalanceDrift
	if err := r.db.SelectContext(ctx, &drifts, query); err != nil {
		return nil, fmt.Errorf("ledger drift: %w", err)
	}
	return drifts, nil
}
