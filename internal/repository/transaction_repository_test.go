package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sibudis-api/internal/models"
)

const guardedBalanceUpdate = "UPDATE students SET balance = balance + $2"

func TestTransactionRepositoryApplyDeposit(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTransactionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(guardedBalanceUpdate)).
		WithArgs("s1", int64(5000), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(15000)))
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), "s1", models.TransactionDeposit, int64(5000), "", "t1", models.RoleTeacher, int64(15000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry := &models.Transaction{StudentID: "s1", Kind: models.TransactionDeposit, Amount: 5000, ActorID: "t1", ActorRole: models.RoleTeacher}
	require.NoError(t, repo.Apply(context.Background(), entry))
	assert.Equal(t, int64(15000), entry.ResultingBalance)
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryApplyWithdrawalGuard(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTransactionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(guardedBalanceUpdate)).
		WithArgs("s1", int64(-20000), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectRollback()

	err := repo.Apply(context.Background(), &models.Transaction{StudentID: "s1", Kind: models.TransactionWithdrawal, Amount: 20000})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBalanceGuard)

	var writeErr *LedgerWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, StageBalance, writeErr.Stage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryApplyEntryFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTransactionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(guardedBalanceUpdate)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(6000)))
	mock.ExpectExec("INSERT INTO transactions").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.Apply(context.Background(), &models.Transaction{StudentID: "s1", Kind: models.TransactionDeposit, Amount: 1000})
	var writeErr *LedgerWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, StageLedgerEntry, writeErr.Stage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryApplyCommitFailure(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTransactionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(guardedBalanceUpdate)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(6000)))
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(sql.ErrTxDone)

	err := repo.Apply(context.Background(), &models.Transaction{StudentID: "s1", Kind: models.TransactionDeposit, Amount: 1000})
	var writeErr *LedgerWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, StageCommit, writeErr.Stage)
}

func TestTransactionRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTransactionRepository(db)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "kind", "amount", "note", "actor_id", "actor_role", "resulting_balance", "created_at"}).
		AddRow("tx1", "s1", "deposit", int64(2000), "", "a1", "admin", int64(2000), now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM transactions t JOIN students s ON s.id = t.student_id WHERE 1=1 AND s.class = $1 AND t.kind = $2 AND t.created_at >= $3 AND t.created_at < $4 ORDER BY t.created_at DESC, t.id DESC LIMIT 5")).
		WithArgs(models.TransactionDeposit, from, to).
		WillReturnRows(rows)

	entries, err := repo.List(context.Background(), models.TransactionFilter{Class: "5", Kind: models.TransactionDeposit, From: from, To: to, Limit: 5})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.TransactionDeposit, entries[0].Kind)
	assert.Equal(t, models.RoleAdmin, entries[0].ActorRole)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryReset(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTransactionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transactions").WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET balance = 0")).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	result, err := repo.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), result.TransactionsDeleted)
	assert.Equal(t, int64(4), result.BalancesCleared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryResetRollsBack(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewTransactionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transactions").WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET balance = 0")).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.Reset(context.Background())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
