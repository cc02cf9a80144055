package models

import (
	"fmt"
	"strings"
	"time"
)

// TransactionKind distinguishes deposits from withdrawals.
type TransactionKind string

const (
	TransactionDeposit    TransactionKind = "deposit"
	TransactionWithdrawal TransactionKind = "withdrawal"
)

// ParseTransactionKind normalises a kind from user input.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(strings.ToLower(strings.TrimSpace(raw))) {
	case TransactionDeposit:
		return TransactionDeposit, nil
	case TransactionWithdrawal:
		return TransactionWithdrawal, nil
	default:
		return "", fmt.Errorf("invalid transaction kind %q", raw)
	}
}

// Delta returns the signed balance change for amount.
func (k TransactionKind) Delta(amount int64) int64 {
	if k == TransactionWithdrawal {
		return -amount
	}
	return amount
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID               string          `db:"id" json:"id"`
	StudentID        string          `db:"student_id" json:"student_id"`
	Kind             TransactionKind `db:"kind" json:"kind"`
	Amount           int64           `db:"amount" json:"amount"`
	Note             string          `db:"note" json:"note"`
	ActorID          string          `db:"actor_id" json:"actor_id"`
	ActorRole        Role            `db:"actor_role" json:"actor_role"`
	ResultingBalance int64           `db:"resulting_balance" json:"resulting_balance"`
	CreatedAt        time.Time       `db:"created_at" json:"timestamp"`
}

// TransactionFilter narrows repository reads. Zero times are unbounded.
type TransactionFilter struct {
	StudentIDs []string
	Class      string
	Kind       TransactionKind
	From       time.Time
	To         time.Time
	Limit      int
}

// LedgerResetResult reports what a reset removed.
type LedgerResetResult struct {
	TransactionsDeleted int64 `json:"transactions_deleted"`
	BalancesCleared     int64 `json:"balances_cleared"`
}
