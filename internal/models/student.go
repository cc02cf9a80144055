package models

import "time"

// Student is a savings account holder. Balance is kept in the smallest
// currency unit and only changes through the ledger.
type Student struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Class      string    `db:"class" json:"class"`
	NISN       string    `db:"nisn" json:"nisn"`
	GuardianID *string   `db:"guardian_id" json:"guardian_id,omitempty"`
	Balance    int64     `db:"balance" json:"balance"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter narrows repository reads.
type StudentFilter struct {
	Class      string
	GuardianID string
	Search     string
	IDs        []string
}

// BalanceDrift reports a student whose stored balance disagrees with the ledger.
type BalanceDrift struct {
	StudentID     string `db:"student_id" json:"student_id"`
	Name          string `db:"name" json:"name"`
	Class         string `db:"class" json:"class"`
	StoredBalance int64  `db:"stored_balance" json:"stored_balance"`
	LedgerBalance int64  `db:"ledger_balance" json:"ledger_balance"`
}

// Difference is stored minus ledger.
func (d BalanceDrift) Difference() int64 {
	return d.StoredBalance - d.LedgerBalance
}
