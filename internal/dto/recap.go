package dto

import "github.com/noah-isme/sibudis-api/internal/models"

// RecapResponse summarises ledger activity over whole local days within the
// caller's scope. Date is set only when the period is a single day.
type RecapResponse struct {
	Date              string                 `json:"date,omitempty"`
	From              string                 `json:"from"`
	To                string                 `json:"to"`
	Class             string                 `json:"class,omitempty"`
	Search            string                 `json:"search,omitempty"`
	Totals            RecapTotals            `json:"totals"`
	Students          []RecapStudentSummary  `json:"students"`
	Transactions      []RecapTransactionLine `json:"transactions"`
	ShowClassColumn   bool                   `json:"showClassColumn"`
	GeneratedForScope string                 `json:"scope"`
}

// RecapTotals are the period's sums.
type RecapTotals struct {
	Deposits    int64 `json:"deposits"`
	Withdrawals int64 `json:"withdrawals"`
	Net         int64 `json:"net"`
}

// RecapStudentSummary is one student's movement over the period.
type RecapStudentSummary struct {
	StudentID   string `json:"studentId"`
	Name        string `json:"name"`
	Class       string `json:"class"`
	Deposits    int64  `json:"deposits"`
	Withdrawals int64  `json:"withdrawals"`
	Net         int64  `json:"net"`
}

// RecapTransactionLine is a ledger entry joined with the student name.
type RecapTransactionLine struct {
	models.Transaction
	StudentName  string `json:"studentName"`
	StudentClass string `json:"studentClass"`
}

// ExportResponse returns a signed download link.
type ExportResponse struct {
	Format      string `json:"format"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
	ExpiresAt   string `json:"expiresAt"`
}
