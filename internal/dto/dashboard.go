package dto

import "github.com/noah-isme/sibudis-api/internal/models"

// DashboardResponse is the role-scoped landing payload.
type DashboardResponse struct {
	Role             models.Role               `json:"role"`
	Scope            string                    `json:"scope"`
	Totals           DashboardTotals           `json:"totals"`
	Student          *models.Student           `json:"student,omitempty"`
	RecentActivity   []models.Transaction      `json:"recentActivity"`
	SavingsSchedules []models.ScheduleProgress `json:"savingsSchedules"`
}

// DashboardTotals aggregates balances and today's movement.
type DashboardTotals struct {
	Students          int   `json:"students"`
	TotalBalance      int64 `json:"totalBalance"`
	DepositsToday     int64 `json:"depositsToday"`
	WithdrawalsToday  int64 `json:"withdrawalsToday"`
	TransactionsToday int   `json:"transactionsToday"`
}
