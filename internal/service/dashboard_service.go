package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sibudis-api/internal/dto"
	"github.com/noah-isme/sibudis-api/internal/models"
)

type ledgerHistoryReader interface {
	History(ctx context.Context, principal models.Principal, q TransactionQuery) (*LedgerHistory, error)
}

type scheduleProgressLister interface {
	List(ctx context.Context, principal models.Principal) ([]models.ScheduleProgress, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL    time.Duration
	RecentLimit int
	Location    *time.Location
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Ledger    ledgerHistoryReader
	Schedules scheduleProgressLister
	Cache     *CacheService
	Logger    *zap.Logger
	Config    DashboardServiceConfig
}

// DashboardService composes the landing page for each role.
type DashboardService struct {
	ledger    ledgerHistoryReader
	schedules scheduleProgressLister
	cache     *CacheService
	logger    *zap.Logger
	now       func() time.Time
	cfg       DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		ledger:    params.Ledger,
		schedules: params.Schedules,
		cache:     params.Cache,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Summary returns the principal's dashboard and whether it came from cache.
// Entries are keyed by scope and local date so the daily totals roll over at
// midnight in the school's time zone.
func (s *DashboardService) Summary(ctx context.Context, principal models.Principal) (*dto.DashboardResponse, bool, error) {
	now := s.now().In(s.cfg.Location)
	cacheKey := dashboardCachePrefix + principal.ScopeKey() + ":" + now.Format("2006-01-02")

	var cached dto.DashboardResponse
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	summary, err := s.compose(ctx, principal, now)
	if err != nil {
		return nil, false, err
	}
	if err := s.cache.Set(ctx, cacheKey, summary, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return summary, false, nil
}

func (s *DashboardService) compose(ctx context.Context, principal models.Principal, now time.Time) (*dto.DashboardResponse, error) {
	history, err := s.ledger.History(ctx, principal, TransactionQuery{})
	if err != nil {
		return nil, err
	}
	schedules, err := s.schedules.List(ctx, principal)
	if err != nil {
		return nil, err
	}

	resp := &dto.DashboardResponse{
		Role:             principal.Role,
		Scope:            principal.ScopeKey(),
		RecentActivity:   []models.Transaction{},
		SavingsSchedules: schedules,
	}
	resp.Totals.Students = len(history.Students)
	for _, st := range history.Students {
		resp.Totals.TotalBalance += st.Balance
	}
	if principal.Role == models.RoleParent && len(history.Students) == 1 {
		child := history.Students[0]
		resp.Student = &child
	}

	dayStart, dayEnd := localDayBounds(now)
	for _, tx := range history.Transactions {
		if !tx.CreatedAt.Before(dayStart) && tx.CreatedAt.Before(dayEnd) {
			resp.Totals.TransactionsToday++
			if tx.Kind == models.TransactionWithdrawal {
				resp.Totals.WithdrawalsToday += tx.Amount
			} else {
				resp.Totals.DepositsToday += tx.Amount
			}
		}
		if len(resp.RecentActivity) < s.cfg.RecentLimit {
			resp.RecentActivity = append(resp.RecentActivity, tx)
		}
	}
	return resp, nil
}

// localDayBounds returns [midnight, next midnight) of t's calendar day in t's
// location.
func localDayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
