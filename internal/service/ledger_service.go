package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/repository"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type studentLister interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, error)
}

type ledgerStudentReader interface {
	studentLister
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type depositWindowLookup interface {
	HasScheduleOn(ctx context.Context, classID string, day models.Weekday) (bool, error)
}

type ledgerStore interface {
	Apply(ctx context.Context, entry *models.Transaction) error
	List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error)
	Reset(ctx context.Context) (*models.LedgerResetResult, error)
	Drift(ctx context.Context) ([]models.BalanceDrift, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// LedgerConfig carries the amount rules and the school's local time zone.
type LedgerConfig struct {
	MinAmount     int64
	AmountStep    int64
	MaxNoteLength int
	Location      *time.Location
}

// RecordTransactionRequest is a requested ledger mutation.
type RecordTransactionRequest struct {
	StudentID string `json:"student_id"`
	Kind      string `json:"kind"`
	Amount    int64  `json:"amount"`
	Note      string `json:"note"`
}

// LedgerServiceParams groups constructor dependencies.
type LedgerServiceParams struct {
	Students  ledgerStudentReader
	Schedules depositWindowLookup
	Store     ledgerStore
	Audit     auditRecorder
	Cache     *CacheService
	Metrics   *MetricsService
	Logger    *zap.Logger
	Config    LedgerConfig
}

// LedgerService validates and applies deposits and withdrawals.
type LedgerService struct {
	students  ledgerStudentReader
	schedules depositWindowLookup
	store     ledgerStore
	audit     auditRecorder
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
	cfg       LedgerConfig
}

// NewLedgerService constructs a LedgerService with defaults for unset rules.
func NewLedgerService(params LedgerServiceParams) *LedgerService {
	cfg := params.Config
	if cfg.MinAmount <= 0 {
		cfg.MinAmount = 1000
	}
	if cfg.AmountStep <= 0 {
		cfg.AmountStep = 1000
	}
	if cfg.MaxNoteLength <= 0 {
		cfg.MaxNoteLength = 255
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		students:  params.Students,
		schedules: params.Schedules,
		store:     params.Store,
		audit:     params.Audit,
		cache:     params.Cache,
		metrics:   params.Metrics,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Record validates req against the principal and commits it. Checks run in a
// fixed order and the first failure is returned.
func (s *LedgerService) Record(ctx context.Context, principal models.Principal, req RecordTransactionRequest) (*models.Transaction, error) {
	entry, err := s.record(ctx, principal, req)
	if err != nil {
		s.metrics.RecordLedgerRejection(appErrors.FromError(err).Code)
		return nil, err
	}
	s.metrics.RecordLedgerEntry(*entry)
	s.cache.InvalidateDashboards(ctx)
	s.logger.Info("ledger entry recorded",
		zap.String("transaction_id", entry.ID),
		zap.String("student_id", entry.StudentID),
		zap.String("kind", string(entry.Kind)),
		zap.Int64("amount", entry.Amount),
		zap.Int64("resulting_balance", entry.ResultingBalance),
		zap.String("actor_id", entry.ActorID),
	)
	return entry, nil
}

func (s *LedgerService) record(ctx context.Context, principal models.Principal, req RecordTransactionRequest) (*models.Transaction, error) {
	if !principal.Role.CanPostTransactions() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators and teachers can record transactions")
	}

	kind, err := models.ParseTransactionKind(req.Kind)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "kind must be deposit or withdrawal")
	}

	if err := s.checkAmount(req.Amount); err != nil {
		return nil, err
	}

	note := strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(note) > s.cfg.MaxNoteLength {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "note is too long"), map[string]interface{}{
			"max_length": s.cfg.MaxNoteLength,
		})
	}

	student, err := s.loadStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if principal.Role == models.RoleTeacher && student.Class != principal.AssignedClass {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "student is not in your class")
	}

	if kind == models.TransactionDeposit && principal.Role == models.RoleTeacher {
		if err := s.checkDepositWindow(ctx, student.Class); err != nil {
			return nil, err
		}
	}

	if kind == models.TransactionWithdrawal && req.Amount > student.Balance {
		return nil, insufficientBalance(student.Balance)
	}

	entry := &models.Transaction{
		StudentID: student.ID,
		Kind:      kind,
		Amount:    req.Amount,
		Note:      note,
		ActorID:   principal.UserID,
		ActorRole: principal.Role,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Apply(ctx, entry); err != nil {
		return nil, s.translateWriteError(err, entry)
	}
	return entry, nil
}

func (s *LedgerService) checkAmount(amount int64) error {
	if amount < s.cfg.MinAmount || amount%s.cfg.AmountStep != 0 {
		return appErrors.WithDetails(appErrors.ErrInvalidAmount, map[string]interface{}{
			"amount":     amount,
			"min_amount": s.cfg.MinAmount,
			"step":       s.cfg.AmountStep,
		})
	}
	return nil
}

func (s *LedgerService) loadStudent(ctx context.Context, id string) (*models.Student, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "")
	}
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// checkDepositWindow requires a savings schedule for the class on today's
// weekday in the school's time zone.
func (s *LedgerService) checkDepositWindow(ctx context.Context, class string) error {
	today := s.now().In(s.cfg.Location)
	day, ok := models.WeekdayOf(today)
	closed := appErrors.WithDetails(appErrors.ErrDepositWindowClosed, map[string]interface{}{
		"class": class,
		"day":   dayLabel(day, ok),
	})
	if !ok {
		return closed
	}
	open, err := s.schedules.HasScheduleOn(ctx, class, day)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check savings schedule")
	}
	if !open {
		return closed
	}
	return nil
}

func dayLabel(day models.Weekday, ok bool) string {
	if !ok {
		return "Minggu"
	}
	return string(day)
}

func insufficientBalance(balance int64) error {
	return appErrors.WithDetails(appErrors.ErrInsufficientBalance, map[string]interface{}{
		"balance": balance,
	})
}

func (s *LedgerService) translateWriteError(err error, entry *models.Transaction) error {
	var writeErr *repository.LedgerWriteError
	if !errors.As(err, &writeErr) {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}

	if errors.Is(writeErr.Err, repository.ErrBalanceGuard) {
		if entry.Kind == models.TransactionDeposit {
			return appErrors.Clone(appErrors.ErrStudentNotFound, "")
		}
		return appErrors.Clone(appErrors.ErrInsufficientBalance, "balance changed before the withdrawal could be applied")
	}

	fields := []zap.Field{
		zap.String("stage", string(writeErr.Stage)),
		zap.String("student_id", entry.StudentID),
		zap.String("kind", string(entry.Kind)),
		zap.Int64("amount", entry.Amount),
		zap.Error(writeErr.Err),
	}
	switch writeErr.Stage {
	case repository.StageLedgerEntry:
		s.logger.Error("ledger entry write failed after balance update, rolled back", fields...)
	case repository.StageCommit:
		s.logger.Error("ledger commit failed, outcome must be reconciled", fields...)
	default:
		s.logger.Warn("ledger write failed", fields...)
	}

	wrapped := appErrors.Wrap(writeErr, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	return appErrors.WithDetails(wrapped, map[string]interface{}{"stage": string(writeErr.Stage)})
}

// VisibleStudents returns the students within the principal's scope.
func (s *LedgerService) VisibleStudents(ctx context.Context, principal models.Principal, q StudentQuery) ([]models.Student, error) {
	return loadVisibleStudents(ctx, s.students, principal, q)
}

// List returns the visibility-filtered ledger history, newest first.
func (s *LedgerService) List(ctx context.Context, principal models.Principal, q TransactionQuery) ([]models.Transaction, error) {
	history, err := s.History(ctx, principal, q)
	if err != nil {
		return nil, err
	}
	return history.Transactions, nil
}

// LedgerHistory pairs filtered entries with the students they belong to.
type LedgerHistory struct {
	Students     []models.Student
	Transactions []models.Transaction
}

// History loads the visible students and the entries the principal may see.
func (s *LedgerService) History(ctx context.Context, principal models.Principal, q TransactionQuery) (*LedgerHistory, error) {
	visible, err := loadVisibleStudents(ctx, s.students, principal, q.Students)
	if err != nil {
		return nil, err
	}

	filter := models.TransactionFilter{Kind: q.Kind, From: q.From, To: q.To}
	if !principal.IsAdmin() || q.Students.narrows(principal) {
		if len(visible) == 0 {
			return &LedgerHistory{Students: visible, Transactions: []models.Transaction{}}, nil
		}
		filter.StudentIDs = make([]string, 0, len(visible))
		for _, st := range visible {
			filter.StudentIDs = append(filter.StudentIDs, st.ID)
		}
	}
	if q.StudentID != "" {
		filter.StudentIDs = []string{q.StudentID}
	}

	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transactions")
	}
	return &LedgerHistory{
		Students:     visible,
		Transactions: FilterTransactions(principal, entries, visible, q),
	}, nil
}

// Reset wipes the ledger and zeroes all balances. It is irreversible and
// needs an explicit confirmation.
func (s *LedgerService) Reset(ctx context.Context, principal models.Principal, confirmed bool) (*models.LedgerResetResult, error) {
	if !principal.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators can reset the ledger")
	}
	if !confirmed {
		return nil, appErrors.Clone(appErrors.ErrConfirmationRequired, "reset deletes every transaction; resend with confirm=true")
	}

	result, err := s.store.Reset(ctx)
	if err != nil {
		s.logger.Error("ledger reset failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to reset ledger")
	}

	s.cache.InvalidateDashboards(ctx)
	s.logger.Warn("ledger reset",
		zap.String("actor_id", principal.UserID),
		zap.Int64("transactions_deleted", result.TransactionsDeleted),
		zap.Int64("balances_cleared", result.BalancesCleared),
	)
	if s.audit != nil {
		payload, _ := json.Marshal(result)
		userID := principal.UserID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:    &userID,
			Action:    models.AuditActionLedgerReset,
			Resource:  "transactions",
			NewValues: payload,
		}); err != nil {
			s.logger.Warn("failed to record ledger reset audit log", zap.Error(err))
		}
	}
	return result, nil
}

// Drift reports students whose stored balance no longer matches the ledger.
func (s *LedgerService) Drift(ctx context.Context, principal models.Principal) ([]models.BalanceDrift, error) {
	if !principal.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators can reconcile balances")
	}
	drifts, err := s.store.Drift(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute balance drift")
	}
	if len(drifts) > 0 {
		s.logger.Warn("balance drift detected", zap.Int("students", len(drifts)))
	}
	return drifts, nil
}

// loadVisibleStudents narrows the repository read to the principal's scope and
// then applies the visibility filter as the authoritative check.
func loadVisibleStudents(ctx context.Context, repo studentLister, principal models.Principal, q StudentQuery) ([]models.Student, error) {
	filter := models.StudentFilter{Search: strings.TrimSpace(q.Search)}
	switch principal.Role {
	case models.RoleAdmin:
		filter.Class = strings.TrimSpace(q.Class)
	case models.RoleTeacher:
		if principal.AssignedClass == "" {
			return []models.Student{}, nil
		}
		filter.Class = principal.AssignedClass
	case models.RoleParent:
		if principal.LinkedStudentID == "" {
			return []models.Student{}, nil
		}
		filter.IDs = []string{principal.LinkedStudentID}
	default:
		return []models.Student{}, nil
	}

	students, err := repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return FilterStudents(principal, students, q), nil
}
