package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type savingsScheduleRepository interface {
	List(ctx context.Context, filter models.SavingsScheduleFilter) ([]models.SavingsSchedule, error)
	FindByID(ctx context.Context, id string) (*models.SavingsSchedule, error)
	Create(ctx context.Context, schedule *models.SavingsSchedule) error
	Update(ctx context.Context, schedule *models.SavingsSchedule) error
	Delete(ctx context.Context, id string) error
}

// SavingsScheduleRequest is the payload for creating or replacing a schedule.
type SavingsScheduleRequest struct {
	ClassID      string    `json:"class_id" validate:"required,numeric"`
	GoalName     string    `json:"goal_name" validate:"required,max=120"`
	DayOfWeek    string    `json:"day_of_week" validate:"required"`
	TargetAmount int64     `json:"target_amount" validate:"gt=0"`
	TargetDate   time.Time `json:"target_date" validate:"required"`
}

// SavingsScheduleService manages class savings goals and reports their progress.
type SavingsScheduleService struct {
	repo      savingsScheduleRepository
	students  ledgerStudentReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	threshold decimal.Decimal
}

// NewSavingsScheduleService constructs the service. A non-positive threshold
// falls back to DefaultBehindThreshold.
func NewSavingsScheduleService(repo savingsScheduleRepository, students ledgerStudentReader, cache *CacheService, validate *validator.Validate, threshold decimal.Decimal, logger *zap.Logger) *SavingsScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !threshold.IsPositive() {
		threshold = DefaultBehindThreshold
	}
	return &SavingsScheduleService{repo: repo, students: students, cache: cache, validator: validate, logger: logger, threshold: threshold}
}

// List returns the schedules within the principal's scope with live progress.
func (s *SavingsScheduleService) List(ctx context.Context, principal models.Principal) ([]models.ScheduleProgress, error) {
	class, scoped, err := s.scopeClass(ctx, principal)
	if err != nil {
		return nil, err
	}
	if scoped && class == "" {
		return []models.ScheduleProgress{}, nil
	}

	schedules, err := s.repo.List(ctx, models.SavingsScheduleFilter{ClassID: class})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list savings schedules")
	}
	if len(schedules) == 0 {
		return []models.ScheduleProgress{}, nil
	}

	// Progress is measured against whole classes, independent of the
	// principal's student visibility.
	students, err := s.students.List(ctx, models.StudentFilter{Class: class})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class balances")
	}
	return EvaluateSchedules(schedules, students, s.threshold), nil
}

// scopeClass returns the class a non-admin is pinned to. scoped is false for
// administrators.
func (s *SavingsScheduleService) scopeClass(ctx context.Context, principal models.Principal) (string, bool, error) {
	switch principal.Role {
	case models.RoleAdmin:
		return "", false, nil
	case models.RoleTeacher:
		return principal.AssignedClass, true, nil
	case models.RoleParent:
		if principal.LinkedStudentID == "" {
			return "", true, nil
		}
		student, err := s.students.FindByID(ctx, principal.LinkedStudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", true, nil
			}
			return "", true, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load linked student")
		}
		return student.Class, true, nil
	default:
		return "", true, nil
	}
}

// Create stores a new schedule. Administrators only.
func (s *SavingsScheduleService) Create(ctx context.Context, principal models.Principal, req SavingsScheduleRequest) (*models.ScheduleProgress, error) {
	if !principal.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators can manage savings schedules")
	}
	schedule, err := s.buildSchedule(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create savings schedule")
	}
	s.cache.InvalidateDashboards(ctx)
	s.logger.Info("savings schedule created", zap.String("schedule_id", schedule.ID), zap.String("class_id", schedule.ClassID))
	return s.evaluate(ctx, *schedule)
}

// Update replaces an existing schedule. Administrators only.
func (s *SavingsScheduleService) Update(ctx context.Context, principal models.Principal, id string, req SavingsScheduleRequest) (*models.ScheduleProgress, error) {
	if !principal.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators can manage savings schedules")
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, scheduleLookupError(err)
	}
	schedule, err := s.buildSchedule(req)
	if err != nil {
		return nil, err
	}
	schedule.ID = existing.ID
	schedule.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, schedule); err != nil {
		return nil, scheduleLookupError(err)
	}
	s.cache.InvalidateDashboards(ctx)
	return s.evaluate(ctx, *schedule)
}

// Delete removes a schedule. Administrators only.
func (s *SavingsScheduleService) Delete(ctx context.Context, principal models.Principal, id string) error {
	if !principal.IsAdmin() {
		return appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators can manage savings schedules")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return scheduleLookupError(err)
	}
	s.cache.InvalidateDashboards(ctx)
	s.logger.Info("savings schedule deleted", zap.String("schedule_id", id))
	return nil
}

func (s *SavingsScheduleService) buildSchedule(req SavingsScheduleRequest) (*models.SavingsSchedule, error) {
	req.ClassID = strings.TrimSpace(req.ClassID)
	req.GoalName = strings.TrimSpace(req.GoalName)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid savings schedule payload")
	}
	day, err := models.ParseWeekday(req.DayOfWeek)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "day_of_week must be Senin through Sabtu")
	}
	return &models.SavingsSchedule{
		ClassID:      req.ClassID,
		GoalName:     req.GoalName,
		Weekday:      day,
		TargetAmount: req.TargetAmount,
		TargetDate:   req.TargetDate,
	}, nil
}

func (s *SavingsScheduleService) evaluate(ctx context.Context, schedule models.SavingsSchedule) (*models.ScheduleProgress, error) {
	students, err := s.students.List(ctx, models.StudentFilter{Class: schedule.ClassID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class balances")
	}
	progress := EvaluateSchedule(schedule, students, s.threshold)
	return &progress, nil
}

func scheduleLookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "savings schedule not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist savings schedule")
}
