package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByNISN(ctx context.Context, nisn string) (*models.Student, error)
	ExistsByNISN(ctx context.Context, nisn string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Class string `json:"class" validate:"required,numeric,max=3"`
	NISN  string `json:"nisn" validate:"required,len=10,numeric"`
}

// UpdateStudentRequest holds payload for updating students.
type UpdateStudentRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Class string `json:"class" validate:"required,numeric,max=3"`
	NISN  string `json:"nisn" validate:"required,len=10,numeric"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	audit     auditRecorder
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, audit auditRecorder, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, audit: audit, cache: cache, validator: validate, logger: logger}
}

// List returns the students visible to the principal, ordered by name.
func (s *StudentService) List(ctx context.Context, principal models.Principal, q StudentQuery) ([]models.Student, error) {
	return loadVisibleStudents(ctx, s.repo, principal, q)
}

// Get returns a single student. Students outside the principal's scope are
// reported as not found.
func (s *StudentService) Get(ctx context.Context, principal models.Principal, id string) (*models.Student, error) {
	student, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanViewStudent(principal, *student) {
		return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "")
	}
	return student, nil
}

// Create registers a new student with a zero balance.
func (s *StudentService) Create(ctx context.Context, principal models.Principal, req CreateStudentRequest) (*models.Student, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Class = strings.TrimSpace(req.Class)
	req.NISN = strings.TrimSpace(req.NISN)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if err := authorizeClassWrite(principal, req.Class); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueNISN(ctx, req.NISN, ""); err != nil {
		return nil, err
	}

	student := &models.Student{Name: req.Name, Class: req.Class, NISN: req.NISN}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.cache.InvalidateDashboards(ctx)
	s.logger.Info("student created", zap.String("student_id", student.ID), zap.String("class", student.Class), zap.String("actor_id", principal.UserID))
	return student, nil
}

// Update modifies name, class and NISN. Balances are never touched here.
func (s *StudentService) Update(ctx context.Context, principal models.Principal, id string, req UpdateStudentRequest) (*models.Student, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Class = strings.TrimSpace(req.Class)
	req.NISN = strings.TrimSpace(req.NISN)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if !principal.Role.CanPostTransactions() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators and teachers can edit students")
	}

	student, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeClassWrite(principal, req.Class); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueNISN(ctx, req.NISN, student.ID); err != nil {
		return nil, err
	}

	student.Name = req.Name
	student.Class = req.Class
	student.NISN = req.NISN
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	s.cache.InvalidateDashboards(ctx)
	return student, nil
}

// Delete removes a student and, through the foreign key, its ledger entries.
func (s *StudentService) Delete(ctx context.Context, principal models.Principal, id string) error {
	if !principal.IsAdmin() {
		return appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators can delete students")
	}
	student, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, student.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrStudentNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.cache.InvalidateDashboards(ctx)
	s.logger.Info("student deleted", zap.String("student_id", student.ID), zap.Int64("balance", student.Balance), zap.String("actor_id", principal.UserID))

	if s.audit != nil {
		payload, _ := json.Marshal(student)
		userID := principal.UserID
		studentID := student.ID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &userID,
			Action:     models.AuditActionStudentDelete,
			Resource:   "students",
			ResourceID: &studentID,
			OldValues:  payload,
		}); err != nil {
			s.logger.Warn("failed to record student delete audit log", zap.Error(err))
		}
	}
	return nil
}

// LookupByNISN finds a student by national student number. Used by
// administrators when registering a parent account.
func (s *StudentService) LookupByNISN(ctx context.Context, principal models.Principal, nisn string) (*models.Student, error) {
	if !principal.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators can look up students by NISN")
	}
	nisn = strings.TrimSpace(nisn)
	if err := s.validator.Var(nisn, "required,len=10,numeric"); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "nisn must be 10 digits")
	}
	student, err := s.repo.FindByNISN(ctx, nisn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *StudentService) find(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *StudentService) ensureUniqueNISN(ctx context.Context, nisn, excludeID string) error {
	exists, err := s.repo.ExistsByNISN(ctx, nisn, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate nisn")
	}
	if exists {
		return appErrors.WithDetails(appErrors.Clone(appErrors.ErrConflict, "nisn already registered"), map[string]interface{}{"nisn": nisn})
	}
	return nil
}

// authorizeClassWrite allows admins any class and teachers only their own.
func authorizeClassWrite(principal models.Principal, class string) error {
	switch principal.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if principal.AssignedClass != "" && class == principal.AssignedClass {
			return nil
		}
		return appErrors.Clone(appErrors.ErrPermissionDenied, "teachers can only manage students in their own class")
	default:
		return appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators and teachers can manage students")
	}
}
