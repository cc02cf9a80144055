package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	CreateWithGuardianLink(ctx context.Context, user *models.User, studentID string) error
	RegisterGuardian(ctx context.Context, user *models.User, studentID string) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	FirstName string  `json:"first_name" validate:"required,max=60"`
	LastName  string  `json:"last_name" validate:"max=60"`
	Role      string  `json:"role" validate:"required"`
	Class     *string `json:"class" validate:"omitempty,numeric,max=3"`
	NIP       *string `json:"nip" validate:"omitempty,max=30"`
	NISN      string  `json:"nisn" validate:"omitempty,len=10,numeric"`
	Password  string  `json:"password" validate:"required,min=6"`
}

// RegisterParentRequest is the public self-registration payload. The NISN
// names the child the new parent account becomes guardian of.
type RegisterParentRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required,max=60"`
	LastName  string `json:"last_name" validate:"max=60"`
	NISN      string `json:"nisn" validate:"required,len=10,numeric"`
	Password  string `json:"password" validate:"required,min=6"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	FirstName string  `json:"first_name" validate:"required,max=60"`
	LastName  string  `json:"last_name" validate:"max=60"`
	Role      string  `json:"role" validate:"required"`
	Class     *string `json:"class" validate:"omitempty,numeric,max=3"`
	NIP       *string `json:"nip" validate:"omitempty,max=30"`
	Active    *bool   `json:"active"`
}

// UpdateProfileRequest is the self-service subset of user fields.
type UpdateProfileRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	FirstName string  `json:"first_name" validate:"required,max=60"`
	LastName  string  `json:"last_name" validate:"max=60"`
	NIP       *string `json:"nip" validate:"omitempty,max=30"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url"`
}

// SetPasswordRequest lets an administrator replace a user's password.
type SetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

// AuditMeta carries request metadata recorded with audit entries.
type AuditMeta struct {
	IP        string
	UserAgent string
}

// UserService handles account management workflows.
type UserService struct {
	repo      userRepository
	students  studentNISNLookup
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, students studentNISNLookup, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, students: students, cache: cache, validator: validate, logger: logger, now: time.Now}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, principal models.Principal, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if err := requireAdmin(principal, "only administrators can list users"); err != nil {
		return nil, nil, err
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, principal models.Principal, id string) (*models.User, error) {
	if err := requireAdmin(principal, "only administrators can view users"); err != nil {
		return nil, err
	}
	return s.find(ctx, id)
}

// Create adds a new account. Parent accounts created with an NISN are linked
// to that student as guardian in the same database transaction.
func (s *UserService) Create(ctx context.Context, principal models.Principal, req CreateUserRequest, meta AuditMeta) (*models.User, error) {
	if err := requireAdmin(principal, "only administrators can create users"); err != nil {
		return nil, err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.NISN = strings.TrimSpace(req.NISN)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	role, class, err := validateRoleAssignment(req.Role, req.Class)
	if err != nil {
		return nil, err
	}
	if req.NISN != "" && role != models.RoleParent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nisn can only be set for parent accounts")
	}
	if err := s.ensureUniqueEmail(ctx, req.Email, ""); err != nil {
		return nil, err
	}

	var linkStudent *models.Student
	if req.NISN != "" {
		if s.students == nil {
			return nil, appErrors.Clone(appErrors.ErrInternal, "student lookup is not configured")
		}
		student, err := s.students.FindByNISN(ctx, req.NISN)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrStudentNotFound, "no student with this nisn"), map[string]interface{}{"nisn": req.NISN})
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up student")
		}
		linkStudent = student
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         string(role),
		Class:        class,
		NIP:          trimmedOrNil(req.NIP),
		Active:       true,
		PasswordHash: string(passwordHash),
	}

	if linkStudent != nil {
		if err := s.repo.CreateWithGuardianLink(ctx, user, linkStudent.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create parent account")
		}
		s.cache.InvalidateDashboards(ctx)
	} else if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	payload := map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role}
	if linkStudent != nil {
		payload["student_id"] = linkStudent.ID
	}
	s.recordAudit(ctx, principal, models.AuditActionUserCreate, user.ID, nil, payload, meta)
	return user, nil
}

// RegisterParent creates a parent account without a signed-in principal. It
// only claims students that have no guardian yet; admin and teacher accounts
// stay admin-only through Create.
func (s *UserService) RegisterParent(ctx context.Context, req RegisterParentRequest, meta AuditMeta) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.NISN = strings.TrimSpace(req.NISN)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if s.students == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "student lookup is not configured")
	}
	student, err := s.students.FindByNISN(ctx, req.NISN)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrStudentNotFound, "no student with this nisn"), map[string]interface{}{"nisn": req.NISN})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up student")
	}
	if student.GuardianID != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already has a registered guardian")
	}
	if err := s.ensureUniqueEmail(ctx, req.Email, ""); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user := &models.User{
		Email:        req.Email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         string(models.RoleParent),
		Active:       true,
		PasswordHash: string(passwordHash),
	}
	if err := s.repo.RegisterGuardian(ctx, user, student.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already has a registered guardian")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register parent account")
	}
	s.cache.InvalidateDashboards(ctx)

	s.recordAudit(ctx, models.Principal{UserID: user.ID, Role: models.RoleParent}, models.AuditActionParentRegister, user.ID, nil,
		map[string]interface{}{"id": user.ID, "email": user.Email, "student_id": student.ID}, meta)
	return user, nil
}

// Update modifies account attributes.
func (s *UserService) Update(ctx context.Context, principal models.Principal, id string, req UpdateUserRequest, meta AuditMeta) (*models.User, error) {
	if err := requireAdmin(principal, "only administrators can update users"); err != nil {
		return nil, err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}
	role, class, err := validateRoleAssignment(req.Role, req.Class)
	if err != nil {
		return nil, err
	}

	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.ID == principal.UserID && (role != models.RoleAdmin || (req.Active != nil && !*req.Active)) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "administrators cannot demote or deactivate themselves")
	}
	if err := s.ensureUniqueEmail(ctx, req.Email, user.ID); err != nil {
		return nil, err
	}

	old := map[string]interface{}{"email": user.Email, "role": user.Role, "class": user.Class, "active": user.Active}

	user.Email = req.Email
	user.FirstName = strings.TrimSpace(req.FirstName)
	user.LastName = strings.TrimSpace(req.LastName)
	user.Role = string(role)
	user.Class = class
	user.NIP = trimmedOrNil(req.NIP)
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	if !user.Active {
		s.revokeSessions(ctx, user.ID)
	}

	s.recordAudit(ctx, principal, models.AuditActionUserUpdate, user.ID, old,
		map[string]interface{}{"email": user.Email, "role": user.Role, "class": user.Class, "active": user.Active}, meta)
	return user, nil
}

// Delete deactivates an account and revokes its sessions. Ledger entries keep
// referring to the actor id.
func (s *UserService) Delete(ctx context.Context, principal models.Principal, id string, meta AuditMeta) error {
	if err := requireAdmin(principal, "only administrators can delete users"); err != nil {
		return err
	}
	if strings.TrimSpace(id) == principal.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "administrators cannot delete their own account")
	}
	user, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, user.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	s.revokeSessions(ctx, user.ID)

	s.recordAudit(ctx, principal, models.AuditActionUserDelete, user.ID,
		map[string]interface{}{"active": user.Active}, map[string]interface{}{"active": false}, meta)
	return nil
}

// SetPassword replaces a user's password and signs them out everywhere.
func (s *UserService) SetPassword(ctx context.Context, principal models.Principal, id string, req SetPasswordRequest, meta AuditMeta) error {
	if err := requireAdmin(principal, "only administrators can set passwords"); err != nil {
		return err
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid password payload")
	}
	user, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, string(hash), s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	s.revokeSessions(ctx, user.ID)

	s.recordAudit(ctx, principal, models.AuditActionPasswordChange, user.ID, nil, map[string]interface{}{"by_admin": true}, meta)
	return nil
}

// UpdateProfile lets any signed-in user edit their own name, e-mail, NIP and
// avatar.
func (s *UserService) UpdateProfile(ctx context.Context, principal models.Principal, req UpdateProfileRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	user, err := s.find(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUniqueEmail(ctx, req.Email, user.ID); err != nil {
		return nil, err
	}

	user.Email = req.Email
	user.FirstName = strings.TrimSpace(req.FirstName)
	user.LastName = strings.TrimSpace(req.LastName)
	user.NIP = trimmedOrNil(req.NIP)
	user.AvatarURL = trimmedOrNil(req.AvatarURL)

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	return user, nil
}

func (s *UserService) find(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *UserService) ensureUniqueEmail(ctx context.Context, email, excludeID string) error {
	exists, err := s.repo.ExistsByEmail(ctx, email, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "email already exists")
	}
	return nil
}

func (s *UserService) revokeSessions(ctx context.Context, userID string) {
	if err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke user sessions", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *UserService) recordAudit(ctx context.Context, principal models.Principal, action, resourceID string, oldValues, newValues map[string]interface{}, meta AuditMeta) {
	entry := &models.AuditLog{
		UserID:     &principal.UserID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}

// validateRoleAssignment parses the role and returns the class to store:
// teachers must carry one, other roles never do.
func validateRoleAssignment(rawRole string, class *string) (models.Role, *string, error) {
	role, err := models.ParseRole(rawRole)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "role must be admin, teacher or parent")
	}
	if role != models.RoleTeacher {
		return role, nil, nil
	}
	trimmed := trimmedOrNil(class)
	if trimmed == nil {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "teachers must be assigned to a class")
	}
	return role, trimmed, nil
}

func requireAdmin(principal models.Principal, message string) error {
	if principal.IsAdmin() {
		return nil
	}
	return appErrors.Clone(appErrors.ErrPermissionDenied, message)
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
