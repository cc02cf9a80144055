package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type guardianLookup interface {
	ListByGuardian(ctx context.Context, guardianID string) ([]models.Student, error)
}

// IdentityService turns a stored profile into the session principal.
type IdentityService struct {
	students guardianLookup
	logger   *zap.Logger
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(students guardianLookup, logger *zap.Logger) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityService{students: students, logger: logger}
}

// Resolve builds the principal for user. It is called once per session; the
// result travels inside the access token afterwards.
func (s *IdentityService) Resolve(ctx context.Context, user *models.User) (*models.Principal, error) {
	if user == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no authenticated user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	role, err := models.ParseRole(user.Role)
	if err != nil {
		s.logger.Error("profile carries unknown role", zap.String("user_id", user.ID), zap.String("role", user.Role))
		return nil, appErrors.Wrap(err, appErrors.ErrUnknownRole.Code, appErrors.ErrUnknownRole.Status, appErrors.ErrUnknownRole.Message)
	}

	principal := &models.Principal{UserID: user.ID, Role: role}
	switch role {
	case models.RoleTeacher:
		if user.Class != nil {
			principal.AssignedClass = strings.TrimSpace(*user.Class)
		}
	case models.RoleParent:
		linked, err := s.students.ListByGuardian(ctx, user.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve linked student")
		}
		switch len(linked) {
		case 0:
		case 1:
			principal.LinkedStudentID = linked[0].ID
		default:
			s.logger.Error("parent linked to multiple students",
				zap.String("user_id", user.ID),
				zap.Int("linked", len(linked)),
			)
			return nil, appErrors.Wrap(errors.New("guardian link is not unique"), appErrors.ErrAmbiguousGuardian.Code, appErrors.ErrAmbiguousGuardian.Status, appErrors.ErrAmbiguousGuardian.Message)
		}
	}
	return principal, nil
}
