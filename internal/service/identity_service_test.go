package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type guardianLookupStub struct {
	byGuardian map[string][]models.Student
	err        error
}

func (s *guardianLookupStub) ListByGuardian(_ context.Context, guardianID string) ([]models.Student, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byGuardian[guardianID], nil
}

func strPtr(v string) *string { return &v }

func TestIdentityServiceResolveRoles(t *testing.T) {
	lookup := &guardianLookupStub{byGuardian: map[string][]models.Student{
		"p1": {{ID: "s1", Class: "5"}},
	}}
	svc := NewIdentityService(lookup, nil)
	ctx := context.Background()

	admin, err := svc.Resolve(ctx, &models.User{ID: "a1", Role: "ADMIN", Active: true, Class: strPtr("7")})
	require.NoError(t, err)
	assert.Equal(t, models.Principal{UserID: "a1", Role: models.RoleAdmin}, *admin)

	teacher, err := svc.Resolve(ctx, &models.User{ID: "t1", Role: "teacher", Active: true, Class: strPtr(" 5 ")})
	require.NoError(t, err)
	assert.Equal(t, "5", teacher.AssignedClass)
	assert.Empty(t, teacher.LinkedStudentID)

	parent, err := svc.Resolve(ctx, &models.User{ID: "p1", Role: "parent", Active: true})
	require.NoError(t, err)
	assert.Equal(t, "s1", parent.LinkedStudentID)
	assert.Empty(t, parent.AssignedClass)
}

func TestIdentityServiceTeacherWithoutClass(t *testing.T) {
	svc := NewIdentityService(&guardianLookupStub{}, nil)

	teacher, err := svc.Resolve(context.Background(), &models.User{ID: "t1", Role: "teacher", Active: true})
	require.NoError(t, err)
	assert.Empty(t, teacher.AssignedClass)
}

func TestIdentityServiceParentWithoutLink(t *testing.T) {
	svc := NewIdentityService(&guardianLookupStub{}, nil)

	parent, err := svc.Resolve(context.Background(), &models.User{ID: "p2", Role: "parent", Active: true})
	require.NoError(t, err)
	assert.Empty(t, parent.LinkedStudentID)
}

func TestIdentityServiceParentWithSeveralLinks(t *testing.T) {
	svc := NewIdentityService(&guardianLookupStub{byGuardian: map[string][]models.Student{
		"p1": {{ID: "s1"}, {ID: "s2"}},
	}}, nil)

	_, err := svc.Resolve(context.Background(), &models.User{ID: "p1", Role: "parent", Active: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAmbiguousGuardian))
}

func TestIdentityServiceUnknownRole(t *testing.T) {
	svc := NewIdentityService(&guardianLookupStub{}, nil)

	_, err := svc.Resolve(context.Background(), &models.User{ID: "x", Role: "principal", Active: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnknownRole))
	assert.True(t, errors.Is(err, models.ErrUnknownRole))
}

func TestIdentityServiceInactiveAndLookupFailure(t *testing.T) {
	svc := NewIdentityService(&guardianLookupStub{err: errors.New("db down")}, nil)

	_, err := svc.Resolve(context.Background(), &models.User{ID: "a", Role: "admin"})
	assert.True(t, errors.Is(err, appErrors.ErrInactiveAccount))

	_, err = svc.Resolve(context.Background(), &models.User{ID: "p", Role: "parent", Active: true})
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}
