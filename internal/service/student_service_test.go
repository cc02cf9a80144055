package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type mockStudentRepo struct {
	students   map[string]models.Student
	deleted    []string
	lastFilter models.StudentFilter
	err        error
}

func newMockStudentRepo(students ...models.Student) *mockStudentRepo {
	repo := &mockStudentRepo{students: make(map[string]models.Student)}
	for _, s := range students {
		repo.students[s.ID] = s
	}
	return repo
}

func (m *mockStudentRepo) List(_ context.Context, filter models.StudentFilter) ([]models.Student, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	out := []models.Student{}
	for _, s := range m.students {
		if filter.Class != "" && s.Class != filter.Class {
			continue
		}
		if len(filter.IDs) > 0 && !containsString(filter.IDs, s.ID) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockStudentRepo) FindByID(_ context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindByNISN(_ context.Context, nisn string) (*models.Student, error) {
	for _, s := range m.students {
		if s.NISN == nisn {
			found := s
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsByNISN(_ context.Context, nisn string, excludeID string) (bool, error) {
	for _, s := range m.students {
		if s.NISN == nisn && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) Create(_ context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = "generated"
	}
	student.Balance = 0
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Update(_ context.Context, student *models.Student) error {
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.students, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func schoolRoster() *mockStudentRepo {
	return newMockStudentRepo(
		models.Student{ID: "s1", Name: "Andi", Class: "4", NISN: "0000000001", Balance: 5000},
		models.Student{ID: "s2", Name: "Budi", Class: "4", NISN: "0000000002"},
		models.Student{ID: "s3", Name: "Citra", Class: "5", NISN: "0000000003"},
		models.Student{ID: "s4", Name: "Dewi", Class: "6", NISN: "0000000004"},
		models.Student{ID: "s5", Name: "Eka", Class: "4", NISN: "0000000005"},
	)
}

var classFourTeacher = models.Principal{UserID: "t4", Role: models.RoleTeacher, AssignedClass: "4"}

func TestStudentServiceListTeacherSeesOnlyOwnClass(t *testing.T) {
	repo := schoolRoster()
	svc := NewStudentService(repo, nil, nil, nil, nil)

	students, err := svc.List(context.Background(), classFourTeacher, StudentQuery{Class: "6"})
	require.NoError(t, err)
	require.Len(t, students, 3)
	for _, s := range students {
		assert.Equal(t, "4", s.Class)
	}
	assert.Equal(t, "4", repo.lastFilter.Class)
}

func TestStudentServiceListAdminFilters(t *testing.T) {
	svc := NewStudentService(schoolRoster(), nil, nil, nil, nil)

	all, err := svc.List(context.Background(), adminPrincipal, StudentQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	class5, err := svc.List(context.Background(), adminPrincipal, StudentQuery{Class: "5"})
	require.NoError(t, err)
	require.Len(t, class5, 1)
	assert.Equal(t, "Citra", class5[0].Name)
}

func TestStudentServiceGetHidesOutOfScope(t *testing.T) {
	svc := NewStudentService(schoolRoster(), nil, nil, nil, nil)

	_, err := svc.Get(context.Background(), classFourTeacher, "s3")
	assertCode(t, err, appErrors.ErrStudentNotFound)

	parent := models.Principal{UserID: "p1", Role: models.RoleParent, LinkedStudentID: "s1"}
	student, err := svc.Get(context.Background(), parent, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), student.Balance)
}

func TestStudentServiceCreate(t *testing.T) {
	repo := schoolRoster()
	svc := NewStudentService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	student, err := svc.Create(ctx, classFourTeacher, CreateStudentRequest{Name: " Fajar ", Class: "4", NISN: "0000000010"})
	require.NoError(t, err)
	assert.Equal(t, "Fajar", student.Name)
	assert.Zero(t, student.Balance)

	_, err = svc.Create(ctx, classFourTeacher, CreateStudentRequest{Name: "Gita", Class: "5", NISN: "0000000011"})
	assertCode(t, err, appErrors.ErrPermissionDenied)

	_, err = svc.Create(ctx, adminPrincipal, CreateStudentRequest{Name: "Gita", Class: "5", NISN: "0000000001"})
	assertCode(t, err, appErrors.ErrConflict)

	_, err = svc.Create(ctx, parentPrincipal, CreateStudentRequest{Name: "Gita", Class: "5", NISN: "0000000012"})
	assertCode(t, err, appErrors.ErrPermissionDenied)
}

func TestStudentServiceCreateValidation(t *testing.T) {
	svc := NewStudentService(schoolRoster(), nil, nil, nil, nil)
	for _, req := range []CreateStudentRequest{
		{Name: "", Class: "4", NISN: "0000000020"},
		{Name: "Hana", Class: "IV", NISN: "0000000020"},
		{Name: "Hana", Class: "4", NISN: "12345"},
		{Name: "Hana", Class: "4", NISN: "00000000ab"},
	} {
		_, err := svc.Create(context.Background(), adminPrincipal, req)
		assertCode(t, err, appErrors.ErrValidation)
	}
}

func TestStudentServiceUpdate(t *testing.T) {
	repo := schoolRoster()
	svc := NewStudentService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	updated, err := svc.Update(ctx, classFourTeacher, "s1", UpdateStudentRequest{Name: "Andi P", Class: "4", NISN: "0000000001"})
	require.NoError(t, err)
	assert.Equal(t, "Andi P", updated.Name)
	assert.Equal(t, int64(5000), repo.students["s1"].Balance)

	_, err = svc.Update(ctx, classFourTeacher, "s1", UpdateStudentRequest{Name: "Andi", Class: "5", NISN: "0000000001"})
	assertCode(t, err, appErrors.ErrPermissionDenied)

	_, err = svc.Update(ctx, classFourTeacher, "s3", UpdateStudentRequest{Name: "Citra", Class: "4", NISN: "0000000003"})
	assertCode(t, err, appErrors.ErrStudentNotFound)

	_, err = svc.Update(ctx, adminPrincipal, "s2", UpdateStudentRequest{Name: "Budi", Class: "4", NISN: "0000000003"})
	assertCode(t, err, appErrors.ErrConflict)
}

func TestStudentServiceDelete(t *testing.T) {
	repo := schoolRoster()
	audit := &auditStub{}
	svc := NewStudentService(repo, audit, nil, nil, nil)
	ctx := context.Background()

	assertCode(t, svc.Delete(ctx, classFourTeacher, "s1"), appErrors.ErrPermissionDenied)
	require.NoError(t, svc.Delete(ctx, adminPrincipal, "s1"))
	assert.Equal(t, []string{"s1"}, repo.deleted)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionStudentDelete, audit.logs[0].Action)

	assertCode(t, svc.Delete(ctx, adminPrincipal, "s1"), appErrors.ErrStudentNotFound)
}

func TestStudentServiceLookupByNISN(t *testing.T) {
	svc := NewStudentService(schoolRoster(), nil, nil, nil, nil)
	ctx := context.Background()

	student, err := svc.LookupByNISN(ctx, adminPrincipal, "0000000003")
	require.NoError(t, err)
	assert.Equal(t, "s3", student.ID)

	_, err = svc.LookupByNISN(ctx, classFourTeacher, "0000000003")
	assertCode(t, err, appErrors.ErrPermissionDenied)

	_, err = svc.LookupByNISN(ctx, adminPrincipal, "9999999999")
	assertCode(t, err, appErrors.ErrStudentNotFound)

	_, err = svc.LookupByNISN(ctx, adminPrincipal, "123")
	assertCode(t, err, appErrors.ErrValidation)
}
