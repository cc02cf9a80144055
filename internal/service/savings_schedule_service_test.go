package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type scheduleRepoStub struct {
	items      map[string]models.SavingsSchedule
	created    []models.SavingsSchedule
	lastFilter models.SavingsScheduleFilter
}

func newScheduleRepoStub(items ...models.SavingsSchedule) *scheduleRepoStub {
	stub := &scheduleRepoStub{items: map[string]models.SavingsSchedule{}}
	for _, it := range items {
		stub.items[it.ID] = it
	}
	return stub
}

func (s *scheduleRepoStub) List(_ context.Context, filter models.SavingsScheduleFilter) ([]models.SavingsSchedule, error) {
	s.lastFilter = filter
	out := []models.SavingsSchedule{}
	for _, it := range s.items {
		if filter.ClassID != "" && it.ClassID != filter.ClassID {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *scheduleRepoStub) FindByID(_ context.Context, id string) (*models.SavingsSchedule, error) {
	it, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &it, nil
}

func (s *scheduleRepoStub) Create(_ context.Context, schedule *models.SavingsSchedule) error {
	schedule.ID = "sch-new"
	s.items[schedule.ID] = *schedule
	s.created = append(s.created, *schedule)
	return nil
}

func (s *scheduleRepoStub) Update(_ context.Context, schedule *models.SavingsSchedule) error {
	if _, ok := s.items[schedule.ID]; !ok {
		return sql.ErrNoRows
	}
	s.items[schedule.ID] = *schedule
	return nil
}

func (s *scheduleRepoStub) Delete(_ context.Context, id string) error {
	if _, ok := s.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.items, id)
	return nil
}

func newScheduleFixture(schedules ...models.SavingsSchedule) (*SavingsScheduleService, *scheduleRepoStub) {
	st := newLedgerState(
		models.Student{ID: "s1", Name: "Andi", Class: "5", Balance: 400000},
		models.Student{ID: "s2", Name: "Budi", Class: "5", Balance: 450000},
		models.Student{ID: "s3", Name: "Candra", Class: "3", Balance: 100000},
	)
	repo := newScheduleRepoStub(schedules...)
	return NewSavingsScheduleService(repo, memStudents{st}, nil, nil, decimal.Zero, nil), repo
}

func TestSavingsScheduleListScopes(t *testing.T) {
	svc, repo := newScheduleFixture(
		models.SavingsSchedule{ID: "a", ClassID: "5", TargetAmount: 1000000, Weekday: models.WeekdayMonday},
		models.SavingsSchedule{ID: "b", ClassID: "3", TargetAmount: 100000, Weekday: models.WeekdayFriday},
	)
	ctx := context.Background()

	all, err := svc.List(ctx, adminPrincipal)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	teacher, err := svc.List(ctx, teacherPrincipal)
	require.NoError(t, err)
	require.Len(t, teacher, 1)
	assert.Equal(t, "5", repo.lastFilter.ClassID)
	assert.Equal(t, int64(850000), teacher[0].CurrentSaved)
	assert.Equal(t, models.ScheduleOnTrack, teacher[0].Status)

	parent, err := svc.List(ctx, parentPrincipal)
	require.NoError(t, err)
	require.Len(t, parent, 1)
	assert.Equal(t, "a", parent[0].ID)

	orphan, err := svc.List(ctx, models.Principal{UserID: "p9", Role: models.RoleParent})
	require.NoError(t, err)
	assert.Empty(t, orphan)

	unassigned, err := svc.List(ctx, models.Principal{UserID: "t9", Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.Empty(t, unassigned)
}

func TestSavingsScheduleCreate(t *testing.T) {
	svc, repo := newScheduleFixture()
	ctx := context.Background()
	req := SavingsScheduleRequest{
		ClassID:      " 3 ",
		GoalName:     "Study tour",
		DayOfWeek:    "friday",
		TargetAmount: 100000,
		TargetDate:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	_, err := svc.Create(ctx, teacherPrincipal, req)
	assertCode(t, err, appErrors.ErrPermissionDenied)

	progress, err := svc.Create(ctx, adminPrincipal, req)
	require.NoError(t, err)
	assert.Equal(t, models.WeekdayFriday, progress.Weekday)
	assert.Equal(t, "3", progress.ClassID)
	assert.Equal(t, models.ScheduleCompleted, progress.Status)
	require.Len(t, repo.created, 1)
}

func TestSavingsScheduleCreateValidation(t *testing.T) {
	svc, _ := newScheduleFixture()
	ctx := context.Background()
	valid := SavingsScheduleRequest{ClassID: "3", GoalName: "Trip", DayOfWeek: "Senin", TargetAmount: 1000, TargetDate: time.Now()}

	cases := map[string]func(r *SavingsScheduleRequest){
		"missing class":     func(r *SavingsScheduleRequest) { r.ClassID = "" },
		"non-numeric class": func(r *SavingsScheduleRequest) { r.ClassID = "5A" },
		"missing goal":      func(r *SavingsScheduleRequest) { r.GoalName = "  " },
		"sunday":            func(r *SavingsScheduleRequest) { r.DayOfWeek = "Minggu" },
		"zero target":       func(r *SavingsScheduleRequest) { r.TargetAmount = 0 },
		"missing date":      func(r *SavingsScheduleRequest) { r.TargetDate = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			mutate(&req)
			_, err := svc.Create(ctx, adminPrincipal, req)
			assertCode(t, err, appErrors.ErrValidation)
		})
	}
}

func TestSavingsScheduleUpdateAndDelete(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, repo := newScheduleFixture(models.SavingsSchedule{ID: "a", ClassID: "5", TargetAmount: 1000, CreatedAt: created})
	ctx := context.Background()
	req := SavingsScheduleRequest{ClassID: "5", GoalName: "Books", DayOfWeek: "Rabu", TargetAmount: 2000000, TargetDate: time.Now()}

	progress, err := svc.Update(ctx, adminPrincipal, "a", req)
	require.NoError(t, err)
	assert.Equal(t, created, progress.CreatedAt)
	assert.Equal(t, models.ScheduleBehind, progress.Status)
	assert.Equal(t, "Books", repo.items["a"].GoalName)

	_, err = svc.Update(ctx, adminPrincipal, "missing", req)
	assertCode(t, err, appErrors.ErrNotFound)

	assertCode(t, svc.Delete(ctx, parentPrincipal, "a"), appErrors.ErrPermissionDenied)
	require.NoError(t, svc.Delete(ctx, adminPrincipal, "a"))
	assertCode(t, svc.Delete(ctx, adminPrincipal, "a"), appErrors.ErrNotFound)
}
