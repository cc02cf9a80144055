package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/repository"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

var wib = time.FixedZone("WIB", 7*60*60)

// 2024-01-01 is a Monday.
var mondayMorning = time.Date(2024, 1, 1, 9, 0, 0, 0, wib)

type ledgerState struct {
	mu        sync.Mutex
	students  map[string]*models.Student
	entries   []models.Transaction
	schedules map[string]map[models.Weekday]bool
	applyErr  error
	resets    int
}

func newLedgerState(students ...models.Student) *ledgerState {
	st := &ledgerState{
		students:  make(map[string]*models.Student),
		schedules: make(map[string]map[models.Weekday]bool),
	}
	for i := range students {
		s := students[i]
		st.students[s.ID] = &s
	}
	return st
}

func (st *ledgerState) schedule(class string, day models.Weekday) {
	if st.schedules[class] == nil {
		st.schedules[class] = make(map[models.Weekday]bool)
	}
	st.schedules[class][day] = true
}

func (st *ledgerState) balance(id string) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.students[id].Balance
}

type memStudents struct{ *ledgerState }

func (m memStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copyStudent := *s
	return &copyStudent, nil
}

func (m memStudents) List(_ context.Context, filter models.StudentFilter) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Student{}
	for _, s := range m.students {
		if filter.Class != "" && s.Class != filter.Class {
			continue
		}
		if len(filter.IDs) > 0 && !containsString(filter.IDs, s.ID) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memSchedules struct{ *ledgerState }

func (m memSchedules) HasScheduleOn(_ context.Context, class string, day models.Weekday) (bool, error) {
	return m.schedules[class][day], nil
}

type memStore struct{ *ledgerState }

func (m memStore) Apply(_ context.Context, entry *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	s, ok := m.students[entry.StudentID]
	delta := entry.Kind.Delta(entry.Amount)
	if !ok || s.Balance+delta < 0 {
		return &repository.LedgerWriteError{Stage: repository.StageBalance, Err: repository.ErrBalanceGuard}
	}
	s.Balance += delta
	entry.ID = fmt.Sprintf("tx-%d", len(m.entries)+1)
	entry.ResultingBalance = s.Balance
	m.entries = append(m.entries, *entry)
	return nil
}

func (m memStore) List(_ context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Transaction{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if len(filter.StudentIDs) > 0 && !containsString(filter.StudentIDs, e.StudentID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m memStore) Reset(context.Context) (*models.LedgerResetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := &models.LedgerResetResult{TransactionsDeleted: int64(len(m.entries))}
	m.entries = nil
	for _, s := range m.students {
		if s.Balance != 0 {
			res.BalancesCleared++
		}
		s.Balance = 0
	}
	m.resets++
	return res, nil
}

func (m memStore) Drift(context.Context) ([]models.BalanceDrift, error) { return nil, nil }

type auditStub struct{ logs []models.AuditLog }

func (a *auditStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, *log)
	return nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func newLedgerFixture(st *ledgerState, now time.Time) (*LedgerService, *auditStub) {
	audit := &auditStub{}
	svc := NewLedgerService(LedgerServiceParams{
		Students:  memStudents{st},
		Schedules: memSchedules{st},
		Store:     memStore{st},
		Audit:     audit,
		Config:    LedgerConfig{MinAmount: 1000, AmountStep: 1000, Location: wib},
	})
	svc.now = func() time.Time { return now }
	return svc, audit
}

var (
	adminPrincipal   = models.Principal{UserID: "a1", Role: models.RoleAdmin}
	teacherPrincipal = models.Principal{UserID: "t1", Role: models.RoleTeacher, AssignedClass: "5"}
	parentPrincipal  = models.Principal{UserID: "p1", Role: models.RoleParent, LinkedStudentID: "s1"}
)

func assertCode(t *testing.T, err error, want *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want.Code, appErrors.FromError(err).Code, err.Error())
}

func TestLedgerTeacherDepositOnScheduledDay(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Name: "Andi", Class: "5", Balance: 10000})
	st.schedule("5", models.WeekdayMonday)
	svc, _ := newLedgerFixture(st, mondayMorning)

	entry, err := svc.Record(context.Background(), teacherPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 5000, Note: "  weekly  "})
	require.NoError(t, err)
	assert.Equal(t, int64(15000), entry.ResultingBalance)
	assert.Equal(t, models.RoleTeacher, entry.ActorRole)
	assert.Equal(t, "t1", entry.ActorID)
	assert.Equal(t, "weekly", entry.Note)
	assert.Equal(t, int64(15000), st.balance("s1"))
	assert.Len(t, st.entries, 1)
}

func TestLedgerWithdrawalBeyondBalanceRejected(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5", Balance: 10000})
	svc, _ := newLedgerFixture(st, mondayMorning)

	_, err := svc.Record(context.Background(), adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "withdrawal", Amount: 20000})
	assertCode(t, err, appErrors.ErrInsufficientBalance)
	assert.Equal(t, int64(10000), appErrors.FromError(err).Details["balance"])
	assert.Equal(t, int64(10000), st.balance("s1"))
	assert.Empty(t, st.entries)
}

func TestLedgerWithdrawalOfWholeBalance(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5", Balance: 10000})
	svc, _ := newLedgerFixture(st, mondayMorning)

	entry, err := svc.Record(context.Background(), teacherPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "withdrawal", Amount: 10000})
	require.NoError(t, err)
	assert.Zero(t, entry.ResultingBalance)
}

func TestLedgerDepositWindow(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5"})
	st.schedule("5", models.WeekdayMonday)
	tuesday := mondayMorning.AddDate(0, 0, 1)
	sunday := mondayMorning.AddDate(0, 0, 6)

	svc, _ := newLedgerFixture(st, tuesday)
	_, err := svc.Record(context.Background(), teacherPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1000})
	assertCode(t, err, appErrors.ErrDepositWindowClosed)
	details := appErrors.FromError(err).Details
	assert.Equal(t, "5", details["class"])
	assert.Equal(t, "Selasa", details["day"])

	svc.now = func() time.Time { return sunday }
	_, err = svc.Record(context.Background(), teacherPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1000})
	assertCode(t, err, appErrors.ErrDepositWindowClosed)
	assert.Equal(t, "Minggu", appErrors.FromError(err).Details["day"])

	// Administrators are exempt, even on Sunday.
	_, err = svc.Record(context.Background(), adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1000})
	require.NoError(t, err)
}

func TestLedgerDepositWindowUsesSchoolTimezone(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5"})
	st.schedule("5", models.WeekdayMonday)
	// Sunday 20:00 UTC is already Monday 03:00 in WIB.
	svc, _ := newLedgerFixture(st, time.Date(2023, 12, 31, 20, 0, 0, 0, time.UTC))

	_, err := svc.Record(context.Background(), teacherPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 2000})
	require.NoError(t, err)
}

func TestLedgerAmountRules(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5", Balance: 100000})
	svc, _ := newLedgerFixture(st, mondayMorning)

	for _, amount := range []int64{0, -1000, 999, 1500, 10001} {
		_, err := svc.Record(context.Background(), adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: amount})
		assertCode(t, err, appErrors.ErrInvalidAmount)
	}
	assert.Empty(t, st.entries)
}

func TestLedgerCheckOrder(t *testing.T) {
	st := newLedgerState(
		models.Student{ID: "s1", Class: "5", Balance: 1000},
		models.Student{ID: "s9", Class: "6", Balance: 1000},
	)
	svc, _ := newLedgerFixture(st, mondayMorning.AddDate(0, 0, 1))
	ctx := context.Background()

	cases := []struct {
		name      string
		principal models.Principal
		req       RecordTransactionRequest
		want      *appErrors.Error
	}{
		{"role before amount", parentPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1}, appErrors.ErrPermissionDenied},
		{"unknown role", models.Principal{UserID: "x"}, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1000}, appErrors.ErrPermissionDenied},
		{"amount before student", teacherPrincipal, RecordTransactionRequest{StudentID: "missing", Kind: "deposit", Amount: 1}, appErrors.ErrInvalidAmount},
		{"missing student", teacherPrincipal, RecordTransactionRequest{StudentID: "missing", Kind: "deposit", Amount: 1000}, appErrors.ErrStudentNotFound},
		{"class before window", teacherPrincipal, RecordTransactionRequest{StudentID: "s9", Kind: "deposit", Amount: 1000}, appErrors.ErrPermissionDenied},
		{"window for teacher deposits", teacherPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1000}, appErrors.ErrDepositWindowClosed},
		{"withdrawals ignore window", teacherPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "withdrawal", Amount: 2000}, appErrors.ErrInsufficientBalance},
		{"bad kind", adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "transfer", Amount: 1000}, appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Record(ctx, tc.principal, tc.req)
			assertCode(t, err, tc.want)
		})
	}
	assert.Empty(t, st.entries)
}

func TestLedgerTeacherWithoutClassCannotPost(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5"})
	svc, _ := newLedgerFixture(st, mondayMorning)

	_, err := svc.Record(context.Background(), models.Principal{UserID: "t2", Role: models.RoleTeacher}, RecordTransactionRequest{StudentID: "s1", Kind: "withdrawal", Amount: 1000})
	assertCode(t, err, appErrors.ErrPermissionDenied)
}

func TestLedgerNoteTooLong(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5"})
	svc, _ := newLedgerFixture(st, mondayMorning)

	long := make([]rune, 256)
	for i := range long {
		long[i] = 'x'
	}
	_, err := svc.Record(context.Background(), adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1000, Note: string(long)})
	assertCode(t, err, appErrors.ErrValidation)
}

func TestLedgerPersistenceFailures(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5", Balance: 5000})
	svc, _ := newLedgerFixture(st, mondayMorning)

	st.applyErr = &repository.LedgerWriteError{Stage: repository.StageLedgerEntry, Err: errors.New("disk full")}
	_, err := svc.Record(context.Background(), adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1000})
	assertCode(t, err, appErrors.ErrPersistence)
	assert.Equal(t, "ledger_entry", appErrors.FromError(err).Details["stage"])

	st.applyErr = &repository.LedgerWriteError{Stage: repository.StageCommit, Err: errors.New("conn reset")}
	_, err = svc.Record(context.Background(), adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1000})
	assert.Equal(t, "commit", appErrors.FromError(err).Details["stage"])

	st.applyErr = errors.New("unexpected")
	_, err = svc.Record(context.Background(), adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 1000})
	assertCode(t, err, appErrors.ErrPersistence)
	assert.Equal(t, int64(5000), st.balance("s1"))
}

func TestLedgerConcurrentGuardSurfacesAsInsufficientBalance(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5", Balance: 5000})
	svc, _ := newLedgerFixture(st, mondayMorning)
	st.applyErr = &repository.LedgerWriteError{Stage: repository.StageBalance, Err: repository.ErrBalanceGuard}

	_, err := svc.Record(context.Background(), adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "withdrawal", Amount: 5000})
	assertCode(t, err, appErrors.ErrInsufficientBalance)
}

func TestLedgerConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5", Balance: 10000})
	svc, _ := newLedgerFixture(st, mondayMorning)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Record(context.Background(), adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "withdrawal", Amount: 1000})
		}()
	}
	wg.Wait()

	assert.Zero(t, st.balance("s1"))
	assert.Len(t, st.entries, 10)
}

func TestLedgerBalanceMatchesEntriesForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	st := newLedgerState(
		models.Student{ID: "s1", Class: "5"},
		models.Student{ID: "s2", Class: "5"},
		models.Student{ID: "s3", Class: "6"},
	)
	st.schedule("5", models.WeekdayMonday)
	svc, _ := newLedgerFixture(st, mondayMorning)
	ids := []string{"s1", "s2", "s3"}
	principals := []models.Principal{adminPrincipal, teacherPrincipal, parentPrincipal}
	kinds := []string{"deposit", "withdrawal"}

	for i := 0; i < 500; i++ {
		req := RecordTransactionRequest{
			StudentID: ids[rng.Intn(len(ids))],
			Kind:      kinds[rng.Intn(len(kinds))],
			Amount:    int64(rng.Intn(12)) * 500,
		}
		_, _ = svc.Record(context.Background(), principals[rng.Intn(len(principals))], req)
	}

	running := map[string]int64{}
	for _, e := range st.entries {
		running[e.StudentID] += e.Kind.Delta(e.Amount)
		assert.Equal(t, running[e.StudentID], e.ResultingBalance, e.ID)
		assert.GreaterOrEqual(t, e.ResultingBalance, int64(0))
		assert.True(t, e.ActorRole.CanPostTransactions())
		assert.Zero(t, e.Amount%1000)
	}
	for _, id := range ids {
		assert.Equal(t, running[id], st.balance(id), id)
		assert.GreaterOrEqual(t, st.balance(id), int64(0))
	}
	assert.NotEmpty(t, st.entries)
}

func TestLedgerHistoryIsScoped(t *testing.T) {
	st := newLedgerState(
		models.Student{ID: "s1", Name: "Andi", Class: "5"},
		models.Student{ID: "s3", Name: "Candra", Class: "6"},
	)
	svc, _ := newLedgerFixture(st, mondayMorning)
	ctx := context.Background()
	for _, id := range []string{"s1", "s3", "s1"} {
		_, err := svc.Record(ctx, adminPrincipal, RecordTransactionRequest{StudentID: id, Kind: "deposit", Amount: 1000})
		require.NoError(t, err)
	}

	teacherView, err := svc.List(ctx, teacherPrincipal, TransactionQuery{})
	require.NoError(t, err)
	require.Len(t, teacherView, 2)
	for _, e := range teacherView {
		assert.Equal(t, "s1", e.StudentID)
	}

	adminView, err := svc.List(ctx, adminPrincipal, TransactionQuery{})
	require.NoError(t, err)
	assert.Len(t, adminView, 3)

	orphan, err := svc.List(ctx, models.Principal{UserID: "p9", Role: models.RoleParent}, TransactionQuery{})
	require.NoError(t, err)
	assert.Empty(t, orphan)

	sneaky, err := svc.List(ctx, parentPrincipal, TransactionQuery{StudentID: "s3"})
	require.NoError(t, err)
	assert.Empty(t, sneaky)
}

func TestLedgerReset(t *testing.T) {
	st := newLedgerState(models.Student{ID: "s1", Class: "5", Balance: 0})
	svc, audit := newLedgerFixture(st, mondayMorning)
	ctx := context.Background()
	_, err := svc.Record(ctx, adminPrincipal, RecordTransactionRequest{StudentID: "s1", Kind: "deposit", Amount: 3000})
	require.NoError(t, err)

	_, err = svc.Reset(ctx, teacherPrincipal, true)
	assertCode(t, err, appErrors.ErrPermissionDenied)

	_, err = svc.Reset(ctx, adminPrincipal, false)
	assertCode(t, err, appErrors.ErrConfirmationRequired)
	assert.Zero(t, st.resets)

	result, err := svc.Reset(ctx, adminPrincipal, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TransactionsDeleted)
	assert.Equal(t, int64(1), result.BalancesCleared)
	assert.Zero(t, st.balance("s1"))
	assert.Empty(t, st.entries)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLedgerReset, audit.logs[0].Action)
}

func TestLedgerDriftRequiresAdmin(t *testing.T) {
	svc, _ := newLedgerFixture(newLedgerState(), mondayMorning)

	_, err := svc.Drift(context.Background(), teacherPrincipal)
	assertCode(t, err, appErrors.ErrPermissionDenied)

	drifts, err := svc.Drift(context.Background(), adminPrincipal)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
