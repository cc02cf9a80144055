package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/service"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

type fakeLedgerSrv struct {
	recorded  service.RecordTransactionRequest
	recordErr error
	query     service.TransactionQuery
	principal models.Principal
	confirmed bool
}

func (f *fakeLedgerSrv) Record(_ context.Context, p models.Principal, req service.RecordTransactionRequest) (*models.Transaction, error) {
	f.principal, f.recorded = p, req
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	return &models.Transaction{ID: "tx-1", StudentID: req.StudentID, Amount: req.Amount, ResultingBalance: req.Amount}, nil
}

func (f *fakeLedgerSrv) List(_ context.Context, p models.Principal, q service.TransactionQuery) ([]models.Transaction, error) {
	f.principal, f.query = p, q
	return []models.Transaction{{ID: "tx-2"}, {ID: "tx-1"}}, nil
}

func (f *fakeLedgerSrv) Reset(_ context.Context, _ models.Principal, confirmed bool) (*models.LedgerResetResult, error) {
	f.confirmed = confirmed
	if !confirmed {
		return nil, appErrors.ErrConfirmationRequired
	}
	return &models.LedgerResetResult{TransactionsDeleted: 4, BalancesCleared: 2}, nil
}

func (f *fakeLedgerSrv) Drift(context.Context, models.Principal) ([]models.BalanceDrift, error) {
	return []models.BalanceDrift{{StudentID: "s1", StoredBalance: 100, LedgerBalance: 90}}, nil
}

var jakarta = time.FixedZone("WIB", 7*3600)

func TestTransactionHandlerList(t *testing.T) {
	srv := &fakeLedgerSrv{}
	h := NewTransactionHandler(srv, jakarta)

	c, rec := newContext(http.MethodGet, "/transactions?student_id=s1&search=andi&from=2024-01-01&to=2024-01-31", nil, teacherClaims)
	h.List(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", srv.query.StudentID)
	assert.Equal(t, "andi", srv.query.Students.Search)
	assert.True(t, srv.query.From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, jakarta)))
	assert.True(t, srv.query.To.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, jakarta)))
	assert.Equal(t, "5", srv.principal.AssignedClass)
	assert.Equal(t, float64(2), decodeEnvelope(t, rec).Meta["count"])

	assert.Empty(t, srv.query.Kind)

	c, rec = newContext(http.MethodGet, "/transactions?kind=Withdrawal", nil, teacherClaims)
	h.List(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TransactionWithdrawal, srv.query.Kind)

	c, rec = newContext(http.MethodGet, "/transactions?kind=refund", nil, teacherClaims)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newContext(http.MethodGet, "/transactions?from=yesterday", nil, teacherClaims)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionHandlerCreate(t *testing.T) {
	srv := &fakeLedgerSrv{}
	h := NewTransactionHandler(srv, jakarta)

	c, rec := newContext(http.MethodPost, "/transactions", map[string]interface{}{"student_id": "s1", "kind": "deposit", "amount": 5000, "note": "Senin"}, teacherClaims)
	h.Create(c)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(5000), srv.recorded.Amount)
	var tx models.Transaction
	decodeData(t, rec, &tx)
	assert.Equal(t, "tx-1", tx.ID)

	srv.recordErr = appErrors.ErrDepositWindowClosed
	c, rec = newContext(http.MethodPost, "/transactions", map[string]interface{}{"student_id": "s1", "kind": "deposit", "amount": 5000}, teacherClaims)
	h.Create(c)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "DEPOSIT_WINDOW_CLOSED", decodeEnvelope(t, rec).Error.Code)
}

func TestTransactionHandlerResetAndDrift(t *testing.T) {
	srv := &fakeLedgerSrv{}
	h := NewTransactionHandler(srv, jakarta)

	c, rec := newContext(http.MethodPost, "/transactions/reset", nil, adminClaims)
	h.Reset(c)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.False(t, srv.confirmed)

	c, rec = newContext(http.MethodPost, "/transactions/reset", map[string]bool{"confirm": true}, adminClaims)
	h.Reset(c)
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.LedgerResetResult
	decodeData(t, rec, &result)
	assert.Equal(t, int64(4), result.TransactionsDeleted)

	c, rec = newContext(http.MethodGet, "/transactions/drift", nil, adminClaims)
	h.Drift(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeEnvelope(t, rec).Meta["count"])
}
