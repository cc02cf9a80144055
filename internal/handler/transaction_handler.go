package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/service"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
	"github.com/noah-isme/sibudis-api/pkg/response"
)

type ledgerService interface {
	Record(ctx context.Context, principal models.Principal, req service.RecordTransactionRequest) (*models.Transaction, error)
	List(ctx context.Context, principal models.Principal, q service.TransactionQuery) ([]models.Transaction, error)
	Reset(ctx context.Context, principal models.Principal, confirmed bool) (*models.LedgerResetResult, error)
	Drift(ctx context.Context, principal models.Principal) ([]models.BalanceDrift, error)
}

// TransactionHandler exposes the savings ledger.
type TransactionHandler struct {
	ledger   ledgerService
	location *time.Location
}

// NewTransactionHandler constructs the handler. Date filters are read in loc.
func NewTransactionHandler(ledger ledgerService, loc *time.Location) *TransactionHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TransactionHandler{ledger: ledger, location: loc}
}

// List godoc
// @Summary List ledger entries visible to the caller
// @Description Newest first. Dates are local calendar days; to is inclusive.
// @Tags Transactions
// @Produce json
// @Param student_id query string false "Student ID"
// @Param search query string false "Student name or NISN"
// @Param class query string false "Class filter (admin only)"
// @Param kind query string false "deposit or withdrawal"
// @Param from query string false "YYYY-MM-DD"
// @Param to query string false "YYYY-MM-DD"
// @Success 200 {object} response.Envelope
// @Router /transactions [get]
func (h *TransactionHandler) List(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	from, to, err := parseDateRange(c.Query("from"), c.Query("to"), h.location)
	if err != nil {
		response.Error(c, err)
		return
	}
	var kind models.TransactionKind
	if raw := strings.TrimSpace(c.Query("kind")); raw != "" {
		if kind, err = models.ParseTransactionKind(raw); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "kind must be deposit or withdrawal"))
			return
		}
	}
	q := service.TransactionQuery{
		Students:  studentQuery(c),
		StudentID: strings.TrimSpace(c.Query("student_id")),
		Kind:      kind,
		From:      from,
		To:        to,
	}
	txs, err := h.ledger.List(c.Request.Context(), principal, q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, txs, nil, map[string]interface{}{"count": len(txs)})
}

// Create godoc
// @Summary Record a deposit or withdrawal
// @Tags Transactions
// @Accept json
// @Produce json
// @Param payload body service.RecordTransactionRequest true "Ledger entry"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transactions [post]
func (h *TransactionHandler) Create(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req service.RecordTransactionRequest
	if !bindJSON(c, &req, "invalid transaction payload") {
		return
	}
	tx, err := h.ledger.Record(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tx)
}

// Reset godoc
// @Summary Delete every ledger entry and zero all balances
// @Tags Transactions
// @Accept json
// @Produce json
// @Param payload body map[string]bool true "{\"confirm\": true}"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /transactions/reset [post]
func (h *TransactionHandler) Reset(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var payload struct {
		Confirm bool `json:"confirm"`
	}
	if c.Request.ContentLength != 0 && !bindJSON(c, &payload, "invalid reset payload") {
		return
	}
	result, err := h.ledger.Reset(c.Request.Context(), principal, payload.Confirm)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Drift godoc
// @Summary Students whose stored balance disagrees with the ledger
// @Tags Transactions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /transactions/drift [get]
func (h *TransactionHandler) Drift(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	drift, err := h.ledger.Drift(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drift, nil, map[string]interface{}{"count": len(drift)})
}
