package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sibudis-api/internal/dto"
	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/service"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
	"github.com/noah-isme/sibudis-api/pkg/response"
)

type recapService interface {
	Recap(ctx context.Context, principal models.Principal, q service.RecapQuery) (*dto.RecapResponse, error)
	Export(ctx context.Context, principal models.Principal, q service.RecapQuery, format string) (*dto.ExportResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.Download, error)
}

// RecapHandler serves the recapitulation and its downloads.
type RecapHandler struct {
	service recapService
}

// NewRecapHandler constructs the handler.
func NewRecapHandler(svc recapService) *RecapHandler {
	return &RecapHandler{service: svc}
}

type exportRequest struct {
	Date   string `json:"date"`
	From   string `json:"from"`
	To     string `json:"to"`
	Class  string `json:"class"`
	Search string `json:"search"`
	Format string `json:"format" binding:"required"`
}

// Recap godoc
// @Summary Recapitulation for a day or a date range
// @Description Parents receive their linked child only
// @Tags Reports
// @Produce json
// @Param date query string false "YYYY-MM-DD, defaults to today"
// @Param from query string false "YYYY-MM-DD, first day of a range"
// @Param to query string false "YYYY-MM-DD, last day of a range (inclusive)"
// @Param class query string false "Class filter (admin only)"
// @Param search query string false "Student name or NISN"
// @Success 200 {object} response.Envelope
// @Router /reports/recap [get]
func (h *RecapHandler) Recap(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var q service.RecapQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid recap query"))
		return
	}
	recap, err := h.service.Recap(c.Request.Context(), principal, q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, recap, nil)
}

// Export godoc
// @Summary Render the recapitulation as CSV or PDF
// @Description Returns a signed, expiring download URL
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body exportRequest true "Recap selection and format"
// @Success 201 {object} response.Envelope
// @Router /reports/recap/export [post]
func (h *RecapHandler) Export(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req exportRequest
	if !bindJSON(c, &req, "invalid export payload") {
		return
	}
	q := service.RecapQuery{Date: req.Date, From: req.From, To: req.To, Class: req.Class, Search: req.Search}
	out, err := h.service.Export(c.Request.Context(), principal, q, req.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, out)
}

// Download godoc
// @Summary Download an exported recapitulation
// @Description The token in the path is the credential
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /export/{token} [get]
func (h *RecapHandler) Download(c *gin.Context) {
	dl, err := h.service.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer dl.File.Close()

	info, err := dl.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "export unreadable"))
		return
	}
	response.Attachment(c, dl.Filename, dl.ContentType, info.Size(), dl.File)
}
