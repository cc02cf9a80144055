package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sibudis-api/internal/dto"
	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/service"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
	"github.com/noah-isme/sibudis-api/pkg/response"
)

const (
	maxRosterUploadBytes = 5 << 20
	xlsxContentType      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type studentService interface {
	List(ctx context.Context, principal models.Principal, q service.StudentQuery) ([]models.Student, error)
	Get(ctx context.Context, principal models.Principal, id string) (*models.Student, error)
	Create(ctx context.Context, principal models.Principal, req service.CreateStudentRequest) (*models.Student, error)
	Update(ctx context.Context, principal models.Principal, id string, req service.UpdateStudentRequest) (*models.Student, error)
	Delete(ctx context.Context, principal models.Principal, id string) error
	LookupByNISN(ctx context.Context, principal models.Principal, nisn string) (*models.Student, error)
}

type rosterImporter interface {
	Import(ctx context.Context, principal models.Principal, filename string, r io.Reader) (*dto.ImportResult, error)
	Template() (*bytes.Buffer, error)
}

// StudentHandler exposes the student roster.
type StudentHandler struct {
	service  studentService
	importer rosterImporter
}

// NewStudentHandler constructs the handler.
func NewStudentHandler(svc studentService, importer rosterImporter) *StudentHandler {
	return &StudentHandler{service: svc, importer: importer}
}

// List godoc
// @Summary List students visible to the caller
// @Tags Students
// @Produce json
// @Param search query string false "Name or NISN"
// @Param class query string false "Class filter (admin only)"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	students, err := h.service.List(c.Request.Context(), principal, studentQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil, map[string]interface{}{"count": len(students)})
}

// Get godoc
// @Summary Get student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	student, err := h.service.Get(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Lookup godoc
// @Summary Find a student by NISN
// @Tags Students
// @Produce json
// @Param nisn query string true "NISN"
// @Success 200 {object} response.Envelope
// @Router /students/lookup [get]
func (h *StudentHandler) Lookup(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	nisn := strings.TrimSpace(c.Query("nisn"))
	if nisn == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "nisn is required"))
		return
	}
	student, err := h.service.LookupByNISN(c.Request.Context(), principal, nisn)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req service.CreateStudentRequest
	if !bindJSON(c, &req, "invalid student payload") {
		return
	}
	student, err := h.service.Create(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.UpdateStudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req service.UpdateStudentRequest
	if !bindJSON(c, &req, "invalid student payload") {
		return
	}
	student, err := h.service.Update(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Delete student and their ledger
// @Tags Students
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), principal, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Import godoc
// @Summary Import a roster
// @Description Accepts .xlsx or .csv with columns Nama Siswa, NISN, Kelas
// @Tags Students
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Roster file"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students/import [post]
func (h *StudentHandler) Import(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRosterUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "roster file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "roster file unreadable"))
		return
	}
	defer file.Close()

	result, err := h.importer.Import(c.Request.Context(), principal, header.Filename, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Template godoc
// @Summary Download the roster template
// @Tags Students
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} file
// @Router /students/import/template [get]
func (h *StudentHandler) Template(c *gin.Context) {
	buf, err := h.importer.Template()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "template_import_siswa.xlsx", xlsxContentType, int64(buf.Len()), buf)
}
