package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/sibudis-api/internal/dto"
	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
)

// Roster column headers.
const (
	importHeaderName  = "Nama Siswa"
	importHeaderNISN  = "NISN"
	importHeaderClass = "Kelas"
)

// Skip reasons reported per row.
const (
	skipInvalidName   = "invalid name"
	skipInvalidNISN   = "nisn must be 10 digits"
	skipInvalidClass  = "class must be numeric"
	skipClassNotOwned = "class outside your assignment"
	skipDuplicateFile = "duplicate nisn in file"
	skipDuplicateDB   = "nisn already registered"
)

var (
	importNamePattern  = regexp.MustCompile(`^[\p{L}\s.'-]+$`)
	importNISNPattern  = regexp.MustCompile(`^\d{10}$`)
	importClassPattern = regexp.MustCompile(`^\d+$`)
)

// MaxImportRows bounds a single roster upload.
const MaxImportRows = 2000

type studentImportRepository interface {
	ExistingNISNs(ctx context.Context, nisns []string) (map[string]struct{}, error)
	CreateMany(ctx context.Context, students []models.Student) error
}

// StudentImportService bulk-creates students from an uploaded roster.
type StudentImportService struct {
	repo    studentImportRepository
	audit   auditRecorder
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
}

// NewStudentImportService constructs the import service.
func NewStudentImportService(repo studentImportRepository, audit auditRecorder, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *StudentImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentImportService{repo: repo, audit: audit, cache: cache, metrics: metrics, logger: logger}
}

type rosterRow struct {
	line  int
	name  string
	nisn  string
	class string
}

// Import reads an .xlsx or .csv roster, skips rows that fail validation and
// inserts the remainder in one database transaction.
func (s *StudentImportService) Import(ctx context.Context, principal models.Principal, filename string, r io.Reader) (*dto.ImportResult, error) {
	if !principal.Role.CanPostTransactions() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators and teachers can import students")
	}
	if principal.Role == models.RoleTeacher && principal.AssignedClass == "" {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "teacher has no assigned class")
	}

	records, err := readRoster(filename, r)
	if err != nil {
		return nil, err
	}
	rows, err := mapRosterRows(records)
	if err != nil {
		return nil, err
	}

	result := &dto.ImportResult{Rows: []dto.ImportRowLog{}}
	skip := func(row rosterRow, reason string) {
		result.Skipped++
		result.Rows = append(result.Rows, dto.ImportRowLog{Row: row.line, NISN: row.nisn, Reason: reason})
	}

	seen := make(map[string]struct{}, len(rows))
	candidates := make([]rosterRow, 0, len(rows))
	for _, row := range rows {
		switch {
		case !importNamePattern.MatchString(row.name):
			skip(row, skipInvalidName)
		case !importNISNPattern.MatchString(row.nisn):
			skip(row, skipInvalidNISN)
		case !importClassPattern.MatchString(row.class):
			skip(row, skipInvalidClass)
		case principal.Role == models.RoleTeacher && row.class != principal.AssignedClass:
			skip(row, skipClassNotOwned)
		default:
			if _, dup := seen[row.nisn]; dup {
				skip(row, skipDuplicateFile)
				continue
			}
			seen[row.nisn] = struct{}{}
			candidates = append(candidates, row)
		}
	}

	nisns := make([]string, 0, len(candidates))
	for _, row := range candidates {
		nisns = append(nisns, row.nisn)
	}
	existing, err := s.repo.ExistingNISNs(ctx, nisns)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing nisn")
	}

	students := make([]models.Student, 0, len(candidates))
	for _, row := range candidates {
		if _, ok := existing[row.nisn]; ok {
			skip(row, skipDuplicateDB)
			continue
		}
		students = append(students, models.Student{Name: row.name, Class: row.class, NISN: row.nisn})
	}

	if err := s.repo.CreateMany(ctx, students); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import students")
	}
	result.Imported = len(students)

	s.metrics.RecordImport(result.Imported)
	if result.Imported > 0 {
		s.cache.InvalidateDashboards(ctx)
	}
	s.logger.Info("student roster imported",
		zap.String("file", filename),
		zap.String("actor_id", principal.UserID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	s.recordAudit(ctx, principal, filename, result)
	return result, nil
}

func (s *StudentImportService) recordAudit(ctx context.Context, principal models.Principal, filename string, result *dto.ImportResult) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"file":     filename,
		"imported": result.Imported,
		"skipped":  result.Skipped,
	})
	userID := principal.UserID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:    &userID,
		Action:    models.AuditActionStudentImport,
		Resource:  "students",
		NewValues: payload,
	}); err != nil {
		s.logger.Warn("failed to record import audit log", zap.Error(err))
	}
}

// Template renders an example roster workbook with the expected headers.
func (s *StudentImportService) Template() (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	sheet := f.GetSheetName(0)
	data := [][]interface{}{
		{importHeaderName, importHeaderNISN, importHeaderClass},
		{"Anang Yunarko", "3329382372", "6"},
		{"Budi Santoso", "1234567890", "5"},
	}
	for i, row := range data {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write template row: %w", err)
		}
	}
	if err := f.SetColWidth(sheet, "A", "A", 32); err != nil {
		return nil, err
	}
	return f.WriteToBuffer()
}

func readRoster(filename string, r io.Reader) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unable to read workbook")
		}
		defer f.Close() //nolint:errcheck
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "workbook has no sheets")
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unable to read worksheet")
		}
		return rows, nil
	case ".csv":
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unable to parse csv")
		}
		return rows, nil
	default:
		return nil, appErrors.WithDetails(appErrors.ErrUnsupportedFileFormat, map[string]interface{}{
			"accepted": []string{".xlsx", ".csv"},
		})
	}
}

func mapRosterRows(records [][]string) ([]rosterRow, error) {
	if len(records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	if len(records)-1 > MaxImportRows {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "too many rows"), map[string]interface{}{"max_rows": MaxImportRows})
	}

	index := map[string]int{}
	for i, h := range records[0] {
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		index[strings.ToLower(h)] = i
	}
	var missing []string
	cols := make([]int, 3)
	for i, name := range []string{importHeaderName, importHeaderNISN, importHeaderClass} {
		idx, ok := index[strings.ToLower(name)]
		if !ok {
			missing = append(missing, name)
			continue
		}
		cols[i] = idx
	}
	if len(missing) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "missing required columns"), map[string]interface{}{"missing": missing})
	}

	cell := func(record []string, idx int) string {
		if idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}
	rows := make([]rosterRow, 0, len(records)-1)
	for i, record := range records[1:] {
		row := rosterRow{
			line:  i + 2,
			name:  cell(record, cols[0]),
			nisn:  cell(record, cols[1]),
			class: cell(record, cols[2]),
		}
		if row.name == "" && row.nisn == "" && row.class == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}
