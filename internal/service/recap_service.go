package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sibudis-api/internal/dto"
	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
	"github.com/noah-isme/sibudis-api/pkg/export"
	"github.com/noah-isme/sibudis-api/pkg/storage"
)

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type downloadSigner interface {
	Sign(subject, path string) (string, time.Time, error)
	Verify(token string) (*storage.Grant, error)
}

// RecapQuery selects local calendar days: either Date for a single day or an
// inclusive From..To range. A range missing one end covers the other end's day
// only. Class is honoured for administrators only.
type RecapQuery struct {
	Date   string `form:"date"`
	From   string `form:"from"`
	To     string `form:"to"`
	Class  string `form:"class"`
	Search string `form:"search"`
}

// maxRecapDays bounds a ranged recap.
const maxRecapDays = 366

// RecapConfig tunes recap and export behaviour.
type RecapConfig struct {
	Location  *time.Location
	APIPrefix string
	ResultTTL time.Duration
}

// RecapServiceParams groups constructor dependencies.
type RecapServiceParams struct {
	Ledger    ledgerHistoryReader
	Storage   fileStorage
	Signer    downloadSigner
	Renderers []export.Renderer
	Logger    *zap.Logger
	Config    RecapConfig
}

// Download is an opened export ready to be streamed.
type Download struct {
	File        *os.File
	Filename    string
	ContentType string
}

// RecapService builds the daily recapitulation and its printable exports.
type RecapService struct {
	ledger    ledgerHistoryReader
	storage   fileStorage
	signer    downloadSigner
	renderers map[string]export.Renderer
	logger    *zap.Logger
	now       func() time.Time
	cfg       RecapConfig
}

// NewRecapService constructs a RecapService. CSV and PDF renderers are used
// when none are supplied.
func NewRecapService(params RecapServiceParams) *RecapService {
	cfg := params.Config
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if strings.TrimSpace(cfg.APIPrefix) == "" {
		cfg.APIPrefix = "/api/v1"
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderers := params.Renderers
	if len(renderers) == 0 {
		renderers = []export.Renderer{export.NewCSVRenderer(), export.NewPDFRenderer()}
	}
	byFormat := make(map[string]export.Renderer, len(renderers))
	for _, r := range renderers {
		byFormat[r.Extension()] = r
	}
	return &RecapService{
		ledger:    params.Ledger,
		storage:   params.Storage,
		signer:    params.Signer,
		renderers: byFormat,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Recap returns totals and per-student movement for the requested days.
// Parents get their linked child only.
func (s *RecapService) Recap(ctx context.Context, principal models.Principal, q RecapQuery) (*dto.RecapResponse, error) {
	if !principal.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "account role cannot view the recapitulation")
	}
	first, last, err := s.parsePeriod(q)
	if err != nil {
		return nil, err
	}
	start, _ := localDayBounds(first)
	_, end := localDayBounds(last)

	history, err := s.ledger.History(ctx, principal, TransactionQuery{
		Students: StudentQuery{Search: q.Search, Class: q.Class},
		From:     start,
		To:       end,
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.RecapResponse{
		From:              start.Format("2006-01-02"),
		To:                last.Format("2006-01-02"),
		Search:            strings.TrimSpace(q.Search),
		Students:          make([]dto.RecapStudentSummary, 0, len(history.Students)),
		Transactions:      make([]dto.RecapTransactionLine, 0, len(history.Transactions)),
		GeneratedForScope: principal.ScopeKey(),
	}
	switch {
	case principal.IsAdmin():
		resp.Class = strings.TrimSpace(q.Class)
		resp.ShowClassColumn = resp.Class == ""
	case principal.Role == models.RoleTeacher:
		resp.Class = principal.AssignedClass
	}

	index := make(map[string]int, len(history.Students))
	for _, st := range history.Students {
		index[st.ID] = len(resp.Students)
		resp.Students = append(resp.Students, dto.RecapStudentSummary{StudentID: st.ID, Name: st.Name, Class: st.Class})
	}
	for _, tx := range history.Transactions {
		i, ok := index[tx.StudentID]
		if !ok {
			continue
		}
		row := &resp.Students[i]
		if tx.Kind == models.TransactionWithdrawal {
			row.Withdrawals += tx.Amount
			resp.Totals.Withdrawals += tx.Amount
		} else {
			row.Deposits += tx.Amount
			resp.Totals.Deposits += tx.Amount
		}
		row.Net = row.Deposits - row.Withdrawals
		resp.Transactions = append(resp.Transactions, dto.RecapTransactionLine{Transaction: tx, StudentName: row.Name, StudentClass: row.Class})
	}
	resp.Totals.Net = resp.Totals.Deposits - resp.Totals.Withdrawals
	if resp.From == resp.To {
		resp.Date = resp.From
	}

	sort.SliceStable(resp.Students, func(i, j int) bool {
		return strings.ToLower(resp.Students[i].Name) < strings.ToLower(resp.Students[j].Name)
	})
	return resp, nil
}

// Export renders the recap, stores it and returns a signed download link.
func (s *RecapService) Export(ctx context.Context, principal models.Principal, q RecapQuery, format string) (*dto.ExportResponse, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"), map[string]interface{}{"format": format})
	}
	recap, err := s.Recap(ctx, principal, q)
	if err != nil {
		return nil, err
	}

	payload, err := renderer.Render(s.recapTable(recap))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render recap")
	}
	name := s.exportName(recap, renderer.Extension())
	relPath, err := s.storage.Save(name, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store recap export")
	}
	token, expiresAt, err := s.signer.Sign(principal.UserID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}

	s.logger.Info("recap exported",
		zap.String("actor_id", principal.UserID),
		zap.String("format", format),
		zap.String("path", relPath),
		zap.Int("students", len(recap.Students)),
	)
	return &dto.ExportResponse{
		Format:      format,
		Filename:    path.Base(relPath),
		DownloadURL: strings.TrimRight(s.cfg.APIPrefix, "/") + "/export/" + token,
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// ResolveDownload verifies a signed token and opens the referenced file.
func (s *RecapService) ResolveDownload(_ context.Context, token string) (*Download, error) {
	grant, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link has expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link is invalid")
	}
	file, err := s.storage.Open(grant.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	contentType := "application/octet-stream"
	if r, ok := s.renderers[strings.TrimPrefix(path.Ext(grant.Path), ".")]; ok {
		contentType = r.ContentType()
	}
	return &Download{File: file, Filename: path.Base(grant.Path), ContentType: contentType}, nil
}

// CleanupExports deletes exports older than the configured result TTL.
func (s *RecapService) CleanupExports(_ context.Context) (int, error) {
	deleted, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if len(deleted) > 0 {
		s.logger.Info("expired exports removed", zap.Int("files", len(deleted)))
	}
	return len(deleted), err
}

// parsePeriod resolves the query into its first and last local day.
func (s *RecapService) parsePeriod(q RecapQuery) (time.Time, time.Time, error) {
	date, from, to := strings.TrimSpace(q.Date), strings.TrimSpace(q.From), strings.TrimSpace(q.To)
	if from == "" && to == "" {
		day, err := s.parseDay(date)
		return day, day, err
	}
	if date != "" {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "use either date or from/to, not both")
	}
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}
	first, err := s.parseDay(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	last, err := s.parseDay(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if last.Before(first) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	if last.Sub(first) >= maxRecapDays*24*time.Hour {
		return time.Time{}, time.Time{}, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "recap period is too long"), map[string]interface{}{"max_days": maxRecapDays})
	}
	return first, last, nil
}

func (s *RecapService) parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.now().In(s.cfg.Location), nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, s.cfg.Location)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date must be formatted YYYY-MM-DD")
	}
	return day, nil
}

func (s *RecapService) recapTable(recap *dto.RecapResponse) export.Table {
	first, _ := time.ParseInLocation("2006-01-02", recap.From, s.cfg.Location)
	period := "Tanggal: " + formatIndonesianDate(first)
	if recap.To != recap.From {
		last, _ := time.ParseInLocation("2006-01-02", recap.To, s.cfg.Location)
		period = "Periode: " + formatIndonesianDate(first) + " s.d. " + formatIndonesianDate(last)
	}
	t := export.Table{
		Title: "Rekapitulasi Tabungan Siswa",
		Subtitle: []string{
			period,
			"Dicetak: " + formatIndonesianDate(s.now().In(s.cfg.Location)) + " " + s.now().In(s.cfg.Location).Format("15:04"),
		},
	}
	if recap.Class != "" {
		t.Subtitle = append(t.Subtitle, "Kelas: "+recap.Class)
	}

	t.Columns = []export.Column{{Header: "No", Width: 0.6, Align: "C"}, {Header: "Nama Siswa", Width: 3}}
	if recap.ShowClassColumn {
		t.Columns = append(t.Columns, export.Column{Header: "Kelas", Width: 0.8, Align: "C"})
	}
	t.Columns = append(t.Columns,
		export.Column{Header: "Setoran", Width: 1.6, Align: "R"},
		export.Column{Header: "Penarikan", Width: 1.6, Align: "R"},
		export.Column{Header: "Selisih", Width: 1.6, Align: "R"},
	)

	for i, st := range recap.Students {
		row := []string{strconv.Itoa(i + 1), st.Name}
		if recap.ShowClassColumn {
			row = append(row, st.Class)
		}
		t.Rows = append(t.Rows, append(row, export.FormatRupiah(st.Deposits), export.FormatRupiah(st.Withdrawals), export.FormatRupiah(st.Net)))
	}

	t.Footer = []string{"", "Total"}
	if recap.ShowClassColumn {
		t.Footer = append(t.Footer, "")
	}
	t.Footer = append(t.Footer, export.FormatRupiah(recap.Totals.Deposits), export.FormatRupiah(recap.Totals.Withdrawals), export.FormatRupiah(recap.Totals.Net))
	return t
}

func (s *RecapService) exportName(recap *dto.RecapResponse, ext string) string {
	parts := []string{"rekap", recap.From}
	if recap.To != recap.From {
		parts = append(parts, recap.To)
	}
	if recap.Class != "" {
		parts = append(parts, "kelas-"+sanitizeFilename(recap.Class))
	}
	parts = append(parts, s.now().UTC().Format("150405"), uuid.NewString()[:8])
	return fmt.Sprintf("recap/%s.%s", strings.Join(parts, "_"), ext)
}

func sanitizeFilename(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

var indonesianMonths = [...]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

func formatIndonesianDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), indonesianMonths[t.Month()-1], t.Year())
}
