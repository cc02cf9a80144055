package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
	"github.com/noah-isme/sibudis-api/pkg/storage"
)

func newRecapFixture(t *testing.T) (*RecapService, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	svc := NewRecapService(RecapServiceParams{
		Ledger:  seedDashboardLedger(t),
		Storage: store,
		Signer:  storage.NewSigner("recap-secret", time.Hour),
		Config:  RecapConfig{Location: wib},
	})
	svc.now = func() time.Time { return mondayMorning.Add(time.Hour) }
	return svc, dir
}

func TestRecapTeacherDay(t *testing.T) {
	svc, _ := newRecapFixture(t)

	recap, err := svc.Recap(context.Background(), teacherPrincipal, RecapQuery{Date: "2024-01-01", Class: "3"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", recap.Date)
	assert.Equal(t, "5", recap.Class)
	assert.False(t, recap.ShowClassColumn)
	require.Len(t, recap.Students, 2)
	assert.Equal(t, "Andi", recap.Students[0].Name)
	assert.Equal(t, int64(2000), recap.Students[0].Deposits)
	assert.Equal(t, int64(-5000), recap.Students[1].Net)
	assert.Equal(t, int64(2000), recap.Totals.Deposits)
	assert.Equal(t, int64(5000), recap.Totals.Withdrawals)
	assert.Equal(t, int64(-3000), recap.Totals.Net)
	require.Len(t, recap.Transactions, 2)
	assert.Equal(t, "Budi", recap.Transactions[0].StudentName)
}

func TestRecapAdminFilters(t *testing.T) {
	svc, _ := newRecapFixture(t)
	ctx := context.Background()

	sunday, err := svc.Recap(ctx, adminPrincipal, RecapQuery{Date: "2023-12-31"})
	require.NoError(t, err)
	assert.True(t, sunday.ShowClassColumn)
	assert.Len(t, sunday.Students, 3)
	assert.Equal(t, int64(5000), sunday.Totals.Deposits)
	assert.Zero(t, sunday.Totals.Withdrawals)

	classThree, err := svc.Recap(ctx, adminPrincipal, RecapQuery{Date: "2024-01-01", Class: "3"})
	require.NoError(t, err)
	assert.False(t, classThree.ShowClassColumn)
	require.Len(t, classThree.Students, 1)
	assert.Zero(t, classThree.Totals.Deposits)

	search, err := svc.Recap(ctx, adminPrincipal, RecapQuery{Search: "BUD"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", search.Date)
	require.Len(t, search.Students, 1)
	assert.Equal(t, int64(5000), search.Totals.Withdrawals)
}

func TestRecapRejections(t *testing.T) {
	svc, _ := newRecapFixture(t)
	ctx := context.Background()

	stranger := models.Principal{UserID: "x1", Role: "janitor"}
	_, err := svc.Recap(ctx, stranger, RecapQuery{})
	assertCode(t, err, appErrors.ErrPermissionDenied)
	_, err = svc.Recap(ctx, adminPrincipal, RecapQuery{Date: "01/01/2024"})
	assertCode(t, err, appErrors.ErrValidation)
	_, err = svc.Export(ctx, adminPrincipal, RecapQuery{}, "xlsx")
	assertCode(t, err, appErrors.ErrValidation)
	_, err = svc.Export(ctx, stranger, RecapQuery{}, "csv")
	assertCode(t, err, appErrors.ErrPermissionDenied)

	_, err = svc.Recap(ctx, adminPrincipal, RecapQuery{Date: "2024-01-01", From: "2023-12-31"})
	assertCode(t, err, appErrors.ErrValidation)
	_, err = svc.Recap(ctx, adminPrincipal, RecapQuery{From: "2024-01-02", To: "2024-01-01"})
	assertCode(t, err, appErrors.ErrValidation)
	_, err = svc.Recap(ctx, adminPrincipal, RecapQuery{From: "2022-12-01", To: "2024-01-01"})
	assertCode(t, err, appErrors.ErrValidation)
}

func TestRecapDateRange(t *testing.T) {
	svc, _ := newRecapFixture(t)
	ctx := context.Background()

	both, err := svc.Recap(ctx, adminPrincipal, RecapQuery{From: "2023-12-31", To: "2024-01-01"})
	require.NoError(t, err)
	assert.Empty(t, both.Date)
	assert.Equal(t, "2023-12-31", both.From)
	assert.Equal(t, "2024-01-01", both.To)
	assert.Equal(t, int64(7000), both.Totals.Deposits)
	assert.Equal(t, int64(5000), both.Totals.Withdrawals)
	require.Len(t, both.Transactions, 3)

	single, err := svc.Recap(ctx, adminPrincipal, RecapQuery{From: "2023-12-31"})
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", single.Date)
	assert.Equal(t, int64(5000), single.Totals.Deposits)
}

func TestRecapParentSeesLinkedChildOnly(t *testing.T) {
	svc, dir := newRecapFixture(t)
	ctx := context.Background()

	recap, err := svc.Recap(ctx, parentPrincipal, RecapQuery{From: "2023-12-31", To: "2024-01-01", Class: "3"})
	require.NoError(t, err)
	require.Len(t, recap.Students, 1)
	assert.Equal(t, "s1", recap.Students[0].StudentID)
	assert.Equal(t, int64(2000), recap.Totals.Deposits)
	assert.Zero(t, recap.Totals.Withdrawals)
	assert.False(t, recap.ShowClassColumn)
	assert.Empty(t, recap.Class)

	out, err := svc.Export(ctx, parentPrincipal, RecapQuery{From: "2023-12-31", To: "2024-01-01"}, "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Filename, "rekap_2023-12-31_2024-01-01_"))
	data, err := os.ReadFile(filepath.Join(dir, "recap", out.Filename))
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Andi", records[1][1])
}

func TestRecapExportCSVAndDownload(t *testing.T) {
	svc, _ := newRecapFixture(t)
	ctx := context.Background()

	out, err := svc.Export(ctx, adminPrincipal, RecapQuery{Date: "2024-01-01"}, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "csv", out.Format)
	assert.True(t, strings.HasPrefix(out.DownloadURL, "/api/v1/export/"))
	assert.True(t, strings.HasPrefix(out.Filename, "rekap_2024-01-01_"))

	dl, err := svc.ResolveDownload(ctx, strings.TrimPrefix(out.DownloadURL, "/api/v1/export/"))
	require.NoError(t, err)
	defer dl.File.Close()
	assert.Equal(t, "text/csv", dl.ContentType)
	assert.Equal(t, out.Filename, dl.Filename)

	body, err := io.ReadAll(dl.File)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, []string{"No", "Nama Siswa", "Kelas", "Setoran", "Penarikan", "Selisih"}, records[0])
	assert.Equal(t, []string{"1", "Andi", "5", "Rp 2.000", "Rp 0", "Rp 2.000"}, records[1])
	assert.Equal(t, []string{"", "Total", "", "Rp 2.000", "Rp 5.000", "-Rp 3.000"}, records[4])
}

func TestRecapExportPDF(t *testing.T) {
	svc, dir := newRecapFixture(t)

	out, err := svc.Export(context.Background(), teacherPrincipal, RecapQuery{}, "pdf")
	require.NoError(t, err)
	assert.Contains(t, out.Filename, "kelas-5")

	data, err := os.ReadFile(filepath.Join(dir, "recap", out.Filename))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestRecapDownloadRejectsBadTokens(t *testing.T) {
	svc, dir := newRecapFixture(t)
	ctx := context.Background()

	_, err := svc.ResolveDownload(ctx, "garbage")
	assertCode(t, err, appErrors.ErrForbidden)

	out, err := svc.Export(ctx, adminPrincipal, RecapQuery{}, "csv")
	require.NoError(t, err)
	token := strings.TrimPrefix(out.DownloadURL, "/api/v1/export/")
	_, err = svc.ResolveDownload(ctx, token+"00")
	assertCode(t, err, appErrors.ErrForbidden)

	require.NoError(t, os.Remove(filepath.Join(dir, "recap", out.Filename)))
	_, err = svc.ResolveDownload(ctx, token)
	assertCode(t, err, appErrors.ErrNotFound)
}

func TestRecapCleanupExports(t *testing.T) {
	svc, dir := newRecapFixture(t)
	ctx := context.Background()

	old, err := svc.Export(ctx, adminPrincipal, RecapQuery{}, "csv")
	require.NoError(t, err)
	_, err = svc.Export(ctx, adminPrincipal, RecapQuery{}, "csv")
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "recap", old.Filename), past, past))

	removed, err := svc.CleanupExports(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestFormatIndonesianDate(t *testing.T) {
	assert.Equal(t, "1 Januari 2024", formatIndonesianDate(time.Date(2024, 1, 1, 0, 0, 0, 0, wib)))
	assert.Equal(t, "17 Agustus 1945", formatIndonesianDate(time.Date(1945, 8, 17, 0, 0, 0, 0, wib)))
	assert.Equal(t, "kelas_5-A", sanitizeFilename("kelas 5-A"))
}
