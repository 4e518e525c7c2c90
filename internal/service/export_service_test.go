package service

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/pkg/storage"
)

type fakeExportRepo struct {
	jobs map[string]*models.ExportJob
}

func newFakeExportRepo() *fakeExportRepo {
	return &fakeExportRepo{jobs: map[string]*models.ExportJob{}}
}

func (f *fakeExportRepo) Create(_ context.Context, job *models.ExportJob) error {
	clone := *job
	f.jobs[job.ID] = &clone
	return nil
}

func (f *fakeExportRepo) Get(_ context.Context, id string) (*models.ExportJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (f *fakeExportRepo) UpdateStatus(_ context.Context, id string, status models.ExportStatus, fileName string, jobErr *string, completedAt *time.Time) error {
	job, ok := f.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.Status = status
	job.FileName = fileName
	job.Error = jobErr
	job.CompletedAt = completedAt
	return nil
}

func newTestExportService(t *testing.T, complaints []models.Complaint) (*ExportService, *fakeExportRepo, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	repo := newFakeExportRepo()
	svc := NewExportService(ExportServiceParams{
		Repo:      repo,
		Snapshots: &staticSnapshots{complaints: complaints},
		Storage:   store,
		Signer:    storage.NewSignedURLSigner("test-secret", time.Hour),
	})
	return svc, repo, dir
}

func TestExportRequestRejectsUnknownFormat(t *testing.T) {
	svc, _, _ := newTestExportService(t, nil)

	_, err := svc.Request(context.Background(), models.ExportFormat("xlsx"), "admin01")
	assert.Error(t, err)
}

func TestExportCSVLifecycle(t *testing.T) {
	dept := models.DepartmentPublicWorks
	complaints := []models.Complaint{{
		ID:          "cmp-1",
		Text:        "pothole on 5th",
		SubmittedBy: "a@b.com",
		Status:      models.StatusClassified,
		Department:  &dept,
		Timestamp:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}}
	svc, repo, dir := newTestExportService(t, complaints)

	job, err := svc.Request(context.Background(), models.ExportFormatCSV, "admin01")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusPending, job.Status)

	// Without a queue the render runs detached; drive it synchronously here.
	require.NoError(t, svc.Render(context.Background(), ExportPayload{JobID: job.ID, Format: models.ExportFormatCSV}))

	stored, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	content, err := os.ReadFile(filepath.Join(dir, stored.FileName))
	require.NoError(t, err)
	text := string(content)
	assert.True(t, strings.Contains(text, "pothole on 5th"))
	assert.True(t, strings.Contains(text, "Public Works"))
	assert.True(t, strings.Contains(text, "Unassigned"))

	result, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.URL)
	require.NotNil(t, result.ExpiresAt)
}

func TestExportSignedDownloadRoundTrip(t *testing.T) {
	svc, _, _ := newTestExportService(t, nil)

	job, err := svc.Request(context.Background(), models.ExportFormatCSV, "admin01")
	require.NoError(t, err)
	require.NoError(t, svc.Render(context.Background(), ExportPayload{JobID: job.ID, Format: models.ExportFormatCSV}))

	result, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)

	// The URL carries the token as its query string.
	_, token, found := strings.Cut(result.URL, "token=")
	require.True(t, found)

	got, path, err := svc.OpenSigned(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestExportGetMissingJob(t *testing.T) {
	svc, _, _ := newTestExportService(t, nil)

	_, err := svc.Get(context.Background(), "missing")
	assert.Error(t, err)
}
