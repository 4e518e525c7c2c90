package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicdesk/civicdesk-api/internal/models"
	appErrors "github.com/civicdesk/civicdesk-api/pkg/errors"
	"github.com/civicdesk/civicdesk-api/pkg/export"
	"github.com/civicdesk/civicdesk-api/pkg/jobs"
	"github.com/civicdesk/civicdesk-api/pkg/storage"
)

type exportRepository interface {
	Create(ctx context.Context, job *models.ExportJob) error
	Get(ctx context.Context, id string) (*models.ExportJob, error)
	UpdateStatus(ctx context.Context, id string, status models.ExportStatus, fileName string, jobErr *string, completedAt *time.Time) error
}

// ExportJobType labels register export jobs on the queue.
const ExportJobType = "export.render"

// ExportPayload is the queue payload for one export job.
type ExportPayload struct {
	JobID  string
	Format models.ExportFormat
}

// ExportResult is returned to the caller polling a finished job.
type ExportResult struct {
	Job       *models.ExportJob `json:"job"`
	URL       string            `json:"url,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// ExportServiceParams collects export service dependencies.
type ExportServiceParams struct {
	Repo      exportRepository
	Snapshots statsSnapshotProvider
	Storage   *storage.LocalStorage
	Signer    *storage.SignedURLSigner
	CSV       *export.CSVExporter
	PDF       *export.PDFExporter
	Logger    *zap.Logger
}

// ExportService renders the complaint register to CSV or PDF asynchronously.
// Requests return a pending job; the file is produced by a queue worker and
// fetched later through a signed URL.
type ExportService struct {
	repo      exportRepository
	snapshots statsSnapshotProvider
	storage   *storage.LocalStorage
	signer    *storage.SignedURLSigner
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	logger    *zap.Logger
	queue     *jobs.Queue
}

// NewExportService constructs the export service.
func NewExportService(params ExportServiceParams) *ExportService {
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.CSV == nil {
		params.CSV = export.NewCSVExporter()
	}
	if params.PDF == nil {
		params.PDF = export.NewPDFExporter()
	}
	return &ExportService{
		repo:      params.Repo,
		snapshots: params.Snapshots,
		storage:   params.Storage,
		signer:    params.Signer,
		csv:       params.CSV,
		pdf:       params.PDF,
		logger:    params.Logger,
	}
}

// AttachQueue wires the render queue. Without a queue the render runs inline
// on a detached goroutine.
func (s *ExportService) AttachQueue(queue *jobs.Queue) {
	s.queue = queue
}

// JobHandler adapts the render step to the queue contract.
func (s *ExportService) JobHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(ExportPayload)
		if !ok {
			return fmt.Errorf("unexpected payload type %T for job %s", job.Payload, job.ID)
		}
		return s.Render(ctx, payload)
	}
}

// Request creates a pending export job and schedules rendering.
func (s *ExportService) Request(ctx context.Context, format models.ExportFormat, requestedBy string) (*models.ExportJob, error) {
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	job := &models.ExportJob{
		ID:          uuid.NewString(),
		Format:      format,
		Status:      models.ExportStatusPending,
		RequestedBy: requestedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	payload := ExportPayload{JobID: job.ID, Format: format}
	if s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: ExportJobType, Payload: payload}); err != nil {
			s.logger.Warn("export queue full, rendering inline", zap.String("job_id", job.ID), zap.Error(err))
			go s.renderDetached(payload)
		}
	} else {
		go s.renderDetached(payload)
	}
	return job, nil
}

// Get returns the job status plus a signed download URL once completed.
func (s *ExportService) Get(ctx context.Context, id string) (*ExportResult, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("export job %s not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}

	result := &ExportResult{Job: job}
	if job.Status == models.ExportStatusCompleted && job.FileName != "" && s.signer != nil {
		token, expiresAt, err := s.signer.Generate(job.ID, job.FileName)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
		}
		result.URL = "/exports/download?token=" + token
		result.ExpiresAt = &expiresAt
	}
	return result, nil
}

// OpenSigned validates a signed token and opens the underlying file.
func (s *ExportService) OpenSigned(ctx context.Context, token string) (*models.ExportJob, string, error) {
	exportID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link is invalid or expired")
	}
	job, err := s.repo.Get(ctx, exportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.FileName == "" || job.FileName != relPath {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link does not match the export")
	}
	return job, s.storage.Path(job.FileName), nil
}

// Render produces the export file for a previously created job. Errors are
// returned so the queue can retry; terminal failures are persisted on the job.
func (s *ExportService) Render(ctx context.Context, payload ExportPayload) error {
	if err := s.repo.UpdateStatus(ctx, payload.JobID, models.ExportStatusProcessing, "", nil, nil); err != nil {
		return err
	}

	complaints, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return s.fail(ctx, payload.JobID, err)
	}

	dataset := registerDataset(complaints)
	var content []byte
	switch payload.Format {
	case models.ExportFormatCSV:
		content, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		content, err = s.pdf.Render(dataset, "Complaint Register")
	default:
		err = fmt.Errorf("unsupported format %q", payload.Format)
	}
	if err != nil {
		return s.fail(ctx, payload.JobID, err)
	}

	fileName := fmt.Sprintf("%s.%s", payload.JobID, payload.Format)
	if _, err := s.storage.Save(fileName, content); err != nil {
		return s.fail(ctx, payload.JobID, err)
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, payload.JobID, models.ExportStatusCompleted, fileName, nil, &now); err != nil {
		return err
	}
	s.logger.Info("export completed",
		zap.String("job_id", payload.JobID),
		zap.String("format", string(payload.Format)),
		zap.Int("complaints", len(complaints)),
	)
	return nil
}

func (s *ExportService) fail(ctx context.Context, jobID string, cause error) error {
	now := time.Now().UTC()
	msg := cause.Error()
	if err := s.repo.UpdateStatus(ctx, jobID, models.ExportStatusFailed, "", &msg, &now); err != nil {
		s.logger.Error("failed to mark export job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	return cause
}

func (s *ExportService) renderDetached(payload ExportPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := s.Render(ctx, payload); err != nil {
		s.logger.Error("inline export render failed", zap.String("job_id", payload.JobID), zap.Error(err))
	}
}

func registerDataset(complaints []models.Complaint) export.Dataset {
	rows := make([]map[string]string, 0, len(complaints))
	for i := range complaints {
		c := &complaints[i]
		row := map[string]string{
			"ID":          c.ID,
			"Complaint":   c.Text,
			"Status":      string(c.Status),
			"Urgency":     orNone(c.Urgency),
			"Category":    orNone(c.Category),
			"Department":  orNone(c.Department),
			"Assigned To": orUnassigned(c.Assignee()),
			"Submitted":   c.Timestamp.UTC().Format(time.RFC3339),
		}
		rows = append(rows, row)
	}
	return export.Dataset{
		Headers: []string{"ID", "Complaint", "Status", "Urgency", "Category", "Department", "Assigned To", "Submitted"},
		Rows:    rows,
	}
}
