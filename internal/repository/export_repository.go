package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

// ExportRepository manages persistence for export job records.
type ExportRepository struct {
	db *sqlx.DB
}

// NewExportRepository constructs a new repository.
func NewExportRepository(db *sqlx.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Create inserts a new pending export job.
func (r *ExportRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusPending
	}
	query := `INSERT INTO export_jobs (id, format, status, requested_by, file_name, error, created_at, completed_at)
VALUES (:id, :format, :status, :requested_by, :file_name, :error, :created_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// Get fetches one export job by id.
func (r *ExportRepository) Get(ctx context.Context, id string) (*models.ExportJob, error) {
	query := `SELECT id, format, status, requested_by, file_name, error, created_at, completed_at FROM export_jobs WHERE id = $1 LIMIT 1`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get export job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateStatus transitions a job and records outcome metadata.
func (r *ExportRepository) UpdateStatus(ctx context.Context, id string, status models.ExportStatus, fileName string, jobErr *string, completedAt *time.Time) error {
	query := `UPDATE export_jobs SET status = $1, file_name = $2, error = $3, completed_at = $4 WHERE id = $5`
	if _, err := r.db.ExecContext(ctx, query, string(status), fileName, jobErr, completedAt, id); err != nil {
		return fmt.Errorf("update export job %s: %w", id, err)
	}
	return nil
}
