package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

// AuditTrailRepository persists the request-level audit trail.
type AuditTrailRepository struct {
	db *sqlx.DB
}

// NewAuditTrailRepository constructs a new repository.
func NewAuditTrailRepository(db *sqlx.DB) *AuditTrailRepository {
	return &AuditTrailRepository{db: db}
}

// CreateAuditLog appends one request audit record.
func (r *AuditTrailRepository) CreateAuditLog(ctx context.Context, log *models.HTTPAuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO audit_trail (id, user_id, action, resource, resource_id, new_values, ip_address, user_agent, created_at)
VALUES (:id, :user_id, :action, :resource, :resource_id, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit trail record: %w", err)
	}
	return nil
}
