package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

// ComplaintRepository manages persistence for complaint records. The audit
// log lives in a JSONB array column and is only ever appended to with a
// store-level merge, so histories survive racing writers even though scalar
// columns are last-write-wins.
type ComplaintRepository struct {
	db      *sqlx.DB
	metrics queryObserver
}

type queryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// NewComplaintRepository constructs a new repository.
func NewComplaintRepository(db *sqlx.DB) *ComplaintRepository {
	return &ComplaintRepository{db: db}
}

// AttachMetrics wires query timing instrumentation.
func (r *ComplaintRepository) AttachMetrics(metrics queryObserver) {
	r.metrics = metrics
}

func (r *ComplaintRepository) observe(label string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveDBQuery(label, time.Since(start))
	}
}

const complaintColumns = "id, text, submitted_by, timestamp, status, urgency, category, department, assigned_to, audit_log, location"

// List returns complaints newest first, per the provided filter.
func (r *ComplaintRepository) List(ctx context.Context, filter models.ComplaintFilter) ([]models.Complaint, int, error) {
	defer r.observe("complaints_list", time.Now())
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, string(filter.Status))
	}
	if filter.Urgency != "" {
		where = append(where, fmt.Sprintf("urgency = $%d", len(args)+1))
		args = append(args, string(filter.Urgency))
	}
	if filter.Department != "" {
		where = append(where, fmt.Sprintf("department = $%d", len(args)+1))
		args = append(args, string(filter.Department))
	}
	if filter.SubmittedBy != "" {
		where = append(where, fmt.Sprintf("submitted_by = $%d", len(args)+1))
		args = append(args, filter.SubmittedBy)
	}
	switch filter.Assigned {
	case "":
	case models.FilterAssignedNone:
		where = append(where, "(assigned_to IS NULL OR assigned_to = '')")
	default:
		where = append(where, fmt.Sprintf("assigned_to = $%d", len(args)+1))
		args = append(args, filter.Assigned)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 500 {
		size = 100
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM complaints WHERE %s ORDER BY timestamp DESC LIMIT %d OFFSET %d",
		complaintColumns, whereClause, size, offset)
	var complaints []models.Complaint
	if err := r.db.SelectContext(ctx, &complaints, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list complaints: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM complaints WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count complaints: %w", err)
	}
	return complaints, total, nil
}

// Snapshot returns the full complaint set newest first. This is the snapshot
// pushed to live subscribers and fed to the aggregation views.
func (r *ComplaintRepository) Snapshot(ctx context.Context) ([]models.Complaint, error) {
	defer r.observe("complaints_snapshot", time.Now())
	query := fmt.Sprintf("SELECT %s FROM complaints ORDER BY timestamp DESC", complaintColumns)
	var complaints []models.Complaint
	if err := r.db.SelectContext(ctx, &complaints, query); err != nil {
		return nil, fmt.Errorf("list all complaints: %w", err)
	}
	return complaints, nil
}

// Get fetches one complaint by id.
func (r *ComplaintRepository) Get(ctx context.Context, id string) (*models.Complaint, error) {
	defer r.observe("complaints_get", time.Now())
	query := fmt.Sprintf("SELECT %s FROM complaints WHERE id = $1 LIMIT 1", complaintColumns)
	var complaint models.Complaint
	if err := r.db.GetContext(ctx, &complaint, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get complaint %s: %w", id, err)
	}
	return &complaint, nil
}

// Create inserts a new complaint. The store assigns the id and timestamp and
// seeds the audit log with its first "Submitted" entry atomically with the
// record itself.
func (r *ComplaintRepository) Create(ctx context.Context, complaint *models.Complaint) error {
	defer r.observe("complaints_create", time.Now())
	if complaint.ID == "" {
		complaint.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	complaint.Timestamp = now
	complaint.Status = models.StatusSubmitted
	complaint.AuditLog = models.AuditLog{{
		Timestamp: now,
		ActorID:   complaint.SubmittedBy,
		Action:    "Submitted",
		Details:   "Complaint created.",
	}}

	query := `INSERT INTO complaints (id, text, submitted_by, timestamp, status, urgency, category, department, assigned_to, audit_log, location)
VALUES (:id, :text, :submitted_by, :timestamp, :status, :urgency, :category, :department, :assigned_to, :audit_log, :location)`
	if _, err := r.db.NamedExecContext(ctx, query, complaint); err != nil {
		return fmt.Errorf("create complaint: %w", err)
	}
	return nil
}

// Update applies a partial field update together with exactly one audit
// entry. The entry timestamp is assigned here and the append uses the JSONB
// concatenation operator so concurrent appends are both kept.
func (r *ComplaintRepository) Update(ctx context.Context, id string, update models.ComplaintUpdate, entry models.AuditLogEntry) error {
	defer r.observe("complaints_update", time.Now())
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entryJSON, err := json.Marshal(models.AuditLog{entry})
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	set := []string{}
	args := []interface{}{}
	addSet := func(column string, value interface{}) {
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)+1))
		args = append(args, value)
	}

	if update.Status != nil {
		addSet("status", string(*update.Status))
	}
	if update.Urgency != nil {
		addSet("urgency", string(*update.Urgency))
	}
	if update.Category != nil {
		addSet("category", string(*update.Category))
	}
	if update.Department != nil {
		addSet("department", string(*update.Department))
	}
	if update.ClearAssignee {
		set = append(set, "assigned_to = NULL")
	} else if update.AssignedTo != nil {
		addSet("assigned_to", *update.AssignedTo)
	}

	set = append(set, fmt.Sprintf("audit_log = audit_log || $%d::jsonb", len(args)+1))
	args = append(args, entryJSON)
	args = append(args, id)

	query := fmt.Sprintf("UPDATE complaints SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update complaint %s: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
