package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

func newComplaintMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func complaintRows() *sqlmock.Rows {
	auditJSON := []byte(`[{"timestamp":"2026-03-01T08:00:00Z","actor_id":"a@b.com","action":"Submitted","details":"Complaint created."}]`)
	return sqlmock.NewRows([]string{"id", "text", "submitted_by", "timestamp", "status", "urgency", "category", "department", "assigned_to", "audit_log", "location"}).
		AddRow("cmp-1", "pothole", "a@b.com", time.Now().UTC(), "Submitted", nil, nil, nil, nil, auditJSON, nil)
}

func TestComplaintRepositoryList(t *testing.T) {
	db, mock, cleanup := newComplaintMock(t)
	defer cleanup()
	repo := NewComplaintRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, text, submitted_by, timestamp, status, urgency, category, department, assigned_to, audit_log, location FROM complaints WHERE 1=1 AND status = $1 ORDER BY timestamp DESC LIMIT 100 OFFSET 0")).
		WithArgs("Submitted").
		WillReturnRows(complaintRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM complaints WHERE 1=1 AND status = $1")).
		WithArgs("Submitted").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	complaints, total, err := repo.List(context.Background(), models.ComplaintFilter{Status: models.StatusSubmitted})
	require.NoError(t, err)
	assert.Len(t, complaints, 1)
	assert.Equal(t, 1, total)
	require.Len(t, complaints[0].AuditLog, 1)
	assert.Equal(t, "Submitted", complaints[0].AuditLog[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplaintRepositoryListUnassignedFilter(t *testing.T) {
	db, mock, cleanup := newComplaintMock(t)
	defer cleanup()
	repo := NewComplaintRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, text, submitted_by, timestamp, status, urgency, category, department, assigned_to, audit_log, location FROM complaints WHERE 1=1 AND (assigned_to IS NULL OR assigned_to = '') ORDER BY timestamp DESC LIMIT 100 OFFSET 0")).
		WillReturnRows(complaintRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM complaints WHERE 1=1 AND (assigned_to IS NULL OR assigned_to = '')")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, _, err := repo.List(context.Background(), models.ComplaintFilter{Assigned: models.FilterAssignedNone})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplaintRepositoryCreateSeedsAuditLog(t *testing.T) {
	db, mock, cleanup := newComplaintMock(t)
	defer cleanup()
	repo := NewComplaintRepository(db)

	mock.ExpectExec("INSERT INTO complaints").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	complaint := &models.Complaint{Text: "pothole", SubmittedBy: "a@b.com"}
	require.NoError(t, repo.Create(context.Background(), complaint))

	assert.NotEmpty(t, complaint.ID)
	assert.Equal(t, models.StatusSubmitted, complaint.Status)
	require.Len(t, complaint.AuditLog, 1)
	assert.Equal(t, "Submitted", complaint.AuditLog[0].Action)
	assert.Equal(t, "a@b.com", complaint.AuditLog[0].ActorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplaintRepositoryUpdateAppendsAuditEntry(t *testing.T) {
	db, mock, cleanup := newComplaintMock(t)
	defer cleanup()
	repo := NewComplaintRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE complaints SET status = $1, audit_log = audit_log || $2::jsonb WHERE id = $3")).
		WithArgs("Resolved", sqlmock.AnyArg(), "cmp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	status := models.StatusResolved
	err := repo.Update(context.Background(), "cmp-1", models.ComplaintUpdate{Status: &status}, models.AuditLogEntry{
		ActorID: "admin01",
		Action:  "Status changed to Resolved",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplaintRepositoryUpdateClearsAssignee(t *testing.T) {
	db, mock, cleanup := newComplaintMock(t)
	defer cleanup()
	repo := NewComplaintRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE complaints SET status = $1, assigned_to = NULL, audit_log = audit_log || $2::jsonb WHERE id = $3")).
		WithArgs("Assigned", sqlmock.AnyArg(), "cmp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	status := models.StatusAssigned
	err := repo.Update(context.Background(), "cmp-1", models.ComplaintUpdate{Status: &status, ClearAssignee: true}, models.AuditLogEntry{
		ActorID: "admin01",
		Action:  "Assigned to Unassigned",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplaintRepositoryUpdateMissingRow(t *testing.T) {
	db, mock, cleanup := newComplaintMock(t)
	defer cleanup()
	repo := NewComplaintRepository(db)

	mock.ExpectExec("UPDATE complaints SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	status := models.StatusResolved
	err := repo.Update(context.Background(), "missing", models.ComplaintUpdate{Status: &status}, models.AuditLogEntry{ActorID: "admin01", Action: "Status changed to Resolved"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplaintRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newComplaintMock(t)
	defer cleanup()
	repo := NewComplaintRepository(db)

	mock.ExpectQuery("SELECT .+ FROM complaints WHERE id = ").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
