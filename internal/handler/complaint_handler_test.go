package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civicdesk-api/internal/middleware"
	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/internal/service"
)

type responseEnvelope struct {
	Data  map[string]interface{} `json:"data"`
	Error map[string]interface{} `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

type memComplaintRepo struct {
	mu         sync.Mutex
	complaints map[string]*models.Complaint
	nextID     int
}

func newMemComplaintRepo() *memComplaintRepo {
	return &memComplaintRepo{complaints: map[string]*models.Complaint{}}
}

func (m *memComplaintRepo) List(ctx context.Context, _ models.ComplaintFilter) ([]models.Complaint, int, error) {
	complaints, err := m.Snapshot(ctx)
	return complaints, len(complaints), err
}

func (m *memComplaintRepo) Snapshot(context.Context) ([]models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Complaint, 0, len(m.complaints))
	for _, c := range m.complaints {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memComplaintRepo) Get(_ context.Context, id string) (*models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.complaints[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

func (m *memComplaintRepo) Create(_ context.Context, complaint *models.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	complaint.ID = fmt.Sprintf("cmp-%04d", m.nextID)
	complaint.Status = models.StatusSubmitted
	complaint.Timestamp = time.Now().UTC()
	complaint.AuditLog = models.AuditLog{{Timestamp: complaint.Timestamp, ActorID: complaint.SubmittedBy, Action: "Submitted", Details: "Complaint created."}}
	clone := *complaint
	m.complaints[complaint.ID] = &clone
	return nil
}

func (m *memComplaintRepo) Update(_ context.Context, id string, update models.ComplaintUpdate, entry models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.complaints[id]
	if !ok {
		return sql.ErrNoRows
	}
	if update.Status != nil {
		c.Status = *update.Status
	}
	if update.Urgency != nil {
		c.Urgency = update.Urgency
	}
	if update.Category != nil {
		c.Category = update.Category
	}
	if update.Department != nil {
		c.Department = update.Department
	}
	if update.ClearAssignee {
		c.AssignedTo = nil
	} else if update.AssignedTo != nil {
		c.AssignedTo = update.AssignedTo
	}
	c.AuditLog = append(c.AuditLog, entry)
	return nil
}

type noopNotifier struct{}

func (noopNotifier) Create(context.Context, *models.Notification) error { return nil }

func newTestRouter(repo *memComplaintRepo, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewComplaintService(service.ComplaintServiceParams{
		Repo:          repo,
		Notifications: noopNotifier{},
	})
	h := NewComplaintHandler(svc)

	r := gin.New()
	if claims != nil {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ContextUserKey, claims)
			c.Next()
		})
	}
	r.GET("/complaints", h.List)
	r.GET("/complaints/:id", h.Get)
	r.POST("/complaints", h.Create)
	r.PATCH("/complaints/:id/status", h.UpdateStatus)
	r.PATCH("/complaints/:id/assignee", h.Assign)
	return r
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin01", Email: "admin@city.gov", Role: models.RoleAdmin}
}

func TestComplaintHandlerCreate(t *testing.T) {
	repo := newMemComplaintRepo()
	router := newTestRouter(repo, adminClaims())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/complaints", strings.NewReader(`{"text":"pothole on elm"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "Submitted", envelope.Data["status"])
	assert.Equal(t, "admin@city.gov", envelope.Data["submitted_by"])
}

func TestComplaintHandlerCreateRejectsEmptyBody(t *testing.T) {
	router := newTestRouter(newMemComplaintRepo(), adminClaims())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/complaints", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComplaintHandlerGetMissing(t *testing.T) {
	router := newTestRouter(newMemComplaintRepo(), adminClaims())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/complaints/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestComplaintHandlerUpdateStatusRejectsUnknown(t *testing.T) {
	repo := newMemComplaintRepo()
	complaint := &models.Complaint{Text: "leak", SubmittedBy: "a@b.com"}
	require.NoError(t, repo.Create(context.Background(), complaint))
	router := newTestRouter(repo, adminClaims())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/complaints/"+complaint.ID+"/status", strings.NewReader(`{"status":"Escalated"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComplaintHandlerAssignWithoutClaims(t *testing.T) {
	repo := newMemComplaintRepo()
	complaint := &models.Complaint{Text: "leak", SubmittedBy: "a@b.com"}
	require.NoError(t, repo.Create(context.Background(), complaint))
	router := newTestRouter(repo, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/complaints/"+complaint.ID+"/assignee", strings.NewReader(`{"assigned_to":"worker07"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestComplaintHandlerListScopesDepartmentHead(t *testing.T) {
	repo := newMemComplaintRepo()
	dept := models.DepartmentPublicWorks
	router := newTestRouter(repo, &models.JWTClaims{
		UserID:     "head01",
		Email:      "head@city.gov",
		Role:       models.RoleDepartmentHead,
		Department: &dept,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/complaints", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
