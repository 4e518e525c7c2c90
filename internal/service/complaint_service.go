package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/civicdesk/civicdesk-api/internal/models"
	appErrors "github.com/civicdesk/civicdesk-api/pkg/errors"
	"github.com/civicdesk/civicdesk-api/pkg/jobs"
)

type complaintRepository interface {
	List(ctx context.Context, filter models.ComplaintFilter) ([]models.Complaint, int, error)
	Snapshot(ctx context.Context) ([]models.Complaint, error)
	Get(ctx context.Context, id string) (*models.Complaint, error)
	Create(ctx context.Context, complaint *models.Complaint) error
	Update(ctx context.Context, id string, update models.ComplaintUpdate, entry models.AuditLogEntry) error
}

type complaintClassifier interface {
	Classify(ctx context.Context, text string) Classification
}

type notificationCreator interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type changeBroadcaster interface {
	Broadcast(topic string)
}

// ClassifyJobType labels queued classification work.
const ClassifyJobType = "complaint.classify"

// ClassifyPayload is the classification job payload.
type ClassifyPayload struct {
	ComplaintID string
	Text        string
}

// ComplaintService owns the complaint lifecycle: creation, the
// classification-triggered transition, assignment, manual status moves and
// staff re-triage. It holds no complaint state of its own; every operation
// reads the store and issues at most one partial update carrying exactly one
// audit entry.
type ComplaintService struct {
	repo          complaintRepository
	classifier    complaintClassifier
	notifications notificationCreator
	broadcaster   changeBroadcaster
	cache         *CacheService
	validator     *validator.Validate
	logger        *zap.Logger

	classifyQueue *jobs.Queue
}

// ComplaintServiceParams groups constructor dependencies.
type ComplaintServiceParams struct {
	Repo          complaintRepository
	Classifier    complaintClassifier
	Notifications notificationCreator
	Broadcaster   changeBroadcaster
	Cache         *CacheService
	Validator     *validator.Validate
	Logger        *zap.Logger
}

// NewComplaintService constructs the lifecycle engine.
func NewComplaintService(params ComplaintServiceParams) *ComplaintService {
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComplaintService{
		repo:          params.Repo,
		classifier:    params.Classifier,
		notifications: params.Notifications,
		broadcaster:   params.Broadcaster,
		cache:         params.Cache,
		validator:     validate,
		logger:        logger,
	}
}

// AttachClassifyQueue wires the background queue that runs classification.
// Without a queue, creation classifies in a detached goroutine.
func (s *ComplaintService) AttachClassifyQueue(q *jobs.Queue) {
	s.classifyQueue = q
}

// ClassifyJobHandler adapts the classification pipeline to the job queue.
func (s *ComplaintService) ClassifyJobHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(ClassifyPayload)
		if !ok {
			return fmt.Errorf("unexpected payload type %T for %s", job.Payload, job.Type)
		}
		return s.RunClassification(ctx, payload.ComplaintID, payload.Text)
	}
}

// CreateComplaintRequest is the submission payload.
type CreateComplaintRequest struct {
	Text        string           `json:"text" validate:"required"`
	SubmittedBy string           `json:"-" validate:"required"`
	Location    *models.Location `json:"location,omitempty"`
}

// ComplaintListRequest describes listing filters.
type ComplaintListRequest struct {
	Status      string `form:"status"`
	Urgency     string `form:"urgency"`
	Department  string `form:"department"`
	Assigned    string `form:"assigned"`
	SubmittedBy string `form:"submitted_by"`
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
}

// List returns complaints newest first with pagination.
func (s *ComplaintService) List(ctx context.Context, req ComplaintListRequest) ([]models.Complaint, *models.Pagination, error) {
	if req.Status != "" && !models.Status(req.Status).Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidStatus, fmt.Sprintf("unknown status %q", req.Status))
	}
	filter := models.ComplaintFilter{
		Status:      models.Status(req.Status),
		Urgency:     models.Urgency(req.Urgency),
		Department:  models.Department(req.Department),
		Assigned:    req.Assigned,
		SubmittedBy: req.SubmittedBy,
		Page:        req.Page,
		PageSize:    req.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 100
	}
	complaints, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list complaints")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return complaints, pagination, nil
}

// Get returns one complaint.
func (s *ComplaintService) Get(ctx context.Context, id string) (*models.Complaint, error) {
	complaint, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "complaint not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch complaint")
	}
	return complaint, nil
}

// Snapshot returns the full complaint set newest first.
func (s *ComplaintService) Snapshot(ctx context.Context) ([]models.Complaint, error) {
	complaints, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load complaint snapshot")
	}
	return complaints, nil
}

// Create submits a new complaint. The record enters the lifecycle at
// Submitted with its first audit entry, then classification is scheduled in
// the background; creation never waits for the classifier.
func (s *ComplaintService) Create(ctx context.Context, req CreateComplaintRequest) (*models.Complaint, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid complaint payload")
	}

	complaint := &models.Complaint{
		Text:        req.Text,
		SubmittedBy: req.SubmittedBy,
		Location:    req.Location,
	}
	if err := s.repo.Create(ctx, complaint); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create complaint")
	}

	s.afterWrite(ctx, models.TopicComplaints)
	s.scheduleClassification(complaint.ID, complaint.Text)

	return complaint, nil
}

func (s *ComplaintService) scheduleClassification(complaintID, text string) {
	payload := ClassifyPayload{ComplaintID: complaintID, Text: text}
	if s.classifyQueue != nil {
		err := s.classifyQueue.Enqueue(jobs.Job{ID: complaintID, Type: ClassifyJobType, Payload: payload})
		if err == nil {
			return
		}
		s.logger.Warn("failed to enqueue classification, running inline", zap.String("complaint_id", complaintID), zap.Error(err))
	}
	go func() {
		if err := s.RunClassification(context.Background(), complaintID, text); err != nil {
			s.logger.Error("inline classification failed", zap.String("complaint_id", complaintID), zap.Error(err))
		}
	}()
}

// RunClassification triages the complaint and applies the result. Classifier
// failures resolve to the fixed fallback, so the complaint always reaches
// Classified; only store write failures propagate (the job queue retries
// them).
func (s *ComplaintService) RunClassification(ctx context.Context, complaintID, text string) error {
	result := FallbackClassification()
	if s.classifier != nil {
		result = s.classifier.Classify(ctx, text)
	}
	if !result.Urgency.Valid() || !result.Category.Valid() || !result.Department.Valid() {
		result = FallbackClassification()
	}

	status := models.StatusClassified
	update := models.ComplaintUpdate{
		Status:     &status,
		Urgency:    &result.Urgency,
		Category:   &result.Category,
		Department: &result.Department,
	}
	entry := models.AuditLogEntry{
		ActorID: models.SystemActorID,
		Action:  "Classified",
		Details: fmt.Sprintf("Urgency: %s, Category: %s, Department: %s", result.Urgency, result.Category, result.Department),
	}
	if err := s.repo.Update(ctx, complaintID, update, entry); err != nil {
		return fmt.Errorf("apply classification to %s: %w", complaintID, err)
	}

	s.afterWrite(ctx, models.TopicComplaints)

	if s.notifications != nil {
		notification := &models.Notification{
			ComplaintID: complaintID,
			Message:     fmt.Sprintf("Complaint #%s auto-assigned to %s.", shortID(complaintID), result.Department),
		}
		if err := s.notifications.Create(ctx, notification); err != nil {
			s.logger.Warn("failed to create classification notification", zap.String("complaint_id", complaintID), zap.Error(err))
		} else {
			s.afterWrite(ctx, models.TopicNotifications)
		}
	}

	return nil
}

// Assign sets or clears the assignee. Empty string and null are the same
// "no assignee" state; when the value is unchanged nothing is written. An
// actual change also forces the status to Assigned and records the previous
// assignee in the audit entry.
func (s *ComplaintService) Assign(ctx context.Context, id, actorID, assignee string) (*models.Complaint, error) {
	complaint, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	assignee = strings.TrimSpace(assignee)
	if complaint.Assignee() == assignee {
		return complaint, nil
	}

	status := models.StatusAssigned
	update := models.ComplaintUpdate{Status: &status}
	if assignee == "" {
		update.ClearAssignee = true
	} else {
		update.AssignedTo = &assignee
	}
	entry := models.AuditLogEntry{
		ActorID: actorID,
		Action:  fmt.Sprintf("Assigned to %s", orUnassigned(assignee)),
		Details: fmt.Sprintf("Previously assigned to %s", orUnassigned(complaint.Assignee())),
	}
	if err := s.repo.Update(ctx, id, update, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign complaint")
	}

	s.afterWrite(ctx, models.TopicComplaints)
	return s.Get(ctx, id)
}

// UpdateStatus applies a manual status move. The status set is flat: staff
// may move between any two known states; equal input is a no-op without a
// write or audit entry.
func (s *ComplaintService) UpdateStatus(ctx context.Context, id, actorID string, newStatus models.Status) (*models.Complaint, error) {
	if !newStatus.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, fmt.Sprintf("unknown status %q", newStatus))
	}

	complaint, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if complaint.Status == newStatus {
		return complaint, nil
	}

	update := models.ComplaintUpdate{Status: &newStatus}
	entry := models.AuditLogEntry{
		ActorID: actorID,
		Action:  fmt.Sprintf("Status changed to %s", newStatus),
		Details: fmt.Sprintf("Previous status was %s", complaint.Status),
	}
	if err := s.repo.Update(ctx, id, update, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update complaint status")
	}

	s.afterWrite(ctx, models.TopicComplaints)
	return s.Get(ctx, id)
}

// UpdateTriageRequest is the staff re-triage payload. Omitted fields keep
// their current value.
type UpdateTriageRequest struct {
	Urgency    *string `json:"urgency,omitempty"`
	Category   *string `json:"category,omitempty"`
	Department *string `json:"department,omitempty"`
}

// UpdateTriage lets staff overwrite the triage triple after classification.
// The audit entry records every prior value it overwrote; an input equal to
// the current values is a no-op.
func (s *ComplaintService) UpdateTriage(ctx context.Context, id, actorID string, req UpdateTriageRequest) (*models.Complaint, error) {
	complaint, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	update := models.ComplaintUpdate{}
	var previous []string

	if req.Urgency != nil {
		urgency := models.Urgency(*req.Urgency)
		if !urgency.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown urgency %q", *req.Urgency))
		}
		if complaint.Urgency == nil || *complaint.Urgency != urgency {
			update.Urgency = &urgency
			previous = append(previous, fmt.Sprintf("urgency was %s", orNone(complaint.Urgency)))
		}
	}
	if req.Category != nil {
		category := models.Category(*req.Category)
		if !category.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", *req.Category))
		}
		if complaint.Category == nil || *complaint.Category != category {
			update.Category = &category
			previous = append(previous, fmt.Sprintf("category was %s", orNone(complaint.Category)))
		}
	}
	if req.Department != nil {
		department := models.Department(*req.Department)
		if !department.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown department %q", *req.Department))
		}
		if complaint.Department == nil || *complaint.Department != department {
			update.Department = &department
			previous = append(previous, fmt.Sprintf("department was %s", orNone(complaint.Department)))
		}
	}

	if update.Empty() {
		return complaint, nil
	}

	entry := models.AuditLogEntry{
		ActorID: actorID,
		Action:  "Triage updated",
		Details: "Previous " + strings.Join(previous, ", "),
	}
	if err := s.repo.Update(ctx, id, update, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update complaint triage")
	}

	s.afterWrite(ctx, models.TopicComplaints)
	return s.Get(ctx, id)
}

func (s *ComplaintService) afterWrite(ctx context.Context, topic string) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, "stats:*"); err != nil {
			s.logger.Warn("failed to invalidate stats cache", zap.Error(err))
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(topic)
	}
}

func shortID(id string) string {
	if len(id) <= 4 {
		return id
	}
	return id[:4]
}

func orUnassigned(assignee string) string {
	if assignee == "" {
		return "Unassigned"
	}
	return assignee
}

func orNone[T ~string](value *T) string {
	if value == nil {
		return "none"
	}
	return string(*value)
}
