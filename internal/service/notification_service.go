package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

type notificationRepository interface {
	List(ctx context.Context) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// NotificationService exposes the staff notification feed.
type NotificationService struct {
	repo        notificationRepository
	broadcaster changeBroadcaster
	logger      *zap.Logger
}

// NewNotificationService constructs the notification service.
func NewNotificationService(repo notificationRepository, broadcaster changeBroadcaster, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, broadcaster: broadcaster, logger: logger}
}

// List returns all notifications, newest first.
func (s *NotificationService) List(ctx context.Context) ([]models.Notification, error) {
	notifications, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return notifications, nil
}

// MarkRead flips a notification to read and wakes live subscribers. Marking
// an unknown or already read notification succeeds without effect.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return err
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(models.TopicNotifications)
	}
	return nil
}
