package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

type fakeNotificationRepo struct {
	notifications []models.Notification
	listErr       error
	markReadIDs   []string
	markReadErr   error
}

func (f *fakeNotificationRepo) List(context.Context) ([]models.Notification, error) {
	return f.notifications, f.listErr
}

func (f *fakeNotificationRepo) MarkRead(_ context.Context, id string) error {
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.markReadIDs = append(f.markReadIDs, id)
	return nil
}

type recordingBroadcaster struct {
	topics []string
}

func (r *recordingBroadcaster) Broadcast(topic string) {
	r.topics = append(r.topics, topic)
}

func TestNotificationServiceListNeverNil(t *testing.T) {
	svc := NewNotificationService(&fakeNotificationRepo{}, nil, nil)

	notifications, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, notifications)
	assert.Empty(t, notifications)
}

func TestNotificationServiceListPropagatesError(t *testing.T) {
	repo := &fakeNotificationRepo{listErr: errors.New("boom")}
	svc := NewNotificationService(repo, nil, nil)

	_, err := svc.List(context.Background())
	assert.Error(t, err)
}

func TestNotificationServiceMarkReadBroadcasts(t *testing.T) {
	repo := &fakeNotificationRepo{}
	broadcaster := &recordingBroadcaster{}
	svc := NewNotificationService(repo, broadcaster, nil)

	require.NoError(t, svc.MarkRead(context.Background(), "ntf-1"))
	assert.Equal(t, []string{"ntf-1"}, repo.markReadIDs)
	assert.Equal(t, []string{models.TopicNotifications}, broadcaster.topics)
}

func TestNotificationServiceMarkReadErrorSkipsBroadcast(t *testing.T) {
	repo := &fakeNotificationRepo{markReadErr: errors.New("boom")}
	broadcaster := &recordingBroadcaster{}
	svc := NewNotificationService(repo, broadcaster, nil)

	require.Error(t, svc.MarkRead(context.Background(), "ntf-1"))
	assert.Empty(t, broadcaster.topics)
}
