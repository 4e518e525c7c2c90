package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/pkg/config"
)

type staticComplaints struct {
	complaints []models.Complaint
}

func (s *staticComplaints) Snapshot(context.Context) ([]models.Complaint, error) {
	return s.complaints, nil
}

type staticNotifications struct {
	notifications []models.Notification
}

func (s *staticNotifications) List(context.Context) ([]models.Notification, error) {
	return s.notifications, nil
}

func newTestHub() *Hub {
	return NewHub(
		&staticComplaints{complaints: []models.Complaint{{ID: "cmp-1", Text: "pothole"}}},
		&staticNotifications{notifications: []models.Notification{{ID: "ntf-1", Message: "hello"}}},
		nil,
		nil,
		nil,
		config.RealtimeConfig{SendBufferSize: 4},
	)
}

func decodeEvent(t *testing.T, frame []byte) Event {
	t.Helper()
	var event Event
	require.NoError(t, json.Unmarshal(frame, &event))
	return event
}

func TestBuildEventRoutesTopics(t *testing.T) {
	hub := newTestHub()

	frame, err := hub.buildEvent(context.Background(), models.TopicNotifications)
	require.NoError(t, err)
	event := decodeEvent(t, frame)
	assert.Equal(t, models.TopicNotifications, event.Topic)

	// Unknown topics fall back to the complaint snapshot.
	frame, err = hub.buildEvent(context.Background(), "something-else")
	require.NoError(t, err)
	event = decodeEvent(t, frame)
	assert.Equal(t, models.TopicComplaints, event.Topic)
}

func TestPushDeliversSnapshotToClients(t *testing.T) {
	hub := newTestHub()
	client := &Client{hub: hub, send: make(chan []byte, 4)}
	hub.clients[client] = struct{}{}

	hub.push(context.Background(), models.TopicComplaints)

	select {
	case frame := <-client.send:
		event := decodeEvent(t, frame)
		assert.Equal(t, models.TopicComplaints, event.Topic)
		assert.NotNil(t, event.Data)
	default:
		t.Fatal("expected a frame on the client channel")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := newTestHub()
	slow := &Client{hub: hub, send: make(chan []byte)} // unbuffered, never read
	hub.clients[slow] = struct{}{}

	hub.push(context.Background(), models.TopicComplaints)

	assert.NotContains(t, hub.clients, slow)
	// The send channel is closed on drop so the write pump exits.
	_, open := <-slow.send
	assert.False(t, open)
}

func TestBroadcastWithoutRedisWakesLocally(t *testing.T) {
	hub := newTestHub()

	hub.Broadcast(models.TopicComplaints)

	select {
	case topic := <-hub.wake:
		assert.Equal(t, models.TopicComplaints, topic)
	default:
		t.Fatal("expected a queued wakeup")
	}
}

func TestRegisterSendsInitialSnapshots(t *testing.T) {
	hub := newTestHub()
	client := &Client{hub: hub, send: make(chan []byte, 4)}

	hub.sendInitial(context.Background(), client)

	require.Len(t, client.send, 2)
	first := decodeEvent(t, <-client.send)
	second := decodeEvent(t, <-client.send)
	assert.Equal(t, models.TopicComplaints, first.Topic)
	assert.Equal(t, models.TopicNotifications, second.Topic)
}

func TestTopicScopedClientSkipsOtherFeeds(t *testing.T) {
	hub := newTestHub()
	public := &Client{hub: hub, send: make(chan []byte, 4), topics: map[string]struct{}{models.TopicComplaints: {}}}
	hub.clients[public] = struct{}{}

	hub.sendInitial(context.Background(), public)
	require.Len(t, public.send, 1)
	event := decodeEvent(t, <-public.send)
	assert.Equal(t, models.TopicComplaints, event.Topic)

	hub.push(context.Background(), models.TopicNotifications)
	assert.Empty(t, public.send)

	hub.push(context.Background(), models.TopicComplaints)
	assert.Len(t, public.send, 1)
}
