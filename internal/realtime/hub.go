package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/pkg/config"
)

// Event is one push frame sent to subscribers. Every change delivers the full
// current snapshot for its topic; clients replace state rather than patch it.
type Event struct {
	Topic     string      `json:"topic"`
	Data      interface{} `json:"data"`
	EmittedAt time.Time   `json:"emitted_at"`
}

type complaintSnapshots interface {
	Snapshot(ctx context.Context) ([]models.Complaint, error)
}

type notificationLister interface {
	List(ctx context.Context) ([]models.Notification, error)
}

type clientGauge interface {
	SetRealtimeClients(n int)
}

// Hub fans complaint and notification snapshots out to websocket subscribers.
// Cross-instance wakeups travel over a Redis pub/sub channel so every gateway
// replica pushes to its own clients.
type Hub struct {
	complaints    complaintSnapshots
	notifications notificationLister
	redis         *redis.Client
	metrics       clientGauge
	logger        *zap.Logger
	cfg           config.RealtimeConfig

	register   chan *Client
	unregister chan *Client
	wake       chan string
	clients    map[*Client]struct{}
}

// NewHub constructs the fan-out hub. The redis client may be nil; the hub then
// only wakes its own subscribers.
func NewHub(complaints complaintSnapshots, notifications notificationLister, redisClient *redis.Client, metrics clientGauge, logger *zap.Logger, cfg config.RealtimeConfig) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 8
	}
	return &Hub{
		complaints:    complaints,
		notifications: notifications,
		redis:         redisClient,
		metrics:       metrics,
		logger:        logger,
		cfg:           cfg,
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		wake:          make(chan string, 64),
		clients:       map[*Client]struct{}{},
	}
}

// Broadcast wakes subscribers of the topic on every gateway instance.
// It never blocks the caller; a saturated hub drops the wakeup, which is
// safe because each wakeup carries the full snapshot anyway.
func (h *Hub) Broadcast(topic string) {
	if h == nil {
		return
	}
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := h.redis.Publish(ctx, h.cfg.PubSubChannel, topic).Err()
		cancel()
		if err == nil {
			return
		}
		h.logger.Warn("realtime publish failed, waking local clients only", zap.Error(err))
	}
	select {
	case h.wake <- topic:
	default:
	}
}

// Run drives the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.redis != nil {
		go h.listenPubSub(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.close()
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.reportClients()
			h.sendInitial(ctx, client)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.reportClients()
			}
		case topic := <-h.wake:
			h.push(ctx, topic)
		}
	}
}

func (h *Hub) listenPubSub(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, h.cfg.PubSubChannel)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			select {
			case h.wake <- msg.Payload:
			default:
			}
		}
	}
}

// sendInitial pushes the current state of both topics to a fresh subscriber
// so it never has to make a separate bootstrap request.
func (h *Hub) sendInitial(ctx context.Context, client *Client) {
	for _, topic := range []string{models.TopicComplaints, models.TopicNotifications} {
		if !client.subscribed(topic) {
			continue
		}
		event, err := h.buildEvent(ctx, topic)
		if err != nil {
			h.logger.Warn("failed to build initial snapshot", zap.String("topic", topic), zap.Error(err))
			continue
		}
		h.deliver(client, event)
	}
}

func (h *Hub) push(ctx context.Context, topic string) {
	if len(h.clients) == 0 {
		return
	}
	if topic != models.TopicNotifications {
		topic = models.TopicComplaints
	}
	event, err := h.buildEvent(ctx, topic)
	if err != nil {
		h.logger.Warn("failed to build snapshot for push", zap.String("topic", topic), zap.Error(err))
		return
	}
	for client := range h.clients {
		if !client.subscribed(topic) {
			continue
		}
		h.deliver(client, event)
	}
}

func (h *Hub) buildEvent(ctx context.Context, topic string) ([]byte, error) {
	event := Event{Topic: topic, EmittedAt: time.Now().UTC()}
	switch topic {
	case models.TopicNotifications:
		notifications, err := h.notifications.List(ctx)
		if err != nil {
			return nil, err
		}
		if notifications == nil {
			notifications = []models.Notification{}
		}
		event.Data = notifications
	default:
		complaints, err := h.complaints.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if complaints == nil {
			complaints = []models.Complaint{}
		}
		event.Topic = models.TopicComplaints
		event.Data = complaints
	}
	return json.Marshal(event)
}

// deliver hands the frame to the client's write pump. A subscriber whose
// buffer is full is too far behind to catch up and gets dropped.
func (h *Hub) deliver(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		delete(h.clients, client)
		client.close()
		h.reportClients()
		h.logger.Warn("dropping slow realtime subscriber")
	}
}

func (h *Hub) reportClients() {
	if h.metrics != nil {
		h.metrics.SetRealtimeClients(len(h.clients))
	}
}
