package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is one websocket subscriber. Subscribers are read-mostly: the read
// pump exists only to answer pings and notice disconnects.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger
	topics map[string]struct{}

	send      chan []byte
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection and registers it with the hub.
// Without explicit topics the client receives every feed; the public
// endpoint restricts its clients to the complaint snapshot.
func NewClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger, topics ...string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		hub:    hub,
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, hub.cfg.SendBufferSize),
	}
	if len(topics) > 0 {
		client.topics = make(map[string]struct{}, len(topics))
		for _, topic := range topics {
			client.topics[topic] = struct{}{}
		}
	}
	hub.register <- client
	return client
}

// subscribed reports whether the client wants frames for the topic. A client
// with no explicit topic set receives everything.
func (c *Client) subscribed(topic string) bool {
	if c.topics == nil {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}

// Run starts both pumps and blocks until the connection ends.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("realtime read failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
