package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/internal/realtime"
	appErrors "github.com/civicdesk/civicdesk-api/pkg/errors"
	"github.com/civicdesk/civicdesk-api/pkg/response"
)

// WSHandler upgrades staff connections onto the realtime hub.
type WSHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWSHandler constructs WSHandler. Origin checking is left to the CORS
// layer; the upgrader accepts whatever the router already admitted.
func NewWSHandler(hub *realtime.Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Subscribe godoc
// @Summary Subscribe to live complaint and notification snapshots
// @Tags Realtime
// @Security BearerAuth
// @Success 101 "Switching Protocols"
// @Router /ws [get]
func (h *WSHandler) Subscribe(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, appErrors.ErrFeatureDisabled)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := realtime.NewClient(h.hub, conn, h.logger)
	go client.Run()
}

// PublicFeed godoc
// @Summary Subscribe to the live complaint snapshot without authentication
// @Tags Realtime
// @Success 101 "Switching Protocols"
// @Router /ws/public [get]
func (h *WSHandler) PublicFeed(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, appErrors.ErrFeatureDisabled)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := realtime.NewClient(h.hub, conn, h.logger, models.TopicComplaints)
	go client.Run()
}
