package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicdesk/civicdesk-api/internal/service"
	"github.com/civicdesk/civicdesk-api/pkg/response"
)

// PublicHandler exposes the unauthenticated transparency view.
type PublicHandler struct {
	stats *service.StatsService
}

// NewPublicHandler constructs PublicHandler.
func NewPublicHandler(stats *service.StatsService) *PublicHandler {
	return &PublicHandler{stats: stats}
}

// Stats godoc
// @Summary Public aggregate statistics
// @Tags Public
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /public/stats [get]
func (h *PublicHandler) Stats(c *gin.Context) {
	stats, cached, err := h.stats.Public(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil, map[string]interface{}{"cached": cached})
}
