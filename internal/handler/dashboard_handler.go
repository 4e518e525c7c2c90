package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicdesk/civicdesk-api/internal/service"
	"github.com/civicdesk/civicdesk-api/pkg/response"
)

// DashboardHandler exposes the staff analytics aggregate.
type DashboardHandler struct {
	stats *service.StatsService
}

// NewDashboardHandler constructs DashboardHandler.
func NewDashboardHandler(stats *service.StatsService) *DashboardHandler {
	return &DashboardHandler{stats: stats}
}

// Stats godoc
// @Summary Staff dashboard aggregates
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /dashboard/stats [get]
func (h *DashboardHandler) Stats(c *gin.Context) {
	stats, cached, err := h.stats.Dashboard(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil, map[string]interface{}{"cached": cached})
}
