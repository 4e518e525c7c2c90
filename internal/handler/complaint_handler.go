package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/internal/service"
	appErrors "github.com/civicdesk/civicdesk-api/pkg/errors"
	"github.com/civicdesk/civicdesk-api/pkg/response"
)

// ComplaintHandler exposes complaint intake and triage endpoints.
type ComplaintHandler struct {
	complaints *service.ComplaintService
}

// NewComplaintHandler constructs ComplaintHandler.
func NewComplaintHandler(complaints *service.ComplaintService) *ComplaintHandler {
	return &ComplaintHandler{complaints: complaints}
}

// List godoc
// @Summary List complaints newest first
// @Tags Complaints
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Param urgency query string false "Filter by urgency"
// @Param department query string false "Filter by department"
// @Param assigned query string false "Filter by assignee, or 'unassigned'"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /complaints [get]
func (h *ComplaintHandler) List(c *gin.Context) {
	var req service.ComplaintListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}

	claims := claimsFromContext(c)
	if claims != nil {
		switch claims.Role {
		case models.RoleDepartmentHead:
			// Department heads only ever see their own queue.
			if claims.Department != nil {
				req.Department = string(*claims.Department)
			}
		case models.RoleUser:
			req.SubmittedBy = claims.Email
		}
	}

	complaints, pagination, err := h.complaints.List(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complaints, pagination)
}

// Get godoc
// @Summary Get one complaint with its audit history
// @Tags Complaints
// @Produce json
// @Security BearerAuth
// @Param id path string true "Complaint ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /complaints/{id} [get]
func (h *ComplaintHandler) Get(c *gin.Context) {
	complaint, err := h.complaints.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complaint, nil)
}

// Create godoc
// @Summary Submit a new complaint
// @Tags Complaints
// @Accept json
// @Produce json
// @Param payload body service.CreateComplaintRequest true "Complaint payload"
// @Success 201 {object} response.Envelope
// @Router /complaints [post]
func (h *ComplaintHandler) Create(c *gin.Context) {
	var req service.CreateComplaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}

	req.SubmittedBy = "anonymous"
	if claims := claimsFromContext(c); claims != nil {
		req.SubmittedBy = claims.Email
	}

	complaint, err := h.complaints.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, complaint)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus godoc
// @Summary Move a complaint to a new status
// @Tags Complaints
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Complaint ID"
// @Param payload body updateStatusRequest true "New status"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /complaints/{id}/status [patch]
func (h *ComplaintHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}

	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	complaint, err := h.complaints.UpdateStatus(c.Request.Context(), c.Param("id"), claims.UserID, models.Status(req.Status))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complaint, nil)
}

type assignRequest struct {
	AssignedTo string `json:"assigned_to"`
}

// Assign godoc
// @Summary Assign a complaint to a staff member
// @Tags Complaints
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Complaint ID"
// @Param payload body assignRequest true "Assignee"
// @Success 200 {object} response.Envelope
// @Router /complaints/{id}/assignee [patch]
func (h *ComplaintHandler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}

	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	complaint, err := h.complaints.Assign(c.Request.Context(), c.Param("id"), claims.UserID, req.AssignedTo)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complaint, nil)
}

// UpdateTriage godoc
// @Summary Overwrite the urgency, category or department of a complaint
// @Tags Complaints
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Complaint ID"
// @Param payload body service.UpdateTriageRequest true "Triage fields"
// @Success 200 {object} response.Envelope
// @Router /complaints/{id}/triage [patch]
func (h *ComplaintHandler) UpdateTriage(c *gin.Context) {
	var req service.UpdateTriageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}

	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	complaint, err := h.complaints.UpdateTriage(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, complaint, nil)
}
