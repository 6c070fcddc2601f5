package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assignment-review-api/internal/dto"
	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/pkg/response"
)

type approvalService interface {
	Initiate(ctx context.Context, actor models.Actor, assignmentID string, req dto.InitiateApprovalRequest) (*models.ApprovalAck, error)
	Confirm(ctx context.Context, actor models.Actor, assignmentID string, req dto.ConfirmApprovalRequest) (*models.Assignment, error)
}

// ApprovalHandler exposes the two-phase approval endpoints.
type ApprovalHandler struct {
	service approvalService
}

// NewApprovalHandler builds a new handler.
func NewApprovalHandler(service approvalService) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

// Initiate godoc
// @Summary Send a one-time approval code to the reviewer
// @Tags Approval
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.InitiateApprovalRequest false "Remarks and signature"
// @Success 202 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /assignments/{id}/approval [post]
func (h *ApprovalHandler) Initiate(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.InitiateApprovalRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	ack, err := h.service.Initiate(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, ack)
}

// Confirm godoc
// @Summary Confirm an approval with the delivered code
// @Tags Approval
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.ConfirmApprovalRequest true "One-time code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /assignments/{id}/approval/confirm [post]
func (h *ApprovalHandler) Confirm(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ConfirmApprovalRequest
	if !bindJSON(c, &req) {
		return
	}
	assignment, err := h.service.Confirm(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}
