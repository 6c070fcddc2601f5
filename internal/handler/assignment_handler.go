package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assignment-review-api/internal/dto"
	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/internal/service"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
	"github.com/noah-isme/assignment-review-api/pkg/response"
)

type workflowService interface {
	CreateAssignment(ctx context.Context, actor models.Actor, req dto.CreateAssignmentRequest) (*models.Assignment, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Assignment, error)
	UpdateDraft(ctx context.Context, actor models.Actor, id string, req dto.UpdateAssignmentRequest) (*models.Assignment, error)
	EligibleReviewers(ctx context.Context, actor models.Actor, id string) ([]dto.ReviewerOption, error)
	Submit(ctx context.Context, actor models.Actor, id, reviewerID string) (*models.Assignment, error)
	Reject(ctx context.Context, actor models.Actor, id, remarks string) (*models.Assignment, error)
	Forward(ctx context.Context, actor models.Actor, id, newReviewerID, note string) (*models.Assignment, error)
	Resubmit(ctx context.Context, actor models.Actor, id string, req dto.ResubmitAssignmentRequest, upload *service.FileUpload) (*models.Assignment, error)
}

// AssignmentHandler exposes the review workflow endpoints.
type AssignmentHandler struct {
	service workflowService
}

// NewAssignmentHandler builds a new handler.
func NewAssignmentHandler(service workflowService) *AssignmentHandler {
	return &AssignmentHandler{service: service}
}

// Create godoc
// @Summary Create a draft assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.CreateAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateAssignmentRequest
	if !bindJSON(c, &req) {
		return
	}
	assignment, err := h.service.CreateAssignment(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Get godoc
// @Summary Get an assignment with its files and history
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	assignment, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// Update godoc
// @Summary Edit a draft
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.UpdateAssignmentRequest true "Draft changes"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [patch]
func (h *AssignmentHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateAssignmentRequest
	if !bindJSON(c, &req) {
		return
	}
	assignment, err := h.service.UpdateDraft(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// Reviewers godoc
// @Summary List reviewers the assignment can be routed to
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/reviewers [get]
func (h *AssignmentHandler) Reviewers(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	options, err := h.service.EligibleReviewers(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, options)
}

// Submit godoc
// @Summary Submit a draft for review
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.SubmitAssignmentRequest true "Reviewer selection"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/submit [post]
func (h *AssignmentHandler) Submit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.SubmitAssignmentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.service.Submit(c.Request.Context(), actor, c.Param("id"), req.ReviewerID))
}

// Reject godoc
// @Summary Reject an assignment under review
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.RejectAssignmentRequest true "Feedback"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/reject [post]
func (h *AssignmentHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.RejectAssignmentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.service.Reject(c.Request.Context(), actor, c.Param("id"), req.Remarks))
}

// Forward godoc
// @Summary Forward an assignment to another reviewer
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.ForwardAssignmentRequest true "Target reviewer"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/forward [post]
func (h *AssignmentHandler) Forward(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ForwardAssignmentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.service.Forward(c.Request.Context(), actor, c.Param("id"), req.ReviewerID, req.Note))
}

// Resubmit godoc
// @Summary Resubmit a rejected assignment
// @Tags Assignments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Assignment ID"
// @Param description formData string false "New description"
// @Param keepOriginal formData bool false "Keep earlier file versions visible"
// @Param reviewerId formData string false "Fallback reviewer when the previous one is unavailable"
// @Param file formData file false "New PDF version"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/resubmit [post]
func (h *AssignmentHandler) Resubmit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	limitUploadBody(c)

	var req dto.ResubmitAssignmentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, uploadError(err, "invalid resubmission payload"))
		return
	}
	upload, closeFn, err := optionalUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFn()

	h.respond(c)(h.service.Resubmit(c.Request.Context(), actor, c.Param("id"), req, upload))
}

func (h *AssignmentHandler) respond(c *gin.Context) func(*models.Assignment, error) {
	return func(assignment *models.Assignment, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, assignment)
	}
}

func uploadError(err error, message string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return appErrors.ErrPayloadTooLarge
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
