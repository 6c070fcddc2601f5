package dto

import (
	"time"

	"github.com/noah-isme/assignment-review-api/internal/models"
)

// CreateAssignmentRequest payload for starting a new draft.
type CreateAssignmentRequest struct {
	Title        string          `json:"title" validate:"required,max=200"`
	Description  string          `json:"description" validate:"required"`
	Category     models.Category `json:"category" validate:"required,oneof=Assignment Thesis Report"`
	DepartmentID string          `json:"departmentId"`
}

// UpdateAssignmentRequest edits a draft. Status is accepted only to reject
// attempts to change it outside the workflow.
type UpdateAssignmentRequest struct {
	Title       *string                  `json:"title" validate:"omitempty,max=200"`
	Description *string                  `json:"description"`
	Category    *models.Category         `json:"category" validate:"omitempty,oneof=Assignment Thesis Report"`
	Status      *models.AssignmentStatus `json:"status"`
}

// SubmitAssignmentRequest routes a draft to a reviewer.
type SubmitAssignmentRequest struct {
	ReviewerID string `json:"reviewerId" validate:"required"`
}

// RejectAssignmentRequest carries the mandatory feedback.
type RejectAssignmentRequest struct {
	Remarks string `json:"remarks"`
}

// ForwardAssignmentRequest hands the review to another reviewer.
type ForwardAssignmentRequest struct {
	ReviewerID string `json:"reviewerId" validate:"required"`
	Note       string `json:"note"`
}

// ResubmitAssignmentRequest carries the optional changes of a resubmission.
// ReviewerID is only consulted when the previous reviewer can no longer review.
type ResubmitAssignmentRequest struct {
	Description  *string `json:"description" form:"description"`
	KeepOriginal bool    `json:"keepOriginal" form:"keepOriginal"`
	ReviewerID   string  `json:"reviewerId" form:"reviewerId"`
}

// InitiateApprovalRequest starts the one-time code approval.
type InitiateApprovalRequest struct {
	Remarks   string `json:"remarks" validate:"max=2000"`
	Signature string `json:"signature" validate:"max=2000"`
}

// ConfirmApprovalRequest completes the approval with the delivered code.
type ConfirmApprovalRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

// DownloadLink is a time-limited URL to a stored file version.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ReviewerOption is a candidate reviewer for submit and forward forms.
type ReviewerOption struct {
	ID       string          `json:"id"`
	FullName string          `json:"fullName"`
	Email    string          `json:"email"`
	Role     models.UserRole `json:"role"`
}
