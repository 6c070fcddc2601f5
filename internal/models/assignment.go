package models

import "time"

// Limits for attached documents.
const (
	MaxFileSizeBytes int64 = 10 * 1024 * 1024
	MimeTypePDF            = "application/pdf"
)

// Category classifies an assignment.
type Category string

const (
	CategoryAssignment Category = "Assignment"
	CategoryThesis     Category = "Thesis"
	CategoryReport     Category = "Report"
)

// Valid reports whether the category is one of the accepted values.
func (c Category) Valid() bool {
	switch c {
	case CategoryAssignment, CategoryThesis, CategoryReport:
		return true
	}
	return false
}

// AssignmentStatus captures workflow states for a document.
type AssignmentStatus string

const (
	StatusDraft     AssignmentStatus = "Draft"
	StatusSubmitted AssignmentStatus = "Submitted"
	StatusApproved  AssignmentStatus = "Approved"
	StatusRejected  AssignmentStatus = "Rejected"
	StatusForwarded AssignmentStatus = "Forwarded"
)

// UnderReview reports whether a reviewer currently holds the document.
func (s AssignmentStatus) UnderReview() bool {
	return s == StatusSubmitted || s == StatusForwarded
}

// Valid reports whether the status is known.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected, StatusForwarded:
		return true
	}
	return false
}

// Assignment is a document moving through review.
type Assignment struct {
	ID              string           `db:"id" json:"id"`
	Title           string           `db:"title" json:"title"`
	Description     string           `db:"description" json:"description"`
	Category        Category         `db:"category" json:"category"`
	SubmitterID     string           `db:"submitter_id" json:"submitterId"`
	DepartmentID    string           `db:"department_id" json:"departmentId"`
	ReviewerID      *string          `db:"reviewer_id" json:"reviewerId,omitempty"`
	Status          AssignmentStatus `db:"status" json:"status"`
	Version         int              `db:"version" json:"-"`
	LastFileVersion int              `db:"last_file_version" json:"-"`
	CreatedAt       time.Time        `db:"created_at" json:"createdAt"`
	SubmittedAt     *time.Time       `db:"submitted_at" json:"submittedAt,omitempty"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updatedAt"`
	Files           []FileVersion    `db:"-" json:"files"`
	History         []string         `db:"-" json:"history"`
}

// Reviewer returns the reviewer id or empty when unassigned.
func (a *Assignment) Reviewer() string {
	if a == nil || a.ReviewerID == nil {
		return ""
	}
	return *a.ReviewerID
}

// AssignmentPatch carries the fields editable while in Draft.
type AssignmentPatch struct {
	Title       *string
	Description *string
	Category    *Category
	Status      *AssignmentStatus
}

// FileVersion is one uploaded document revision.
type FileVersion struct {
	ID           string     `db:"id" json:"id"`
	AssignmentID string     `db:"assignment_id" json:"assignmentId"`
	Handle       string     `db:"handle" json:"-"`
	OriginalName string     `db:"original_name" json:"originalName"`
	MimeType     string     `db:"mime_type" json:"mimeType"`
	SizeBytes    int64      `db:"size_bytes" json:"sizeBytes"`
	Version      int        `db:"version" json:"version"`
	UploadedAt   time.Time  `db:"uploaded_at" json:"uploadedAt"`
	DiscardedAt  *time.Time `db:"discarded_at" json:"discardedAt,omitempty"`
}
