package models

import "time"

// NotificationType classifies a workflow notification.
type NotificationType string

const (
	NotificationSubmission   NotificationType = "submission"
	NotificationResubmission NotificationType = "resubmission"
	NotificationApproval     NotificationType = "approval"
	NotificationRejection    NotificationType = "rejection"
	NotificationForwarding   NotificationType = "forwarding"
)

// Notification is a persisted message for one recipient.
type Notification struct {
	ID           string           `db:"id" json:"id"`
	RecipientID  string           `db:"recipient_id" json:"recipientId"`
	AssignmentID *string          `db:"assignment_id" json:"assignmentId,omitempty"`
	Type         NotificationType `db:"type" json:"type"`
	Title        string           `db:"title" json:"title"`
	Message      string           `db:"message" json:"message"`
	IsRead       bool             `db:"is_read" json:"isRead"`
	ReadAt       *time.Time       `db:"read_at" json:"readAt,omitempty"`
	EmailSent    bool             `db:"email_sent" json:"emailSent"`
	EmailSentAt  *time.Time       `db:"email_sent_at" json:"emailSentAt,omitempty"`
	EmailError   *string          `db:"email_error" json:"emailError,omitempty"`
	TriggeredBy  *string          `db:"triggered_by" json:"triggeredBy,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
}
