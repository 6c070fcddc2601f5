package models

import "time"

// One-time approval code parameters.
const (
	ApprovalCodeLength = 6
	ApprovalCodeTTL    = 10 * time.Minute
)

// ApprovalChallenge binds a pending approval to a one-time code.
type ApprovalChallenge struct {
	AssignmentID string
	ReviewerID   string
	CodeHash     string
	Remarks      string
	Signature    string
	Nonce        string
	Attempts     int
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the challenge is past its validity window at now.
func (c *ApprovalChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ApprovalAck is returned after phase one; it never carries the code.
type ApprovalAck struct {
	AssignmentID string    `json:"assignmentId"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Message      string    `json:"message"`
}
