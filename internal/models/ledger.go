package models

import "time"

// LedgerAction names the transition recorded by a ledger entry.
type LedgerAction string

const (
	ActionCreate   LedgerAction = "create"
	ActionSubmit   LedgerAction = "submit"
	ActionApprove  LedgerAction = "approve"
	ActionReject   LedgerAction = "reject"
	ActionForward  LedgerAction = "forward"
	ActionResubmit LedgerAction = "resubmit"
)

// LedgerEntry is one immutable record of a state transition.
type LedgerEntry struct {
	ID             string            `db:"id" json:"id"`
	Sequence       int64             `db:"sequence" json:"sequence"`
	AssignmentID   string            `db:"assignment_id" json:"assignmentId"`
	ActorID        string            `db:"actor_id" json:"actorId"`
	ActorRole      UserRole          `db:"actor_role" json:"actorRole"`
	Action         LedgerAction      `db:"action" json:"action"`
	PreviousStatus *AssignmentStatus `db:"previous_status" json:"previousStatus"`
	NewStatus      AssignmentStatus  `db:"new_status" json:"newStatus"`
	Remarks        *string           `db:"remarks" json:"remarks,omitempty"`
	ForwardedToID  *string           `db:"forwarded_to_id" json:"forwardedToId,omitempty"`
	Signature      *string           `db:"signature" json:"signature,omitempty"`
	Timestamp      time.Time         `db:"created_at" json:"timestamp"`
}
