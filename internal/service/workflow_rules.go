package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/assignment-review-api/internal/models"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
)

// operation names every guarded engine call, including the non-transition
// draft edits.
type operation string

const (
	opEdit     operation = "edit"
	opAttach   operation = "attach files to"
	opSubmit   operation = "submit"
	opApprove  operation = "approve"
	opReject   operation = "reject"
	opForward  operation = "forward"
	opResubmit operation = "resubmit"
)

type rule struct {
	ownerOnly bool
	from      []models.AssignmentStatus
	to        models.AssignmentStatus
	action    models.LedgerAction
}

var rules = map[operation]rule{
	opEdit:     {ownerOnly: true, from: []models.AssignmentStatus{models.StatusDraft}, to: models.StatusDraft},
	opAttach:   {ownerOnly: true, from: []models.AssignmentStatus{models.StatusDraft}, to: models.StatusDraft},
	opSubmit:   {ownerOnly: true, from: []models.AssignmentStatus{models.StatusDraft}, to: models.StatusSubmitted, action: models.ActionSubmit},
	opResubmit: {ownerOnly: true, from: []models.AssignmentStatus{models.StatusRejected}, to: models.StatusSubmitted, action: models.ActionResubmit},
	opApprove:  {from: []models.AssignmentStatus{models.StatusSubmitted, models.StatusForwarded}, to: models.StatusApproved, action: models.ActionApprove},
	opReject:   {from: []models.AssignmentStatus{models.StatusSubmitted, models.StatusForwarded}, to: models.StatusRejected, action: models.ActionReject},
	opForward:  {from: []models.AssignmentStatus{models.StatusSubmitted, models.StatusForwarded}, to: models.StatusForwarded, action: models.ActionForward},
}

func (r rule) allows(status models.AssignmentStatus) bool {
	for _, s := range r.from {
		if s == status {
			return true
		}
	}
	return false
}

type assignmentReader interface {
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
}

type ledgerReader interface {
	ListFor(ctx context.Context, assignmentID string) ([]models.LedgerEntry, error)
}

// accessGuard resolves actors and decides who may act on or read an assignment.
type accessGuard struct {
	assignments assignmentReader
	ledger      ledgerReader
	directory   actorDirectory
}

func (g accessGuard) activeActor(ctx context.Context, actor models.Actor) (*models.User, error) {
	if actor.ID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	user, err := g.directory.ResolveActor(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unknown actor")
		}
		return nil, err
	}
	if !user.Active() {
		return nil, appErrors.ErrInactiveAccount
	}
	return user, nil
}

func (g accessGuard) load(ctx context.Context, id string) (*models.Assignment, error) {
	a, err := g.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return a, nil
}

// authorize checks role, ownership or reviewer seat, and status legality.
// Parties to the assignment learn about an illegal status; outsiders only
// see Forbidden.
func (g accessGuard) authorize(ctx context.Context, user *models.User, a *models.Assignment, op operation) error {
	r := rules[op]
	if r.ownerOnly {
		if user.Role != models.RoleStudent || a.SubmitterID != user.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the submitter can "+string(op)+" this assignment")
		}
		if !r.allows(a.Status) {
			return appErrors.InvalidTransition(string(a.Status), string(op))
		}
		return nil
	}

	if !user.Role.CanReview() {
		return appErrors.Clone(appErrors.ErrForbidden, "only reviewers can "+string(op)+" assignments")
	}
	if !r.allows(a.Status) {
		participant, err := g.isParticipant(ctx, user.ID, a)
		if err != nil {
			return err
		}
		if participant {
			return appErrors.InvalidTransition(string(a.Status), string(op))
		}
		return appErrors.Clone(appErrors.ErrForbidden, "assignment is not assigned to you")
	}
	if a.Reviewer() != user.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "assignment is not assigned to you")
	}
	return nil
}

// canRead allows admins, the submitter, the current reviewer and anyone who
// appears in the ledger.
func (g accessGuard) canRead(ctx context.Context, user *models.User, a *models.Assignment) error {
	if user.Role == models.RoleAdmin || a.SubmitterID == user.ID {
		return nil
	}
	participant, err := g.isParticipant(ctx, user.ID, a)
	if err != nil {
		return err
	}
	if !participant {
		return appErrors.Clone(appErrors.ErrForbidden, "no access to this assignment")
	}
	return nil
}

func (g accessGuard) isParticipant(ctx context.Context, userID string, a *models.Assignment) (bool, error) {
	if a.Reviewer() == userID || a.SubmitterID == userID {
		return true, nil
	}
	entries, err := g.ledger.ListFor(ctx, a.ID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	for _, e := range entries {
		if e.ActorID == userID || (e.ForwardedToID != nil && *e.ForwardedToID == userID) {
			return true, nil
		}
	}
	return false, nil
}
