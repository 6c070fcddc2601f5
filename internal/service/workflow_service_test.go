package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assignment-review-api/internal/dto"
	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/internal/repository"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
)

func TestCreateAssignmentStartsDraftWithCreateEntry(t *testing.T) {
	f := newFixture(t)
	a, err := f.workflow.CreateAssignment(context.Background(), f.student, dto.CreateAssignmentRequest{
		Title:       "  Thesis proposal  ",
		Description: " Chapter outline ",
		Category:    models.CategoryThesis,
	})
	require.NoError(t, err)

	assert.Equal(t, "Thesis proposal", a.Title)
	assert.Equal(t, "Chapter outline", a.Description)
	assert.Equal(t, models.StatusDraft, a.Status)
	assert.Equal(t, deptCS, a.DepartmentID)
	assert.Nil(t, a.ReviewerID)
	assert.Empty(t, a.Files)
	require.Len(t, a.History, 1)

	entries, _ := f.store.ListFor(context.Background(), a.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionCreate, entries[0].Action)
	assert.Nil(t, entries[0].PreviousStatus)
	assert.Equal(t, models.StatusDraft, entries[0].NewStatus)
}

func TestCreateAssignmentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.workflow.CreateAssignment(ctx, f.professorA, dto.CreateAssignmentRequest{Title: "x", Description: "y", Category: models.CategoryReport})
	requireAppError(t, err, appErrors.ErrForbidden)

	appErr := requireAppError(t, func() error {
		_, err := f.workflow.CreateAssignment(ctx, f.student, dto.CreateAssignmentRequest{Title: "   ", Description: "y", Category: models.CategoryReport})
		return err
	}(), appErrors.ErrValidation)
	assert.Equal(t, "title", appErr.Field)

	appErr = requireAppError(t, func() error {
		_, err := f.workflow.CreateAssignment(ctx, f.student, dto.CreateAssignmentRequest{Title: "x", Description: "y", Category: "Poem"})
		return err
	}(), appErrors.ErrValidation)
	assert.Equal(t, "category", appErr.Field)

	appErr = requireAppError(t, func() error {
		_, err := f.workflow.CreateAssignment(ctx, f.student, dto.CreateAssignmentRequest{Title: "x", Description: "y", Category: models.CategoryReport, DepartmentID: deptMath})
		return err
	}(), appErrors.ErrValidation)
	assert.Equal(t, "departmentId", appErr.Field)
}

func TestInactiveOrUnknownActorsCannotAct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.deactivate(f.student.ID)

	_, err := f.workflow.CreateAssignment(ctx, f.student, dto.CreateAssignmentRequest{Title: "x", Description: "y", Category: models.CategoryReport})
	requireAppError(t, err, appErrors.ErrInactiveAccount)

	_, err = f.workflow.CreateAssignment(ctx, models.Actor{ID: "ghost", Role: models.RoleStudent}, dto.CreateAssignmentRequest{Title: "x", Description: "y", Category: models.CategoryReport})
	requireAppError(t, err, appErrors.ErrUnauthorized)
}

func TestSubmitRoutesToReviewerAndNotifies(t *testing.T) {
	f := newFixture(t)
	a := f.draftWithFile(t)

	got, err := f.workflow.Submit(context.Background(), f.student, a.ID, f.professorA.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSubmitted, got.Status)
	assert.Equal(t, f.professorA.ID, got.Reviewer())
	require.NotNil(t, got.SubmittedAt)
	assert.Equal(t, []models.LedgerAction{models.ActionCreate, models.ActionSubmit}, f.store.actions(a.ID))
	assert.Len(t, got.Files, 1)

	n := f.notifier.last()
	assert.Equal(t, f.professorA.ID, n.RecipientID)
	assert.Equal(t, models.NotificationSubmission, n.Type)
	assert.Equal(t, "New Assignment Submitted", n.Title)
	assert.Equal(t, `Student has submitted assignment: "Distributed Systems Essay"`, n.Message)
	assert.Equal(t, f.student.ID, n.TriggeredBy)
	assert.Equal(t, a.ID, n.AssignmentID)
}

func TestSubmitPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.workflow.CreateAssignment(ctx, f.student, dto.CreateAssignmentRequest{Title: "x", Description: "y", Category: models.CategoryReport})
	require.NoError(t, err)
	appErr := requireAppError(t, func() error { _, err := f.workflow.Submit(ctx, f.student, empty.ID, f.professorA.ID); return err }(), appErrors.ErrValidation)
	assert.Equal(t, "files", appErr.Field)

	a := f.draftWithFile(t)
	for name, reviewer := range map[string]string{
		"other department": f.mathProf.ID,
		"student reviewer": f.otherStudent.ID,
		"unknown reviewer": "nobody",
		"missing reviewer": "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.workflow.Submit(ctx, f.student, a.ID, reviewer)
			appErr := requireAppError(t, err, appErrors.ErrValidation)
			assert.Equal(t, "reviewerId", appErr.Field)
		})
	}

	f.store.deactivate(f.professorB.ID)
	_, err = f.workflow.Submit(ctx, f.student, a.ID, f.professorB.ID)
	requireAppError(t, err, appErrors.ErrValidation)

	_, err = f.workflow.Submit(ctx, f.otherStudent, a.ID, f.professorA.ID)
	requireAppError(t, err, appErrors.ErrForbidden)

	assert.Equal(t, []models.LedgerAction{models.ActionCreate}, f.store.actions(a.ID))
	assert.Empty(t, f.notifier.sent)
}

func TestSubmitFromNonDraftIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	a := f.submitted(t)

	_, err := f.workflow.Submit(context.Background(), f.student, a.ID, f.professorB.ID)
	appErr := requireAppError(t, err, appErrors.ErrInvalidTransition)
	assert.Contains(t, appErr.Message, "Submitted")
}

func TestUpdateDraftRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.draftWithFile(t)

	title := " Revised title "
	got, err := f.workflow.UpdateDraft(ctx, f.student, a.ID, dto.UpdateAssignmentRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Revised title", got.Title)

	approved := models.StatusApproved
	_, err = f.workflow.UpdateDraft(ctx, f.student, a.ID, dto.UpdateAssignmentRequest{Status: &approved})
	requireAppError(t, err, appErrors.ErrInvalidTransition)

	_, err = f.workflow.UpdateDraft(ctx, f.otherStudent, a.ID, dto.UpdateAssignmentRequest{Title: &title})
	requireAppError(t, err, appErrors.ErrForbidden)

	_, err = f.workflow.Submit(ctx, f.student, a.ID, f.professorA.ID)
	require.NoError(t, err)
	_, err = f.workflow.UpdateDraft(ctx, f.student, a.ID, dto.UpdateAssignmentRequest{Title: &title})
	requireAppError(t, err, appErrors.ErrInvalidTransition)
}

func TestRejectRequiresMeaningfulRemarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)

	_, err := f.workflow.Reject(ctx, f.professorA, a.ID, "   too short   ")
	appErr := requireAppError(t, err, appErrors.ErrValidation)
	assert.Equal(t, "remarks", appErr.Field)

	current, err := f.workflow.Get(ctx, f.student, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, current.Status)
	assert.Equal(t, []models.LedgerAction{models.ActionCreate, models.ActionSubmit}, f.store.actions(a.ID))
}

func TestRejectAndResubmitRestoresReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)

	rejected, err := f.workflow.Reject(ctx, f.professorA, a.ID, "  Please cite primary sources  ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Nil(t, rejected.ReviewerID)

	n := f.notifier.last()
	assert.Equal(t, f.student.ID, n.RecipientID)
	assert.Equal(t, models.NotificationRejection, n.Type)
	assert.Equal(t, `Your assignment "Distributed Systems Essay" was rejected. Feedback: Please cite primary sources`, n.Message)

	resubmitted, err := f.workflow.Resubmit(ctx, f.student, a.ID, dto.ResubmitAssignmentRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, resubmitted.Status)
	assert.Equal(t, f.professorA.ID, resubmitted.Reviewer())
	assert.Len(t, resubmitted.Files, 1)

	entries, _ := f.store.ListFor(ctx, a.ID)
	require.Len(t, entries, 4)
	last := entries[3]
	assert.Equal(t, models.ActionResubmit, last.Action)
	require.NotNil(t, last.Remarks)
	assert.Equal(t, "Resubmitted with same file", *last.Remarks)
	assert.Equal(t, models.NotificationResubmission, f.notifier.last().Type)
	assert.Equal(t, f.professorA.ID, f.notifier.last().RecipientID)
}

func TestResubmitWithNewFileDiscardsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)
	_, err := f.workflow.Reject(ctx, f.professorA, a.ID, "Missing the evaluation section")
	require.NoError(t, err)

	desc := "Now with evaluation"
	got, err := f.workflow.Resubmit(ctx, f.student, a.ID, dto.ResubmitAssignmentRequest{Description: &desc}, pdfUpload("v2.pdf", 4096))
	require.NoError(t, err)

	assert.Equal(t, desc, got.Description)
	require.Len(t, got.Files, 1)
	assert.Equal(t, 2, got.Files[0].Version)
	assert.Equal(t, "v2.pdf", got.Files[0].OriginalName)

	entries, _ := f.store.ListFor(ctx, a.ID)
	assert.Equal(t, "Resubmitted with new file", *entries[len(entries)-1].Remarks)

	all := f.store.files
	require.Len(t, all, 2)
	assert.NotNil(t, all[0].DiscardedAt, "earlier version is kept for audit but hidden")
}

func TestResubmitKeepOriginalKeepsBothVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)
	_, err := f.workflow.Reject(ctx, f.professorA, a.ID, "Missing the evaluation section")
	require.NoError(t, err)

	got, err := f.workflow.Resubmit(ctx, f.student, a.ID, dto.ResubmitAssignmentRequest{KeepOriginal: true}, pdfUpload("appendix.pdf", 1024))
	require.NoError(t, err)
	require.Len(t, got.Files, 2)
	assert.Equal(t, []int{1, 2}, []int{got.Files[0].Version, got.Files[1].Version})
}

func TestResubmitFallsBackWhenPreviousReviewerLeft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)
	_, err := f.workflow.Reject(ctx, f.professorA, a.ID, "Rework the methodology")
	require.NoError(t, err)
	f.store.deactivate(f.professorA.ID)

	_, err = f.workflow.Resubmit(ctx, f.student, a.ID, dto.ResubmitAssignmentRequest{}, nil)
	appErr := requireAppError(t, err, appErrors.ErrValidation)
	assert.Equal(t, "reviewerId", appErr.Field)

	got, err := f.workflow.Resubmit(ctx, f.student, a.ID, dto.ResubmitAssignmentRequest{ReviewerID: f.hod.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, f.hod.ID, got.Reviewer())
}

func TestResubmitReleasesStagedBlobOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)
	_, err := f.workflow.Reject(ctx, f.professorA, a.ID, "Rework the methodology")
	require.NoError(t, err)
	f.store.deactivate(f.professorA.ID)
	before := f.blobs.count()

	_, err = f.workflow.Resubmit(ctx, f.student, a.ID, dto.ResubmitAssignmentRequest{}, pdfUpload("v2.pdf", 1024))
	require.Error(t, err)
	assert.Equal(t, before, f.blobs.count())
}

func TestResubmitReleasesStagedBlobWhenCommitFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)
	_, err := f.workflow.Reject(ctx, f.professorA, a.ID, "Rework the methodology")
	require.NoError(t, err)
	before, putsBefore := f.blobs.count(), f.blobs.puts

	f.store.conflicts = maxCommitAttempts
	_, err = f.workflow.Resubmit(ctx, f.student, a.ID, dto.ResubmitAssignmentRequest{}, pdfUpload("v2.pdf", 1024))
	requireAppError(t, err, appErrors.ErrConflict)
	assert.Equal(t, before, f.blobs.count())

	f.store.commitErr = errors.New("db down")
	_, err = f.workflow.Resubmit(ctx, f.student, a.ID, dto.ResubmitAssignmentRequest{}, pdfUpload("v3.pdf", 1024))
	require.Error(t, err)
	assert.Equal(t, before, f.blobs.count())
	assert.Equal(t, putsBefore+2, f.blobs.puts)
}

func TestResubmitOnlyFromRejected(t *testing.T) {
	f := newFixture(t)
	a := f.submitted(t)
	_, err := f.workflow.Resubmit(context.Background(), f.student, a.ID, dto.ResubmitAssignmentRequest{}, nil)
	requireAppError(t, err, appErrors.ErrInvalidTransition)
}

func TestForwardMovesReviewerSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)

	got, err := f.workflow.Forward(ctx, f.professorA, a.ID, f.hod.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusForwarded, got.Status)
	assert.Equal(t, f.hod.ID, got.Reviewer())

	entries, _ := f.store.ListFor(ctx, a.ID)
	last := entries[len(entries)-1]
	require.NotNil(t, last.ForwardedToID)
	assert.Equal(t, f.hod.ID, *last.ForwardedToID)
	assert.Equal(t, "Forwarded for review", *last.Remarks)

	n := f.notifier.last()
	assert.Equal(t, f.hod.ID, n.RecipientID)
	assert.Equal(t, `Assignment "Distributed Systems Essay" forwarded by Alice. Note: Forwarded for review`, n.Message)

	// The previous reviewer no longer holds the seat.
	_, err = f.workflow.Reject(ctx, f.professorA, a.ID, "Not my area after all")
	requireAppError(t, err, appErrors.ErrForbidden)

	// The new reviewer may forward again.
	got, err = f.workflow.Forward(ctx, f.hod, a.ID, f.professorB.ID, "Second opinion")
	require.NoError(t, err)
	assert.Equal(t, models.StatusForwarded, got.Status)
	assert.Equal(t, f.professorB.ID, got.Reviewer())
}

func TestForwardTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)

	for name, target := range map[string]string{
		"self":             f.professorA.ID,
		"other department": f.mathProf.ID,
		"student":          f.student.ID,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.workflow.Forward(ctx, f.professorA, a.ID, target, "")
			appErr := requireAppError(t, err, appErrors.ErrValidation)
			assert.Equal(t, "reviewerId", appErr.Field)
		})
	}

	_, err := f.workflow.Forward(ctx, f.professorB, a.ID, f.hod.ID, "")
	requireAppError(t, err, appErrors.ErrForbidden)
}

func TestOutsidersGetForbiddenBeforeStatusErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.draftWithFile(t)

	// Draft is not reviewable; an uninvolved reviewer only learns Forbidden.
	_, err := f.workflow.Reject(ctx, f.professorB, a.ID, "Some long enough remark")
	requireAppError(t, err, appErrors.ErrForbidden)

	_, err = f.workflow.Reject(ctx, f.student, a.ID, "Some long enough remark")
	requireAppError(t, err, appErrors.ErrForbidden)
}

func TestConcurrentTransitionLoserSeesWinnerState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)

	var winnerErr error
	f.store.beforeCommit = func() {
		_, winnerErr = f.workflow.Reject(ctx, f.professorA, a.ID, "Rejected from another tab")
	}

	_, err := f.workflow.Forward(ctx, f.professorA, a.ID, f.hod.ID, "")
	require.NoError(t, winnerErr)
	requireAppError(t, err, appErrors.ErrInvalidTransition)

	assert.Equal(t, []models.LedgerAction{models.ActionCreate, models.ActionSubmit, models.ActionReject}, f.store.actions(a.ID))
	current, err := f.workflow.Get(ctx, f.student, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, current.Status)
}

func TestTransitionRetriesVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.draftWithFile(t)

	f.store.conflicts = 2
	got, err := f.workflow.Submit(ctx, f.student, a.ID, f.professorA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)

	b := f.draftWithFile(t)
	f.store.conflicts = maxCommitAttempts
	_, err = f.workflow.Submit(ctx, f.student, b.ID, f.professorA.ID)
	requireAppError(t, err, appErrors.ErrConflict)
	assert.Equal(t, []models.LedgerAction{models.ActionCreate}, f.store.actions(b.ID))
}

func TestDuplicateLedgerEntryIsImmutabilityViolation(t *testing.T) {
	f := newFixture(t)
	a := f.draftWithFile(t)
	f.store.commitErr = repository.ErrDuplicateLedgerEntry

	_, err := f.workflow.Submit(context.Background(), f.student, a.ID, f.professorA.ID)
	requireAppError(t, err, appErrors.ErrImmutableViolation)
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	a := f.draftWithFile(t)

	got, err := f.workflow.Submit(context.Background(), f.student, a.ID, f.professorA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)
}

func TestGetAccessAndLedgerReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submitted(t)

	_, err := f.workflow.Get(ctx, f.otherStudent, a.ID)
	requireAppError(t, err, appErrors.ErrForbidden)
	_, err = f.workflow.Get(ctx, f.professorB, a.ID)
	requireAppError(t, err, appErrors.ErrForbidden)
	_, err = f.workflow.Get(ctx, f.student, "missing")
	requireAppError(t, err, appErrors.ErrNotFound)

	admin := f.store.addUser("root", models.RoleAdmin, "")
	_, err = f.workflow.Get(ctx, models.Actor{ID: admin.ID, Role: admin.Role}, a.ID)
	require.NoError(t, err)

	f.store.setStatus(a.ID, models.StatusDraft)
	got, err := f.workflow.Get(ctx, f.professorA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status, "ledger wins over the stored status")
	assert.Len(t, got.History, 2)
}

func TestEligibleReviewersExcludesCallerAndCurrentReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.draftWithFile(t)

	options, err := f.workflow.EligibleReviewers(ctx, f.student, a.ID)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, o := range options {
		ids[o.ID] = true
	}
	assert.Equal(t, map[string]bool{f.professorA.ID: true, f.professorB.ID: true, f.hod.ID: true}, ids)

	_, err = f.workflow.Submit(ctx, f.student, a.ID, f.professorA.ID)
	require.NoError(t, err)
	options, err = f.workflow.EligibleReviewers(ctx, f.professorA, a.ID)
	require.NoError(t, err)
	for _, o := range options {
		assert.NotEqual(t, f.professorA.ID, o.ID)
	}
	assert.Len(t, options, 2)

	_, err = f.workflow.EligibleReviewers(ctx, f.otherStudent, a.ID)
	requireAppError(t, err, appErrors.ErrForbidden)
}
