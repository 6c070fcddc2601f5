package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/assignment-review-api/internal/dto"
	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/internal/repository"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
)

const (
	maxCommitAttempts     = 3
	minRejectRemarks      = 10
	defaultForwardNote    = "Forwarded for review"
	resubmitWithNewFile   = "Resubmitted with new file"
	resubmitWithSameFiles = "Resubmitted with same file"
)

type assignmentStore interface {
	Create(ctx context.Context, assignment *models.Assignment, entry *models.LedgerEntry) error
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	UpdateDraft(ctx context.Context, assignment *models.Assignment, expectedVersion int) error
	CommitTransition(ctx context.Context, commit repository.TransitionCommit) error
	AddDraftFile(ctx context.Context, assignment *models.Assignment, expectedVersion int, file *models.FileVersion) error
}

type ledgerStore interface {
	ListFor(ctx context.Context, assignmentID string) ([]models.LedgerEntry, error)
	LatestByAction(ctx context.Context, assignmentID string, action models.LedgerAction) (*models.LedgerEntry, error)
}

type fileCatalog interface {
	ListVisible(ctx context.Context, assignmentID string) ([]models.FileVersion, error)
	GetByID(ctx context.Context, assignmentID, fileID string) (*models.FileVersion, error)
	GetByHandle(ctx context.Context, handle string) (*models.FileVersion, error)
}

type workflowNotifier interface {
	Notify(ctx context.Context, req NotificationRequest) (*models.Notification, error)
}

type uploadStager interface {
	Stage(ctx context.Context, upload *FileUpload) (*models.FileVersion, error)
	Release(ctx context.Context, handle string)
}

// WorkflowService is the assignment state machine. Every transition commits
// the assignment and its ledger entry together, then notifies the affected party.
type WorkflowService struct {
	store     assignmentStore
	ledger    ledgerStore
	files     fileCatalog
	directory actorDirectory
	notifier  workflowNotifier
	stager    uploadStager
	guard     accessGuard
	validate  *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// WorkflowOption configures the service.
type WorkflowOption func(*WorkflowService)

// WithWorkflowClock overrides the time source.
func WithWorkflowClock(now func() time.Time) WorkflowOption {
	return func(s *WorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWorkflowMetrics records transition outcomes.
func WithWorkflowMetrics(metrics *MetricsService) WorkflowOption {
	return func(s *WorkflowService) {
		s.metrics = metrics
	}
}

// WithUploadStager enables resubmission with a new file.
func WithUploadStager(stager uploadStager) WorkflowOption {
	return func(s *WorkflowService) {
		s.stager = stager
	}
}

// NewWorkflowService constructs the engine.
func NewWorkflowService(store assignmentStore, ledger ledgerStore, files fileCatalog, directory actorDirectory, notifier workflowNotifier, validate *validator.Validate, logger *zap.Logger, opts ...WorkflowOption) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	svc := &WorkflowService{
		store:     store,
		ledger:    ledger,
		files:     files,
		directory: directory,
		notifier:  notifier,
		guard:     accessGuard{assignments: store, ledger: ledger, directory: directory},
		validate:  validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreateAssignment starts a new draft owned by the calling student.
func (s *WorkflowService) CreateAssignment(ctx context.Context, actor models.Actor, req dto.CreateAssignmentRequest) (_ *models.Assignment, err error) {
	defer func() { s.metrics.RecordTransition(string(models.ActionCreate), err) }()

	user, err := s.guard.activeActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can create assignments")
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	department := user.Department()
	if department == "" {
		return nil, appErrors.Validation("departmentId", "submitter has no department")
	}
	if req.DepartmentID != "" && req.DepartmentID != department {
		return nil, appErrors.Validation("departmentId", "department must match the submitter's department")
	}

	now := s.now()
	assignment := &models.Assignment{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		SubmitterID:  user.ID,
		DepartmentID: department,
		Status:       models.StatusDraft,
		CreatedAt:    now,
	}
	entry := &models.LedgerEntry{
		ActorID:   user.ID,
		ActorRole: user.Role,
		Action:    models.ActionCreate,
		NewStatus: models.StatusDraft,
		Timestamp: now,
	}
	if err := s.store.Create(ctx, assignment, entry); err != nil {
		return nil, s.commitError(err, "failed to create assignment")
	}
	assignment.Files = []models.FileVersion{}
	assignment.History = []string{entry.ID}
	s.logger.Info("assignment created", zap.String("assignment_id", assignment.ID), zap.String("submitter_id", user.ID))
	return assignment, nil
}

// UpdateDraft edits title, description or category of a draft. Status cannot
// be changed here.
func (s *WorkflowService) UpdateDraft(ctx context.Context, actor models.Actor, id string, req dto.UpdateAssignmentRequest) (*models.Assignment, error) {
	if req.Status != nil && *req.Status != models.StatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "status transitions must use workflow endpoints")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	user, err := s.guard.activeActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		a, err := s.guard.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.guard.authorize(ctx, user, a, opEdit); err != nil {
			return nil, err
		}
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return nil, appErrors.Validation("title", "title is required")
			}
			a.Title = title
		}
		if req.Description != nil {
			desc := strings.TrimSpace(*req.Description)
			if desc == "" {
				return nil, appErrors.Validation("description", "description is required")
			}
			a.Description = desc
		}
		if req.Category != nil {
			a.Category = *req.Category
		}

		err = s.store.UpdateDraft(ctx, a, a.Version)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
		}
		return s.hydrate(ctx, a)
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "assignment is being modified concurrently, retry")
}

// Submit routes a draft with at least one file to an eligible reviewer.
func (s *WorkflowService) Submit(ctx context.Context, actor models.Actor, id, reviewerID string) (_ *models.Assignment, err error) {
	defer func() { s.metrics.RecordTransition(string(models.ActionSubmit), err) }()

	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, appErrors.Validation("reviewerId", "reviewerId is required")
	}
	return s.transition(ctx, actor, id, opSubmit, func(user *models.User, a *models.Assignment) (*transitionPlan, error) {
		files, err := s.files.ListVisible(ctx, a.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load files")
		}
		if len(files) == 0 {
			return nil, appErrors.Validation("files", "at least one file is required before submission")
		}
		reviewer, err := s.eligibleReviewer(ctx, reviewerID, a.DepartmentID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		a.ReviewerID = &reviewer.ID
		a.SubmittedAt = &now
		return &transitionPlan{
			notify: &NotificationRequest{
				RecipientID: reviewer.ID,
				Type:        models.NotificationSubmission,
				Title:       "New Assignment Submitted",
				Message:     fmt.Sprintf("%s has submitted assignment: %q", user.FullName, a.Title),
			},
		}, nil
	})
}

// Reject returns the assignment to the submitter with mandatory feedback and
// frees the reviewer seat.
func (s *WorkflowService) Reject(ctx context.Context, actor models.Actor, id, remarks string) (_ *models.Assignment, err error) {
	defer func() { s.metrics.RecordTransition(string(models.ActionReject), err) }()

	remarks = strings.TrimSpace(remarks)
	if utf8.RuneCountInString(remarks) < minRejectRemarks {
		return nil, appErrors.Validation("remarks", fmt.Sprintf("rejection remarks must be at least %d characters", minRejectRemarks))
	}
	return s.transition(ctx, actor, id, opReject, func(_ *models.User, a *models.Assignment) (*transitionPlan, error) {
		a.ReviewerID = nil
		return &transitionPlan{
			remarks: &remarks,
			notify: &NotificationRequest{
				RecipientID: a.SubmitterID,
				Type:        models.NotificationRejection,
				Title:       "Assignment Rejected",
				Message:     fmt.Sprintf("Your assignment %q was rejected. Feedback: %s", a.Title, remarks),
			},
		}, nil
	})
}

// Forward hands the review to another eligible reviewer of the same department.
func (s *WorkflowService) Forward(ctx context.Context, actor models.Actor, id, newReviewerID, note string) (_ *models.Assignment, err error) {
	defer func() { s.metrics.RecordTransition(string(models.ActionForward), err) }()

	newReviewerID = strings.TrimSpace(newReviewerID)
	if newReviewerID == "" {
		return nil, appErrors.Validation("reviewerId", "reviewerId is required")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		note = defaultForwardNote
	}
	return s.transition(ctx, actor, id, opForward, func(user *models.User, a *models.Assignment) (*transitionPlan, error) {
		if newReviewerID == a.Reviewer() || newReviewerID == user.ID {
			return nil, appErrors.Validation("reviewerId", "cannot forward to the current reviewer")
		}
		reviewer, err := s.eligibleReviewer(ctx, newReviewerID, a.DepartmentID)
		if err != nil {
			return nil, err
		}
		a.ReviewerID = &reviewer.ID
		return &transitionPlan{
			remarks:     &note,
			forwardedTo: &reviewer.ID,
			notify: &NotificationRequest{
				RecipientID: reviewer.ID,
				Type:        models.NotificationForwarding,
				Title:       "Assignment Forwarded",
				Message:     fmt.Sprintf("Assignment %q forwarded by %s. Note: %s", a.Title, user.FullName, note),
			},
		}, nil
	})
}

// Resubmit sends a rejected assignment back to the reviewer who rejected it,
// optionally with a new description and a new file.
func (s *WorkflowService) Resubmit(ctx context.Context, actor models.Actor, id string, req dto.ResubmitAssignmentRequest, upload *FileUpload) (_ *models.Assignment, err error) {
	defer func() { s.metrics.RecordTransition(string(models.ActionResubmit), err) }()

	var description *string
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		if desc == "" {
			return nil, appErrors.Validation("description", "description cannot be empty")
		}
		description = &desc
	}

	var staged *models.FileVersion
	if upload != nil {
		if s.stager == nil {
			return nil, appErrors.Clone(appErrors.ErrStorageFailure, "file uploads are not configured")
		}
		// Authorize before writing any blob.
		if err = s.authorizeResubmit(ctx, actor, id); err != nil {
			return nil, err
		}
		if staged, err = s.stager.Stage(ctx, upload); err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil && staged != nil {
			s.stager.Release(context.WithoutCancel(ctx), staged.Handle)
		}
	}()

	return s.transition(ctx, actor, id, opResubmit, func(user *models.User, a *models.Assignment) (*transitionPlan, error) {
		reviewer, err := s.restoreReviewer(ctx, a, req.ReviewerID)
		if err != nil {
			return nil, err
		}
		if description != nil {
			a.Description = *description
		}
		now := s.now()
		a.ReviewerID = &reviewer.ID
		a.SubmittedAt = &now

		plan := &transitionPlan{
			notify: &NotificationRequest{
				RecipientID: reviewer.ID,
				Type:        models.NotificationResubmission,
				Title:       "Assignment Resubmitted",
				Message:     fmt.Sprintf("%s resubmitted: %q", user.FullName, a.Title),
			},
		}
		remarks := resubmitWithSameFiles
		if staged != nil {
			file := *staged
			file.ID = ""
			file.Version = a.LastFileVersion + 1
			a.LastFileVersion = file.Version
			plan.newFile = &file
			plan.discardFiles = !req.KeepOriginal
			remarks = resubmitWithNewFile
		}
		plan.remarks = &remarks
		return plan, nil
	})
}

func (s *WorkflowService) authorizeResubmit(ctx context.Context, actor models.Actor, id string) error {
	user, err := s.guard.activeActor(ctx, actor)
	if err != nil {
		return err
	}
	a, err := s.guard.load(ctx, id)
	if err != nil {
		return err
	}
	return s.guard.authorize(ctx, user, a, opResubmit)
}

// approve finalises the review. It is only reachable through the one-time
// code confirmation.
func (s *WorkflowService) approve(ctx context.Context, actor models.Actor, id, remarks, signature string) (_ *models.Assignment, err error) {
	defer func() { s.metrics.RecordTransition(string(models.ActionApprove), err) }()

	return s.transition(ctx, actor, id, opApprove, func(_ *models.User, a *models.Assignment) (*transitionPlan, error) {
		plan := &transitionPlan{
			notify: &NotificationRequest{
				RecipientID: a.SubmitterID,
				Type:        models.NotificationApproval,
				Title:       "Assignment Approved",
				Message:     fmt.Sprintf("Your assignment %q has been approved.", a.Title),
			},
		}
		if remarks != "" {
			plan.remarks = &remarks
		}
		if signature != "" {
			plan.signature = &signature
		}
		return plan, nil
	})
}

// checkApprovable verifies the approve preconditions without changing state.
func (s *WorkflowService) checkApprovable(ctx context.Context, actor models.Actor, id string) (*models.Assignment, *models.User, error) {
	user, err := s.guard.activeActor(ctx, actor)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.guard.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.guard.authorize(ctx, user, a, opApprove); err != nil {
		return nil, nil, err
	}
	return a, user, nil
}

// Get returns the assignment with its visible files and ledger references.
func (s *WorkflowService) Get(ctx context.Context, actor models.Actor, id string) (*models.Assignment, error) {
	user, err := s.guard.activeActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	a, err := s.guard.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.canRead(ctx, user, a); err != nil {
		return nil, err
	}
	return s.hydrate(ctx, a)
}

// EligibleReviewers lists reviewers the caller may route the assignment to.
func (s *WorkflowService) EligibleReviewers(ctx context.Context, actor models.Actor, id string) ([]dto.ReviewerOption, error) {
	user, err := s.guard.activeActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	a, err := s.guard.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.SubmitterID != user.ID && a.Reviewer() != user.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this assignment")
	}
	reviewers, err := s.directory.ListReviewers(ctx, a.DepartmentID)
	if err != nil {
		return nil, err
	}
	options := make([]dto.ReviewerOption, 0, len(reviewers))
	for _, r := range reviewers {
		if r.ID == user.ID || r.ID == a.Reviewer() || !r.Active() || !r.Role.CanReview() {
			continue
		}
		options = append(options, dto.ReviewerOption{ID: r.ID, FullName: r.FullName, Email: r.Email, Role: r.Role})
	}
	return options, nil
}

type transitionPlan struct {
	remarks      *string
	signature    *string
	forwardedTo  *string
	discardFiles bool
	newFile      *models.FileVersion
	notify       *NotificationRequest
}

type planFunc func(user *models.User, a *models.Assignment) (*transitionPlan, error)

// transition runs load, authorize, plan and commit, retrying when another
// writer won the optimistic version check. The retry re-validates against
// the winner's state.
func (s *WorkflowService) transition(ctx context.Context, actor models.Actor, id string, op operation, build planFunc) (*models.Assignment, error) {
	user, err := s.guard.activeActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	r := rules[op]

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		a, err := s.guard.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.guard.authorize(ctx, user, a, op); err != nil {
			return nil, err
		}
		previous := a.Status
		expected := a.Version

		plan, err := build(user, a)
		if err != nil {
			return nil, err
		}
		a.Status = r.to

		entry := &models.LedgerEntry{
			ActorID:        user.ID,
			ActorRole:      user.Role,
			Action:         r.action,
			PreviousStatus: &previous,
			NewStatus:      r.to,
			Remarks:        plan.remarks,
			ForwardedToID:  plan.forwardedTo,
			Signature:      plan.signature,
			Timestamp:      s.now(),
		}
		err = s.store.CommitTransition(ctx, repository.TransitionCommit{
			Assignment:      a,
			ExpectedVersion: expected,
			Entry:           entry,
			DiscardFiles:    plan.discardFiles,
			NewFile:         plan.newFile,
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			s.logger.Debug("assignment changed concurrently, retrying",
				zap.String("assignment_id", id), zap.String("operation", string(op)), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, s.commitError(err, "failed to record "+string(r.action))
		}

		s.logger.Info("assignment transition",
			zap.String("assignment_id", a.ID),
			zap.String("action", string(r.action)),
			zap.String("from", string(previous)),
			zap.String("to", string(r.to)),
			zap.String("actor_id", user.ID))

		if plan.notify != nil {
			req := *plan.notify
			req.AssignmentID = a.ID
			req.TriggeredBy = user.ID
			s.notify(ctx, req)
		}
		return s.hydrate(ctx, a)
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "assignment is being modified concurrently, retry")
}

func (s *WorkflowService) notify(ctx context.Context, req NotificationRequest) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(context.WithoutCancel(ctx), req); err != nil {
		s.logger.Warn("notification failed",
			zap.String("assignment_id", req.AssignmentID),
			zap.String("recipient_id", req.RecipientID),
			zap.String("type", string(req.Type)),
			zap.Error(err))
	}
}

// hydrate attaches visible files and ledger references. The ledger is
// authoritative for the current status.
func (s *WorkflowService) hydrate(ctx context.Context, a *models.Assignment) (*models.Assignment, error) {
	files, err := s.files.ListVisible(ctx, a.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load files")
	}
	entries, err := s.ledger.ListFor(ctx, a.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	if files == nil {
		files = []models.FileVersion{}
	}
	a.Files = files
	a.History = make([]string, 0, len(entries))
	for _, e := range entries {
		a.History = append(a.History, e.ID)
	}
	if n := len(entries); n > 0 && entries[n-1].NewStatus != a.Status {
		s.logger.Warn("assignment status diverges from ledger",
			zap.String("assignment_id", a.ID),
			zap.String("stored", string(a.Status)),
			zap.String("ledger", string(entries[n-1].NewStatus)))
		a.Status = entries[n-1].NewStatus
	}
	return a, nil
}

func (s *WorkflowService) eligibleReviewer(ctx context.Context, reviewerID, departmentID string) (*models.User, error) {
	reviewer, err := s.directory.ResolveActor(ctx, reviewerID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Validation("reviewerId", "reviewer not found")
		}
		return nil, err
	}
	switch {
	case !reviewer.Active():
		return nil, appErrors.Validation("reviewerId", "reviewer is inactive")
	case !reviewer.Role.CanReview():
		return nil, appErrors.Validation("reviewerId", "reviewer must be a Professor or HOD")
	case reviewer.Department() != departmentID:
		return nil, appErrors.Validation("reviewerId", "reviewer must belong to the assignment's department")
	}
	return reviewer, nil
}

// restoreReviewer picks the reviewer who issued the latest rejection. When
// that reviewer can no longer review, an explicitly chosen fallback is used.
func (s *WorkflowService) restoreReviewer(ctx context.Context, a *models.Assignment, fallbackID string) (*models.User, error) {
	var previousErr error
	last, err := s.ledger.LatestByAction(ctx, a.ID, models.ActionReject)
	switch {
	case err == nil:
		reviewer, err := s.eligibleReviewer(ctx, last.ActorID, a.DepartmentID)
		if err == nil {
			return reviewer, nil
		}
		previousErr = err
	case errors.Is(err, sql.ErrNoRows):
		previousErr = appErrors.Validation("reviewerId", "no previous reviewer recorded")
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}

	fallbackID = strings.TrimSpace(fallbackID)
	if fallbackID == "" {
		return nil, appErrors.Validation("reviewerId", "previous reviewer is unavailable ("+previousErr.Error()+"); choose a reviewer")
	}
	return s.eligibleReviewer(ctx, fallbackID, a.DepartmentID)
}

func (s *WorkflowService) commitError(err error, message string) error {
	if errors.Is(err, repository.ErrDuplicateLedgerEntry) {
		return appErrors.Wrap(err, appErrors.ErrImmutableViolation.Code, appErrors.ErrImmutableViolation.Status, appErrors.ErrImmutableViolation.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
