package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/assignment-review-api/internal/dto"
	"github.com/noah-isme/assignment-review-api/internal/models"
	"github.com/noah-isme/assignment-review-api/internal/repository"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
)

const (
	defaultMaxAttempts  = 5
	approvalCodeMessage = "Your approval code is: %s. Valid for 10 minutes."
)

type challengeStore interface {
	Save(ctx context.Context, ch *models.ApprovalChallenge) error
	Get(ctx context.Context, assignmentID string) (*models.ApprovalChallenge, error)
	RecordFailedAttempt(ctx context.Context, assignmentID, nonce string) (int, error)
	Consume(ctx context.Context, assignmentID, nonce string) error
	Discard(ctx context.Context, assignmentID, nonce string) error
}

// ApprovalConfig tunes the one-time code check.
type ApprovalConfig struct {
	MaxAttempts int
	HashCost    int
}

// ApprovalOption configures the service.
type ApprovalOption func(*ApprovalService)

// WithApprovalClock overrides the time source.
func WithApprovalClock(now func() time.Time) ApprovalOption {
	return func(s *ApprovalService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCodeGenerator overrides the one-time code source.
func WithCodeGenerator(gen func() (string, error)) ApprovalOption {
	return func(s *ApprovalService) {
		if gen != nil {
			s.generate = gen
		}
	}
}

// ApprovalService implements the two-phase approval: a code is sent to the
// reviewer out-of-band and the approval is committed only when it is echoed back.
type ApprovalService struct {
	workflow   *WorkflowService
	challenges challengeStore
	deliverer  messageDeliverer
	cfg        ApprovalConfig
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
	generate   func() (string, error)
}

// NewApprovalService constructs the service.
func NewApprovalService(workflow *WorkflowService, challenges challengeStore, deliverer messageDeliverer, cfg ApprovalConfig, metrics *MetricsService, logger *zap.Logger, opts ...ApprovalOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	svc := &ApprovalService{
		workflow:   workflow,
		challenges: challenges,
		deliverer:  deliverer,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		generate:   generateApprovalCode,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Initiate issues a fresh code for the current reviewer, replacing any pending one.
func (s *ApprovalService) Initiate(ctx context.Context, actor models.Actor, assignmentID string, req dto.InitiateApprovalRequest) (*models.ApprovalAck, error) {
	if err := s.workflow.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	a, reviewer, err := s.workflow.checkApprovable(ctx, actor, assignmentID)
	if err != nil {
		return nil, err
	}

	code, err := s.generate()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate approval code")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to protect approval code")
	}

	now := s.now()
	challenge := &models.ApprovalChallenge{
		AssignmentID: a.ID,
		ReviewerID:   reviewer.ID,
		CodeHash:     string(hash),
		Remarks:      strings.TrimSpace(req.Remarks),
		Signature:    strings.TrimSpace(req.Signature),
		Nonce:        uuid.NewString(),
		IssuedAt:     now,
		ExpiresAt:    now.Add(models.ApprovalCodeTTL),
	}
	if err := s.challenges.Save(ctx, challenge); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store approval challenge")
	}

	if err := s.deliverer.Deliver(ctx, reviewer.Email, fmt.Sprintf(approvalCodeMessage, code)); err != nil {
		s.metrics.RecordChallenge("delivery_failed")
		if discardErr := s.challenges.Discard(context.WithoutCancel(ctx), a.ID, challenge.Nonce); discardErr != nil {
			s.logger.Warn("failed to discard undelivered challenge", zap.String("assignment_id", a.ID), zap.Error(discardErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDeliveryFailure.Code, appErrors.ErrDeliveryFailure.Status, "failed to deliver approval code")
	}

	s.metrics.RecordChallenge("issued")
	s.logger.Info("approval challenge issued", zap.String("assignment_id", a.ID), zap.String("reviewer_id", reviewer.ID))
	return &models.ApprovalAck{
		AssignmentID: a.ID,
		ExpiresAt:    challenge.ExpiresAt,
		Message:      "Approval code sent. Confirm within 10 minutes.",
	}, nil
}

// Confirm checks the code and, on success, commits the approval with the
// remarks and signature captured at initiation.
func (s *ApprovalService) Confirm(ctx context.Context, actor models.Actor, assignmentID string, req dto.ConfirmApprovalRequest) (*models.Assignment, error) {
	if err := s.workflow.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	challenge, err := s.challenges.Get(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			s.metrics.RecordChallenge("not_found")
			return nil, appErrors.ErrChallengeNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval challenge")
	}
	if challenge.ReviewerID != actor.ID {
		s.metrics.RecordChallenge("not_found")
		return nil, appErrors.ErrChallengeNotFound
	}

	if challenge.Expired(s.now()) {
		s.metrics.RecordChallenge("expired")
		if err := s.challenges.Discard(ctx, assignmentID, challenge.Nonce); err != nil {
			s.logger.Warn("failed to discard expired challenge", zap.String("assignment_id", assignmentID), zap.Error(err))
		}
		return nil, appErrors.ErrChallengeExpired
	}

	code := strings.TrimSpace(req.Code)
	if len(code) != models.ApprovalCodeLength ||
		bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)) != nil {
		return nil, s.rejectAttempt(ctx, challenge)
	}

	if err := s.challenges.Consume(ctx, assignmentID, challenge.Nonce); err != nil {
		switch {
		case errors.Is(err, repository.ErrChallengeNotFound):
			s.metrics.RecordChallenge("not_found")
			return nil, appErrors.ErrChallengeNotFound
		case errors.Is(err, repository.ErrStaleChallenge):
			s.metrics.RecordChallenge("mismatch")
			return nil, appErrors.ErrChallengeMismatch
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume approval challenge")
	}

	s.metrics.RecordChallenge("confirmed")
	return s.workflow.approve(ctx, actor, assignmentID, challenge.Remarks, challenge.Signature)
}

func (s *ApprovalService) rejectAttempt(ctx context.Context, challenge *models.ApprovalChallenge) error {
	s.metrics.RecordChallenge("mismatch")
	attempts, err := s.challenges.RecordFailedAttempt(ctx, challenge.AssignmentID, challenge.Nonce)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return appErrors.ErrChallengeNotFound
		}
		if !errors.Is(err, repository.ErrStaleChallenge) {
			s.logger.Warn("failed to record approval attempt", zap.String("assignment_id", challenge.AssignmentID), zap.Error(err))
		}
		return appErrors.ErrChallengeMismatch
	}
	if attempts >= s.cfg.MaxAttempts {
		s.metrics.RecordChallenge("locked")
		if err := s.challenges.Discard(ctx, challenge.AssignmentID, challenge.Nonce); err != nil {
			s.logger.Warn("failed to discard exhausted challenge", zap.String("assignment_id", challenge.AssignmentID), zap.Error(err))
		}
		s.logger.Warn("approval challenge exhausted", zap.String("assignment_id", challenge.AssignmentID), zap.Int("attempts", attempts))
	}
	return appErrors.ErrChallengeMismatch
}

func generateApprovalCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
