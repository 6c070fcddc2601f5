package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/assignment-review-api/internal/models"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
	"github.com/noah-isme/assignment-review-api/pkg/jobs"
)

const notificationJobType = "notification.deliver"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) (*models.Notification, error)
	RecordDelivery(ctx context.Context, id string, at time.Time) error
	RecordDeliveryFailure(ctx context.Context, id, reason string) error
	ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error)
}

type actorDirectory interface {
	ResolveActor(ctx context.Context, id string) (*models.User, error)
	ListReviewers(ctx context.Context, departmentID string) ([]models.User, error)
}

type messageDeliverer interface {
	Deliver(ctx context.Context, address, message string) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// NotificationRequest describes one message produced by a workflow transition.
type NotificationRequest struct {
	RecipientID  string
	AssignmentID string
	Type         models.NotificationType
	Title        string
	Message      string
	TriggeredBy  string
}

type deliveryPayload struct {
	NotificationID string
	RecipientID    string
	Text           string
}

// NotificationService persists notifications and delivers them out-of-band.
// Delivery outcome is recorded on the notification and never reported back to
// the caller of Notify.
type NotificationService struct {
	store     notificationStore
	directory actorDirectory
	deliverer messageDeliverer
	queue     jobEnqueuer
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotificationService constructs the dispatcher. Without a queue, delivery runs inline.
func NewNotificationService(store notificationStore, directory actorDirectory, deliverer messageDeliverer, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		store:     store,
		directory: directory,
		deliverer: deliverer,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UseQueue routes deliveries through a background queue.
func (s *NotificationService) UseQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Notify stores the notification and schedules its delivery.
func (s *NotificationService) Notify(ctx context.Context, req NotificationRequest) (*models.Notification, error) {
	n := &models.Notification{
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Title:       req.Title,
		Message:     req.Message,
		CreatedAt:   s.now(),
	}
	if req.AssignmentID != "" {
		n.AssignmentID = &req.AssignmentID
	}
	if req.TriggeredBy != "" {
		n.TriggeredBy = &req.TriggeredBy
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store notification")
	}

	payload := deliveryPayload{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		Text:           fmt.Sprintf("%s\n\n%s", n.Title, n.Message),
	}
	job := jobs.Job{ID: n.ID, Type: notificationJobType, Payload: payload}
	if s.queue == nil {
		_ = s.HandleDeliveryJob(ctx, job)
		return n, nil
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("notification delivery not scheduled", zap.String("notification_id", n.ID), zap.Error(err))
		s.recordFailure(ctx, n.ID, fmt.Sprintf("delivery not scheduled: %v", err))
	}
	return n, nil
}

// HandleDeliveryJob delivers one queued notification. Failures are recorded
// on the notification, so the job is never retried.
func (s *NotificationService) HandleDeliveryJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(deliveryPayload)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}

	recipient, err := s.directory.ResolveActor(ctx, payload.RecipientID)
	if err != nil {
		s.recordFailure(ctx, payload.NotificationID, fmt.Sprintf("resolve recipient: %v", err))
		return nil
	}
	if err := s.deliverer.Deliver(ctx, recipient.Email, payload.Text); err != nil {
		s.recordFailure(ctx, payload.NotificationID, err.Error())
		return nil
	}

	s.metrics.RecordDelivery(nil)
	if err := s.store.RecordDelivery(ctx, payload.NotificationID, s.now()); err != nil {
		s.logger.Warn("failed to record notification delivery", zap.String("notification_id", payload.NotificationID), zap.Error(err))
	}
	return nil
}

// MarkRead flags a notification as read by its recipient. Repeated calls keep
// the first read time.
func (s *NotificationService) MarkRead(ctx context.Context, actor models.Actor, id string) (*models.Notification, error) {
	n, err := s.store.MarkRead(ctx, id, actor.ID, s.now())
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if _, getErr := s.store.GetByID(ctx, id); getErr == nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "notification belongs to another user")
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
}

// List returns the caller's newest notifications.
func (s *NotificationService) List(ctx context.Context, actor models.Actor, unreadOnly bool) ([]models.Notification, error) {
	list, err := s.store.ListForRecipient(ctx, actor.ID, unreadOnly, 50)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if list == nil {
		list = []models.Notification{}
	}
	return list, nil
}

func (s *NotificationService) recordFailure(ctx context.Context, id, reason string) {
	s.metrics.RecordDelivery(errors.New(reason))
	s.logger.Warn("notification delivery failed", zap.String("notification_id", id), zap.String("reason", reason))
	if err := s.store.RecordDeliveryFailure(ctx, id, reason); err != nil {
		s.logger.Warn("failed to record notification failure", zap.String("notification_id", id), zap.Error(err))
	}
}
