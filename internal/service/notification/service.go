package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
	"github.com/samstikhin/ulearn-notifier/pkg/errors"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
)

type CreateRequest struct {
	Kind              model.Kind      `json:"kind" validate:"required"`
	CourseID          string          `json:"course_id" validate:"required"`
	InitiatedByUserID string          `json:"initiated_by_user_id" validate:"required"`
	RecipientUserID   string          `json:"recipient_user_id" validate:"required"`
	Payload           json.RawMessage `json:"payload" validate:"required"`
	// TargetKey defaults to the payload's target.
	TargetKey string `json:"target_key,omitempty"`
}

// Comment is the part of a course comment the notification helpers need.
type Comment struct {
	ID                   int64
	CourseID             string
	AuthorID             string
	ParentCommentID      int64
	ParentAuthorID       string
	IsForInstructorsOnly bool
}

// CommentAudience lists who hears about a new comment. A user present in
// several lists gets one notification per list and suppression picks the most
// specific one.
type CommentAudience struct {
	GroupInstructors []string
	CourseWatchers   []string
}

type Service interface {
	CreateNotification(ctx context.Context, req CreateRequest) (*model.Notification, error)
	NotifyAboutNewComment(ctx context.Context, comment Comment, audience CommentAudience) ([]*model.Notification, error)
	NotifyAboutManualChecking(ctx context.Context, courseID, checkerID, studentID string, checkingID int64) (*model.Notification, error)

	AddTransport(ctx context.Context, transport *model.Transport) error
	EnableTransport(ctx context.Context, id uuid.UUID, enabled bool) error
	EnableMailTransport(ctx context.Context, userID, email string) (*model.Transport, error)
	DisableMailTransport(ctx context.Context, userID string) error
	ListTransports(ctx context.Context, userID string) ([]*model.Transport, error)
	GetEnabledTransports(ctx context.Context, userID string) ([]*model.Transport, error)
}

type service struct {
	notifications repository.NotificationRepository
	transports    repository.TransportRepository
	validate      *validator.Validate
	logger        *logger.Logger
	now           func() time.Time
}

func NewService(notifications repository.NotificationRepository, transports repository.TransportRepository, log *logger.Logger) Service {
	return &service{
		notifications: notifications,
		transports:    transports,
		validate:      validator.New(),
		logger:        log,
		now:           time.Now,
	}
}

// CreateNotification stores a notification for later planning. A user is never
// notified about their own action, such requests return nil, nil.
func (s *service) CreateNotification(ctx context.Context, req CreateRequest) (*model.Notification, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.BadRequest("invalid notification", err)
	}
	if !req.Kind.Valid() {
		return nil, errors.BadRequest(fmt.Sprintf("unknown notification kind %q", req.Kind), nil)
	}

	payload, err := model.DecodePayload(req.Kind, req.Payload)
	if err != nil {
		return nil, errors.BadRequest("invalid notification payload", err)
	}
	if err := s.validate.Struct(payload); err != nil {
		return nil, errors.BadRequest("invalid notification payload", err)
	}

	if req.InitiatedByUserID == req.RecipientUserID {
		s.logger.Debug("Skipping notification about own action",
			"kind", string(req.Kind),
			"user_id", req.RecipientUserID)
		return nil, nil
	}

	target := req.TargetKey
	if target == "" {
		target = payload.Target()
	}

	n := &model.Notification{
		ID:                uuid.New(),
		CreatedAt:         s.now(),
		CourseID:          req.CourseID,
		InitiatedByUserID: req.InitiatedByUserID,
		RecipientUserID:   req.RecipientUserID,
		Kind:              req.Kind,
		Payload:           req.Payload,
		TargetKey:         target,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	s.logger.WithContext(ctx).Debug("Notification created",
		"notification_id", n.ID.String(),
		"kind", string(n.Kind),
		"recipient", n.RecipientUserID,
		"target", n.TargetKey)
	return n, nil
}

// NotifyAboutNewComment creates the reply, group student and generic comment
// notifications in one go. All of them share the comment target so the planner
// delivers only the most specific one per recipient.
func (s *service) NotifyAboutNewComment(ctx context.Context, comment Comment, audience CommentAudience) ([]*model.Notification, error) {
	payload, err := json.Marshal(model.CommentPayload{CommentID: comment.ID, ParentCommentID: comment.ParentCommentID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode comment payload: %w", err)
	}

	type addressed struct {
		kind      model.Kind
		recipient string
	}
	var requests []addressed
	if comment.ParentCommentID > 0 && comment.ParentAuthorID != "" {
		requests = append(requests, addressed{model.KindRepliedToYourComment, comment.ParentAuthorID})
	}
	for _, instructor := range audience.GroupInstructors {
		requests = append(requests, addressed{model.KindNewCommentFromGroupStudent, instructor})
	}
	generic := model.KindNewComment
	if comment.IsForInstructorsOnly {
		generic = model.KindNewCommentForInstructorsOnly
	}
	for _, watcher := range audience.CourseWatchers {
		requests = append(requests, addressed{generic, watcher})
	}

	var created []*model.Notification
	for _, r := range requests {
		n, err := s.CreateNotification(ctx, CreateRequest{
			Kind:              r.kind,
			CourseID:          comment.CourseID,
			InitiatedByUserID: comment.AuthorID,
			RecipientUserID:   r.recipient,
			Payload:           payload,
		})
		if err != nil {
			return created, err
		}
		if n != nil {
			created = append(created, n)
		}
	}
	return created, nil
}

// NotifyAboutManualChecking flags the notification as a recheck when the same
// checking was reported before.
func (s *service) NotifyAboutManualChecking(ctx context.Context, courseID, checkerID, studentID string, checkingID int64) (*model.Notification, error) {
	p := model.ManualCheckingPayload{CheckingID: checkingID}
	isRecheck, err := s.notifications.ExistsForTarget(ctx, model.KindPassedManualChecking, p.Target())
	if err != nil {
		return nil, fmt.Errorf("failed to check previous checkings: %w", err)
	}
	p.IsRecheck = isRecheck

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checking payload: %w", err)
	}
	return s.CreateNotification(ctx, CreateRequest{
		Kind:              model.KindPassedManualChecking,
		CourseID:          courseID,
		InitiatedByUserID: checkerID,
		RecipientUserID:   studentID,
		Payload:           payload,
	})
}

func (s *service) AddTransport(ctx context.Context, transport *model.Transport) error {
	if transport.UserID == "" {
		return errors.BadRequest("user ID is required", nil)
	}
	if _, err := model.ParseTransportType(string(transport.Type)); err != nil {
		return errors.BadRequest("invalid transport type", err)
	}
	if transport.Type == model.TransportMail {
		if err := s.validate.Var(transport.Address, "required,email"); err != nil {
			return errors.BadRequest("invalid email address", err)
		}
	}
	if err := s.transports.Upsert(ctx, transport); err != nil {
		return fmt.Errorf("failed to save transport: %w", err)
	}
	return nil
}

func (s *service) EnableTransport(ctx context.Context, id uuid.UUID, enabled bool) error {
	if err := s.transports.SetEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("failed to update transport: %w", err)
	}
	return nil
}

// EnableMailTransport runs when a user confirms an email address: the existing
// mail transport is re-enabled with the new address, or one is created.
func (s *service) EnableMailTransport(ctx context.Context, userID, email string) (*model.Transport, error) {
	transport := &model.Transport{
		UserID:    userID,
		Type:      model.TransportMail,
		Address:   email,
		IsEnabled: true,
	}
	if err := s.AddTransport(ctx, transport); err != nil {
		return nil, err
	}
	return transport, nil
}

// DisableMailTransport runs when a user changes an email address; the mail
// transport stays disabled until the new address is confirmed.
func (s *service) DisableMailTransport(ctx context.Context, userID string) error {
	transport, err := s.transports.FindByUser(ctx, userID, model.TransportMail, false)
	if err != nil {
		return fmt.Errorf("failed to find mail transport: %w", err)
	}
	if transport == nil {
		return nil
	}
	return s.EnableTransport(ctx, transport.ID, false)
}

func (s *service) ListTransports(ctx context.Context, userID string) ([]*model.Transport, error) {
	return s.transports.ListByUser(ctx, userID)
}

func (s *service) GetEnabledTransports(ctx context.Context, userID string) ([]*model.Transport, error) {
	return s.transports.GetEnabledTransports(ctx, userID)
}
