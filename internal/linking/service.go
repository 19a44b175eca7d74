package linking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/audit"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/organization"
	"github.com/google/uuid"
)

// LinkRequest carries everything the repository needs to re-parent drafts atomically.
type LinkRequest struct {
	NotificationID string
	UserID         string
	OrganizationID string
	At             time.Time
	Entry          audit.Entry
}

type Repository interface {
	HasPersonalDrafts(ctx context.Context, userID string) (bool, error)
	FindPending(ctx context.Context, userID, orgID string) (*Notification, error)
	// CreatePendingIfAbsent reports false when a pending notification already exists for the pair.
	CreatePendingIfAbsent(ctx context.Context, n *Notification) (bool, error)
	// Link returns errors.ErrNotificationNotFound when the notification is not pending.
	Link(ctx context.Context, req LinkRequest) (int, error)
	Resolve(ctx context.Context, notificationID, userID, orgID string, to Status, at time.Time) (bool, error)
	Exists(ctx context.Context, notificationID, userID, orgID string) (bool, error)
}

type RoleResolver interface {
	ResolveRole(ctx context.Context, actorID, orgID string) (organization.Role, bool)
}

type Service struct {
	repo   Repository
	roles  RoleResolver
	audit  *audit.Recorder
	logger *slog.Logger
}

func NewService(repo Repository, roles RoleResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		roles:  roles,
		audit:  audit.NewRecorder(nil),
		logger: logger,
	}
}

// OnMemberJoined is subscribed to organization.member_joined.
func (s *Service) OnMemberJoined(ctx context.Context, event events.Event) error {
	userID, orgID, err := memberFromEvent(event)
	if err != nil {
		return err
	}
	created, err := s.Offer(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("linking notification created", "user_id", userID, "organization_id", orgID)
	}
	return nil
}

// Offer creates a pending notification when the user owns personal drafts.
func (s *Service) Offer(ctx context.Context, userID, orgID string) (bool, error) {
	has, err := s.repo.HasPersonalDrafts(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check personal drafts: %w", err)
	}
	if !has {
		s.logger.Debug("no personal drafts to link", "user_id", userID, "organization_id", orgID)
		return false, nil
	}

	n := &Notification{
		ID:             uuid.NewString(),
		UserID:         userID,
		OrganizationID: orgID,
		Status:         StatusPending,
		CreatedAt:      s.audit.Now(),
	}
	created, err := s.repo.CreatePendingIfAbsent(ctx, n)
	if err != nil {
		return false, fmt.Errorf("create linking notification: %w", err)
	}
	return created, nil
}

func memberFromEvent(event events.Event) (string, string, error) {
	if e, ok := event.(*events.MemberJoinedEvent); ok {
		return e.UserID, e.OrganizationID, nil
	}
	data, ok := event.Payload().(map[string]interface{})
	if !ok {
		return "", "", fmt.Errorf("unexpected payload for %s", event.EventType())
	}
	userID, _ := data["user_id"].(string)
	orgID, _ := data["organization_id"].(string)
	if userID == "" || orgID == "" {
		return "", "", fmt.Errorf("event %s is missing user or organization", event.EventID())
	}
	return userID, orgID, nil
}

// GetPending returns nil when no notification is waiting.
func (s *Service) GetPending(ctx context.Context, userID, orgID string) (*Notification, error) {
	if orgID == "" {
		return nil, errors.NewValidationFieldError("organizationId", "organizationId is required", errors.ErrCodeMissingOrg)
	}
	n, err := s.repo.FindPending(ctx, userID, orgID)
	if err != nil {
		s.logger.Error("failed to load linking notification", "error", err, "user_id", userID, "organization_id", orgID)
		return nil, errors.NewInternalError("failed to load notification", err)
	}
	return n, nil
}

func (s *Service) Act(ctx context.Context, userID string, dto ActionDTO) (*ActionResult, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if dto.Action == ActionDismiss {
		if err := s.Dismiss(ctx, userID, dto.OrganizationID, dto.NotificationID); err != nil {
			return nil, err
		}
		return &ActionResult{Success: true}, nil
	}

	count, err := s.Link(ctx, userID, dto.OrganizationID, dto.NotificationID)
	if err != nil {
		return nil, err
	}
	return &ActionResult{Success: true, LinkedCount: &count}, nil
}

// Link moves every personal draft of the user into the organization and resolves the notification.
func (s *Service) Link(ctx context.Context, userID, orgID, notificationID string) (int, error) {
	role, member := s.roles.ResolveRole(ctx, userID, orgID)
	if !member {
		return 0, errors.ErrInsufficientRole
	}

	at := s.audit.Now()
	entry := s.audit.Entry(audit.ActionLinkOrg, userID, role.String(), []audit.Change{
		{Field: audit.FieldOrganizationID, OldValue: nil, NewValue: orgID},
	}, nil)

	count, err := s.repo.Link(ctx, LinkRequest{
		NotificationID: notificationID,
		UserID:         userID,
		OrganizationID: orgID,
		At:             at,
		Entry:          entry,
	})
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok {
			s.logger.Warn("link refused", "user_id", userID, "organization_id", orgID, "error", appErr)
			return 0, appErr
		}
		s.logger.Error("failed to link expenses", "error", err, "user_id", userID, "organization_id", orgID)
		return 0, errors.NewInternalError("failed to link expenses", err)
	}

	s.logger.Info("personal drafts linked", "user_id", userID, "organization_id", orgID, "count", count)
	return count, nil
}

// Dismiss resolves a pending notification without touching expenses. Dismissing
// an already resolved notification is a no-op.
func (s *Service) Dismiss(ctx context.Context, userID, orgID, notificationID string) error {
	changed, err := s.repo.Resolve(ctx, notificationID, userID, orgID, StatusDismissed, s.audit.Now())
	if err != nil {
		s.logger.Error("failed to dismiss notification", "error", err, "notification_id", notificationID)
		return errors.NewInternalError("failed to dismiss notification", err)
	}
	if changed {
		s.logger.Info("linking notification dismissed", "user_id", userID, "organization_id", orgID)
		return nil
	}

	exists, err := s.repo.Exists(ctx, notificationID, userID, orgID)
	if err != nil {
		return errors.NewInternalError("failed to load notification", err)
	}
	if !exists {
		return errors.ErrNotificationNotFound
	}
	return nil
}
