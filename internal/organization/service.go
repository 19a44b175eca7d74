package organization

import (
	"context"
	"log/slog"
	"strings"
	"time"

	errors "github.com/frahmantamala/expense-approval/internal"
	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/google/uuid"
)

type Repository interface {
	MemberFinder
	Exists(ctx context.Context, orgID string) (bool, error)
	GetByID(ctx context.Context, orgID string) (*orgDatamodel.Organization, error)
	Create(ctx context.Context, org *orgDatamodel.Organization, owner *orgDatamodel.Member) error
	AddMember(ctx context.Context, member *orgDatamodel.Member) error
	ListMembers(ctx context.Context, orgID string) ([]*orgDatamodel.MemberWithUser, error)
	UserExists(ctx context.Context, userID string) (bool, error)
}

type Service struct {
	repo   Repository
	gate   *Gate
	bus    events.Publisher
	logger *slog.Logger
}

func NewService(repo Repository, gate *Gate, bus events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		gate:   gate,
		bus:    bus,
		logger: logger,
	}
}

func (s *Service) Gate() *Gate {
	return s.gate
}

func (s *Service) Exists(ctx context.Context, orgID string) (bool, error) {
	return s.repo.Exists(ctx, orgID)
}

// RequireRole separates a missing organization (404) from an insufficient role (403).
func (s *Service) RequireRole(ctx context.Context, actorID, orgID string, required Role) error {
	exists, err := s.repo.Exists(ctx, orgID)
	if err != nil {
		s.logger.Error("failed to check organization", "error", err, "organization_id", orgID)
		return errors.NewInternalError("failed to check organization", err)
	}
	if !exists {
		return errors.ErrOrganizationNotFound
	}
	if !s.gate.VerifyPermission(ctx, actorID, required, orgID) {
		return errors.ErrInsufficientRole
	}
	return nil
}

func (s *Service) CreateOrganization(ctx context.Context, actorID string, dto CreateOrganizationDTO) (*Organization, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	org := &orgDatamodel.Organization{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(dto.Name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := &orgDatamodel.Member{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		UserID:         actorID,
		Role:           RoleOwner.String(),
		CreatedAt:      now,
	}

	if err := s.repo.Create(ctx, org, owner); err != nil {
		s.logger.Error("failed to create organization", "error", err, "actor_id", actorID)
		return nil, errors.NewInternalError("failed to create organization", err)
	}

	s.logger.Info("organization created", "organization_id", org.ID, "owner_id", actorID)
	return FromDataModel(org), nil
}

// AddMember requires admin; granting owner requires owner. Listeners of the
// member-joined event run synchronously, their failures are logged only.
func (s *Service) AddMember(ctx context.Context, actorID, orgID string, dto AddMemberDTO) (*Membership, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	role, _ := ParseRole(dto.Role)

	if err := s.RequireRole(ctx, actorID, orgID, RoleAdmin); err != nil {
		return nil, err
	}
	if role == RoleOwner && !s.gate.VerifyPermission(ctx, actorID, RoleOwner, orgID) {
		return nil, errors.ErrInsufficientRole
	}

	userExists, err := s.repo.UserExists(ctx, dto.UserID)
	if err != nil {
		return nil, errors.NewInternalError("failed to look up user", err)
	}
	if !userExists {
		return nil, errors.ErrUserNotFound
	}

	existing, err := s.repo.FindMember(ctx, orgID, dto.UserID)
	if err != nil {
		return nil, errors.NewInternalError("failed to look up membership", err)
	}
	if existing != nil {
		return nil, errors.NewConflictError("user is already a member of this organization", errors.ErrCodeAlreadyMember)
	}

	member := &orgDatamodel.Member{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		UserID:         dto.UserID,
		Role:           role.String(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		s.logger.Error("failed to add member", "error", err, "organization_id", orgID, "user_id", dto.UserID)
		return nil, errors.NewInternalError("failed to add member", err)
	}

	s.logger.Info("member added", "organization_id", orgID, "user_id", dto.UserID, "role", role.String(), "actor_id", actorID)

	if s.bus != nil {
		event := events.NewMemberJoinedEvent(orgID, dto.UserID, role.String())
		if err := s.bus.PublishSync(ctx, event); err != nil {
			s.logger.Warn("member joined listeners failed", "error", err, "organization_id", orgID, "user_id", dto.UserID)
		}
	}

	return MembershipFromDataModel(member), nil
}

func (s *Service) GetOrganizationMembers(ctx context.Context, orgID string) ([]Member, error) {
	rows, err := s.repo.ListMembers(ctx, orgID)
	if err != nil {
		s.logger.Error("failed to list members", "error", err, "organization_id", orgID)
		return nil, errors.NewInternalError("failed to list members", err)
	}
	return MembersFromDataModel(rows), nil
}

func (s *Service) FindMember(ctx context.Context, orgID, userID string) (*Membership, error) {
	row, err := s.repo.FindMember(ctx, orgID, userID)
	if err != nil {
		return nil, errors.NewInternalError("failed to look up membership", err)
	}
	if row == nil {
		return nil, nil
	}
	return MembershipFromDataModel(row), nil
}

// GetManagers lists admins and owners other than the caller, who must be a member.
func (s *Service) GetManagers(ctx context.Context, actorID, orgID string) ([]Member, error) {
	if err := s.RequireRole(ctx, actorID, orgID, RoleMember); err != nil {
		return nil, err
	}

	members, err := s.GetOrganizationMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}

	managers := make([]Member, 0, len(members))
	for _, m := range members {
		if m.ID == actorID || !m.Role.AtLeast(RoleAdmin) {
			continue
		}
		managers = append(managers, m)
	}
	return managers, nil
}
