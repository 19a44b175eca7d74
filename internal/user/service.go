package user

import (
	"context"
	stderrors "errors"
	"log/slog"

	errors "github.com/frahmantamala/expense-approval/internal"
)

type Repository interface {
	// GetByID returns errors.ErrUserNotFound for unknown ids.
	GetByID(ctx context.Context, userID string) (*User, error)
	ListOrganizations(ctx context.Context, userID string) ([]OrganizationRole, error)
	Create(ctx context.Context, u *User) error
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, errors.ErrUserNotFound) {
			return nil, errors.ErrUserNotFound
		}
		s.logger.Error("failed to get user by id", "user_id", userID, "error", err)
		return nil, errors.NewInternalError("failed to load user", err)
	}

	orgs, err := s.repo.ListOrganizations(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list user organizations", "user_id", userID, "error", err)
		return nil, errors.NewInternalError("failed to load organizations", err)
	}

	return &Profile{User: u, Organizations: orgs}, nil
}
