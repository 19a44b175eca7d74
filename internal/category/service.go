package category

import (
	"context"
	"log/slog"
	"strings"

	errors "github.com/frahmantamala/expense-approval/internal"
	categoryDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/category"
)

type RepositoryAPI interface {
	GetAll(ctx context.Context) ([]*categoryDatamodel.ExpenseCategory, error)
	// GetByName returns nil, nil when no category has the name.
	GetByName(ctx context.Context, name string) (*categoryDatamodel.ExpenseCategory, error)
	Create(ctx context.Context, category *categoryDatamodel.ExpenseCategory) error
	Deactivate(ctx context.Context, name string) error
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// GetAllCategories lists active categories only.
func (s *Service) GetAllCategories(ctx context.Context) ([]CategoryResponse, error) {
	dataCategories, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Error("failed to get categories from repository", "error", err)
		return nil, errors.NewInternalError("failed to get categories", err)
	}

	responses := make([]CategoryResponse, 0, len(dataCategories))
	for _, dataCategory := range dataCategories {
		if dataCategory.IsActive {
			responses = append(responses, FromDataModel(dataCategory).ToResponse())
		}
	}

	s.logger.Debug("retrieved categories", "count", len(responses))
	return responses, nil
}

// IsValidCategory is consulted for every line item category on create and update.
func (s *Service) IsValidCategory(ctx context.Context, name string) (bool, error) {
	cat, err := s.repo.GetByName(ctx, name)
	if err != nil {
		s.logger.Warn("error checking category validity", "name", name, "error", err)
		return false, err
	}
	return cat != nil && cat.IsActive, nil
}

// Create is idempotent on name so seeding can run repeatedly.
func (s *Service) Create(ctx context.Context, dto CreateCategoryDTO) (*Category, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(dto.Name)

	existing, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, errors.NewInternalError("failed to look up category", err)
	}
	if existing != nil {
		return FromDataModel(existing), nil
	}

	cat := NewCategory(name, dto.Description)
	if err := s.repo.Create(ctx, ToDataModel(cat)); err != nil {
		s.logger.Error("failed to create category", "name", name, "error", err)
		return nil, errors.NewInternalError("failed to create category", err)
	}
	s.logger.Info("category created", "name", name)
	return cat, nil
}

func (s *Service) Deactivate(ctx context.Context, name string) error {
	if err := s.repo.Deactivate(ctx, name); err != nil {
		return errors.NewInternalError("failed to deactivate category", err)
	}
	return nil
}
