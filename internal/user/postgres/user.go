package user

import (
	"context"
	stderrors "errors"

	errors "github.com/frahmantamala/expense-approval/internal"
	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
	userDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/user"
	"github.com/frahmantamala/expense-approval/internal/user"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, userID string) (*user.User, error) {
	var row userDatamodel.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&row).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrUserNotFound
		}
		return nil, err
	}
	return user.FromDataModel(&row), nil
}

func (r *Repository) ListOrganizations(ctx context.Context, userID string) ([]user.OrganizationRole, error) {
	orgs := []user.OrganizationRole{}
	err := r.db.WithContext(ctx).
		Model(&orgDatamodel.Member{}).
		Select("organization_members.organization_id, organizations.name, organization_members.role").
		Joins("JOIN organizations ON organizations.id = organization_members.organization_id").
		Where("organization_members.user_id = ?", userID).
		Order("organizations.name ASC").
		Scan(&orgs).Error
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *Repository) Create(ctx context.Context, u *user.User) error {
	return r.db.WithContext(ctx).Create(user.ToDataModel(u)).Error
}
