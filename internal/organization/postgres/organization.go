package postgres

import (
	"context"
	"errors"

	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
	userDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/user"
	"gorm.io/gorm"
)

type OrganizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Exists(ctx context.Context, orgID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&orgDatamodel.Organization{}).Where("id = ?", orgID).Count(&count).Error
	return count > 0, err
}

func (r *OrganizationRepository) GetByID(ctx context.Context, orgID string) (*orgDatamodel.Organization, error) {
	var org orgDatamodel.Organization
	err := r.db.WithContext(ctx).Where("id = ?", orgID).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (r *OrganizationRepository) Create(ctx context.Context, org *orgDatamodel.Organization, owner *orgDatamodel.Member) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		return tx.Create(owner).Error
	})
}

func (r *OrganizationRepository) FindMember(ctx context.Context, orgID, userID string) (*orgDatamodel.Member, error) {
	var member orgDatamodel.Member
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

func (r *OrganizationRepository) AddMember(ctx context.Context, member *orgDatamodel.Member) error {
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *OrganizationRepository) ListMembers(ctx context.Context, orgID string) ([]*orgDatamodel.MemberWithUser, error) {
	var rows []*orgDatamodel.MemberWithUser
	err := r.db.WithContext(ctx).
		Table("organization_members AS m").
		Select("m.user_id, u.name, u.email, m.role").
		Joins("JOIN users u ON u.id = m.user_id").
		Where("m.organization_id = ?", orgID).
		Order("m.created_at ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *OrganizationRepository) UserExists(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&userDatamodel.User{}).Where("id = ?", userID).Count(&count).Error
	return count > 0, err
}
