package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/audit"
	expenseDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/expense"
	linkingDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/linking"
	"github.com/frahmantamala/expense-approval/internal/linking"
	"gorm.io/gorm"
)

const draftState = "Draft"

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func personalDrafts(db *gorm.DB, userID string) *gorm.DB {
	return db.Model(&expenseDatamodel.Expense{}).
		Where("user_id = ? AND organization_id IS NULL AND state = ? AND deleted_at IS NULL", userID, draftState)
}

func (r *NotificationRepository) HasPersonalDrafts(ctx context.Context, userID string) (bool, error) {
	var count int64
	if err := personalDrafts(r.db.WithContext(ctx), userID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *NotificationRepository) FindPending(ctx context.Context, userID, orgID string) (*linking.Notification, error) {
	var row linkingDatamodel.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ? AND status = ?", userID, orgID, string(linking.StatusPending)).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return linking.FromDataModel(&row), nil
}

func (r *NotificationRepository) CreatePendingIfAbsent(ctx context.Context, n *linking.Notification) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&linkingDatamodel.Notification{}).
			Where("user_id = ? AND organization_id = ? AND status = ?", n.UserID, n.OrganizationID, string(linking.StatusPending)).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(linking.ToDataModel(n)).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// Link re-parents the personal drafts and consumes the notification in one transaction.
func (r *NotificationRepository) Link(ctx context.Context, req linking.LinkRequest) (int, error) {
	linked := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var drafts []expenseDatamodel.Expense
		if err := personalDrafts(tx, req.UserID).Select("id", "version").Find(&drafts).Error; err != nil {
			return fmt.Errorf("select personal drafts: %w", err)
		}

		for _, d := range drafts {
			res := tx.Model(&expenseDatamodel.Expense{}).
				Where("id = ? AND organization_id IS NULL AND state = ? AND version = ? AND deleted_at IS NULL", d.ID, draftState, d.Version).
				Updates(map[string]interface{}{
					"organization_id": req.OrganizationID,
					"version":         gorm.Expr("version + 1"),
					"updated_at":      req.At,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errors.ErrStaleExpense
			}

			row, err := audit.ToDataModel(d.ID, req.Entry)
			if err != nil {
				return err
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("append audit entry: %w", err)
			}
			linked++
		}

		ok, err := resolve(tx, req.NotificationID, req.UserID, req.OrganizationID, linking.StatusLinked, req.At)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrNotificationNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return linked, nil
}

func (r *NotificationRepository) Resolve(ctx context.Context, notificationID, userID, orgID string, to linking.Status, at time.Time) (bool, error) {
	return resolve(r.db.WithContext(ctx), notificationID, userID, orgID, to, at)
}

func resolve(db *gorm.DB, notificationID, userID, orgID string, to linking.Status, at time.Time) (bool, error) {
	res := db.Model(&linkingDatamodel.Notification{}).
		Where("id = ? AND user_id = ? AND organization_id = ? AND status = ?",
			notificationID, userID, orgID, string(linking.StatusPending)).
		Updates(map[string]interface{}{
			"status":      string(to),
			"resolved_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *NotificationRepository) Exists(ctx context.Context, notificationID, userID, orgID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&linkingDatamodel.Notification{}).
		Where("id = ? AND user_id = ? AND organization_id = ?", notificationID, userID, orgID).
		Count(&count).Error
	return count > 0, err
}
