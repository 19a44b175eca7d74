package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/audit"
	expenseDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/expense"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"gorm.io/gorm"
)

// ExpenseRepository implements expense.Repository using GORM.
// Every mutation runs in a transaction that pairs a compare-and-swap on
// (state, version) with the audit insert.
type ExpenseRepository struct {
	db *gorm.DB
}

func NewExpenseRepository(db *gorm.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

func orderedLineItems(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *ExpenseRepository) Create(ctx context.Context, e *expense.Expense) error {
	row, err := expense.ToDataModel(e)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*expense.Expense, error) {
	var row expenseDatamodel.Expense
	err := r.db.WithContext(ctx).
		Preload("LineItems", orderedLineItems).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&row).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrExpenseNotFound
		}
		return nil, err
	}
	return expense.FromDataModel(&row)
}

func (r *ExpenseRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*expense.Expense, error) {
	var rows []*expenseDatamodel.Expense
	err := r.db.WithContext(ctx).
		Preload("LineItems", orderedLineItems).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return expense.FromDataModelSlice(rows)
}

func (r *ExpenseRepository) ListByOrganizationAndStates(ctx context.Context, orgID string, states []expense.State) ([]*expense.Expense, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}

	var rows []*expenseDatamodel.Expense
	err := r.db.WithContext(ctx).
		Preload("LineItems", orderedLineItems).
		Where("organization_id = ? AND state IN ? AND deleted_at IS NULL", orgID, names).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return expense.FromDataModelSlice(rows)
}

func (r *ExpenseRepository) UpdateDraft(ctx context.Context, e *expense.Expense, expectedVersion int64, entry audit.Entry) error {
	row, err := expense.ToDataModel(e)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&expenseDatamodel.Expense{}).
			Where("id = ? AND state = ? AND version = ? AND deleted_at IS NULL", e.ID, string(expense.StateDraft), expectedVersion).
			Updates(map[string]interface{}{
				"title":            row.Title,
				"manager_ids":      row.ManagerIDs,
				"total_amount":     row.TotalAmount,
				"total_overridden": row.TotalOverridden,
				"version":          gorm.Expr("version + 1"),
				"updated_at":       e.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.ErrStaleExpense
		}

		if err := tx.Where("expense_id = ?", e.ID).Delete(&expenseDatamodel.LineItem{}).Error; err != nil {
			return fmt.Errorf("delete line items: %w", err)
		}
		if len(row.LineItems) > 0 {
			if err := tx.Create(&row.LineItems).Error; err != nil {
				return fmt.Errorf("insert line items: %w", err)
			}
		}
		return appendAudit(tx, e.ID, entry)
	})
}

func (r *ExpenseRepository) ApplyTransition(ctx context.Context, update expense.TransitionUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyOne(tx, update)
	})
}

// ApplyBatch commits all updates or none; a single lost race aborts the batch.
func (r *ExpenseRepository) ApplyBatch(ctx context.Context, updates []expense.TransitionUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := applyOne(tx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyOne(tx *gorm.DB, u expense.TransitionUpdate) error {
	fields := map[string]interface{}{
		"state":      string(u.To),
		"version":    gorm.Expr("version + 1"),
		"updated_at": u.At,
	}
	if u.TotalAmount != nil {
		fields["total_amount"] = *u.TotalAmount
	}
	if u.TotalOverridden != nil {
		fields["total_overridden"] = *u.TotalOverridden
	}
	if u.To == expense.StateDeleted {
		fields["deleted_at"] = u.At
	}

	res := tx.Model(&expenseDatamodel.Expense{}).
		Where("id = ? AND state = ? AND version = ? AND deleted_at IS NULL", u.ExpenseID, string(u.From), u.ExpectedVersion).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrStaleExpense
	}
	return appendAudit(tx, u.ExpenseID, u.Entry)
}

func appendAudit(tx *gorm.DB, expenseID string, entry audit.Entry) error {
	row, err := audit.ToDataModel(expenseID, entry)
	if err != nil {
		return err
	}
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *ExpenseRepository) ListAudit(ctx context.Context, expenseID string) ([]audit.Entry, error) {
	var rows []*expenseDatamodel.AuditEntry
	err := r.db.WithContext(ctx).
		Where("expense_id = ?", expenseID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return audit.FromDataModelSlice(rows)
}
