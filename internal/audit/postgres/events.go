package postgres

import (
	"context"

	"github.com/frahmantamala/expense-approval/internal/audit"
	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
	"gorm.io/gorm"
)

// EventRepository stores organization-scoped audit events. Append-only.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, event audit.Event) error {
	row, err := audit.EventToDataModel(event)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *EventRepository) ListByOrganization(ctx context.Context, orgID string, limit int) ([]audit.Event, error) {
	var rows []*orgDatamodel.AuditEvent
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	events := make([]audit.Event, 0, len(rows))
	for _, row := range rows {
		e, err := audit.EventFromDataModel(row)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
