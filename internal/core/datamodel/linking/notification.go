package linking

import "time"

type Notification struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)"`
	UserID         string     `gorm:"column:user_id;type:varchar(36);not null;index:idx_linking_user_org"`
	OrganizationID string     `gorm:"column:organization_id;type:varchar(36);not null;index:idx_linking_user_org"`
	Status         string     `gorm:"column:status;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	ResolvedAt     *time.Time `gorm:"column:resolved_at"`
}

func (Notification) TableName() string {
	return "linking_notifications"
}
