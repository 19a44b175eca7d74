package organization

import (
	"time"

	"gorm.io/datatypes"
)

type Organization struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Organization) TableName() string {
	return "organizations"
}

type Member struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	OrganizationID string    `gorm:"column:organization_id;type:varchar(36);not null;uniqueIndex:idx_org_member"`
	UserID         string    `gorm:"column:user_id;type:varchar(36);not null;uniqueIndex:idx_org_member"`
	Role           string    `gorm:"column:role;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (Member) TableName() string {
	return "organization_members"
}

// MemberWithUser is the joined projection used by member listings.
type MemberWithUser struct {
	UserID string `gorm:"column:user_id"`
	Name   string `gorm:"column:name"`
	Email  string `gorm:"column:email"`
	Role   string `gorm:"column:role"`
}

// AuditEvent is an organization-scoped compliance record, separate from the per-expense trail.
type AuditEvent struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	OrganizationID string         `gorm:"column:organization_id;type:varchar(36);not null;index"`
	Timestamp      time.Time      `gorm:"column:timestamp;not null"`
	Action         string         `gorm:"column:action;not null"`
	ActorID        string         `gorm:"column:actor_id;type:varchar(36);not null"`
	Role           string         `gorm:"column:role;not null"`
	Metadata       datatypes.JSON `gorm:"column:metadata"`
}

func (AuditEvent) TableName() string {
	return "organization_audit_events"
}
