package expense

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Expense struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)"`
	UserID          string          `gorm:"column:user_id;type:varchar(36);not null;index"`
	OrganizationID  *string         `gorm:"column:organization_id;type:varchar(36);index"`
	Title           string          `gorm:"column:title;not null"`
	ManagerIDs      datatypes.JSON  `gorm:"column:manager_ids"`
	TotalAmount     decimal.Decimal `gorm:"column:total_amount;type:numeric(14,2);not null"`
	TotalOverridden bool            `gorm:"column:total_overridden;not null;default:false"`
	State           string          `gorm:"column:state;not null;index"`
	Version         int64           `gorm:"column:version;not null;default:1"`
	LineItems       []LineItem      `gorm:"foreignKey:ExpenseID"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
	DeletedAt       *time.Time      `gorm:"column:deleted_at;index"`
}

func (Expense) TableName() string {
	return "expenses"
}

type LineItem struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)"`
	ExpenseID   string          `gorm:"column:expense_id;type:varchar(36);not null;index"`
	Position    int             `gorm:"column:position;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
	Date        time.Time       `gorm:"column:date;type:date;not null"`
	Description *string         `gorm:"column:description"`
	Category    *string         `gorm:"column:category"`
	Attachments datatypes.JSON  `gorm:"column:attachments"`
}

func (LineItem) TableName() string {
	return "expense_line_items"
}

// AuditEntry rows are insert-only.
type AuditEntry struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	ExpenseID string         `gorm:"column:expense_id;type:varchar(36);not null;index"`
	Timestamp time.Time      `gorm:"column:timestamp;not null"`
	Action    string         `gorm:"column:action;not null"`
	ActorID   string         `gorm:"column:actor_id;type:varchar(36);not null"`
	Role      string         `gorm:"column:role;not null"`
	Changes   datatypes.JSON `gorm:"column:changes;not null"`
	Metadata  datatypes.JSON `gorm:"column:metadata"`
}

func (AuditEntry) TableName() string {
	return "expense_audit_entries"
}
