package expense

import (
	"encoding/json"
	"time"

	"github.com/frahmantamala/expense-approval/internal/audit"
	expenseDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/expense"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type State string

const (
	StateDraft              State = "Draft"
	StatePreApprovalPending State = "PreApprovalPending"
	StatePreApproved        State = "PreApproved"
	StateApprovalPending    State = "ApprovalPending"
	StateApproved           State = "Approved"
	StateReimbursed         State = "Reimbursed"
	StateRejected           State = "Rejected"
	StateDeleted            State = "Deleted"
)

var allStates = []State{
	StateDraft,
	StatePreApprovalPending,
	StatePreApproved,
	StateApprovalPending,
	StateApproved,
	StateReimbursed,
	StateRejected,
	StateDeleted,
}

func ParseState(s string) (State, bool) {
	for _, st := range allStates {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsPending covers both review stages.
func (s State) IsPending() bool {
	return s == StatePreApprovalPending || s == StateApprovalPending
}

// TotalLocked reports whether totalAmount is read-only in this state.
func (s State) TotalLocked() bool {
	return s != StateDraft && s != StatePreApprovalPending
}

type LineItem struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        Date            `json:"date"`
	Description *string         `json:"description,omitempty"`
	Category    *string         `json:"category,omitempty"`
	Attachments []string        `json:"attachments"`
}

type Expense struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	OrganizationID  *string         `json:"organizationId"`
	Title           string          `json:"title"`
	ManagerIDs      []string        `json:"managerIds"`
	LineItems       []LineItem      `json:"lineItems"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	TotalOverridden bool            `json:"totalOverridden"`
	State           State           `json:"state"`
	Version         int64           `json:"version"`
	AuditTrail      []audit.Entry   `json:"auditTrail,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	DeletedAt       *time.Time      `json:"deletedAt,omitempty"`
}

func (e *Expense) IsPersonal() bool {
	return e.OrganizationID == nil
}

func (e *Expense) LineItemTotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range e.LineItems {
		total = total.Add(li.Amount)
	}
	return total
}

func (e *Expense) TotalsMatch() bool {
	return e.TotalAmount.Equal(e.LineItemTotal())
}

func (e *Expense) IsDesignatedManager(userID string) bool {
	for _, id := range e.ManagerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AttachmentKeys lists every blob key referenced by the line items.
func (e *Expense) AttachmentKeys() []string {
	var keys []string
	for _, li := range e.LineItems {
		keys = append(keys, li.Attachments...)
	}
	return keys
}

func (e *Expense) HasAttachment(key string) bool {
	for _, k := range e.AttachmentKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func ToDataModel(e *Expense) (*expenseDatamodel.Expense, error) {
	managerIDs := e.ManagerIDs
	if managerIDs == nil {
		managerIDs = []string{}
	}
	managers, err := json.Marshal(managerIDs)
	if err != nil {
		return nil, err
	}

	items := make([]expenseDatamodel.LineItem, len(e.LineItems))
	for i, li := range e.LineItems {
		attachments := li.Attachments
		if attachments == nil {
			attachments = []string{}
		}
		raw, err := json.Marshal(attachments)
		if err != nil {
			return nil, err
		}
		items[i] = expenseDatamodel.LineItem{
			ID:          li.ID,
			ExpenseID:   e.ID,
			Position:    i,
			Amount:      li.Amount,
			Date:        li.Date.Time(),
			Description: li.Description,
			Category:    li.Category,
			Attachments: datatypes.JSON(raw),
		}
	}

	return &expenseDatamodel.Expense{
		ID:              e.ID,
		UserID:          e.UserID,
		OrganizationID:  e.OrganizationID,
		Title:           e.Title,
		ManagerIDs:      datatypes.JSON(managers),
		TotalAmount:     e.TotalAmount,
		TotalOverridden: e.TotalOverridden,
		State:           string(e.State),
		Version:         e.Version,
		LineItems:       items,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		DeletedAt:       e.DeletedAt,
	}, nil
}

func FromDataModel(m *expenseDatamodel.Expense) (*Expense, error) {
	managerIDs := []string{}
	if len(m.ManagerIDs) > 0 {
		if err := json.Unmarshal(m.ManagerIDs, &managerIDs); err != nil {
			return nil, err
		}
	}

	items := make([]LineItem, len(m.LineItems))
	for i, li := range m.LineItems {
		attachments := []string{}
		if len(li.Attachments) > 0 {
			if err := json.Unmarshal(li.Attachments, &attachments); err != nil {
				return nil, err
			}
		}
		items[i] = LineItem{
			ID:          li.ID,
			Amount:      li.Amount,
			Date:        NewDate(li.Date),
			Description: li.Description,
			Category:    li.Category,
			Attachments: attachments,
		}
	}

	return &Expense{
		ID:              m.ID,
		UserID:          m.UserID,
		OrganizationID:  m.OrganizationID,
		Title:           m.Title,
		ManagerIDs:      managerIDs,
		LineItems:       items,
		TotalAmount:     m.TotalAmount,
		TotalOverridden: m.TotalOverridden,
		State:           State(m.State),
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		DeletedAt:       m.DeletedAt,
	}, nil
}

func FromDataModelSlice(rows []*expenseDatamodel.Expense) ([]*Expense, error) {
	result := make([]*Expense, 0, len(rows))
	for _, row := range rows {
		e, err := FromDataModel(row)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}
