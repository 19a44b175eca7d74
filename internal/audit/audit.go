// Package audit defines the append-only audit trail shapes shared by the expense
// workflow and organization-scoped compliance events.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	expenseDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/expense"
	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
	"gorm.io/datatypes"
)

type Action string

const (
	ActionUpdateStatus           Action = "UPDATE_STATUS"
	ActionLinkOrg                Action = "LINK_ORG"
	ActionUpdate                 Action = "UPDATE"
	ActionUpdateTotal            Action = "UPDATE_TOTAL"
	ActionDelete                 Action = "DELETE"
	ActionFinanceDashboardAccess Action = "FINANCE_DASHBOARD_ACCESS"
	ActionFinanceExport          Action = "FINANCE_EXPORT"
)

const (
	FieldStatus         = "status"
	FieldOrganizationID = "organizationId"
	FieldTotalAmount    = "totalAmount"
)

// Change is one field delta. Old and new values are stored verbatim, nil included.
type Change struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"oldValue"`
	NewValue interface{} `json:"newValue"`
}

// Entry is the persisted per-expense audit record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    Action                 `json:"action"`
	ActorID   string                 `json:"actorId"`
	Role      string                 `json:"role"`
	Changes   []Change               `json:"changes"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Event is an organization-scoped record such as a finance dashboard read.
type Event struct {
	OrganizationID string                 `json:"organizationId"`
	Timestamp      time.Time              `json:"timestamp"`
	Action         Action                 `json:"action"`
	ActorID        string                 `json:"actorId"`
	Role           string                 `json:"role"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Recorder stamps entries from a single clock.
type Recorder struct {
	now func() time.Time
}

func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

func (r *Recorder) Now() time.Time {
	return r.now().UTC()
}

func (r *Recorder) Entry(action Action, actorID, role string, changes []Change, metadata map[string]interface{}) Entry {
	if changes == nil {
		changes = []Change{}
	}
	return Entry{
		Timestamp: r.Now(),
		Action:    action,
		ActorID:   actorID,
		Role:      role,
		Changes:   changes,
		Metadata:  metadata,
	}
}

// StatusChange is the entry written for every workflow transition.
func (r *Recorder) StatusChange(action Action, actorID, role, from, to string, metadata map[string]interface{}) Entry {
	return r.Entry(action, actorID, role, []Change{{Field: FieldStatus, OldValue: from, NewValue: to}}, metadata)
}

func (r *Recorder) OrganizationEvent(orgID string, action Action, actorID, role string, metadata map[string]interface{}) Event {
	return Event{
		OrganizationID: orgID,
		Timestamp:      r.Now(),
		Action:         action,
		ActorID:        actorID,
		Role:           role,
		Metadata:       metadata,
	}
}

func ToDataModel(expenseID string, e Entry) (*expenseDatamodel.AuditEntry, error) {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return nil, fmt.Errorf("marshal audit changes: %w", err)
	}
	row := &expenseDatamodel.AuditEntry{
		ExpenseID: expenseID,
		Timestamp: e.Timestamp,
		Action:    string(e.Action),
		ActorID:   e.ActorID,
		Role:      e.Role,
		Changes:   datatypes.JSON(changes),
	}
	if len(e.Metadata) > 0 {
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal audit metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(metadata)
	}
	return row, nil
}

func FromDataModel(row *expenseDatamodel.AuditEntry) (Entry, error) {
	e := Entry{
		Timestamp: row.Timestamp.UTC(),
		Action:    Action(row.Action),
		ActorID:   row.ActorID,
		Role:      row.Role,
		Changes:   []Change{},
	}
	if len(row.Changes) > 0 {
		if err := json.Unmarshal(row.Changes, &e.Changes); err != nil {
			return Entry{}, fmt.Errorf("unmarshal audit changes: %w", err)
		}
	}
	if len(row.Metadata) > 0 && string(row.Metadata) != "null" {
		if err := json.Unmarshal(row.Metadata, &e.Metadata); err != nil {
			return Entry{}, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return e, nil
}

func FromDataModelSlice(rows []*expenseDatamodel.AuditEntry) ([]Entry, error) {
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := FromDataModel(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func EventToDataModel(e Event) (*orgDatamodel.AuditEvent, error) {
	row := &orgDatamodel.AuditEvent{
		OrganizationID: e.OrganizationID,
		Timestamp:      e.Timestamp,
		Action:         string(e.Action),
		ActorID:        e.ActorID,
		Role:           e.Role,
	}
	if len(e.Metadata) > 0 {
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal event metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(metadata)
	}
	return row, nil
}

func EventFromDataModel(row *orgDatamodel.AuditEvent) (Event, error) {
	e := Event{
		OrganizationID: row.OrganizationID,
		Timestamp:      row.Timestamp.UTC(),
		Action:         Action(row.Action),
		ActorID:        row.ActorID,
		Role:           row.Role,
	}
	if len(row.Metadata) > 0 && string(row.Metadata) != "null" {
		if err := json.Unmarshal(row.Metadata, &e.Metadata); err != nil {
			return Event{}, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}
	return e, nil
}
