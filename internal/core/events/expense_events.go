package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeExpenseTransitioned = "expense.transitioned"
	EventTypeExpensesReimbursed  = "expense.reimbursed"
	EventTypeMemberJoined        = "organization.member_joined"
)

type ExpenseTransitionedEvent struct {
	BaseEvent
	ExpenseID      string  `json:"expense_id"`
	OrganizationID *string `json:"organization_id,omitempty"`
	Transition     string  `json:"transition"`
	FromState      string  `json:"from_state"`
	ToState        string  `json:"to_state"`
	ActorID        string  `json:"actor_id"`
}

func NewExpenseTransitionedEvent(expenseID string, organizationID *string, transition, from, to, actorID string) *ExpenseTransitionedEvent {
	return &ExpenseTransitionedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeExpenseTransitioned,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"expense_id": expenseID,
				"transition": transition,
				"from_state": from,
				"to_state":   to,
				"actor_id":   actorID,
			},
		},
		ExpenseID:      expenseID,
		OrganizationID: organizationID,
		Transition:     transition,
		FromState:      from,
		ToState:        to,
		ActorID:        actorID,
	}
}

type ExpensesReimbursedEvent struct {
	BaseEvent
	ExpenseIDs []string `json:"expense_ids"`
	ActorID    string   `json:"actor_id"`
	Total      string   `json:"total"`
}

func NewExpensesReimbursedEvent(expenseIDs []string, actorID, total string) *ExpensesReimbursedEvent {
	return &ExpensesReimbursedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeExpensesReimbursed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"expense_ids": expenseIDs,
				"actor_id":    actorID,
				"total":       total,
			},
		},
		ExpenseIDs: expenseIDs,
		ActorID:    actorID,
		Total:      total,
	}
}

type MemberJoinedEvent struct {
	BaseEvent
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
}

func NewMemberJoinedEvent(organizationID, userID, role string) *MemberJoinedEvent {
	return &MemberJoinedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeMemberJoined,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"organization_id": organizationID,
				"user_id":         userID,
				"role":            role,
			},
		},
		OrganizationID: organizationID,
		UserID:         userID,
		Role:           role,
	}
}
