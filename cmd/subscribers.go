package cmd

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/linking"
)

// registerSubscribers attaches the in-process event consumers: reactive linking
// reacts to new memberships, and workflow events are mirrored into the log.
func registerSubscribers(bus *events.EventBus, linker *linking.Service, lg *slog.Logger) {
	bus.Subscribe(events.EventTypeMemberJoined, linker.OnMemberJoined)

	bus.Subscribe(events.EventTypeExpenseTransitioned, func(ctx context.Context, event events.Event) error {
		if e, ok := event.(*events.ExpenseTransitionedEvent); ok {
			lg.Info("expense transitioned",
				"event_id", e.EventID(),
				"expense_id", e.ExpenseID,
				"transition", e.Transition,
				"from", e.FromState,
				"to", e.ToState,
				"actor_id", e.ActorID)
		}
		return nil
	})

	bus.Subscribe(events.EventTypeExpensesReimbursed, func(ctx context.Context, event events.Event) error {
		if e, ok := event.(*events.ExpensesReimbursedEvent); ok {
			lg.Info("expenses reimbursed",
				"event_id", e.EventID(),
				"count", len(e.ExpenseIDs),
				"total", e.Total,
				"actor_id", e.ActorID)
		}
		return nil
	})
}
