package expense

import (
	"fmt"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/audit"
	"github.com/frahmantamala/expense-approval/internal/organization"
)

type Event string

const (
	EventSubmit          Event = "submit"
	EventPreApprove      Event = "pre_approve"
	EventReject          Event = "reject"
	EventRequestApproval Event = "request_approval"
	EventApprove         Event = "approve"
	EventReimburse       Event = "reimburse"
	EventDelete          Event = "delete"
	EventAdminOverride   Event = "admin_override"
)

// Guard names who may fire a rule.
type Guard int

const (
	GuardCreator Guard = iota + 1
	GuardReviewer
	GuardAdmin
	GuardCreatorOrAdmin
)

func (g Guard) String() string {
	switch g {
	case GuardCreator:
		return "creator"
	case GuardReviewer:
		return "designated reviewer or admin"
	case GuardAdmin:
		return "admin"
	case GuardCreatorOrAdmin:
		return "creator or admin"
	default:
		return "unknown"
	}
}

type Rule struct {
	Event  Event
	From   State
	To     State
	Guard  Guard
	Action audit.Action
}

var rules = buildRules()

func buildRules() []Rule {
	r := []Rule{
		{Event: EventSubmit, From: StateDraft, To: StatePreApprovalPending, Guard: GuardCreator, Action: audit.ActionUpdateStatus},
		{Event: EventPreApprove, From: StatePreApprovalPending, To: StatePreApproved, Guard: GuardReviewer, Action: audit.ActionUpdateStatus},
		{Event: EventReject, From: StatePreApprovalPending, To: StateRejected, Guard: GuardReviewer, Action: audit.ActionUpdateStatus},
		{Event: EventRequestApproval, From: StatePreApproved, To: StateApprovalPending, Guard: GuardCreator, Action: audit.ActionUpdateStatus},
		{Event: EventApprove, From: StateApprovalPending, To: StateApproved, Guard: GuardAdmin, Action: audit.ActionUpdateStatus},
		{Event: EventReject, From: StateApprovalPending, To: StateRejected, Guard: GuardAdmin, Action: audit.ActionUpdateStatus},
		{Event: EventReimburse, From: StateApproved, To: StateReimbursed, Guard: GuardAdmin, Action: audit.ActionUpdateStatus},
	}
	for _, st := range allStates {
		if st == StateDeleted {
			continue
		}
		r = append(r, Rule{Event: EventDelete, From: st, To: StateDeleted, Guard: GuardCreatorOrAdmin, Action: audit.ActionDelete})
	}
	return r
}

// Rules returns a copy of the transition table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

func FindRule(event Event, from State) (Rule, bool) {
	for _, r := range rules {
		if r.Event == event && r.From == from {
			return r, true
		}
	}
	return Rule{}, false
}

// Actor is the caller as seen from the expense's organization.
type Actor struct {
	ID       string
	Role     organization.Role
	IsMember bool
}

func (a Actor) IsAdmin() bool {
	return a.IsMember && a.Role.AtLeast(organization.RoleAdmin)
}

// AuditRole is the role string stamped on audit entries.
func (a Actor) AuditRole() string {
	if a.IsMember {
		return a.Role.String()
	}
	return "creator"
}

func (a Actor) IsCreatorOf(e *Expense) bool {
	return a.ID != "" && a.ID == e.UserID
}

// IsReviewerOf requires the designation and a live membership.
func (a Actor) IsReviewerOf(e *Expense) bool {
	return a.IsMember && e.IsDesignatedManager(a.ID)
}

// CanView is the visibility rule for reads and the first check of every write.
func CanView(e *Expense, a Actor) bool {
	return a.IsCreatorOf(e) || a.IsAdmin() || a.IsReviewerOf(e)
}

func (g Guard) allows(e *Expense, a Actor) bool {
	switch g {
	case GuardCreator:
		return a.IsCreatorOf(e)
	case GuardReviewer:
		return a.IsReviewerOf(e) || a.IsAdmin()
	case GuardAdmin:
		return a.IsAdmin()
	case GuardCreatorOrAdmin:
		return a.IsCreatorOf(e) || a.IsAdmin()
	default:
		return false
	}
}

// Authorize resolves the rule for event from the expense's current state.
// Order: visibility, rule existence, guard. Nothing is mutated.
func Authorize(e *Expense, a Actor, event Event) (Rule, error) {
	if !CanView(e, a) {
		return Rule{}, errors.ErrUnauthorizedAccess
	}

	rule, ok := FindRule(event, e.State)
	if !ok {
		return Rule{}, errors.NewInvalidTransitionError(
			fmt.Sprintf("cannot %s an expense in state %s", humanize(event), e.State))
	}

	if !rule.Guard.allows(e, a) {
		return Rule{}, errors.NewForbiddenError(
			fmt.Sprintf("only the %s may %s this expense", rule.Guard, humanize(event)),
			errors.ErrCodeInsufficientRole)
	}
	return rule, nil
}

// AuthorizeOverride validates an admin override to target.
func AuthorizeOverride(e *Expense, a Actor, target State) error {
	if !CanView(e, a) {
		return errors.ErrUnauthorizedAccess
	}
	if e.IsPersonal() {
		return errors.NewValidationError("personal expenses cannot be overridden", errors.ErrCodePersonalExpense)
	}
	if !a.IsAdmin() {
		return errors.ErrInsufficientRole
	}
	if e.State == StateDeleted {
		return errors.NewInvalidTransitionError("deleted expenses cannot be overridden")
	}
	if _, ok := ParseState(string(target)); !ok || target == StateDeleted {
		return errors.NewValidationFieldError("state", fmt.Sprintf("%q is not a valid override target", target), errors.ErrCodeValidationFailed)
	}
	if target == e.State {
		return errors.NewInvalidTransitionError(fmt.Sprintf("expense is already in state %s", target))
	}
	return nil
}

func humanize(event Event) string {
	switch event {
	case EventPreApprove:
		return "pre-approve"
	case EventRequestApproval:
		return "request approval for"
	default:
		return string(event)
	}
}
