package expense

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/audit"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/core/metrics"
	"github.com/frahmantamala/expense-approval/internal/organization"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransitionUpdate is one compare-and-swap write plus its audit entry.
// The row is matched on id, From and ExpectedVersion.
type TransitionUpdate struct {
	ExpenseID       string
	From            State
	To              State
	ExpectedVersion int64
	TotalAmount     *decimal.Decimal
	TotalOverridden *bool
	At              time.Time
	Entry           audit.Entry
}

type Repository interface {
	Create(ctx context.Context, e *Expense) error
	// GetByID returns ErrExpenseNotFound for missing and soft-deleted rows.
	GetByID(ctx context.Context, id string) (*Expense, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Expense, error)
	ListByOrganizationAndStates(ctx context.Context, orgID string, states []State) ([]*Expense, error)
	UpdateDraft(ctx context.Context, e *Expense, expectedVersion int64, entry audit.Entry) error
	ApplyTransition(ctx context.Context, update TransitionUpdate) error
	ApplyBatch(ctx context.Context, updates []TransitionUpdate) error
	ListAudit(ctx context.Context, expenseID string) ([]audit.Entry, error)
}

type RoleResolver interface {
	ResolveRole(ctx context.Context, actorID, orgID string) (organization.Role, bool)
}

type CategoryChecker interface {
	IsValidCategory(ctx context.Context, name string) (bool, error)
}

type BlobStore interface {
	PresignGet(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

type Service struct {
	repo       Repository
	roles      RoleResolver
	categories CategoryChecker
	blobs      BlobStore
	bus        events.Publisher
	metrics    *metrics.Recorder
	audit      *audit.Recorder
	logger     *slog.Logger
}

func NewService(
	repo Repository,
	roles RoleResolver,
	categories CategoryChecker,
	blobs BlobStore,
	bus events.Publisher,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		roles:      roles,
		categories: categories,
		blobs:      blobs,
		bus:        bus,
		metrics:    recorder,
		audit:      audit.NewRecorder(nil),
		logger:     logger,
	}
}

// WithClock swaps the audit clock; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.audit = audit.NewRecorder(now)
	return s
}

func (s *Service) actorFor(ctx context.Context, actorID string, e *Expense) Actor {
	actor := Actor{ID: actorID}
	if e.OrganizationID == nil {
		return actor
	}
	actor.Role, actor.IsMember = s.roles.ResolveRole(ctx, actorID, *e.OrganizationID)
	return actor
}

func (s *Service) load(ctx context.Context, id string) (*Expense, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, errors.ErrExpenseNotFound) {
			return nil, errors.ErrExpenseNotFound
		}
		s.logger.Error("failed to load expense", "error", err, "expense_id", id)
		return nil, errors.NewInternalError("failed to load expense", err)
	}
	return e, nil
}

func (s *Service) loadVisible(ctx context.Context, actorID, id string) (*Expense, Actor, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, Actor{}, err
	}
	actor := s.actorFor(ctx, actorID, e)
	if !CanView(e, actor) {
		s.logger.Warn("expense access denied", "expense_id", id, "actor_id", actorID)
		return nil, Actor{}, errors.ErrUnauthorizedAccess
	}
	return e, actor, nil
}

func (s *Service) validateCategories(ctx context.Context, items []LineItemDTO) *errors.AppError {
	if s.categories == nil {
		return nil
	}
	for i, item := range items {
		if item.Category == nil || *item.Category == "" {
			continue
		}
		ok, err := s.categories.IsValidCategory(ctx, *item.Category)
		if err != nil {
			s.logger.Error("failed to check category", "error", err, "category", *item.Category)
			return errors.NewInternalError("failed to check category", err)
		}
		if !ok {
			return errors.NewValidationFieldError(
				fmt.Sprintf("lineItems[%d].category", i),
				fmt.Sprintf("category %q does not exist", *item.Category),
				errors.ErrCodeInvalidCategory)
		}
	}
	return nil
}

func (s *Service) CreateExpense(ctx context.Context, actorID string, dto CreateExpenseDTO) (*Expense, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if err := s.validateCategories(ctx, dto.LineItems); err != nil {
		return nil, err
	}

	orgID := trimmed(dto.OrganizationID)
	if orgID != nil {
		if _, ok := s.roles.ResolveRole(ctx, actorID, *orgID); !ok {
			s.logger.Warn("create expense denied: not a member", "actor_id", actorID, "organization_id", *orgID)
			return nil, errors.ErrInsufficientRole
		}
	}

	now := s.audit.Now()
	e := &Expense{
		ID:             uuid.NewString(),
		UserID:         actorID,
		OrganizationID: orgID,
		Title:          dto.Title,
		ManagerIDs:     normalizeManagerIDs(dto.ManagerIDs),
		LineItems:      buildLineItems(dto.LineItems, uuid.NewString),
		State:          StateDraft,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.TotalAmount = e.LineItemTotal()
	if dto.TotalAmount != nil {
		e.TotalAmount = *dto.TotalAmount
	}

	if err := s.repo.Create(ctx, e); err != nil {
		s.logger.Error("failed to create expense", "error", err, "user_id", actorID)
		return nil, errors.NewInternalError("failed to create expense", err)
	}

	s.logger.Info("expense created",
		"expense_id", e.ID,
		"user_id", actorID,
		"personal", e.IsPersonal(),
		"total", e.TotalAmount.StringFixed(2))
	return e, nil
}

// GetExpense returns the expense with its audit trail.
func (s *Service) GetExpense(ctx context.Context, actorID, id string) (*Expense, error) {
	e, _, err := s.loadVisible(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	trail, err := s.repo.ListAudit(ctx, id)
	if err != nil {
		s.logger.Error("failed to load audit trail", "error", err, "expense_id", id)
		return nil, errors.NewInternalError("failed to load audit trail", err)
	}
	e.AuditTrail = trail
	return e, nil
}

func (s *Service) AuditTrail(ctx context.Context, actorID, id string) ([]audit.Entry, error) {
	if _, _, err := s.loadVisible(ctx, actorID, id); err != nil {
		return nil, err
	}
	trail, err := s.repo.ListAudit(ctx, id)
	if err != nil {
		s.logger.Error("failed to load audit trail", "error", err, "expense_id", id)
		return nil, errors.NewInternalError("failed to load audit trail", err)
	}
	return trail, nil
}

func (s *Service) ListMine(ctx context.Context, actorID string, limit, offset int) ([]*Expense, error) {
	expenses, err := s.repo.ListByUser(ctx, actorID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list expenses", "error", err, "user_id", actorID)
		return nil, errors.NewInternalError("failed to list expenses", err)
	}
	return expenses, nil
}

// ListForReview returns org expenses in the given state (both pending states when empty).
// Admins see all of them; members only those naming them as a manager.
func (s *Service) ListForReview(ctx context.Context, actorID, orgID string, state string) ([]*Expense, error) {
	if orgID == "" {
		return nil, errors.NewValidationFieldError("organizationId", "organizationId is required", errors.ErrCodeMissingOrg)
	}

	states := []State{StatePreApprovalPending, StateApprovalPending}
	if state != "" {
		st, ok := ParseState(state)
		if !ok || st == StateDeleted {
			return nil, errors.NewValidationFieldError("state", fmt.Sprintf("unknown state %q", state), errors.ErrCodeValidationFailed)
		}
		states = []State{st}
	}

	role, ok := s.roles.ResolveRole(ctx, actorID, orgID)
	if !ok {
		return nil, errors.ErrInsufficientRole
	}

	expenses, err := s.repo.ListByOrganizationAndStates(ctx, orgID, states)
	if err != nil {
		s.logger.Error("failed to list review queue", "error", err, "organization_id", orgID)
		return nil, errors.NewInternalError("failed to list expenses", err)
	}
	if role.AtLeast(organization.RoleAdmin) {
		return expenses, nil
	}

	visible := make([]*Expense, 0, len(expenses))
	for _, e := range expenses {
		if e.IsDesignatedManager(actorID) {
			visible = append(visible, e)
		}
	}
	return visible, nil
}

// UpdateDraft replaces title, managers and line items of a Draft owned by the caller.
// Attachments no longer referenced are removed from the blob store after commit.
func (s *Service) UpdateDraft(ctx context.Context, actorID, id string, dto UpdateExpenseDTO) (*Expense, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	e, actor, err := s.loadVisible(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsCreatorOf(e) {
		return nil, errors.NewForbiddenError("only the creator may edit this expense", errors.ErrCodeUnauthorizedAccess)
	}
	if e.State != StateDraft {
		return nil, errors.NewInvalidTransitionError(fmt.Sprintf("cannot edit an expense in state %s", e.State))
	}
	if dto.Version != nil && *dto.Version != e.Version {
		return nil, errors.ErrStaleExpense
	}
	if err := s.validateCategories(ctx, dto.LineItems); err != nil {
		return nil, err
	}

	before := *e
	updated := *e
	updated.Title = dto.Title
	updated.ManagerIDs = normalizeManagerIDs(dto.ManagerIDs)
	updated.LineItems = buildLineItems(dto.LineItems, uuid.NewString)
	updated.TotalAmount = updated.LineItemTotal()
	updated.TotalOverridden = false
	if dto.TotalAmount != nil {
		updated.TotalAmount = *dto.TotalAmount
	}
	updated.UpdatedAt = s.audit.Now()

	entry := s.audit.Entry(audit.ActionUpdate, actor.ID, actor.AuditRole(), draftChanges(&before, &updated), nil)
	if err := s.repo.UpdateDraft(ctx, &updated, e.Version, entry); err != nil {
		if stderrors.Is(err, errors.ErrStaleExpense) {
			return nil, errors.ErrStaleExpense
		}
		s.logger.Error("failed to update draft", "error", err, "expense_id", id)
		return nil, errors.NewInternalError("failed to update expense", err)
	}
	updated.Version = e.Version + 1

	s.deleteOrphanedAttachments(ctx, &before, &updated)

	s.logger.Info("draft updated", "expense_id", id, "actor_id", actorID)
	return &updated, nil
}

func draftChanges(before, after *Expense) []audit.Change {
	var changes []audit.Change
	if before.Title != after.Title {
		changes = append(changes, audit.Change{Field: "title", OldValue: before.Title, NewValue: after.Title})
	}
	if fmt.Sprint(before.ManagerIDs) != fmt.Sprint(after.ManagerIDs) {
		changes = append(changes, audit.Change{Field: "managerIds", OldValue: before.ManagerIDs, NewValue: after.ManagerIDs})
	}
	if len(before.LineItems) != len(after.LineItems) || !before.LineItemTotal().Equal(after.LineItemTotal()) {
		changes = append(changes, audit.Change{Field: "lineItems", OldValue: len(before.LineItems), NewValue: len(after.LineItems)})
	}
	if !before.TotalAmount.Equal(after.TotalAmount) {
		changes = append(changes, audit.Change{
			Field:    audit.FieldTotalAmount,
			OldValue: before.TotalAmount.StringFixed(2),
			NewValue: after.TotalAmount.StringFixed(2),
		})
	}
	return changes
}

func (s *Service) deleteOrphanedAttachments(ctx context.Context, before, after *Expense) {
	if s.blobs == nil {
		return
	}
	for _, key := range before.AttachmentKeys() {
		if after.HasAttachment(key) {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete orphaned attachment", "error", err, "expense_id", before.ID, "key", key)
		}
	}
}

// precondition runs after authorization and may extend the update and its changes.
type precondition func(e *Expense, upd *TransitionUpdate) ([]audit.Change, map[string]interface{}, error)

func (s *Service) fire(ctx context.Context, actorID, id string, event Event, version *int64, metadata map[string]interface{}, check precondition) (*Expense, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	actor := s.actorFor(ctx, actorID, e)

	rule, err := Authorize(e, actor, event)
	if err != nil {
		s.metrics.Transition(string(event), outcomeFor(err))
		s.logger.Warn("transition refused", "event", event, "expense_id", id, "actor_id", actorID, "state", e.State, "error", err)
		return nil, err
	}
	if version != nil && *version != e.Version {
		s.metrics.Transition(string(event), metrics.OutcomeConflict)
		return nil, errors.ErrStaleExpense
	}

	upd := TransitionUpdate{
		ExpenseID:       e.ID,
		From:            e.State,
		To:              rule.To,
		ExpectedVersion: e.Version,
		At:              s.audit.Now(),
	}
	changes := []audit.Change{{Field: audit.FieldStatus, OldValue: string(e.State), NewValue: string(rule.To)}}
	if check != nil {
		extra, meta, err := check(e, &upd)
		if err != nil {
			s.metrics.Transition(string(event), outcomeFor(err))
			return nil, err
		}
		changes = append(changes, extra...)
		metadata = mergeMetadata(metadata, meta)
	}
	upd.Entry = s.audit.Entry(rule.Action, actor.ID, actor.AuditRole(), changes, metadata)

	return s.commit(ctx, e, string(event), upd)
}

func (s *Service) commit(ctx context.Context, e *Expense, event string, upd TransitionUpdate) (*Expense, error) {
	if err := s.repo.ApplyTransition(ctx, upd); err != nil {
		if stderrors.Is(err, errors.ErrStaleExpense) {
			s.metrics.Transition(event, metrics.OutcomeConflict)
			s.logger.Warn("transition lost a race", "event", event, "expense_id", e.ID, "expected_state", upd.From, "expected_version", upd.ExpectedVersion)
			return nil, errors.ErrStaleExpense
		}
		s.metrics.Transition(event, metrics.OutcomeError)
		s.logger.Error("failed to apply transition", "error", err, "event", event, "expense_id", e.ID)
		return nil, errors.NewInternalError("failed to update expense", err)
	}
	s.metrics.Transition(event, metrics.OutcomeApplied)

	e.State = upd.To
	e.Version = upd.ExpectedVersion + 1
	e.UpdatedAt = upd.At
	if upd.TotalAmount != nil {
		e.TotalAmount = *upd.TotalAmount
	}
	if upd.TotalOverridden != nil {
		e.TotalOverridden = *upd.TotalOverridden
	}
	if upd.To == StateDeleted {
		at := upd.At
		e.DeletedAt = &at
	}

	s.logger.Info("expense transitioned",
		"event", event,
		"expense_id", e.ID,
		"from", upd.From,
		"to", upd.To,
		"actor_id", upd.Entry.ActorID)

	if s.bus != nil {
		evt := events.NewExpenseTransitionedEvent(e.ID, e.OrganizationID, event, string(upd.From), string(upd.To), upd.Entry.ActorID)
		if err := s.bus.Publish(ctx, evt); err != nil {
			s.logger.Warn("failed to publish transition event", "error", err, "expense_id", e.ID)
		}
	}
	return e, nil
}

func mergeMetadata(a, b map[string]interface{}) map[string]interface{} {
	if len(b) == 0 {
		return a
	}
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func outcomeFor(err error) string {
	appErr, ok := errors.IsAppError(err)
	if !ok {
		return metrics.OutcomeError
	}
	switch appErr.Type {
	case errors.ErrorTypeForbidden:
		return metrics.OutcomeForbidden
	case errors.ErrorTypeConflict:
		return metrics.OutcomeConflict
	case errors.ErrorTypeInternal:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}

// Submit moves a Draft into pre-approval. A total that differs from the line-item
// sum is refused unless reconcile is set or an admin has overridden it.
func (s *Service) Submit(ctx context.Context, actorID, id string, dto SubmitDTO) (*Expense, error) {
	return s.fire(ctx, actorID, id, EventSubmit, dto.Version, nil, func(e *Expense, upd *TransitionUpdate) ([]audit.Change, map[string]interface{}, error) {
		if e.IsPersonal() {
			return nil, nil, errors.NewValidationError(
				"personal expenses must be linked to an organization before submission", errors.ErrCodeMissingOrg)
		}
		if len(e.LineItems) == 0 {
			return nil, nil, errors.NewValidationError("at least one line item is required", errors.ErrCodeNoLineItems)
		}
		if len(e.ManagerIDs) == 0 {
			return nil, nil, errors.NewValidationError("at least one manager must be designated", errors.ErrCodeNoManagers)
		}
		for _, managerID := range e.ManagerIDs {
			if managerID == e.UserID {
				return nil, nil, errors.NewValidationFieldError("managerIds", "the creator cannot review their own expense", errors.ErrCodeNoManagers)
			}
			if _, ok := s.roles.ResolveRole(ctx, managerID, *e.OrganizationID); !ok {
				return nil, nil, errors.NewValidationFieldError("managerIds",
					fmt.Sprintf("manager %s is not a member of the organization", managerID), errors.ErrCodeNoManagers)
			}
		}

		if e.TotalsMatch() || e.TotalOverridden {
			return nil, nil, nil
		}
		sum := e.LineItemTotal()
		if !dto.ReconcileTotal {
			return nil, nil, errors.NewValidationError(
				fmt.Sprintf("total amount %s does not match line items total %s", e.TotalAmount.StringFixed(2), sum.StringFixed(2)),
				errors.ErrCodeTotalMismatch).
				WithDetails(map[string]string{
					"totalAmount":    e.TotalAmount.StringFixed(2),
					"lineItemsTotal": sum.StringFixed(2),
				})
		}
		upd.TotalAmount = &sum
		change := audit.Change{
			Field:    audit.FieldTotalAmount,
			OldValue: e.TotalAmount.StringFixed(2),
			NewValue: sum.StringFixed(2),
		}
		return []audit.Change{change}, map[string]interface{}{"reconciledTotal": true}, nil
	})
}

func (s *Service) PreApprove(ctx context.Context, actorID, id string, dto TransitionDTO) (*Expense, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return s.fire(ctx, actorID, id, EventPreApprove, dto.Version, dto.metadata(), nil)
}

func (s *Service) Reject(ctx context.Context, actorID, id string, dto TransitionDTO) (*Expense, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return s.fire(ctx, actorID, id, EventReject, dto.Version, dto.metadata(), nil)
}

func (s *Service) RequestApproval(ctx context.Context, actorID, id string, dto TransitionDTO) (*Expense, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return s.fire(ctx, actorID, id, EventRequestApproval, dto.Version, dto.metadata(), nil)
}

func (s *Service) Approve(ctx context.Context, actorID, id string, dto TransitionDTO) (*Expense, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return s.fire(ctx, actorID, id, EventApprove, dto.Version, dto.metadata(), nil)
}

// DeleteExpense soft-deletes; attachments are kept for the audit record.
func (s *Service) DeleteExpense(ctx context.Context, actorID, id string) error {
	_, err := s.fire(ctx, actorID, id, EventDelete, nil, nil, nil)
	return err
}

// Override moves an org expense to any state but its current one or Deleted.
func (s *Service) Override(ctx context.Context, actorID, id string, dto OverrideDTO) (*Expense, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	actor := s.actorFor(ctx, actorID, e)
	target := State(dto.State)

	if err := AuthorizeOverride(e, actor, target); err != nil {
		s.metrics.Transition(string(EventAdminOverride), outcomeFor(err))
		s.logger.Warn("override refused", "expense_id", id, "actor_id", actorID, "target", dto.State, "error", err)
		return nil, err
	}
	if dto.Version != nil && *dto.Version != e.Version {
		s.metrics.Transition(string(EventAdminOverride), metrics.OutcomeConflict)
		return nil, errors.ErrStaleExpense
	}

	upd := TransitionUpdate{
		ExpenseID:       e.ID,
		From:            e.State,
		To:              target,
		ExpectedVersion: e.Version,
		At:              s.audit.Now(),
	}
	upd.Entry = s.audit.StatusChange(audit.ActionUpdateStatus, actor.ID, actor.AuditRole(), string(e.State), string(target),
		map[string]interface{}{"adminOverride": true, "reason": dto.Reason})

	return s.commit(ctx, e, string(EventAdminOverride), upd)
}

// OverrideTotal lets an admin set totalAmount while it is still editable.
// The overridden total satisfies the totals check at submission.
func (s *Service) OverrideTotal(ctx context.Context, actorID, id string, dto OverrideTotalDTO) (*Expense, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	e, actor, err := s.loadVisible(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if e.IsPersonal() {
		return nil, errors.NewValidationError("personal expenses have no organization admin", errors.ErrCodePersonalExpense)
	}
	if !actor.IsAdmin() {
		return nil, errors.ErrInsufficientRole
	}
	if e.State.TotalLocked() {
		return nil, errors.NewInvalidTransitionError(fmt.Sprintf("total amount is read-only in state %s", e.State))
	}
	if dto.Version != nil && *dto.Version != e.Version {
		return nil, errors.ErrStaleExpense
	}

	total := dto.TotalAmount
	overridden := true
	upd := TransitionUpdate{
		ExpenseID:       e.ID,
		From:            e.State,
		To:              e.State,
		ExpectedVersion: e.Version,
		TotalAmount:     &total,
		TotalOverridden: &overridden,
		At:              s.audit.Now(),
	}
	upd.Entry = s.audit.Entry(audit.ActionUpdateTotal, actor.ID, actor.AuditRole(),
		[]audit.Change{{Field: audit.FieldTotalAmount, OldValue: e.TotalAmount.StringFixed(2), NewValue: total.StringFixed(2)}},
		map[string]interface{}{"adminOverride": true, "reason": dto.Reason})

	return s.commit(ctx, e, "override_total", upd)
}

// AttachmentURL presigns a download for a key referenced by one of the line items.
func (s *Service) AttachmentURL(ctx context.Context, actorID, id, key string) (string, error) {
	if key == "" {
		return "", errors.NewValidationFieldError("key", "key is required", errors.ErrCodeValidationFailed)
	}
	e, _, err := s.loadVisible(ctx, actorID, id)
	if err != nil {
		return "", err
	}
	if !e.HasAttachment(key) {
		return "", errors.ErrAttachmentNotFound
	}
	if s.blobs == nil {
		return "", errors.NewInternalError("attachment storage is not configured", nil)
	}
	url, err := s.blobs.PresignGet(ctx, key)
	if err != nil {
		s.logger.Error("failed to presign attachment", "error", err, "expense_id", id, "key", key)
		return "", errors.NewInternalError("failed to presign attachment", err)
	}
	return url, nil
}
