package finance

import (
	"context"
	stderrors "errors"
	"log/slog"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/audit"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/core/metrics"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/organization"
)

// reimburserRole is stamped on reimbursement audit entries whatever admin-level role fired them.
const reimburserRole = "admin"

type Querier interface {
	ListByStatusAndOrganization(ctx context.Context, status, orgID string) ([]ExpenseSummary, error)
	ListByIDs(ctx context.Context, ids []string) ([]ExpenseSummary, error)
}

// Authorizer tells a missing organization apart from an insufficient role.
type Authorizer interface {
	RequireRole(ctx context.Context, actorID, orgID string, required organization.Role) error
}

type RoleResolver interface {
	ResolveRole(ctx context.Context, actorID, orgID string) (organization.Role, bool)
	VerifyPermission(ctx context.Context, actorID string, required organization.Role, orgID string) bool
}

type BatchWriter interface {
	ApplyBatch(ctx context.Context, updates []expense.TransitionUpdate) error
}

type EventLog interface {
	Append(ctx context.Context, event audit.Event) error
	ListByOrganization(ctx context.Context, orgID string, limit int) ([]audit.Event, error)
}

type Service struct {
	query   Querier
	orgs    Authorizer
	roles   RoleResolver
	writer  BatchWriter
	log     EventLog
	bus     events.Publisher
	metrics *metrics.Recorder
	audit   *audit.Recorder
	logger  *slog.Logger
}

func NewService(
	query Querier,
	orgs Authorizer,
	roles RoleResolver,
	writer BatchWriter,
	log EventLog,
	bus events.Publisher,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		query:   query,
		orgs:    orgs,
		roles:   roles,
		writer:  writer,
		log:     log,
		bus:     bus,
		metrics: recorder,
		audit:   audit.NewRecorder(nil),
		logger:  logger,
	}
}

func (s *Service) roleName(ctx context.Context, actorID, orgID string) string {
	role, ok := s.roles.ResolveRole(ctx, actorID, orgID)
	if !ok {
		return organization.RoleUnknown.String()
	}
	return role.String()
}

// Dashboard lists org expenses in a state (Approved by default) with their payout,
// and records the access as an organization audit event.
func (s *Service) Dashboard(ctx context.Context, actorID, orgID, status string) (*Dashboard, error) {
	if orgID == "" {
		return nil, errors.NewValidationFieldError("organizationId", "organizationId is required", errors.ErrCodeMissingOrg)
	}
	if status == "" {
		status = string(expense.StateApproved)
	}
	if st, ok := expense.ParseState(status); !ok || st == expense.StateDeleted {
		return nil, errors.NewValidationFieldError("status", "unknown status "+status, errors.ErrCodeValidationFailed)
	}

	if err := s.orgs.RequireRole(ctx, actorID, orgID, organization.RoleAdmin); err != nil {
		s.logger.Warn("finance dashboard denied", "actor_id", actorID, "organization_id", orgID, "error", err)
		return nil, err
	}

	rows, err := s.query.ListByStatusAndOrganization(ctx, status, orgID)
	if err != nil {
		s.logger.Error("failed to query finance expenses", "error", err, "organization_id", orgID)
		return nil, errors.NewInternalError("failed to load expenses", err)
	}

	total := TotalPayout(rows)
	event := s.audit.OrganizationEvent(orgID, audit.ActionFinanceDashboardAccess, actorID, s.roleName(ctx, actorID, orgID),
		map[string]interface{}{
			"count":       len(rows),
			"totalPayout": total.StringFixed(2),
			"status":      status,
		})
	if err := s.log.Append(ctx, event); err != nil {
		s.logger.Error("failed to record dashboard access", "error", err, "organization_id", orgID)
		return nil, errors.NewInternalError("failed to record dashboard access", err)
	}

	return &Dashboard{Expenses: rows, TotalPayout: total, Count: len(rows)}, nil
}

// Reimburse moves every requested expense from Approved to Reimbursed in one
// transaction, or none of them.
func (s *Service) Reimburse(ctx context.Context, actorID string, dto ReimburseDTO) (*ReimburseResult, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	ids := dedupe(dto.ExpenseIDs)
	if len(ids) == 0 {
		return nil, errors.NewValidationFieldError("expenseIds", "expenseIds is required", errors.ErrCodeValidationFailed)
	}

	rows, err := s.query.ListByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("failed to load reimbursement batch", "error", err, "count", len(ids))
		return nil, errors.NewInternalError("failed to load expenses", err)
	}

	if err := s.checkBatch(ctx, actorID, ids, rows); err != nil {
		s.metrics.ReimbursementBatch(outcomeFor(err), len(ids))
		s.logger.Warn("reimbursement refused", "actor_id", actorID, "requested", len(ids), "error", err)
		return nil, err
	}

	at := s.audit.Now()
	metadata := map[string]interface{}{"batchReimbursement": true, "expenseCount": len(rows)}
	updates := make([]expense.TransitionUpdate, len(rows))
	for i, r := range rows {
		updates[i] = expense.TransitionUpdate{
			ExpenseID:       r.ID,
			From:            expense.StateApproved,
			To:              expense.StateReimbursed,
			ExpectedVersion: r.Version,
			At:              at,
			Entry: s.audit.StatusChange(audit.ActionUpdateStatus, actorID, reimburserRole,
				string(expense.StateApproved), string(expense.StateReimbursed), metadata),
		}
	}

	if err := s.writer.ApplyBatch(ctx, updates); err != nil {
		if stderrors.Is(err, errors.ErrStaleExpense) {
			s.metrics.ReimbursementBatch(metrics.OutcomeConflict, len(ids))
			s.logger.Warn("reimbursement lost a race", "actor_id", actorID, "requested", len(ids))
			return nil, errors.ErrStaleExpense
		}
		s.metrics.ReimbursementBatch(metrics.OutcomeError, len(ids))
		s.logger.Error("failed to apply reimbursement batch", "error", err, "actor_id", actorID)
		return nil, errors.NewInternalError("failed to reimburse expenses", err)
	}
	s.metrics.ReimbursementBatch(metrics.OutcomeApplied, len(rows))

	// request order, de-duplicated; checkBatch guarantees every id was updated
	updated := ids
	total := TotalPayout(rows)

	s.logger.Info("expenses reimbursed", "actor_id", actorID, "count", len(updated), "total", total.StringFixed(2))

	if s.bus != nil {
		if err := s.bus.Publish(ctx, events.NewExpensesReimbursedEvent(updated, actorID, total.StringFixed(2))); err != nil {
			s.logger.Warn("failed to publish reimbursement event", "error", err)
		}
	}

	return &ReimburseResult{UpdatedCount: len(updated), ExpenseIDs: updated}, nil
}

// checkBatch applies the batch preconditions in a fixed order: personal
// expenses, role in every organization, already reimbursed, eligible count.
func (s *Service) checkBatch(ctx context.Context, actorID string, ids []string, rows []ExpenseSummary) error {
	for _, r := range rows {
		if r.IsPersonal() {
			return errors.ErrPersonalReimburse
		}
	}

	checked := make(map[string]bool)
	for _, r := range rows {
		orgID := *r.OrganizationID
		if _, done := checked[orgID]; done {
			continue
		}
		if !s.roles.VerifyPermission(ctx, actorID, organization.RoleAdmin, orgID) {
			return errors.ErrInsufficientRole
		}
		checked[orgID] = true
	}

	for _, r := range rows {
		if r.State == string(expense.StateReimbursed) {
			return errors.NewConflictError("expense "+r.ID+" is already reimbursed", errors.ErrCodeStaleExpense)
		}
	}

	eligible := 0
	for _, r := range rows {
		if r.State == string(expense.StateApproved) {
			eligible++
		}
	}
	if eligible != len(ids) {
		return errors.NewPartialMatchError(len(ids), eligible)
	}
	return nil
}

// Export renders the requested expenses the actor administers. Others are dropped silently.
func (s *Service) Export(ctx context.Context, actorID string, dto ExportDTO) (*ExportFile, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.query.ListByIDs(ctx, dedupe(dto.ExpenseIDs))
	if err != nil {
		s.logger.Error("failed to load export", "error", err)
		return nil, errors.NewInternalError("failed to load expenses", err)
	}

	allowed := make(map[string]bool)
	perOrg := make(map[string]int)
	visible := make([]ExpenseSummary, 0, len(rows))
	for _, r := range rows {
		if r.IsPersonal() {
			continue
		}
		orgID := *r.OrganizationID
		ok, seen := allowed[orgID]
		if !seen {
			ok = s.roles.VerifyPermission(ctx, actorID, organization.RoleAdmin, orgID)
			allowed[orgID] = ok
		}
		if ok {
			visible = append(visible, r)
			perOrg[orgID]++
		}
	}
	if len(visible) == 0 {
		return nil, errors.NewNotFoundError("No matching expenses found", errors.ErrCodeExpenseNotFound)
	}

	now := s.audit.Now()
	file, err := renderExport(ExportFormat(dto.Format), visible, now)
	if err != nil {
		s.logger.Error("failed to render export", "error", err, "format", dto.Format)
		return nil, errors.NewInternalError("failed to render export", err)
	}

	for orgID, count := range perOrg {
		event := s.audit.OrganizationEvent(orgID, audit.ActionFinanceExport, actorID, s.roleName(ctx, actorID, orgID),
			map[string]interface{}{"format": dto.Format, "count": count})
		if err := s.log.Append(ctx, event); err != nil {
			s.logger.Error("failed to record export", "error", err, "organization_id", orgID)
			return nil, errors.NewInternalError("failed to record export", err)
		}
	}

	s.logger.Info("expenses exported", "actor_id", actorID, "format", dto.Format, "count", len(visible))
	return file, nil
}

func (s *Service) AuditEvents(ctx context.Context, actorID, orgID string, limit int) ([]audit.Event, error) {
	if orgID == "" {
		return nil, errors.NewValidationFieldError("organizationId", "organizationId is required", errors.ErrCodeMissingOrg)
	}
	if err := s.orgs.RequireRole(ctx, actorID, orgID, organization.RoleAdmin); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	evts, err := s.log.ListByOrganization(ctx, orgID, limit)
	if err != nil {
		s.logger.Error("failed to list audit events", "error", err, "organization_id", orgID)
		return nil, errors.NewInternalError("failed to list audit events", err)
	}
	return evts, nil
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
	default:
		return metrics.OutcomeRejected
	}
}
