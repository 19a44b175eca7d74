package expense

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/expense-approval/internal/audit"
	"github.com/frahmantamala/expense-approval/internal/transport"
	"github.com/frahmantamala/expense-approval/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	CreateExpense(ctx context.Context, actorID string, dto CreateExpenseDTO) (*Expense, error)
	GetExpense(ctx context.Context, actorID, id string) (*Expense, error)
	AuditTrail(ctx context.Context, actorID, id string) ([]audit.Entry, error)
	ListMine(ctx context.Context, actorID string, limit, offset int) ([]*Expense, error)
	ListForReview(ctx context.Context, actorID, orgID, state string) ([]*Expense, error)
	UpdateDraft(ctx context.Context, actorID, id string, dto UpdateExpenseDTO) (*Expense, error)
	DeleteExpense(ctx context.Context, actorID, id string) error
	Submit(ctx context.Context, actorID, id string, dto SubmitDTO) (*Expense, error)
	PreApprove(ctx context.Context, actorID, id string, dto TransitionDTO) (*Expense, error)
	Reject(ctx context.Context, actorID, id string, dto TransitionDTO) (*Expense, error)
	RequestApproval(ctx context.Context, actorID, id string, dto TransitionDTO) (*Expense, error)
	Approve(ctx context.Context, actorID, id string, dto TransitionDTO) (*Expense, error)
	Override(ctx context.Context, actorID, id string, dto OverrideDTO) (*Expense, error)
	OverrideTotal(ctx context.Context, actorID, id string, dto OverrideTotalDTO) (*Expense, error)
	AttachmentURL(ctx context.Context, actorID, id, key string) (string, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "CreateExpense")
	if !ok {
		return
	}

	var dto CreateExpenseDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	expense, err := h.Service.CreateExpense(r.Context(), userID, dto)
	if err != nil {
		h.Logger.Warn("CreateExpense: service error", "error", err, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreateExpense: expense created successfully", "expense_id", expense.ID, "user_id", userID)
	h.WriteSuccess(w, http.StatusCreated, expense)
}

func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "GetExpense")
	if !ok {
		return
	}
	expenseID := chi.URLParam(r, "id")

	expense, err := h.Service.GetExpense(r.Context(), userID, expenseID)
	if err != nil {
		h.Logger.Warn("GetExpense: service error", "error", err, "expense_id", expenseID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, expense)
}

func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "GetAuditTrail")
	if !ok {
		return
	}
	expenseID := chi.URLParam(r, "id")

	trail, err := h.Service.AuditTrail(r.Context(), userID, expenseID)
	if err != nil {
		h.Logger.Warn("GetAuditTrail: service error", "error", err, "expense_id", expenseID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, trail)
}

func pagination(r *http.Request) (int, int) {
	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

func (h *Handler) ListMyExpenses(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "ListMyExpenses")
	if !ok {
		return
	}
	limit, offset := pagination(r)

	expenses, err := h.Service.ListMine(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error("ListMyExpenses: service error", "error", err, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusOK, ListResult{Expenses: expenses, Limit: limit, Offset: offset})
}

func (h *Handler) ListForReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "ListForReview")
	if !ok {
		return
	}
	orgID := r.URL.Query().Get("organizationId")
	state := r.URL.Query().Get("state")

	expenses, err := h.Service.ListForReview(r.Context(), userID, orgID, state)
	if err != nil {
		h.Logger.Warn("ListForReview: service error", "error", err, "organization_id", orgID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"expenses": expenses,
		"count":    len(expenses),
	})
}

func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "UpdateExpense")
	if !ok {
		return
	}
	expenseID := chi.URLParam(r, "id")

	var dto UpdateExpenseDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	expense, err := h.Service.UpdateDraft(r.Context(), userID, expenseID, dto)
	if err != nil {
		h.Logger.Warn("UpdateExpense: service error", "error", err, "expense_id", expenseID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, expense)
}

func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "DeleteExpense")
	if !ok {
		return
	}
	expenseID := chi.URLParam(r, "id")

	if err := h.Service.DeleteExpense(r.Context(), userID, expenseID); err != nil {
		h.Logger.Warn("DeleteExpense: service error", "error", err, "expense_id", expenseID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("DeleteExpense: expense deleted", "expense_id", expenseID, "user_id", userID)
	h.WriteJSON(w, http.StatusOK, transport.SuccessResponse{Success: true})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "Submit")
	if !ok {
		return
	}
	expenseID := chi.URLParam(r, "id")

	var dto SubmitDTO
	if r.ContentLength != 0 {
		if err := h.DecodeJSON(r, &dto); err != nil {
			h.HandleServiceError(w, err)
			return
		}
	}

	expense, err := h.Service.Submit(r.Context(), userID, expenseID, dto)
	if err != nil {
		h.Logger.Warn("Submit: service error", "error", err, "expense_id", expenseID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, expense)
}

type transitionFunc func(ctx context.Context, actorID, id string, dto TransitionDTO) (*Expense, error)

func (h *Handler) transition(operation string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.CurrentUserID(w, r, operation)
		if !ok {
			return
		}
		expenseID := chi.URLParam(r, "id")

		var dto TransitionDTO
		if r.ContentLength != 0 {
			if err := h.DecodeJSON(r, &dto); err != nil {
				h.HandleServiceError(w, err)
				return
			}
		}

		expense, err := fn(r.Context(), userID, expenseID, dto)
		if err != nil {
			h.Logger.Warn(operation+": service error", "error", err, "expense_id", expenseID, "user_id", userID)
			h.HandleServiceError(w, err)
			return
		}

		h.Logger.Info(operation+": expense transitioned", "expense_id", expenseID, "state", expense.State, "user_id", userID)
		h.WriteSuccess(w, http.StatusOK, expense)
	}
}

func (h *Handler) PreApprove(w http.ResponseWriter, r *http.Request) {
	h.transition("PreApprove", h.Service.PreApprove)(w, r)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition("Reject", h.Service.Reject)(w, r)
}

func (h *Handler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	h.transition("RequestApproval", h.Service.RequestApproval)(w, r)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition("Approve", h.Service.Approve)(w, r)
}

func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "Override")
	if !ok {
		return
	}
	expenseID := chi.URLParam(r, "id")

	var dto OverrideDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	expense, err := h.Service.Override(r.Context(), userID, expenseID, dto)
	if err != nil {
		h.Logger.Warn("Override: service error", "error", err, "expense_id", expenseID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("Override: admin override applied", "expense_id", expenseID, "state", expense.State, "user_id", userID)
	h.WriteSuccess(w, http.StatusOK, expense)
}

func (h *Handler) OverrideTotal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "OverrideTotal")
	if !ok {
		return
	}
	expenseID := chi.URLParam(r, "id")

	var dto OverrideTotalDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	expense, err := h.Service.OverrideTotal(r.Context(), userID, expenseID, dto)
	if err != nil {
		h.Logger.Warn("OverrideTotal: service error", "error", err, "expense_id", expenseID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, expense)
}

func (h *Handler) GetAttachmentURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "GetAttachmentURL")
	if !ok {
		return
	}
	expenseID := chi.URLParam(r, "id")
	key := r.URL.Query().Get("key")

	url, err := h.Service.AttachmentURL(r.Context(), userID, expenseID, key)
	if err != nil {
		h.Logger.Warn("GetAttachmentURL: service error", "error", err, "expense_id", expenseID, "key", key)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, map[string]string{"url": url})
}
