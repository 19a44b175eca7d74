package finance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/expense-approval/internal/audit"
	"github.com/frahmantamala/expense-approval/internal/transport"
	"github.com/frahmantamala/expense-approval/pkg/logger"
)

type ServiceAPI interface {
	Dashboard(ctx context.Context, actorID, orgID, status string) (*Dashboard, error)
	Reimburse(ctx context.Context, actorID string, dto ReimburseDTO) (*ReimburseResult, error)
	Export(ctx context.Context, actorID string, dto ExportDTO) (*ExportFile, error)
	AuditEvents(ctx context.Context, actorID, orgID string, limit int) ([]audit.Event, error)
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

func (h *Handler) GetExpenses(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "GetFinanceExpenses")
	if !ok {
		return
	}
	orgID := r.URL.Query().Get("organizationId")
	status := r.URL.Query().Get("status")

	dashboard, err := h.Service.Dashboard(r.Context(), userID, orgID, status)
	if err != nil {
		h.Logger.Warn("GetFinanceExpenses: service error", "error", err, "organization_id", orgID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, dashboard)
}

func (h *Handler) Reimburse(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "Reimburse")
	if !ok {
		return
	}

	var dto ReimburseDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	result, err := h.Service.Reimburse(r.Context(), userID, dto)
	if err != nil {
		h.Logger.Warn("Reimburse: service error", "error", err, "user_id", userID, "requested", len(dto.ExpenseIDs))
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("Reimburse: batch committed", "user_id", userID, "updated", result.UpdatedCount)
	h.WriteSuccess(w, http.StatusOK, result)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "Export")
	if !ok {
		return
	}

	var dto ExportDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	file, err := h.Service.Export(r.Context(), userID, dto)
	if err != nil {
		h.Logger.Warn("Export: service error", "error", err, "user_id", userID, "format", dto.Format)
		h.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Body); err != nil {
		h.Logger.Error("Export: failed to write body", "error", err)
	}
}

func (h *Handler) GetAuditEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "GetAuditEvents")
	if !ok {
		return
	}
	orgID := r.URL.Query().Get("organizationId")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	evts, err := h.Service.AuditEvents(r.Context(), userID, orgID, limit)
	if err != nil {
		h.Logger.Warn("GetAuditEvents: service error", "error", err, "organization_id", orgID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, evts)
}
