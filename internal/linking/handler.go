package linking

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/expense-approval/internal/transport"
	"github.com/frahmantamala/expense-approval/pkg/logger"
)

type ServiceAPI interface {
	GetPending(ctx context.Context, userID, orgID string) (*Notification, error)
	Act(ctx context.Context, userID string, dto ActionDTO) (*ActionResult, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

// GetPending handles GET /reactive-linking?organizationId=
func (h *Handler) GetPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "GetPendingLink")
	if !ok {
		return
	}
	orgID := r.URL.Query().Get("organizationId")

	n, err := h.Service.GetPending(r.Context(), userID, orgID)
	if err != nil {
		h.Logger.Warn("GetPendingLink: service error", "error", err, "organization_id", orgID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, PendingResponse{Notification: n})
}

func (h *Handler) Act(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "ReactiveLinking")
	if !ok {
		return
	}

	var dto ActionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	result, err := h.Service.Act(r.Context(), userID, dto)
	if err != nil {
		h.Logger.Warn("ReactiveLinking: service error", "error", err, "action", dto.Action, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}
