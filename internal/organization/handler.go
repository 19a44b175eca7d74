package organization

import (
	"context"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/transport"
	"github.com/frahmantamala/expense-approval/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	CreateOrganization(ctx context.Context, actorID string, dto CreateOrganizationDTO) (*Organization, error)
	AddMember(ctx context.Context, actorID, orgID string, dto AddMemberDTO) (*Membership, error)
	GetManagers(ctx context.Context, actorID, orgID string) ([]Member, error)
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

func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "CreateOrganization")
	if !ok {
		return
	}

	var dto CreateOrganizationDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	org, err := h.Service.CreateOrganization(r.Context(), userID, dto)
	if err != nil {
		h.Logger.Error("CreateOrganization: service error", "error", err, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusCreated, org)
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "AddMember")
	if !ok {
		return
	}

	orgID := chi.URLParam(r, "id")
	var dto AddMemberDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	membership, err := h.Service.AddMember(r.Context(), userID, orgID, dto)
	if err != nil {
		h.Logger.Error("AddMember: service error", "error", err, "organization_id", orgID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusCreated, membership)
}

// GetManagers handles GET /organizations/managers?organizationId=
func (h *Handler) GetManagers(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(w, r, "GetManagers")
	if !ok {
		return
	}

	orgID := r.URL.Query().Get("organizationId")
	if orgID == "" {
		h.HandleServiceError(w, errors.NewValidationError("organizationId is required", errors.ErrCodeMissingOrg))
		return
	}

	managers, err := h.Service.GetManagers(r.Context(), userID, orgID)
	if err != nil {
		h.Logger.Error("GetManagers: service error", "error", err, "organization_id", orgID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, managers)
}
