package linking

import (
	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/core/common/validation"
)

const (
	ActionLink    = "link"
	ActionDismiss = "dismiss"
)

type ActionDTO struct {
	Action         string `json:"action"`
	OrganizationID string `json:"organizationId"`
	NotificationID string `json:"notificationId"`
}

func (dto ActionDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("action", dto.Action).Required().OneOf(ActionLink, ActionDismiss)
	v.Field("organizationId", dto.OrganizationID).Required()
	v.Field("notificationId", dto.NotificationID).Required()
	return v.Validate()
}

type ActionResult struct {
	Success     bool `json:"success"`
	LinkedCount *int `json:"linkedCount,omitempty"`
}

type PendingResponse struct {
	Notification *Notification `json:"notification"`
}
