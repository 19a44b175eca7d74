package linking

import (
	"time"

	linkingDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/linking"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusLinked    Status = "linked"
	StatusDismissed Status = "dismissed"
)

// Notification offers a user to move personal drafts into an organization they joined.
type Notification struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	OrganizationID string     `json:"organizationId"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

func FromDataModel(n *linkingDatamodel.Notification) *Notification {
	return &Notification{
		ID:             n.ID,
		UserID:         n.UserID,
		OrganizationID: n.OrganizationID,
		Status:         Status(n.Status),
		CreatedAt:      n.CreatedAt,
		ResolvedAt:     n.ResolvedAt,
	}
}

func ToDataModel(n *Notification) *linkingDatamodel.Notification {
	return &linkingDatamodel.Notification{
		ID:             n.ID,
		UserID:         n.UserID,
		OrganizationID: n.OrganizationID,
		Status:         string(n.Status),
		CreatedAt:      n.CreatedAt,
		ResolvedAt:     n.ResolvedAt,
	}
}
