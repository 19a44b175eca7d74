package organization

import (
	"time"

	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
)

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member is the listing shape for /organizations/managers.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type Membership struct {
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
}

func FromDataModel(o *orgDatamodel.Organization) *Organization {
	return &Organization{
		ID:        o.ID,
		Name:      o.Name,
		CreatedAt: o.CreatedAt,
	}
}

func MembershipFromDataModel(m *orgDatamodel.Member) *Membership {
	role, _ := ParseRole(m.Role)
	return &Membership{
		OrganizationID: m.OrganizationID,
		UserID:         m.UserID,
		Role:           role,
		CreatedAt:      m.CreatedAt,
	}
}

// MembersFromDataModel drops rows whose stored role does not parse.
func MembersFromDataModel(rows []*orgDatamodel.MemberWithUser) []Member {
	members := make([]Member, 0, len(rows))
	for _, row := range rows {
		role, ok := ParseRole(row.Role)
		if !ok {
			continue
		}
		members = append(members, Member{
			ID:    row.UserID,
			Name:  row.Name,
			Email: row.Email,
			Role:  role,
		})
	}
	return members
}
