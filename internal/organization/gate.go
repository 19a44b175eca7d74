package organization

import (
	"context"
	"log/slog"

	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
)

// MemberFinder returns nil, nil when the user has no membership.
type MemberFinder interface {
	FindMember(ctx context.Context, orgID, userID string) (*orgDatamodel.Member, error)
}

// Gate answers role questions for an actor inside one organization.
type Gate struct {
	members MemberFinder
	logger  *slog.Logger
}

func NewGate(members MemberFinder, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{members: members, logger: logger}
}

// ResolveRole never fails: lookup errors, missing memberships and unknown stored roles all yield false.
func (g *Gate) ResolveRole(ctx context.Context, actorID, orgID string) (Role, bool) {
	if actorID == "" || orgID == "" {
		return RoleUnknown, false
	}

	member, err := g.members.FindMember(ctx, orgID, actorID)
	if err != nil {
		g.logger.Error("permission gate: membership lookup failed",
			"actor_id", actorID,
			"organization_id", orgID,
			"error", err)
		return RoleUnknown, false
	}
	if member == nil {
		return RoleUnknown, false
	}

	role, ok := ParseRole(member.Role)
	if !ok {
		g.logger.Error("permission gate: unknown stored role",
			"actor_id", actorID,
			"organization_id", orgID,
			"role", member.Role)
		return RoleUnknown, false
	}
	return role, true
}

func (g *Gate) VerifyPermission(ctx context.Context, actorID string, required Role, orgID string) bool {
	role, ok := g.ResolveRole(ctx, actorID, orgID)
	if !ok {
		g.logger.Warn("permission gate: no membership",
			"actor_id", actorID,
			"organization_id", orgID,
			"required_role", required.String())
		return false
	}
	if !role.AtLeast(required) {
		g.logger.Warn("permission gate: insufficient role",
			"actor_id", actorID,
			"organization_id", orgID,
			"role", role.String(),
			"required_role", required.String())
		return false
	}
	return true
}
