package organization_test

import (
	"context"
	"errors"
	"io"
	"log/slog"

	orgDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/organization"
	"github.com/frahmantamala/expense-approval/internal/organization"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubMembers struct {
	member *orgDatamodel.Member
	err    error
}

func (s stubMembers) FindMember(context.Context, string, string) (*orgDatamodel.Member, error) {
	return s.member, s.err
}

var _ = Describe("Role", func() {
	DescribeTable("AtLeast",
		func(have, need organization.Role, want bool) {
			Expect(have.AtLeast(need)).To(Equal(want))
		},
		Entry("owner satisfies admin", organization.RoleOwner, organization.RoleAdmin, true),
		Entry("admin satisfies member", organization.RoleAdmin, organization.RoleMember, true),
		Entry("member does not satisfy admin", organization.RoleMember, organization.RoleAdmin, false),
		Entry("unknown satisfies nothing", organization.RoleUnknown, organization.RoleMember, false),
		Entry("nothing satisfies unknown", organization.RoleOwner, organization.RoleUnknown, false),
	)

	It("parses case-insensitively and refuses to marshal unknown", func() {
		role, ok := organization.ParseRole(" Admin ")
		Expect(ok).To(BeTrue())
		Expect(role).To(Equal(organization.RoleAdmin))

		_, ok = organization.ParseRole("auditor")
		Expect(ok).To(BeFalse())

		_, err := organization.RoleUnknown.MarshalText()
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Gate", func() {
	var (
		ctx     context.Context
		slogger *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		slogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	gateWith := func(m *orgDatamodel.Member, err error) *organization.Gate {
		return organization.NewGate(stubMembers{member: m, err: err}, slogger)
	}

	It("resolves the stored role", func() {
		gate := gateWith(&orgDatamodel.Member{Role: "admin"}, nil)
		role, ok := gate.ResolveRole(ctx, "user-1", "org-1")
		Expect(ok).To(BeTrue())
		Expect(role).To(Equal(organization.RoleAdmin))
	})

	It("answers false for missing ids, missing memberships, lookup errors and unknown roles", func() {
		Expect(gateWith(&orgDatamodel.Member{Role: "owner"}, nil).VerifyPermission(ctx, "", organization.RoleMember, "org-1")).To(BeFalse())
		Expect(gateWith(nil, nil).VerifyPermission(ctx, "user-1", organization.RoleMember, "org-1")).To(BeFalse())
		Expect(gateWith(nil, errors.New("connection reset")).VerifyPermission(ctx, "user-1", organization.RoleMember, "org-1")).To(BeFalse())
		Expect(gateWith(&orgDatamodel.Member{Role: "auditor"}, nil).VerifyPermission(ctx, "user-1", organization.RoleMember, "org-1")).To(BeFalse())
	})

	It("applies the role hierarchy", func() {
		gate := gateWith(&orgDatamodel.Member{Role: "admin"}, nil)
		Expect(gate.VerifyPermission(ctx, "user-1", organization.RoleMember, "org-1")).To(BeTrue())
		Expect(gate.VerifyPermission(ctx, "user-1", organization.RoleAdmin, "org-1")).To(BeTrue())
		Expect(gate.VerifyPermission(ctx, "user-1", organization.RoleOwner, "org-1")).To(BeFalse())
	})
})
