package organization_test

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/core/testdb"
	"github.com/frahmantamala/expense-approval/internal/organization"
	orgPostgres "github.com/frahmantamala/expense-approval/internal/organization/postgres"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("OrganizationService", func() {
	var (
		ctx     context.Context
		db      *gorm.DB
		bus     *events.EventBus
		service *organization.Service

		ownerID, adminID, memberID, newcomerID string
		orgID                                  string

		mu     sync.Mutex
		joined []*events.MemberJoinedEvent
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		slogger := slog.New(slog.NewTextHandler(io.Discard, nil))

		db, err = testdb.Open()
		Expect(err).NotTo(HaveOccurred())

		for _, id := range []*string{&ownerID, &adminID, &memberID, &newcomerID} {
			*id, err = testdb.CreateUser(db, "user")
			Expect(err).NotTo(HaveOccurred())
		}

		joined = nil
		bus = events.NewEventBus(slogger)
		bus.Subscribe(events.EventTypeMemberJoined, func(_ context.Context, e events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			joined = append(joined, e.(*events.MemberJoinedEvent))
			return nil
		})

		repo := orgPostgres.NewOrganizationRepository(db)
		service = organization.NewService(repo, organization.NewGate(repo, slogger), bus, slogger)

		org, err := service.CreateOrganization(ctx, ownerID, organization.CreateOrganizationDTO{Name: "  Acme  "})
		Expect(err).NotTo(HaveOccurred())
		Expect(org.Name).To(Equal("Acme"))
		orgID = org.ID

		Expect(testdb.AddMember(db, orgID, adminID, "admin")).To(Succeed())
		Expect(testdb.AddMember(db, orgID, memberID, "member")).To(Succeed())
	})

	AfterEach(func() {
		Expect(testdb.Close(db)).To(Succeed())
	})

	codeOf := func(err error) errors.ErrorCode {
		var appErr *errors.AppError
		Expect(stderrors.As(err, &appErr)).To(BeTrue(), "expected AppError, got %v", err)
		return appErr.Code
	}

	Describe("CreateOrganization", func() {
		It("makes the creator the owner", func() {
			m, err := service.FindMember(ctx, orgID, ownerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(m).NotTo(BeNil())
			Expect(m.Role).To(Equal(organization.RoleOwner))
		})

		It("rejects a blank name", func() {
			_, err := service.CreateOrganization(ctx, ownerID, organization.CreateOrganizationDTO{Name: "   "})
			Expect(codeOf(err)).To(Equal(errors.ErrCodeValidationFailed))
		})
	})

	Describe("RequireRole", func() {
		It("reports a missing organization before checking the role", func() {
			err := service.RequireRole(ctx, memberID, uuid.NewString(), organization.RoleAdmin)
			Expect(err).To(Equal(errors.ErrOrganizationNotFound))
		})

		It("forbids an insufficient role and outsiders alike", func() {
			Expect(service.RequireRole(ctx, memberID, orgID, organization.RoleAdmin)).To(Equal(errors.ErrInsufficientRole))
			Expect(service.RequireRole(ctx, newcomerID, orgID, organization.RoleMember)).To(Equal(errors.ErrInsufficientRole))
			Expect(service.RequireRole(ctx, adminID, orgID, organization.RoleAdmin)).To(Succeed())
		})
	})

	Describe("AddMember", func() {
		It("adds the member and announces the join", func() {
			m, err := service.AddMember(ctx, adminID, orgID, organization.AddMemberDTO{UserID: newcomerID, Role: "member"})
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Role).To(Equal(organization.RoleMember))

			Expect(joined).To(HaveLen(1))
			Expect(joined[0].UserID).To(Equal(newcomerID))
			Expect(joined[0].OrganizationID).To(Equal(orgID))
			Expect(joined[0].Role).To(Equal("member"))
		})

		It("keeps the membership when a listener fails", func() {
			bus.Subscribe(events.EventTypeMemberJoined, func(context.Context, events.Event) error {
				return stderrors.New("linking store down")
			})

			_, err := service.AddMember(ctx, adminID, orgID, organization.AddMemberDTO{UserID: newcomerID, Role: "member"})
			Expect(err).NotTo(HaveOccurred())

			m, err := service.FindMember(ctx, orgID, newcomerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(m).NotTo(BeNil())
		})

		It("requires admin to add and owner to grant owner", func() {
			_, err := service.AddMember(ctx, memberID, orgID, organization.AddMemberDTO{UserID: newcomerID, Role: "member"})
			Expect(err).To(Equal(errors.ErrInsufficientRole))

			_, err = service.AddMember(ctx, adminID, orgID, organization.AddMemberDTO{UserID: newcomerID, Role: "owner"})
			Expect(err).To(Equal(errors.ErrInsufficientRole))

			_, err = service.AddMember(ctx, ownerID, orgID, organization.AddMemberDTO{UserID: newcomerID, Role: "owner"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects unknown users, duplicates and bad roles", func() {
			_, err := service.AddMember(ctx, adminID, orgID, organization.AddMemberDTO{UserID: uuid.NewString(), Role: "member"})
			Expect(err).To(Equal(errors.ErrUserNotFound))

			_, err = service.AddMember(ctx, adminID, orgID, organization.AddMemberDTO{UserID: memberID, Role: "admin"})
			Expect(codeOf(err)).To(Equal(errors.ErrCodeAlreadyMember))

			_, err = service.AddMember(ctx, adminID, orgID, organization.AddMemberDTO{UserID: newcomerID, Role: "auditor"})
			Expect(codeOf(err)).To(Equal(errors.ErrCodeValidationFailed))
			Expect(joined).To(BeEmpty())
		})
	})

	Describe("GetManagers", func() {
		It("lists admins and owners other than the caller", func() {
			managers, err := service.GetManagers(ctx, adminID, orgID)
			Expect(err).NotTo(HaveOccurred())

			ids := make([]string, 0, len(managers))
			for _, m := range managers {
				ids = append(ids, m.ID)
			}
			Expect(ids).To(ConsistOf(ownerID))
		})

		It("is closed to non-members", func() {
			_, err := service.GetManagers(ctx, newcomerID, orgID)
			Expect(err).To(Equal(errors.ErrInsufficientRole))
		})
	})
})
