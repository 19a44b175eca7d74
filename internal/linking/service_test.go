package linking_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/audit"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/core/testdb"
	"github.com/frahmantamala/expense-approval/internal/expense"
	expensePostgres "github.com/frahmantamala/expense-approval/internal/expense/postgres"
	"github.com/frahmantamala/expense-approval/internal/linking"
	linkingPostgres "github.com/frahmantamala/expense-approval/internal/linking/postgres"
	"github.com/frahmantamala/expense-approval/internal/organization"
	orgPostgres "github.com/frahmantamala/expense-approval/internal/organization/postgres"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var _ = Describe("LinkingService", func() {
	var (
		ctx         context.Context
		db          *gorm.DB
		expenseRepo *expensePostgres.ExpenseRepository
		service     *linking.Service

		orgID, otherOrgID string
		userID, outsider  string
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

		db, err = testdb.Open()
		Expect(err).NotTo(HaveOccurred())

		orgID, err = testdb.CreateOrganization(db, "Acme")
		Expect(err).NotTo(HaveOccurred())
		otherOrgID, err = testdb.CreateOrganization(db, "Globex")
		Expect(err).NotTo(HaveOccurred())
		userID, err = testdb.CreateUser(db, "joiner")
		Expect(err).NotTo(HaveOccurred())
		outsider, err = testdb.CreateUser(db, "outsider")
		Expect(err).NotTo(HaveOccurred())
		Expect(testdb.AddMember(db, orgID, userID, "member")).To(Succeed())
		Expect(testdb.AddMember(db, otherOrgID, userID, "member")).To(Succeed())

		gate := organization.NewGate(orgPostgres.NewOrganizationRepository(db), slogger)
		expenseRepo = expensePostgres.NewExpenseRepository(db)
		service = linking.NewService(linkingPostgres.NewNotificationRepository(db), gate, slogger)
	})

	AfterEach(func() {
		Expect(testdb.Close(db)).To(Succeed())
	})

	seed := func(owner string, org *string, state expense.State) string {
		now := time.Now().UTC()
		e := &expense.Expense{
			ID:             uuid.NewString(),
			UserID:         owner,
			OrganizationID: org,
			Title:          "Taxi",
			ManagerIDs:     []string{},
			LineItems:      []expense.LineItem{},
			TotalAmount:    decimal.RequireFromString("12.00"),
			State:          state,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		Expect(expenseRepo.Create(ctx, e)).To(Succeed())
		return e.ID
	}

	joined := func(user, org string) {
		Expect(service.OnMemberJoined(ctx, events.NewMemberJoinedEvent(org, user, "member"))).To(Succeed())
	}

	pending := func(user, org string) *linking.Notification {
		n, err := service.GetPending(ctx, user, org)
		Expect(err).NotTo(HaveOccurred())
		return n
	}

	Describe("OnMemberJoined", func() {
		It("offers linking when the user has personal drafts", func() {
			seed(userID, nil, expense.StateDraft)
			joined(userID, orgID)

			n := pending(userID, orgID)
			Expect(n).NotTo(BeNil())
			Expect(n.Status).To(Equal(linking.StatusPending))
		})

		It("creates a single pending notification per user and organization", func() {
			seed(userID, nil, expense.StateDraft)
			joined(userID, orgID)
			first := pending(userID, orgID)
			joined(userID, orgID)

			Expect(pending(userID, orgID).ID).To(Equal(first.ID))
		})

		It("does nothing without personal drafts", func() {
			seed(userID, nil, expense.StatePreApprovalPending)
			seed(userID, &otherOrgID, expense.StateDraft)
			joined(userID, orgID)

			Expect(pending(userID, orgID)).To(BeNil())
		})

		It("reads the ids from a generic payload", func() {
			seed(userID, nil, expense.StateDraft)
			evt := events.BaseEvent{
				ID:   uuid.NewString(),
				Type: events.EventTypeMemberJoined,
				Data: map[string]interface{}{"user_id": userID, "organization_id": orgID},
			}
			Expect(service.OnMemberJoined(ctx, evt)).To(Succeed())
			Expect(pending(userID, orgID)).NotTo(BeNil())
		})
	})

	Describe("Link", func() {
		It("moves exactly the personal drafts and audits each one", func() {
			// Given two personal drafts, a submitted personal expense and a draft in another org
			a := seed(userID, nil, expense.StateDraft)
			b := seed(userID, nil, expense.StateDraft)
			submitted := seed(userID, nil, expense.StatePreApprovalPending)
			elsewhere := seed(userID, &otherOrgID, expense.StateDraft)
			foreign := seed(outsider, nil, expense.StateDraft)
			joined(userID, orgID)
			n := pending(userID, orgID)

			// When the user links
			result, err := service.Act(ctx, userID, linking.ActionDTO{Action: linking.ActionLink, OrganizationID: orgID, NotificationID: n.ID})

			// Then only the two drafts move
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(*result.LinkedCount).To(Equal(2))

			for _, id := range []string{a, b} {
				e, err := expenseRepo.GetByID(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(*e.OrganizationID).To(Equal(orgID))
				Expect(e.Version).To(Equal(int64(2)))

				trail, err := expenseRepo.ListAudit(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(trail).To(HaveLen(1))
				Expect(trail[0].Action).To(Equal(audit.ActionLinkOrg))
				Expect(trail[0].ActorID).To(Equal(userID))
				Expect(trail[0].Changes).To(ConsistOf(audit.Change{Field: "organizationId", OldValue: nil, NewValue: orgID}))
			}

			for _, id := range []string{submitted, foreign} {
				e, err := expenseRepo.GetByID(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.OrganizationID).To(BeNil())
			}
			e, err := expenseRepo.GetByID(ctx, elsewhere)
			Expect(err).NotTo(HaveOccurred())
			Expect(*e.OrganizationID).To(Equal(otherOrgID))

			Expect(pending(userID, orgID)).To(BeNil())
		})

		It("answers not found on a resolved notification and leaves drafts alone", func() {
			seed(userID, nil, expense.StateDraft)
			joined(userID, orgID)
			n := pending(userID, orgID)
			Expect(service.Dismiss(ctx, userID, orgID, n.ID)).To(Succeed())

			late := seed(userID, nil, expense.StateDraft)
			_, err := service.Link(ctx, userID, orgID, n.ID)
			Expect(err).To(MatchError(errors.ErrNotificationNotFound))

			e, err := expenseRepo.GetByID(ctx, late)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.OrganizationID).To(BeNil())
			trail, err := expenseRepo.ListAudit(ctx, late)
			Expect(err).NotTo(HaveOccurred())
			Expect(trail).To(BeEmpty())
		})

		It("refuses users outside the organization", func() {
			_, err := service.Link(ctx, outsider, orgID, uuid.NewString())
			Expect(err).To(MatchError(errors.ErrInsufficientRole))
		})
	})

	Describe("Dismiss", func() {
		It("is a no-op the second time", func() {
			a := seed(userID, nil, expense.StateDraft)
			joined(userID, orgID)
			n := pending(userID, orgID)

			dto := linking.ActionDTO{Action: linking.ActionDismiss, OrganizationID: orgID, NotificationID: n.ID}
			result, err := service.Act(ctx, userID, dto)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.LinkedCount).To(BeNil())

			_, err = service.Act(ctx, userID, dto)
			Expect(err).NotTo(HaveOccurred())

			e, err := expenseRepo.GetByID(ctx, a)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.OrganizationID).To(BeNil())
		})

		It("answers not found for an unknown notification", func() {
			err := service.Dismiss(ctx, userID, orgID, uuid.NewString())
			Expect(err).To(MatchError(errors.ErrNotificationNotFound))
		})
	})

	It("validates the action", func() {
		_, err := service.Act(ctx, userID, linking.ActionDTO{Action: "merge", OrganizationID: orgID, NotificationID: "n"})
		appErr, ok := errors.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Type).To(Equal(errors.ErrorTypeValidation))
	})
})
