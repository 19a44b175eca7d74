package expense_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/audit"
	"github.com/frahmantamala/expense-approval/internal/core/metrics"
	"github.com/frahmantamala/expense-approval/internal/core/testdb"
	"github.com/frahmantamala/expense-approval/internal/expense"
	expensePostgres "github.com/frahmantamala/expense-approval/internal/expense/postgres"
	"github.com/frahmantamala/expense-approval/internal/organization"
	orgPostgres "github.com/frahmantamala/expense-approval/internal/organization/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fakeBlobStore struct {
	deleted []string
}

func (f *fakeBlobStore) PresignGet(_ context.Context, key string) (string, error) {
	return "https://blobs.example.com/" + key + "?signature=test", nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeCategories struct{}

func (fakeCategories) IsValidCategory(_ context.Context, name string) (bool, error) {
	return name == "travel" || name == "meals", nil
}

func lineItem(amount string) expense.LineItemDTO {
	return expense.LineItemDTO{
		Amount: decimal.RequireFromString(amount),
		Date:   expense.NewDate(time.Now().AddDate(0, 0, -1)),
	}
}

var _ = Describe("ExpenseService", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		service  *expense.Service
		repo     *expensePostgres.ExpenseRepository
		blobs    *fakeBlobStore
		recorder *metrics.Recorder

		orgID                                    string
		creatorID, managerID, adminID, memberID string
		outsiderID                               string
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

		db, err = testdb.Open()
		Expect(err).NotTo(HaveOccurred())

		orgID, err = testdb.CreateOrganization(db, "Acme")
		Expect(err).NotTo(HaveOccurred())
		for _, u := range []struct {
			id   *string
			name string
			role string
		}{
			{&creatorID, "creator", "member"},
			{&managerID, "manager", "member"},
			{&adminID, "admin", "admin"},
			{&memberID, "member", "member"},
			{&outsiderID, "outsider", ""},
		} {
			*u.id, err = testdb.CreateUser(db, u.name)
			Expect(err).NotTo(HaveOccurred())
			if u.role != "" {
				Expect(testdb.AddMember(db, orgID, *u.id, u.role)).To(Succeed())
			}
		}

		gate := organization.NewGate(orgPostgres.NewOrganizationRepository(db), slogger)
		repo = expensePostgres.NewExpenseRepository(db)
		blobs = &fakeBlobStore{}
		recorder = metrics.NewRecorder()
		service = expense.NewService(repo, gate, fakeCategories{}, blobs, nil, recorder, slogger)
	})

	AfterEach(func() {
		Expect(testdb.Close(db)).To(Succeed())
	})

	newOrgExpense := func(amounts ...string) *expense.Expense {
		items := make([]expense.LineItemDTO, len(amounts))
		for i, a := range amounts {
			items[i] = lineItem(a)
		}
		e, err := service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{
			Title:          "Conference trip",
			OrganizationID: &orgID,
			ManagerIDs:     []string{managerID},
			LineItems:      items,
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	errType := func(err error) errors.ErrorType {
		appErr, ok := errors.IsAppError(err)
		Expect(ok).To(BeTrue(), "expected an AppError, got %v", err)
		return appErr.Type
	}

	Describe("CreateExpense", func() {
		It("creates a draft whose total is the line-item sum", func() {
			e := newOrgExpense("80.00", "40.00")

			Expect(e.State).To(Equal(expense.StateDraft))
			Expect(e.TotalAmount.Equal(decimal.RequireFromString("120.00"))).To(BeTrue())
			Expect(e.Version).To(Equal(int64(1)))

			stored, err := service.GetExpense(ctx, creatorID, e.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.LineItems).To(HaveLen(2))
			Expect(stored.AuditTrail).To(BeEmpty())
		})

		It("creates a personal expense without an organization", func() {
			e, err := service.CreateExpense(ctx, outsiderID, expense.CreateExpenseDTO{
				Title:     "Taxi",
				LineItems: []expense.LineItemDTO{lineItem("12.50")},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.IsPersonal()).To(BeTrue())
		})

		It("refuses organizations the caller does not belong to", func() {
			_, err := service.CreateExpense(ctx, outsiderID, expense.CreateExpenseDTO{
				Title:          "Taxi",
				OrganizationID: &orgID,
			})
			Expect(err).To(MatchError(errors.ErrInsufficientRole))
		})

		It("rejects future dates, non-positive amounts and unknown categories", func() {
			future := lineItem("10.00")
			future.Date = expense.NewDate(time.Now().AddDate(0, 0, 2))
			_, err := service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{Title: "x", LineItems: []expense.LineItemDTO{future}})
			Expect(errType(err)).To(Equal(errors.ErrorTypeValidation))

			_, err = service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{Title: "x", LineItems: []expense.LineItemDTO{lineItem("0")}})
			Expect(errType(err)).To(Equal(errors.ErrorTypeValidation))

			unknown := "yachts"
			item := lineItem("10.00")
			item.Category = &unknown
			_, err = service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{Title: "x", LineItems: []expense.LineItemDTO{item}})
			appErr, _ := errors.IsAppError(err)
			Expect(appErr.GetDetailedMessage()).To(ContainSubstring("yachts"))
		})
	})

	Describe("full workflow", func() {
		It("appends exactly one audit entry per transition", func() {
			// Given a draft
			e := newOrgExpense("50.00")

			// When it travels the whole forward flow
			_, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.PreApprove(ctx, managerID, e.ID, expense.TransitionDTO{Comment: "looks fine"})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.RequestApproval(ctx, creatorID, e.ID, expense.TransitionDTO{})
			Expect(err).NotTo(HaveOccurred())
			approved, err := service.Approve(ctx, adminID, e.ID, expense.TransitionDTO{})
			Expect(err).NotTo(HaveOccurred())

			// Then the trail holds four status changes in order
			Expect(approved.State).To(Equal(expense.StateApproved))
			Expect(approved.Version).To(Equal(int64(5)))

			trail, err := service.AuditTrail(ctx, creatorID, e.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(trail).To(HaveLen(4))
			Expect(trail[0].Action).To(Equal(audit.ActionUpdateStatus))
			Expect(trail[0].Role).To(Equal("member"))
			Expect(trail[0].Changes).To(ConsistOf(audit.Change{Field: "status", OldValue: "Draft", NewValue: "PreApprovalPending"}))
			Expect(trail[1].ActorID).To(Equal(managerID))
			Expect(trail[1].Metadata).To(HaveKeyWithValue("comment", "looks fine"))
			Expect(trail[3].Role).To(Equal("admin"))
			Expect(trail[3].Changes[0].NewValue).To(Equal("Approved"))

			Expect(testutil.ToFloat64(recorder.TransitionCounter().WithLabelValues("submit", metrics.OutcomeApplied))).To(Equal(1.0))
			Expect(testutil.ToFloat64(recorder.TransitionCounter().WithLabelValues("approve", metrics.OutcomeApplied))).To(Equal(1.0))
		})

		It("treats Rejected as terminal", func() {
			e := newOrgExpense("50.00")
			_, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Reject(ctx, managerID, e.ID, expense.TransitionDTO{Comment: "missing receipt"})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			Expect(errType(err)).To(Equal(errors.ErrorTypeInvalidTransition))
			_, err = service.PreApprove(ctx, managerID, e.ID, expense.TransitionDTO{})
			Expect(errType(err)).To(Equal(errors.ErrorTypeInvalidTransition))

			trail, err := service.AuditTrail(ctx, creatorID, e.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(trail).To(HaveLen(2))
		})

		It("leaves state and trail untouched when a guard fails", func() {
			e := newOrgExpense("50.00")
			_, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.PreApprove(ctx, memberID, e.ID, expense.TransitionDTO{})
			Expect(err).To(MatchError(errors.ErrUnauthorizedAccess))
			_, err = service.Approve(ctx, managerID, e.ID, expense.TransitionDTO{})
			Expect(errType(err)).To(Equal(errors.ErrorTypeInvalidTransition))

			stored, err := service.GetExpense(ctx, creatorID, e.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.State).To(Equal(expense.StatePreApprovalPending))
			Expect(stored.AuditTrail).To(HaveLen(1))
		})
	})

	Describe("Submit", func() {
		It("refuses personal expenses", func() {
			e, err := service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{
				Title:      "Personal",
				ManagerIDs: []string{managerID},
				LineItems:  []expense.LineItemDTO{lineItem("10.00")},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(errors.ErrCodeMissingOrg))
		})

		It("requires at least one line item", func() {
			e := newOrgExpense()
			_, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			appErr, _ := errors.IsAppError(err)
			Expect(appErr.Code).To(Equal(errors.ErrCodeNoLineItems))
		})

		It("requires designated managers instead of guessing one", func() {
			e, err := service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{
				Title:          "No reviewer",
				OrganizationID: &orgID,
				LineItems:      []expense.LineItemDTO{lineItem("10.00")},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			appErr, _ := errors.IsAppError(err)
			Expect(appErr.Type).To(Equal(errors.ErrorTypeValidation))
			Expect(appErr.Code).To(Equal(errors.ErrCodeNoManagers))
		})

		It("refuses managers outside the organization", func() {
			e, err := service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{
				Title:          "Outside reviewer",
				OrganizationID: &orgID,
				ManagerIDs:     []string{outsiderID},
				LineItems:      []expense.LineItemDTO{lineItem("10.00")},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			Expect(errType(err)).To(Equal(errors.ErrorTypeValidation))
		})

		Context("when totalAmount was set manually to 100.00 against 120.00 of line items", func() {
			var e *expense.Expense

			BeforeEach(func() {
				manual := decimal.RequireFromString("100.00")
				var err error
				e, err = service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{
					Title:          "Mismatch",
					OrganizationID: &orgID,
					ManagerIDs:     []string{managerID},
					LineItems:      []expense.LineItemDTO{lineItem("70.00"), lineItem("50.00")},
					TotalAmount:    &manual,
				})
				Expect(err).NotTo(HaveOccurred())
			})

			It("rejects the submission without reconcile", func() {
				_, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodeTotalMismatch))

				stored, err := service.GetExpense(ctx, creatorID, e.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(stored.State).To(Equal(expense.StateDraft))
				Expect(stored.AuditTrail).To(BeEmpty())
			})

			It("reconciles the total inside the same audit entry", func() {
				submitted, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{ReconcileTotal: true})
				Expect(err).NotTo(HaveOccurred())
				Expect(submitted.TotalAmount.StringFixed(2)).To(Equal("120.00"))

				stored, err := service.GetExpense(ctx, creatorID, e.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(stored.TotalAmount.StringFixed(2)).To(Equal("120.00"))
				Expect(stored.AuditTrail).To(HaveLen(1))
				Expect(stored.AuditTrail[0].Changes).To(ContainElement(audit.Change{
					Field: "totalAmount", OldValue: "100.00", NewValue: "120.00",
				}))
				Expect(stored.AuditTrail[0].Metadata).To(HaveKeyWithValue("reconciledTotal", true))
			})

			It("accepts the total once an admin has overridden it", func() {
				_, err := service.OverrideTotal(ctx, adminID, e.ID, expense.OverrideTotalDTO{
					TotalAmount: decimal.RequireFromString("100.00"),
					Reason:      "agreed cap",
				})
				Expect(err).NotTo(HaveOccurred())

				submitted, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
				Expect(err).NotTo(HaveOccurred())
				Expect(submitted.TotalAmount.StringFixed(2)).To(Equal("100.00"))

				trail, err := service.AuditTrail(ctx, creatorID, e.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(trail).To(HaveLen(2))
				Expect(trail[0].Action).To(Equal(audit.ActionUpdateTotal))
				Expect(trail[0].Metadata).To(HaveKeyWithValue("adminOverride", true))
			})
		})
	})

	Describe("OverrideTotal", func() {
		It("is read-only once pre-approved", func() {
			e := newOrgExpense("10.00")
			_, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.PreApprove(ctx, managerID, e.ID, expense.TransitionDTO{})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.OverrideTotal(ctx, adminID, e.ID, expense.OverrideTotalDTO{
				TotalAmount: decimal.RequireFromString("5.00"),
				Reason:      "too late",
			})
			Expect(errType(err)).To(Equal(errors.ErrorTypeInvalidTransition))
		})

		It("is refused to members", func() {
			e := newOrgExpense("10.00")
			_, err := service.OverrideTotal(ctx, managerID, e.ID, expense.OverrideTotalDTO{
				TotalAmount: decimal.RequireFromString("5.00"),
				Reason:      "nope",
			})
			Expect(err).To(MatchError(errors.ErrInsufficientRole))
		})
	})

	Describe("Override", func() {
		It("moves a rejected expense back to Draft and flags the entry", func() {
			e := newOrgExpense("10.00")
			_, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Reject(ctx, managerID, e.ID, expense.TransitionDTO{})
			Expect(err).NotTo(HaveOccurred())

			overridden, err := service.Override(ctx, adminID, e.ID, expense.OverrideDTO{State: "Draft", Reason: "resubmission allowed"})
			Expect(err).NotTo(HaveOccurred())
			Expect(overridden.State).To(Equal(expense.StateDraft))

			trail, err := service.AuditTrail(ctx, adminID, e.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(trail).To(HaveLen(3))
			last := trail[2]
			Expect(last.Action).To(Equal(audit.ActionUpdateStatus))
			Expect(last.Metadata).To(HaveKeyWithValue("adminOverride", true))
			Expect(last.Metadata).To(HaveKeyWithValue("reason", "resubmission allowed"))
		})

		It("is refused to the creator", func() {
			e := newOrgExpense("10.00")
			_, err := service.Override(ctx, creatorID, e.ID, expense.OverrideDTO{State: "Approved", Reason: "please"})
			Expect(err).To(MatchError(errors.ErrInsufficientRole))
		})
	})

	Describe("version stamps", func() {
		It("refuses a stale version without touching the trail", func() {
			e := newOrgExpense("10.00")
			stale := e.Version
			_, err := service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Override(ctx, adminID, e.ID, expense.OverrideDTO{State: "Draft", Reason: "x", Version: &stale})
			Expect(err).To(MatchError(errors.ErrStaleExpense))

			trail, err := service.AuditTrail(ctx, adminID, e.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(trail).To(HaveLen(1))
		})
	})

	Describe("UpdateDraft", func() {
		It("replaces line items, audits the edit and deletes orphaned attachments", func() {
			item := lineItem("10.00")
			item.Attachments = []string{"receipts/a.pdf", "receipts/b.pdf"}
			e, err := service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{
				Title:          "Lunch",
				OrganizationID: &orgID,
				LineItems:      []expense.LineItemDTO{item},
			})
			Expect(err).NotTo(HaveOccurred())

			kept := lineItem("25.00")
			kept.Attachments = []string{"receipts/b.pdf"}
			updated, err := service.UpdateDraft(ctx, creatorID, e.ID, expense.UpdateExpenseDTO{
				Title:      "Team lunch",
				ManagerIDs: []string{managerID, managerID},
				LineItems:  []expense.LineItemDTO{kept},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.ManagerIDs).To(Equal([]string{managerID}))
			Expect(updated.TotalAmount.StringFixed(2)).To(Equal("25.00"))
			Expect(blobs.deleted).To(Equal([]string{"receipts/a.pdf"}))

			stored, err := service.GetExpense(ctx, creatorID, e.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Title).To(Equal("Team lunch"))
			Expect(stored.LineItems).To(HaveLen(1))
			Expect(stored.AuditTrail).To(HaveLen(1))
			Expect(stored.AuditTrail[0].Action).To(Equal(audit.ActionUpdate))
		})

		It("is limited to the creator and the Draft state", func() {
			e := newOrgExpense("10.00")
			_, err := service.UpdateDraft(ctx, adminID, e.ID, expense.UpdateExpenseDTO{Title: "x"})
			Expect(errType(err)).To(Equal(errors.ErrorTypeForbidden))

			_, err = service.Submit(ctx, creatorID, e.ID, expense.SubmitDTO{})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.UpdateDraft(ctx, creatorID, e.ID, expense.UpdateExpenseDTO{Title: "x"})
			Expect(errType(err)).To(Equal(errors.ErrorTypeInvalidTransition))
		})
	})

	Describe("DeleteExpense", func() {
		It("soft-deletes and hides the expense", func() {
			e := newOrgExpense("10.00")
			Expect(service.DeleteExpense(ctx, adminID, e.ID)).To(Succeed())

			_, err := service.GetExpense(ctx, creatorID, e.ID)
			Expect(err).To(MatchError(errors.ErrExpenseNotFound))

			trail, err := repo.ListAudit(ctx, e.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(trail).To(HaveLen(1))
			Expect(trail[0].Action).To(Equal(audit.ActionDelete))
			Expect(trail[0].Changes[0].NewValue).To(Equal("Deleted"))
		})

		It("is refused to other members", func() {
			e := newOrgExpense("10.00")
			err := service.DeleteExpense(ctx, managerID, e.ID)
			Expect(errType(err)).To(Equal(errors.ErrorTypeForbidden))
		})
	})

	Describe("ListForReview", func() {
		It("shows admins every pending expense and members only their own assignments", func() {
			assigned := newOrgExpense("10.00")
			_, err := service.Submit(ctx, creatorID, assigned.ID, expense.SubmitDTO{})
			Expect(err).NotTo(HaveOccurred())

			other, err := service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{
				Title:          "Other",
				OrganizationID: &orgID,
				ManagerIDs:     []string{adminID},
				LineItems:      []expense.LineItemDTO{lineItem("20.00")},
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Submit(ctx, creatorID, other.ID, expense.SubmitDTO{})
			Expect(err).NotTo(HaveOccurred())

			forAdmin, err := service.ListForReview(ctx, adminID, orgID, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(forAdmin).To(HaveLen(2))

			forManager, err := service.ListForReview(ctx, managerID, orgID, "PreApprovalPending")
			Expect(err).NotTo(HaveOccurred())
			Expect(forManager).To(HaveLen(1))
			Expect(forManager[0].ID).To(Equal(assigned.ID))

			_, err = service.ListForReview(ctx, outsiderID, orgID, "")
			Expect(err).To(MatchError(errors.ErrInsufficientRole))
		})
	})

	Describe("AttachmentURL", func() {
		It("presigns keys that belong to the expense only", func() {
			item := lineItem("10.00")
			item.Attachments = []string{"receipts/a.pdf"}
			e, err := service.CreateExpense(ctx, creatorID, expense.CreateExpenseDTO{
				Title:     "Receipt",
				LineItems: []expense.LineItemDTO{item},
			})
			Expect(err).NotTo(HaveOccurred())

			url, err := service.AttachmentURL(ctx, creatorID, e.ID, "receipts/a.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(ContainSubstring("receipts/a.pdf"))

			_, err = service.AttachmentURL(ctx, creatorID, e.ID, "receipts/other.pdf")
			Expect(err).To(MatchError(errors.ErrAttachmentNotFound))

			_, err = service.AttachmentURL(ctx, outsiderID, e.ID, "receipts/a.pdf")
			Expect(err).To(MatchError(errors.ErrUnauthorizedAccess))
		})
	})
})
