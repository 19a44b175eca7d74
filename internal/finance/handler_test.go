package finance_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/audit"
	"github.com/frahmantamala/expense-approval/internal/finance"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

type stubFinance struct {
	dashboard *finance.Dashboard
	result    *finance.ReimburseResult
	file      *finance.ExportFile
	err       error

	calls     int
	lastOrg   string
	lastIDs   []string
	lastActor string
}

func (s *stubFinance) Dashboard(ctx context.Context, actorID, orgID, status string) (*finance.Dashboard, error) {
	s.calls++
	s.lastActor, s.lastOrg = actorID, orgID
	return s.dashboard, s.err
}

func (s *stubFinance) Reimburse(ctx context.Context, actorID string, dto finance.ReimburseDTO) (*finance.ReimburseResult, error) {
	s.calls++
	s.lastActor, s.lastIDs = actorID, dto.ExpenseIDs
	return s.result, s.err
}

func (s *stubFinance) Export(ctx context.Context, actorID string, dto finance.ExportDTO) (*finance.ExportFile, error) {
	s.calls++
	s.lastActor, s.lastIDs = actorID, dto.ExpenseIDs
	return s.file, s.err
}

func (s *stubFinance) AuditEvents(ctx context.Context, actorID, orgID string, limit int) ([]audit.Event, error) {
	s.calls++
	return nil, s.err
}

var _ = Describe("Finance Handler", func() {
	var (
		stub    *stubFinance
		handler *finance.Handler
	)

	BeforeEach(func() {
		stub = &stubFinance{}
		handler = finance.NewHandler(stub)
	})

	withUser := func(req *http.Request) *http.Request {
		return req.WithContext(errors.ContextWithUserID(req.Context(), "admin-1"))
	}

	reimburse := func(body string) *httptest.ResponseRecorder {
		req := withUser(httptest.NewRequest(http.MethodPost, "/finance/reimburse", bytes.NewBufferString(body)))
		rec := httptest.NewRecorder()
		handler.Reimburse(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder) map[string]interface{} {
		var body map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	Describe("GetExpenses", func() {
		It("wraps the dashboard in the success envelope", func() {
			stub.dashboard = &finance.Dashboard{
				Expenses:    []finance.ExpenseSummary{},
				TotalPayout: decimal.RequireFromString("130.5"),
				Count:       0,
			}
			req := withUser(httptest.NewRequest(http.MethodGet, "/finance/expenses?organizationId=org-1", nil))
			rec := httptest.NewRecorder()

			handler.GetExpenses(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"success":true,"data":{"expenses":[],"totalPayout":"130.5","count":0}}`))
			Expect(stub.lastOrg).To(Equal("org-1"))
			Expect(stub.lastActor).To(Equal("admin-1"))
		})

		DescribeTable("maps service failures to status codes",
			func(err error, status int, code string) {
				stub.err = err
				req := withUser(httptest.NewRequest(http.MethodGet, "/finance/expenses?organizationId=org-1", nil))
				rec := httptest.NewRecorder()

				handler.GetExpenses(rec, req)

				Expect(rec.Code).To(Equal(status))
				body := decode(rec)
				Expect(body["success"]).To(BeFalse())
				Expect(body["code"]).To(Equal(code))
			},
			Entry("missing organization id", errors.NewValidationError("organizationId is required", errors.ErrCodeMissingOrg), http.StatusBadRequest, "MISSING_ORGANIZATION"),
			Entry("insufficient role", errors.ErrInsufficientRole, http.StatusForbidden, "INSUFFICIENT_ROLE"),
			Entry("unknown organization", errors.ErrOrganizationNotFound, http.StatusNotFound, "ORGANIZATION_NOT_FOUND"),
			Entry("anything else", stderrors.New("pq: relation does not exist"), http.StatusInternalServerError, "INTERNAL_ERROR"),
		)

		It("rejects anonymous callers before reaching the service", func() {
			rec := httptest.NewRecorder()
			handler.GetExpenses(rec, httptest.NewRequest(http.MethodGet, "/finance/expenses?organizationId=org-1", nil))

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(stub.calls).To(BeZero())
		})
	})

	Describe("Reimburse", func() {
		It("returns the updated count and ids", func() {
			stub.result = &finance.ReimburseResult{UpdatedCount: 2, ExpenseIDs: []string{"e2", "e1"}}

			rec := reimburse(`{"expenseIds":["e2","e1"]}`)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"success":true,"data":{"updatedCount":2,"expenseIds":["e2","e1"]}}`))
			Expect(stub.lastIDs).To(Equal([]string{"e2", "e1"}))
		})

		It("reports a partial batch with both counts", func() {
			stub.err = errors.NewPartialMatchError(2, 1)

			rec := reimburse(`{"expenseIds":["e1","e2"]}`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			body := decode(rec)
			Expect(body["code"]).To(Equal("PARTIAL_MATCH"))
			Expect(body["details"]).To(Equal(map[string]interface{}{"requested": 2.0, "eligible": 1.0}))
		})

		It("refuses personal expenses", func() {
			stub.err = errors.ErrPersonalReimburse

			rec := reimburse(`{"expenseIds":["p1"]}`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)["error"]).To(Equal("Cannot reimburse personal expenses"))
		})

		It("answers 409 when the batch lost a race", func() {
			stub.err = errors.ErrStaleExpense

			rec := reimburse(`{"expenseIds":["e1"]}`)

			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(decode(rec)["code"]).To(Equal("STALE_EXPENSE"))
		})

		It("rejects a malformed body without calling the service", func() {
			rec := reimburse(`{"expenseIds":`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)["code"]).To(Equal("VALIDATION_FAILED"))
			Expect(stub.calls).To(BeZero())
		})

		It("rejects anonymous callers", func() {
			rec := httptest.NewRecorder()
			handler.Reimburse(rec, httptest.NewRequest(http.MethodPost, "/finance/reimburse", bytes.NewBufferString(`{"expenseIds":["e1"]}`)))

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(stub.calls).To(BeZero())
		})
	})

	Describe("Export", func() {
		It("streams the file as an attachment", func() {
			stub.file = &finance.ExportFile{
				Filename:    "expenses-20250301-100000.csv",
				ContentType: "text/csv",
				Body:        []byte("ID,Title\ne1,Hotel\n"),
			}
			req := withUser(httptest.NewRequest(http.MethodPost, "/finance/export", bytes.NewBufferString(`{"format":"csv","expenseIds":["e1"]}`)))
			rec := httptest.NewRecorder()

			handler.Export(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("text/csv"))
			Expect(rec.Header().Get("Content-Disposition")).To(Equal(`attachment; filename="expenses-20250301-100000.csv"`))
			Expect(rec.Header().Get("Content-Length")).To(Equal("18"))
			Expect(rec.Body.String()).To(Equal("ID,Title\ne1,Hotel\n"))
		})

		It("answers failures as JSON without attachment headers", func() {
			stub.err = errors.NewValidationError("format must be csv or pdf", errors.ErrCodeInvalidExportType)
			req := withUser(httptest.NewRequest(http.MethodPost, "/finance/export", bytes.NewBufferString(`{"format":"xlsx","expenseIds":["e1"]}`)))
			rec := httptest.NewRecorder()

			handler.Export(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Header().Get("Content-Disposition")).To(BeEmpty())
			Expect(decode(rec)["code"]).To(Equal("INVALID_EXPORT_FORMAT"))
		})

		It("answers 404 when no requested expense is exportable", func() {
			stub.err = errors.ErrExpenseNotFound
			req := withUser(httptest.NewRequest(http.MethodPost, "/finance/export", bytes.NewBufferString(`{"format":"pdf","expenseIds":["foreign"]}`)))
			rec := httptest.NewRecorder()

			handler.Export(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
