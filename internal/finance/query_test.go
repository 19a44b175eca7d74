package finance_test

import (
	"context"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/frahmantamala/expense-approval/internal/finance"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Query", func() {
	var (
		mock    sqlmock.Sqlmock
		db      *sqlx.DB
		query   *finance.Query
		columns = []string{
			"id", "user_id", "submitter_name", "submitter_email", "organization_id",
			"title", "total_amount", "state", "version", "created_at", "updated_at",
		}
		now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	)

	BeforeEach(func() {
		rawDB, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		mock = m
		db = sqlx.NewDb(rawDB, "pgx")
		query = finance.NewQuery(db)
	})

	AfterEach(func() {
		mock.ExpectClose()
		Expect(db.Close()).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("filters by status and organization with positional placeholders", func() {
		mock.ExpectQuery(`WHERE e\.state = \$1 AND e\.organization_id = \$2 AND e\.deleted_at IS NULL`).
			WithArgs("Approved", "org-1").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("e1", "u1", "Ana", "ana@example.com", "org-1", "Hotel", "120.50", "Approved", 4, now, now).
				AddRow("e2", "u2", "Ben", "ben@example.com", "org-1", "Taxi", "9.50", "Approved", 5, now, now))

		rows, err := query.ListByStatusAndOrganization(context.Background(), "Approved", "org-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))
		Expect(rows[0].SubmitterName).To(Equal("Ana"))
		Expect(*rows[0].OrganizationID).To(Equal("org-1"))
		Expect(rows[1].Version).To(Equal(int64(5)))
		Expect(finance.TotalPayout(rows).StringFixed(2)).To(Equal("130.00"))
	})

	It("expands id lists into an IN clause", func() {
		mock.ExpectQuery(`WHERE e\.id IN \(\$1, \$2, \$3\) AND e\.deleted_at IS NULL`).
			WithArgs("e1", "e2", "e3").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("e1", "u1", "Ana", "ana@example.com", nil, "Personal", "10.00", "Draft", 1, now, now))

		rows, err := query.ListByIDs(context.Background(), []string{"e1", "e2", "e3"})
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].IsPersonal()).To(BeTrue())
	})

	It("does not hit the database for an empty id list", func() {
		rows, err := query.ListByIDs(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(BeEmpty())
	})

	It("returns an empty slice rather than nil when nothing matches", func() {
		mock.ExpectQuery(`FROM expenses e`).
			WithArgs("Reimbursed", "org-2").
			WillReturnRows(sqlmock.NewRows(columns))

		rows, err := query.ListByStatusAndOrganization(context.Background(), "Reimbursed", "org-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).NotTo(BeNil())
		Expect(rows).To(BeEmpty())
	})
})
