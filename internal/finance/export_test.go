package finance_test

import (
	"bytes"
	"encoding/csv"
	"time"

	"github.com/frahmantamala/expense-approval/internal/finance"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("RenderCSV", func() {
	render := func(rows ...finance.ExpenseSummary) [][]string {
		var buf bytes.Buffer
		Expect(finance.RenderCSV(&buf, rows)).To(Succeed())
		records, err := csv.NewReader(&buf).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		return records
	}

	summary := func(title, name, email string) finance.ExpenseSummary {
		return finance.ExpenseSummary{
			ID:             "e1",
			SubmitterName:  name,
			SubmitterEmail: email,
			Title:          title,
			TotalAmount:    decimal.RequireFromString("12.5"),
			State:          "Approved",
			CreatedAt:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		}
	}

	It("writes a header, one row per expense and the payout total", func() {
		records := render(summary("Hotel", "Ana", "ana@example.com"))
		Expect(records).To(HaveLen(3))
		Expect(records[0][0]).To(Equal("ID"))
		Expect(records[1]).To(Equal([]string{"e1", "Hotel", "Ana", "ana@example.com", "Approved", "12.50", "2025-03-01T10:00:00Z"}))
		Expect(records[2][4:6]).To(Equal([]string{"Total", "12.50"}))
	})

	It("neutralises cells a spreadsheet would evaluate", func() {
		records := render(summary(`=HYPERLINK("http://evil","x")`, "+Ana", "@ana"))
		Expect(records[1][1]).To(Equal(`'=HYPERLINK("http://evil","x")`))
		Expect(records[1][2]).To(Equal("'+Ana"))
		Expect(records[1][3]).To(Equal("'@ana"))

		records = render(summary("-10 refund", "Ben", "ben@example.com"))
		Expect(records[1][1]).To(Equal("'-10 refund"))
		Expect(records[1][2]).To(Equal("Ben"))
		Expect(records[1][5]).To(Equal("12.50"))
	})
})
