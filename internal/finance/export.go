package finance

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"codeberg.org/go-pdf/fpdf"
)

var exportHeader = []string{"ID", "Title", "Submitter", "Email", "State", "Total", "Created"}

func exportRow(r ExpenseSummary) []string {
	return []string{
		r.ID,
		r.Title,
		r.SubmitterName,
		r.SubmitterEmail,
		r.State,
		r.TotalAmount.StringFixed(2),
		r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// freeTextColumns index the user-supplied cells of exportRow.
var freeTextColumns = []int{1, 2, 3}

// spreadsheetSafe keeps user text from being evaluated as a formula when the
// file is opened in a spreadsheet.
func spreadsheetSafe(cell string) string {
	if cell == "" {
		return cell
	}
	switch cell[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + cell
	}
	return cell
}

func RenderCSV(w io.Writer, rows []ExpenseSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		row := exportRow(r)
		for _, i := range freeTextColumns {
			row[i] = spreadsheetSafe(row[i])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{"", "", "", "", "Total", TotalPayout(rows).StringFixed(2), ""}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// RenderPDF lays rows out as a single landscape table.
func RenderPDF(w io.Writer, rows []ExpenseSummary, generatedAt time.Time) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Expense export", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, "Expense export", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated %s, %d expenses", generatedAt.UTC().Format(time.RFC1123), len(rows)), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	widths := []float64{62, 55, 35, 50, 28, 22, 25}
	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range exportHeader {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, r := range rows {
		for i, cell := range exportRow(r) {
			align := "L"
			if i == 5 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, truncate(tr(cell), widths[i]), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetFont("Helvetica", "B", 8)
	pdf.CellFormat(widths[0]+widths[1]+widths[2]+widths[3]+widths[4], 7, "Total payout", "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[5], 7, TotalPayout(rows).StringFixed(2), "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[6], 7, "", "1", 1, "L", false, 0, "")

	return pdf.Output(w)
}

// truncate keeps roughly what fits a cell of width mm at 8pt.
func truncate(s string, width float64) string {
	limit := int(width / 1.6)
	r := []rune(s)
	if len(r) <= limit || limit < 4 {
		return s
	}
	return string(r[:limit-3]) + "..."
}

func renderExport(format ExportFormat, rows []ExpenseSummary, now time.Time) (*ExportFile, error) {
	var buf bytes.Buffer
	stamp := now.UTC().Format("20060102-150405")

	switch format {
	case FormatCSV:
		if err := RenderCSV(&buf, rows); err != nil {
			return nil, err
		}
		return &ExportFile{
			Filename:    fmt.Sprintf("expenses-%s.csv", stamp),
			ContentType: "text/csv",
			Body:        buf.Bytes(),
		}, nil
	case FormatPDF:
		if err := RenderPDF(&buf, rows, now); err != nil {
			return nil, err
		}
		return &ExportFile{
			Filename:    fmt.Sprintf("expenses-%s.pdf", stamp),
			ContentType: "application/pdf",
			Body:        buf.Bytes(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
