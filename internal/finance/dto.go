package finance

import (
	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/core/common/validation"
	"github.com/shopspring/decimal"
)

const maxBatchSize = 500

type ReimburseDTO struct {
	ExpenseIDs []string `json:"expenseIds"`
}

func (dto ReimburseDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("expenseIds", dto.ExpenseIDs).Required()
	v.Field("expenseIds", len(dto.ExpenseIDs)).MaxInt(maxBatchSize, errors.ErrCodeValidationFailed)
	return v.Validate()
}

type ReimburseResult struct {
	UpdatedCount int      `json:"updatedCount"`
	ExpenseIDs   []string `json:"expenseIds"`
}

type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

type ExportDTO struct {
	Format     string   `json:"format"`
	ExpenseIDs []string `json:"expenseIds"`
}

func (dto ExportDTO) Validate() *errors.AppError {
	if dto.Format != string(FormatCSV) && dto.Format != string(FormatPDF) {
		return errors.NewValidationError("format must be csv or pdf", errors.ErrCodeInvalidExportType)
	}
	v := validation.NewValidator()
	v.Field("expenseIds", dto.ExpenseIDs).Required()
	v.Field("expenseIds", len(dto.ExpenseIDs)).MaxInt(maxBatchSize, errors.ErrCodeValidationFailed)
	return v.Validate()
}

type Dashboard struct {
	Expenses    []ExpenseSummary `json:"expenses"`
	TotalPayout decimal.Decimal  `json:"totalPayout"`
	Count       int              `json:"count"`
}

// ExportFile is a rendered export ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
