package expense

import (
	"fmt"
	"strings"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/core/common/validation"
	"github.com/shopspring/decimal"
)

const (
	maxLineItems   = 100
	maxTitleLength = 200
)

type LineItemDTO struct {
	Amount      decimal.Decimal `json:"amount"`
	Date        Date            `json:"date"`
	Description *string         `json:"description,omitempty"`
	Category    *string         `json:"category,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
}

func (dto LineItemDTO) validate(index int, v *validation.ValidationBuilder) {
	prefix := fmt.Sprintf("lineItems[%d]", index)
	v.Field(prefix+".amount", dto.Amount).Custom(func(interface{}) *errors.AppError {
		return validation.ValidateLineItemAmount(prefix+".amount", dto.Amount)
	})
	v.Field(prefix+".date", dto.Date.Time()).Custom(func(interface{}) *errors.AppError {
		return validation.ValidateLineItemDate(prefix+".date", dto.Date.Time())
	})
	v.Field(prefix+".description", dto.Description).Custom(func(interface{}) *errors.AppError {
		return validation.ValidateDescription(prefix+".description", dto.Description)
	})
	for j, key := range dto.Attachments {
		v.Field(fmt.Sprintf("%s.attachments[%d]", prefix, j), key).Required().MaxLength(512)
	}
}

func validateLineItems(items []LineItemDTO, v *validation.ValidationBuilder) {
	v.Field("lineItems", len(items)).MaxInt(maxLineItems, errors.ErrCodeValidationFailed)
	for i, item := range items {
		item.validate(i, v)
	}
}

func validateTotal(total *decimal.Decimal, v *validation.ValidationBuilder) {
	if total == nil {
		return
	}
	v.Field("totalAmount", *total).
		PositiveDecimal(errors.ErrCodeInvalidAmount).
		MaxDecimalPlaces(2, errors.ErrCodeInvalidAmount)
}

// CreateExpenseDTO creates a Draft. OrganizationID nil makes a personal expense.
// TotalAmount defaults to the line-item sum.
type CreateExpenseDTO struct {
	Title          string           `json:"title"`
	OrganizationID *string          `json:"organizationId,omitempty"`
	ManagerIDs     []string         `json:"managerIds,omitempty"`
	LineItems      []LineItemDTO    `json:"lineItems"`
	TotalAmount    *decimal.Decimal `json:"totalAmount,omitempty"`
}

func (dto CreateExpenseDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("title", strings.TrimSpace(dto.Title)).Required().MaxLength(maxTitleLength)
	if dto.OrganizationID != nil {
		v.Field("organizationId", dto.OrganizationID).Required()
	}
	validateLineItems(dto.LineItems, v)
	validateTotal(dto.TotalAmount, v)
	return v.Validate()
}

// UpdateExpenseDTO replaces the editable fields of a Draft.
type UpdateExpenseDTO struct {
	Title       string           `json:"title"`
	ManagerIDs  []string         `json:"managerIds,omitempty"`
	LineItems   []LineItemDTO    `json:"lineItems"`
	TotalAmount *decimal.Decimal `json:"totalAmount,omitempty"`
	Version     *int64           `json:"version,omitempty"`
}

func (dto UpdateExpenseDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("title", strings.TrimSpace(dto.Title)).Required().MaxLength(maxTitleLength)
	validateLineItems(dto.LineItems, v)
	validateTotal(dto.TotalAmount, v)
	return v.Validate()
}

type SubmitDTO struct {
	ReconcileTotal bool   `json:"reconcileTotal"`
	Version        *int64 `json:"version,omitempty"`
}

// TransitionDTO is the body shared by the review transitions.
type TransitionDTO struct {
	Comment string `json:"comment,omitempty"`
	Version *int64 `json:"version,omitempty"`
}

func (dto TransitionDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("comment", dto.Comment).MaxLength(1000)
	return v.Validate()
}

func (dto TransitionDTO) metadata() map[string]interface{} {
	if strings.TrimSpace(dto.Comment) == "" {
		return nil
	}
	return map[string]interface{}{"comment": strings.TrimSpace(dto.Comment)}
}

type OverrideDTO struct {
	State   string `json:"state"`
	Reason  string `json:"reason"`
	Version *int64 `json:"version,omitempty"`
}

func (dto OverrideDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("state", dto.State).Required()
	v.Field("reason", strings.TrimSpace(dto.Reason)).Required().MaxLength(1000)
	return v.Validate()
}

type OverrideTotalDTO struct {
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Reason      string          `json:"reason"`
	Version     *int64          `json:"version,omitempty"`
}

func (dto OverrideTotalDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("totalAmount", dto.TotalAmount).
		PositiveDecimal(errors.ErrCodeInvalidAmount).
		MaxDecimalPlaces(2, errors.ErrCodeInvalidAmount)
	v.Field("reason", strings.TrimSpace(dto.Reason)).Required().MaxLength(1000)
	return v.Validate()
}

type ListResult struct {
	Expenses []*Expense `json:"expenses"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

func buildLineItems(items []LineItemDTO, newID func() string) []LineItem {
	out := make([]LineItem, len(items))
	for i, dto := range items {
		attachments := dto.Attachments
		if attachments == nil {
			attachments = []string{}
		}
		out[i] = LineItem{
			ID:          newID(),
			Amount:      dto.Amount,
			Date:        dto.Date,
			Description: trimmed(dto.Description),
			Category:    trimmed(dto.Category),
			Attachments: attachments,
		}
	}
	return out
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// normalizeManagerIDs drops blanks and repeats while keeping first-seen order.
func normalizeManagerIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
