package organization

import (
	"strings"

	errors "github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/core/common/validation"
)

type CreateOrganizationDTO struct {
	Name string `json:"name"`
}

func (dto CreateOrganizationDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("name", strings.TrimSpace(dto.Name)).Required().MaxLength(120)
	return v.Validate()
}

type AddMemberDTO struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (dto AddMemberDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("userId", dto.UserID).Required()
	v.Field("role", dto.Role).Required().OneOf("member", "admin", "owner")
	return v.Validate()
}
