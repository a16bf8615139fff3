package course

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
)

const (
	MinInstallments = 1
	MaxInstallments = 24
)

type Course struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Installments int             `json:"installments"`
	IsActive     bool            `json:"is_active"`
	StartsOn     null.Time       `json:"starts_on"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
	UpdatedAt    time.Time       `json:"updated_at"` // UTC
}

type NewCourse struct {
	Code         string          `json:"code" validate:"required,max=32,alphanum_"`
	Title        string          `json:"title" validate:"required,max=255"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price" validate:"money"`
	Installments int             `json:"installments" validate:"omitempty,min=1,max=24"`
	IsActive     *bool           `json:"is_active"`
	StartsOn     null.Time       `json:"starts_on"`
}

func (nc *NewCourse) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nc.Code = strings.ToUpper(core.CleanString(nc.Code))
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	if nc.Installments == 0 {
		nc.Installments = MinInstallments
	}

	if err := validate.Struct(nc); err != nil {
		return err
	}
	return svc.CheckCodeUniqueness(ctx, nc.Code)
}

type UpdateCourse struct {
	Code         *string          `json:"code" validate:"omitempty,max=32,alphanum_"`
	Title        *string          `json:"title" validate:"omitempty,notblank,max=255"`
	Description  *string          `json:"description"`
	Price        *decimal.Decimal `json:"price" validate:"omitempty,money"`
	Installments *int             `json:"installments" validate:"omitempty,min=1,max=24"`
	IsActive     *bool            `json:"is_active"`
	StartsOn     null.Time        `json:"starts_on"`
}

func (uc *UpdateCourse) Validate(ctx context.Context, orig Course, validate *validator.Validate, svc Service) error {
	if uc.Code != nil {
		code := strings.ToUpper(core.CleanString(*uc.Code))
		uc.Code = &code
	}
	if uc.Title != nil {
		title := core.CleanString(*uc.Title)
		uc.Title = &title
	}

	if err := validate.Struct(uc); err != nil {
		return err
	}
	if uc.Code != nil && *uc.Code != orig.Code {
		return svc.CheckCodeUniqueness(ctx, *uc.Code, orig)
	}
	return nil
}

type QueryFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
