package archive

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/enrolla/core"
)

type Record struct {
	ID          string          `json:"id"`
	StudentName string          `json:"student_name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	CourseTitle string          `json:"course_title"`
	Year        int             `json:"year"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Status      string          `json:"status"`
	Notes       string          `json:"notes"`
	CreatedAt   time.Time       `json:"created_at"` // UTC
	UpdatedAt   time.Time       `json:"updated_at"` // UTC
}

// NewRecord is a validated archive row.
type NewRecord struct {
	StudentName string          `json:"student_name" validate:"required,max=255"`
	Email       string          `json:"email" validate:"omitempty,email"`
	Phone       string          `json:"phone" validate:"omitempty,max=32"`
	CourseTitle string          `json:"course_title" validate:"omitempty,max=255"`
	Year        int             `json:"year" validate:"required,min=1900,max=2100"`
	AmountPaid  decimal.Decimal `json:"amount_paid" validate:"money"`
	Status      string          `json:"status" validate:"omitempty,max=32"`
	Notes       string          `json:"notes"`
}

func (nr *NewRecord) Validate(validate *validator.Validate) error {
	nr.StudentName = core.CleanString(nr.StudentName)
	nr.Email = core.CleanString(nr.Email, true /* lower */)
	nr.Phone = core.CleanString(nr.Phone)
	nr.CourseTitle = core.CleanString(nr.CourseTitle)
	nr.Status = core.CleanString(nr.Status, true /* lower */)
	nr.Notes = core.CleanString(nr.Notes)
	return validate.Struct(nr)
}

type UpdateRecord struct {
	StudentName *string          `json:"student_name" validate:"omitempty,notblank,max=255"`
	Email       *string          `json:"email" validate:"omitempty,email"`
	Phone       *string          `json:"phone" validate:"omitempty,max=32"`
	CourseTitle *string          `json:"course_title" validate:"omitempty,max=255"`
	Year        *int             `json:"year" validate:"omitempty,min=1900,max=2100"`
	AmountPaid  *decimal.Decimal `json:"amount_paid" validate:"omitempty,money"`
	Status      *string          `json:"status" validate:"omitempty,max=32"`
	Notes       *string          `json:"notes"`
}

func (ur *UpdateRecord) Validate(validate *validator.Validate) error {
	for _, s := range []*string{ur.StudentName, ur.Phone, ur.CourseTitle, ur.Notes} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	for _, s := range []*string{ur.Email, ur.Status} {
		if s != nil {
			*s = core.CleanString(*s, true /* lower */)
		}
	}
	return validate.Struct(ur)
}

type QueryFilter struct {
	Search string `query:"search"`
	Year   int    `query:"year"`
	Status string `query:"status"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
}

// ImportRow is a spreadsheet row keyed by its header cells. Line is the 1-based sheet row number.
type ImportRow struct {
	Line   int
	Values map[string]string
}

type LineError struct {
	Line   int               `json:"line"`
	Fields map[string]string `json:"fields"`
}

type ImportResult struct {
	Imported int         `json:"imported"`
	Skipped  int         `json:"skipped"`
	Errors   []LineError `json:"errors"`
}
