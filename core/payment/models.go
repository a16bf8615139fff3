package payment

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
)

type Deadline struct {
	ID             string          `json:"id"`
	RegistrationID string          `json:"registration_id"`
	Installment    int             `json:"installment"` // 1-based
	Amount         decimal.Decimal `json:"amount"`
	DueOn          time.Time       `json:"due_on"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	PaidAt         null.Time       `json:"paid_at"`    // set once fully paid
	CreatedAt      time.Time       `json:"created_at"` // UTC
	UpdatedAt      time.Time       `json:"updated_at"` // UTC
}

func (d Deadline) IsPaid() bool {
	return d.PaidAmount.GreaterThanOrEqual(d.Amount)
}

func (d Deadline) Outstanding() decimal.Decimal {
	return decimal.Max(decimal.Zero, d.Amount.Sub(d.PaidAmount))
}

func (d Deadline) IsOverdueAt(at time.Time) bool {
	return !d.IsPaid() && d.DueOn.Before(dayOf(at))
}

// Installment is one item of a payment plan.
type Installment struct {
	Number int             `json:"number"`
	Amount decimal.Decimal `json:"amount"`
	DueOn  time.Time       `json:"due_on"`
}

// Plan describes the deadlines a registration must have.
type Plan struct {
	RegistrationID string
	Total          decimal.Decimal
	Installments   int
	Start          time.Time
	Existing       int // installments already created
}

type QueryFilter struct {
	RegistrationID string    `query:"registration_id"`
	UserID         string    `query:"user_id"`
	OverdueAt      time.Time `query:"-"` // overdue_at
	Paid           *bool     `query:"paid"`
}

type Payment struct {
	Amount decimal.NullDecimal `json:"amount"` // defaults to the outstanding amount
	PaidAt null.Time           `json:"paid_at"`
}

func (p *Payment) Validate(validate *validator.Validate) error {
	return validate.Struct(p)
}

// Payer is who receives the payment receipt.
type Payer struct {
	Name        string
	Email       string
	CourseTitle string
}

type Summary struct {
	RegistrationID string          `json:"registration_id"`
	Installments   int             `json:"installments"`
	TotalDue       decimal.Decimal `json:"total_due"`
	Paid           decimal.Decimal `json:"paid"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	NextDueOn      null.Time       `json:"next_due_on"`
}

// BackfillResult is the number of deadlines added to a registration.
type BackfillResult struct {
	RegistrationID string `json:"registration_id"`
	Added          int    `json:"added"`
}
