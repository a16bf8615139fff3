package registration

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
)

// Statuses
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var (
	AllStatuses = []string{StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusCancelled}

	transitions = map[string][]string{
		StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
		StatusApproved: {StatusCompleted, StatusCancelled},
	}
)

// CanTransition reports whether a registration may go from one status to the other.
func CanTransition(from, to string) bool {
	return core.StringInSlice(to, transitions[from])
}

type Registration struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	CourseID         string          `json:"course_id"`
	PartnerCompanyID null.String     `json:"partner_company_id"`
	ReferredByUserID null.String     `json:"referred_by_user_id"` // legacy partners
	ReferralCode     string          `json:"referral_code"`
	Status           string          `json:"status"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	Notes            string          `json:"notes"`
	ApprovedAt       null.Time       `json:"approved_at"`
	CreatedAt        time.Time       `json:"created_at"` // UTC
	UpdatedAt        time.Time       `json:"updated_at"` // UTC
}

// NetAmount is what the student owes.
func (r Registration) NetAmount() decimal.Decimal {
	return r.TotalAmount.Sub(r.DiscountAmount)
}

func (r Registration) IsActive() bool {
	return r.Status != StatusCancelled
}

type NewRegistration struct {
	UserID       string `json:"user_id" validate:"required,uuid"`
	CourseID     string `json:"course_id" validate:"required,uuid"`
	ReferralCode string `json:"referral_code" validate:"omitempty,max=16"`
	Notes        string `json:"notes" validate:"omitempty,max=2000"`
}

func (nr *NewRegistration) Validate(validate *validator.Validate) error {
	nr.UserID = core.CleanString(nr.UserID)
	nr.CourseID = core.CleanString(nr.CourseID)
	nr.ReferralCode = strings.ToUpper(core.CleanString(nr.ReferralCode))
	nr.Notes = core.CleanString(nr.Notes)
	return validate.Struct(nr)
}

type StatusChange struct {
	Status string `json:"status" validate:"required,oneof=pending approved rejected completed cancelled"`
	Note   string `json:"note" validate:"omitempty,max=2000"`
}

func (sc *StatusChange) Validate(validate *validator.Validate) error {
	sc.Status = core.CleanString(sc.Status, true /* lower */)
	sc.Note = core.CleanString(sc.Note)
	return validate.Struct(sc)
}

type QueryFilter struct {
	UserID            string    `query:"user_id"`
	CourseID          string    `query:"course_id"`
	PartnerCompanyIDs []string  `query:"partner_company_id"`
	Statuses          []string  `query:"status"`
	CreatedFrom       time.Time `query:"-"` // created_from
	CreatedTo         time.Time `query:"-"` // created_to
	// Search does a case-insensitive match on the student name or email, or the course code or title.
	Search string `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.UserID = core.CleanString(qf.UserID)
	qf.CourseID = core.CleanString(qf.CourseID)
	qf.Search = core.CleanString(qf.Search)
}
