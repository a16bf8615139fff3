package partner

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
)

type Company struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	ReferralCode    string          `json:"referral_code"`
	ParentID        null.String     `json:"parent_id"`
	CommissionRate  decimal.Decimal `json:"commission_rate"` // percent
	IsActive        bool            `json:"is_active"`
	LegacyPartnerID null.String     `json:"legacy_partner_id"`
	CreatedAt       time.Time       `json:"created_at"` // UTC
	UpdatedAt       time.Time       `json:"updated_at"` // UTC
}

// CompanyNode is a Company and its sub-companies.
type CompanyNode struct {
	Company
	Children []*CompanyNode `json:"children"`
}

type Offer struct {
	ID             string              `json:"id"`
	CompanyID      string              `json:"company_id"`
	CourseID       string              `json:"course_id"`
	CommissionRate decimal.NullDecimal `json:"commission_rate"` // overrides Company.CommissionRate when set
	DiscountRate   decimal.Decimal     `json:"discount_rate"`   // percent off the course price
	ValidFrom      null.Time           `json:"valid_from"`
	ValidTo        null.Time           `json:"valid_to"`
	CreatedAt      time.Time           `json:"created_at"` // UTC
}

// IsActiveAt reports whether at falls within the validity range of the offer; bounds are inclusive days.
func (o Offer) IsActiveAt(at time.Time) bool {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	if o.ValidFrom.Valid && day.Before(truncDay(o.ValidFrom.Time)) {
		return false
	}
	if o.ValidTo.Valid && day.After(truncDay(o.ValidTo.Time)) {
		return false
	}
	return true
}

func truncDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type NewCompany struct {
	Name           string          `json:"name" validate:"required,max=255"`
	ReferralCode   string          `json:"referral_code" validate:"omitempty,min=4,max=16,alphanum"`
	ParentID       null.String     `json:"parent_id" validate:"omitempty,uuid"`
	CommissionRate decimal.Decimal `json:"commission_rate" validate:"money,lte=100"`
	IsActive       *bool           `json:"is_active"`
}

func (nc *NewCompany) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nc.Name = core.CleanString(nc.Name)
	nc.ReferralCode = strings.ToUpper(core.CleanString(nc.ReferralCode))

	if err := validate.Struct(nc); err != nil {
		return err
	}
	if nc.ParentID.Valid {
		if _, err := svc.GetCompany(ctx, nc.ParentID.String); err != nil {
			return core.NewFieldError("parent_id", "parent company not found")
		}
	}
	if nc.ReferralCode != "" {
		return svc.CheckReferralCodeUniqueness(ctx, nc.ReferralCode)
	}
	return nil
}

type UpdateCompany struct {
	Name           *string          `json:"name" validate:"omitempty,notblank,max=255"`
	ReferralCode   *string          `json:"referral_code" validate:"omitempty,min=4,max=16,alphanum"`
	ParentID       null.String      `json:"parent_id" validate:"omitempty,uuid"`
	ClearParent    bool             `json:"clear_parent"`
	CommissionRate *decimal.Decimal `json:"commission_rate" validate:"omitempty,money,lte=100"`
	IsActive       *bool            `json:"is_active"`
}

func (uc *UpdateCompany) Validate(ctx context.Context, orig Company, validate *validator.Validate, svc Service) error {
	if uc.Name != nil {
		name := core.CleanString(*uc.Name)
		uc.Name = &name
	}
	if uc.ReferralCode != nil {
		code := strings.ToUpper(core.CleanString(*uc.ReferralCode))
		uc.ReferralCode = &code
	}

	if err := validate.Struct(uc); err != nil {
		return err
	}
	if uc.ParentID.Valid && uc.ParentID.String != orig.ParentID.String {
		if err := svc.CheckParent(ctx, orig.ID, uc.ParentID.String); err != nil {
			return err
		}
	}
	if uc.ReferralCode != nil && *uc.ReferralCode != orig.ReferralCode {
		return svc.CheckReferralCodeUniqueness(ctx, *uc.ReferralCode)
	}
	return nil
}

type NewOffer struct {
	CourseID       string              `json:"course_id" validate:"required,uuid"`
	CommissionRate decimal.NullDecimal `json:"commission_rate"`
	DiscountRate   decimal.Decimal     `json:"discount_rate" validate:"money,lte=100"`
	ValidFrom      null.Time           `json:"valid_from"`
	ValidTo        null.Time           `json:"valid_to"`
}

func (no *NewOffer) Validate(validate *validator.Validate) error {
	if err := validate.Struct(no); err != nil {
		return err
	}
	return validateOfferRates(no.CommissionRate, no.ValidFrom, no.ValidTo)
}

type UpdateOffer struct {
	CommissionRate decimal.NullDecimal `json:"commission_rate"`
	DiscountRate   *decimal.Decimal    `json:"discount_rate" validate:"omitempty,money,lte=100"`
	ValidFrom      null.Time           `json:"valid_from"`
	ValidTo        null.Time           `json:"valid_to"`
}

func (uo *UpdateOffer) Validate(orig Offer, validate *validator.Validate) error {
	if err := validate.Struct(uo); err != nil {
		return err
	}
	from, to := orig.ValidFrom, orig.ValidTo
	if uo.ValidFrom.Valid {
		from = uo.ValidFrom
	}
	if uo.ValidTo.Valid {
		to = uo.ValidTo
	}
	return validateOfferRates(uo.CommissionRate, from, to)
}

func validateOfferRates(rate decimal.NullDecimal, from, to null.Time) error {
	if rate.Valid && (rate.Decimal.IsNegative() || rate.Decimal.GreaterThan(hundred)) {
		return core.NewFieldError("commission_rate", "commission rate must be between 0 and 100")
	}
	if from.Valid && to.Valid && to.Time.Before(from.Time) {
		return core.NewFieldError("valid_to", "must be after valid_from")
	}
	return nil
}

type QueryFilter struct {
	Search   string `query:"search"`
	ParentID string `query:"parent_id"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.ParentID = core.CleanString(qf.ParentID)
}

type GetFilter struct {
	ID              string
	ReferralCode    string
	LegacyPartnerID string
}

// Sale is a registration attributed to a company, as seen by the stats.
type Sale struct {
	RegistrationID string          `json:"registration_id"`
	CompanyID      string          `json:"company_id"`
	CourseID       string          `json:"course_id"`
	CourseTitle    string          `json:"course_title"`
	Status         string          `json:"status"`
	GrossAmount    decimal.Decimal `json:"gross_amount"` // total - discount
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SalesFilter struct {
	CompanyIDs []string
	From       time.Time
	To         time.Time
}

// CommissionShare is what one company of the hierarchy earns on a sale.
type CommissionShare struct {
	CompanyID string          `json:"company_id"`
	Rate      decimal.Decimal `json:"rate"`      // effective percent for this company
	Amount    decimal.Decimal `json:"amount"`    // rounded to cents
	IsDirect  bool            `json:"is_direct"` // the sale is attributed to this company
}

// CommissionLine is a sale and the commission earned on it by a given company.
type CommissionLine struct {
	Sale
	Rate     decimal.Decimal `json:"rate"`
	Amount   decimal.Decimal `json:"commission"`
	IsDirect bool            `json:"is_direct"`
}

type CourseStats struct {
	CourseID      string          `json:"course_id"`
	CourseTitle   string          `json:"course_title"`
	Registrations int             `json:"registrations"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Commission    decimal.Decimal `json:"commission"`
}

type Stats struct {
	CompanyID          string          `json:"company_id"`
	IncludeDescendants bool            `json:"include_descendants"`
	From               null.Time       `json:"from"`
	To                 null.Time       `json:"to"`
	Registrations      map[string]int  `json:"registrations"` // per status
	GrossAmount        decimal.Decimal `json:"gross_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
	Commission         decimal.Decimal `json:"commission"`
	Courses            []CourseStats   `json:"courses"`
}

type StatsFilter struct {
	IncludeDescendants bool      `query:"include_descendants"`
	From               time.Time `query:"-"` // from
	To                 time.Time `query:"-"` // to
}

// LegacyPartner is a user with a partner role who does not belong to a company yet.
type LegacyPartner struct {
	UserID       string
	Name         string
	ReferralCode string
	CreatedAt    time.Time
}

type LegacyMigration struct {
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name"`
	CompanyID     string `json:"company_id"`
	CompanyName   string `json:"company_name"`
	ReferralCode  string `json:"referral_code"`
	Registrations int    `json:"registrations"`
	Reused        bool   `json:"reused"` // the company existed from a previous partial run
}

const (
	HolderCompany = "company"
	HolderUser    = "user"
)

// ReferralHolder is a company or partner user owning a referral code.
type ReferralHolder struct {
	Kind         string
	ID           string
	Code         string
	LinkedUserID string // companies: the legacy partner user they were migrated from
	CreatedAt    time.Time
}

type ReferralCodeChange struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	OldCode string `json:"old_code"`
	NewCode string `json:"new_code"`
}
