package partner

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RatedCompany is a company of a commission path with its effective rate for the sold course.
type RatedCompany struct {
	CompanyID string
	Rate      decimal.Decimal
}

// ComputeCommission splits the commission on `paid` along path.
// path[0] is the company the sale is attributed to, followed by its ancestors up to the root.
// The direct company earns paid * r / 100; every ancestor earns the differential
// paid * max(0, r(ancestor) - r(previous company on the path)) / 100.
// Amounts are rounded half-up to cents.
func ComputeCommission(paid decimal.Decimal, path []RatedCompany) []CommissionShare {
	shares := make([]CommissionShare, 0, len(path))
	for i, rc := range path {
		rate := rc.Rate
		if i > 0 {
			rate = decimal.Max(decimal.Zero, rc.Rate.Sub(path[i-1].Rate))
		}
		shares = append(shares, CommissionShare{
			CompanyID: rc.CompanyID,
			Rate:      rate,
			Amount:    paid.Mul(rate).Div(hundred).Round(2),
			IsDirect:  i == 0,
		})
	}
	return shares
}

// EffectiveRate returns the commission rate of company for courseID at the given time:
// the rate of its active offer for the course when it sets one, the company rate otherwise.
func EffectiveRate(company Company, offers []Offer, courseID string, at time.Time) decimal.Decimal {
	if offer, ok := findActiveOffer(offers, company.ID, courseID, at); ok && offer.CommissionRate.Valid {
		return offer.CommissionRate.Decimal
	}
	return company.CommissionRate
}

// Discount returns the discount granted by offer on price, rounded half-up to cents.
func Discount(price decimal.Decimal, offer Offer) decimal.Decimal {
	return price.Mul(offer.DiscountRate).Div(hundred).Round(2)
}

func findActiveOffer(offers []Offer, companyID, courseID string, at time.Time) (Offer, bool) {
	for _, o := range offers {
		if o.CompanyID == companyID && o.CourseID == courseID && o.IsActiveAt(at) {
			return o, true
		}
	}
	return Offer{}, false
}
