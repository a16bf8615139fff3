package inmemdb

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/user"
)

var companyFields = map[string]comparator[partner.Company]{
	"name":            func(a, b partner.Company) int { return compareStrings(a.Name, b.Name) },
	"referral_code":   func(a, b partner.Company) int { return compareStrings(a.ReferralCode, b.ReferralCode) },
	"commission_rate": func(a, b partner.Company) int { return a.CommissionRate.Cmp(b.CommissionRate) },
	"created_at":      func(a, b partner.Company) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at":      func(a, b partner.Company) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

type partnerRepository struct {
	db *DB
}

var _ partner.Repository = (*partnerRepository)(nil) // interface compliance check

func NewPartnerRepository(db *DB) *partnerRepository {
	return &partnerRepository{db: db}
}

func (repo *partnerRepository) CreateCompany(_ context.Context, c partner.Company, _ ...core.DBExecutor) (partner.Company, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c.ID = newID()
	repo.db.companies[c.ID] = &c
	return c, nil
}

func (repo *partnerRepository) QueryCompanies(_ context.Context, filter *partner.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]partner.Company, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	companies := make([]partner.Company, 0, len(repo.db.companies))
	for _, c := range values(repo.db.companies) {
		if filter != nil {
			if filter.Search != "" && !contains(c.Name, filter.Search) && !contains(c.ReferralCode, filter.Search) {
				continue
			}
			if filter.ParentID != "" && c.ParentID.String != filter.ParentID {
				continue
			}
			if filter.IsActive != nil && c.IsActive != *filter.IsActive {
				continue
			}
		}
		companies = append(companies, c)
	}
	orderRows(companies, ordering, companyFields, core.DBOrdering{Field: "name", Ascending: true})
	return companies, nil
}

func (repo *partnerRepository) GetCompany(_ context.Context, filter partner.GetFilter, _ ...core.DBExecutor) (partner.Company, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var match func(c *partner.Company) bool
	switch {
	case filter.ID != "":
		if c, ok := repo.db.companies[filter.ID]; ok {
			return *c, nil
		}
		return partner.Company{}, partner.ErrNotFound
	case filter.ReferralCode != "":
		match = func(c *partner.Company) bool { return c.ReferralCode == filter.ReferralCode }
	case filter.LegacyPartnerID != "":
		match = func(c *partner.Company) bool { return c.LegacyPartnerID.String == filter.LegacyPartnerID }
	default:
		return partner.Company{}, partner.ErrNotFound
	}
	for _, c := range repo.db.companies {
		if match(c) {
			return *c, nil
		}
	}
	return partner.Company{}, partner.ErrNotFound
}

func (repo *partnerRepository) UpdateCompany(_ context.Context, c partner.Company, _ ...core.DBExecutor) (partner.Company, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.companies[c.ID]; !ok {
		return partner.Company{}, partner.ErrNotFound
	}
	repo.db.companies[c.ID] = &c
	return c, nil
}

func (repo *partnerRepository) DeleteCompany(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.companies[id]; !ok {
		return partner.ErrNotFound
	}
	delete(repo.db.companies, id)
	for oid, o := range repo.db.offers {
		if o.CompanyID == id {
			delete(repo.db.offers, oid)
		}
	}
	return nil
}

func (repo *partnerRepository) CountCompanyRegistrations(_ context.Context, id string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, reg := range repo.db.registrations {
		if reg.PartnerCompanyID.String == id {
			n++
		}
	}
	return n, nil
}

func (repo *partnerRepository) ReferralCodeExists(_ context.Context, code string, _ ...core.DBExecutor) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, c := range repo.db.companies {
		if c.ReferralCode == code {
			return true, nil
		}
	}
	for _, usr := range repo.db.users {
		if usr.ReferralCode != "" && usr.ReferralCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (repo *partnerRepository) CreateOffer(_ context.Context, o partner.Offer, _ ...core.DBExecutor) (partner.Offer, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	o.ID = newID()
	repo.db.offers[o.ID] = &o
	return o, nil
}

func (repo *partnerRepository) QueryOffers(_ context.Context, companyIDs []string, _ ...core.DBExecutor) ([]partner.Offer, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	offers := make([]partner.Offer, 0)
	for _, o := range values(repo.db.offers) {
		if len(companyIDs) > 0 && !core.StringInSlice(o.CompanyID, companyIDs) {
			continue
		}
		offers = append(offers, o)
	}
	orderRows(offers, nil, map[string]comparator[partner.Offer]{
		"created_at": func(a, b partner.Offer) int { return a.CreatedAt.Compare(b.CreatedAt) },
	}, core.DBOrdering{Field: "created_at", Ascending: true})
	return offers, nil
}

func (repo *partnerRepository) GetOffer(_ context.Context, id string, _ ...core.DBExecutor) (partner.Offer, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if o, ok := repo.db.offers[id]; ok {
		return *o, nil
	}
	return partner.Offer{}, partner.ErrOfferNotFound
}

func (repo *partnerRepository) UpdateOffer(_ context.Context, o partner.Offer, _ ...core.DBExecutor) (partner.Offer, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.offers[o.ID]; !ok {
		return partner.Offer{}, partner.ErrOfferNotFound
	}
	repo.db.offers[o.ID] = &o
	return o, nil
}

func (repo *partnerRepository) DeleteOffer(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.offers[id]; !ok {
		return partner.ErrOfferNotFound
	}
	delete(repo.db.offers, id)
	return nil
}

func (repo *partnerRepository) QuerySales(_ context.Context, filter partner.SalesFilter, _ ...core.DBExecutor) ([]partner.Sale, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	sales := make([]partner.Sale, 0)
	if len(filter.CompanyIDs) == 0 {
		return sales, nil
	}
	for _, reg := range values(repo.db.registrations) {
		if !reg.PartnerCompanyID.Valid || !core.StringInSlice(reg.PartnerCompanyID.String, filter.CompanyIDs) {
			continue
		}
		if !filter.From.IsZero() && reg.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && reg.CreatedAt.After(filter.To) {
			continue
		}
		crs, ok := repo.db.courses[reg.CourseID]
		if !ok {
			continue
		}
		paid := decimal.Zero
		for _, d := range repo.db.deadlines {
			if d.RegistrationID == reg.ID {
				paid = paid.Add(d.PaidAmount)
			}
		}
		sales = append(sales, partner.Sale{
			RegistrationID: reg.ID,
			CompanyID:      reg.PartnerCompanyID.String,
			CourseID:       reg.CourseID,
			CourseTitle:    crs.Title,
			Status:         reg.Status,
			GrossAmount:    reg.NetAmount(),
			PaidAmount:     paid,
			CreatedAt:      reg.CreatedAt,
		})
	}
	orderRows(sales, nil, map[string]comparator[partner.Sale]{
		"created_at": func(a, b partner.Sale) int { return a.CreatedAt.Compare(b.CreatedAt) },
	}, core.DBOrdering{Field: "created_at", Ascending: true})
	return sales, nil
}

func (repo *partnerRepository) QueryLegacyPartners(_ context.Context, _ ...core.DBExecutor) ([]partner.LegacyPartner, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	partners := make([]partner.LegacyPartner, 0)
	for _, usr := range repo.db.users {
		if usr.PartnerCompanyID.Valid || !usr.RoleStartsWith(user.RolePartner) {
			continue
		}
		partners = append(partners, partner.LegacyPartner{
			UserID:       usr.ID,
			Name:         usr.Name,
			ReferralCode: usr.ReferralCode,
			CreatedAt:    usr.CreatedAt,
		})
	}
	orderRows(partners, nil, map[string]comparator[partner.LegacyPartner]{
		"created_at": func(a, b partner.LegacyPartner) int { return a.CreatedAt.Compare(b.CreatedAt) },
	}, core.DBOrdering{Field: "created_at", Ascending: true})
	return partners, nil
}

func (repo *partnerRepository) CountReferredRegistrations(_ context.Context, userID string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, reg := range repo.db.registrations {
		if reg.ReferredByUserID.String == userID && !reg.PartnerCompanyID.Valid {
			n++
		}
	}
	return n, nil
}

func (repo *partnerRepository) AttachLegacyPartner(_ context.Context, userID, companyID string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if usr, ok := repo.db.users[userID]; ok {
		usr.PartnerCompanyID = null.StringFrom(companyID)
		usr.UpdatedAt = core.NowFunc()
	}
	var n int
	for _, reg := range repo.db.registrations {
		if reg.ReferredByUserID.String == userID && !reg.PartnerCompanyID.Valid {
			reg.PartnerCompanyID = null.StringFrom(companyID)
			n++
		}
	}
	return n, nil
}

func (repo *partnerRepository) QueryReferralHolders(_ context.Context, _ ...core.DBExecutor) ([]partner.ReferralHolder, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	holders := make([]partner.ReferralHolder, 0)
	for _, c := range repo.db.companies {
		holders = append(holders, partner.ReferralHolder{
			Kind:         partner.HolderCompany,
			ID:           c.ID,
			Code:         c.ReferralCode,
			LinkedUserID: c.LegacyPartnerID.String,
			CreatedAt:    c.CreatedAt,
		})
	}
	for _, usr := range repo.db.users {
		if usr.ReferralCode == "" && !usr.RoleStartsWith(user.RolePartner) {
			continue
		}
		holders = append(holders, partner.ReferralHolder{
			Kind:      partner.HolderUser,
			ID:        usr.ID,
			Code:      usr.ReferralCode,
			CreatedAt: usr.CreatedAt,
		})
	}
	return holders, nil
}

func (repo *partnerRepository) SetReferralCode(_ context.Context, holder partner.ReferralHolder, code string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	now := core.NowFunc()
	switch holder.Kind {
	case partner.HolderUser:
		usr, ok := repo.db.users[holder.ID]
		if !ok {
			return partner.ErrNotFound
		}
		usr.ReferralCode, usr.UpdatedAt = code, now
	default:
		c, ok := repo.db.companies[holder.ID]
		if !ok {
			return partner.ErrNotFound
		}
		c.ReferralCode, c.UpdatedAt = code, now
	}
	return nil
}
