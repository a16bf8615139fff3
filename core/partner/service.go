package partner

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("partner company not found")
	ErrOfferNotFound     = errors.New("partner offer not found")
	ErrNoActiveOffer     = errors.New("no active offer")
	ErrReferralCodeTaken = errors.New("this referral code is already taken")
	ErrParentCycle       = errors.New("a company cannot be its own parent or the parent of one of its ancestors")
	ErrHasChildren       = errors.New("company has sub-companies and cannot be deleted")
	ErrHasRegistrations  = errors.New("company has registrations and cannot be deleted")
	ErrOfferExists       = errors.New("the company already has an offer for this course")

	// registrations in these statuses do not count in the amounts
	uncountedStatuses = []string{"rejected", "cancelled"}

	maxCodeAttempts = 100
)

type (
	Repository interface {
		CreateCompany(ctx context.Context, c Company, exec ...core.DBExecutor) (Company, error)
		// QueryCompanies does a case-insensitive match of QueryFilter.Search on Company.Name or Company.ReferralCode.
		QueryCompanies(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Company, error)
		GetCompany(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Company, error)
		UpdateCompany(ctx context.Context, c Company, exec ...core.DBExecutor) (Company, error)
		DeleteCompany(ctx context.Context, id string, exec ...core.DBExecutor) error
		CountCompanyRegistrations(ctx context.Context, id string, exec ...core.DBExecutor) (int, error)
		// ReferralCodeExists checks the codes of companies and users.
		ReferralCodeExists(ctx context.Context, code string, exec ...core.DBExecutor) (bool, error)

		CreateOffer(ctx context.Context, o Offer, exec ...core.DBExecutor) (Offer, error)
		// QueryOffers returns the offers of the given companies; all offers when companyIDs is empty.
		QueryOffers(ctx context.Context, companyIDs []string, exec ...core.DBExecutor) ([]Offer, error)
		GetOffer(ctx context.Context, id string, exec ...core.DBExecutor) (Offer, error)
		UpdateOffer(ctx context.Context, o Offer, exec ...core.DBExecutor) (Offer, error)
		DeleteOffer(ctx context.Context, id string, exec ...core.DBExecutor) error

		QuerySales(ctx context.Context, filter SalesFilter, exec ...core.DBExecutor) ([]Sale, error)

		QueryLegacyPartners(ctx context.Context, exec ...core.DBExecutor) ([]LegacyPartner, error)
		CountReferredRegistrations(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error)
		// AttachLegacyPartner links the user to the company, along with the registrations they referred
		// which are not attributed to a company yet. Returns the number of registrations attached.
		AttachLegacyPartner(ctx context.Context, userID, companyID string, exec ...core.DBExecutor) (int, error)

		// QueryReferralHolders returns every company, every user with a referral code and every partner user.
		QueryReferralHolders(ctx context.Context, exec ...core.DBExecutor) ([]ReferralHolder, error)
		SetReferralCode(ctx context.Context, holder ReferralHolder, code string, exec ...core.DBExecutor) error
	}

	Service interface {
		CheckReferralCodeUniqueness(ctx context.Context, code string) error
		CheckParent(ctx context.Context, id, parentID string) error

		CreateCompany(ctx context.Context, nc NewCompany) (Company, error)
		QueryCompanies(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Company, error)
		GetCompany(ctx context.Context, id string) (Company, error)
		GetCompanyByReferralCode(ctx context.Context, code string) (Company, error)
		UpdateCompany(ctx context.Context, c Company, uc UpdateCompany) (Company, error)
		DeleteCompany(ctx context.Context, id string) error

		Tree(ctx context.Context) ([]*CompanyNode, error)
		Descendants(ctx context.Context, id string) ([]Company, error)
		Ancestors(ctx context.Context, id string) ([]Company, error)
		// TreeIDs returns id followed by the IDs of its descendants.
		TreeIDs(ctx context.Context, id string) ([]string, error)

		CreateOffer(ctx context.Context, companyID string, no NewOffer) (Offer, error)
		QueryOffers(ctx context.Context, companyID string) ([]Offer, error)
		GetOffer(ctx context.Context, id string) (Offer, error)
		UpdateOffer(ctx context.Context, o Offer, uo UpdateOffer) (Offer, error)
		DeleteOffer(ctx context.Context, id string) error
		ActiveOffer(ctx context.Context, companyID, courseID string, at time.Time) (Offer, error)

		Stats(ctx context.Context, companyID string, filter StatsFilter) (Stats, error)
		Commissions(ctx context.Context, companyID string, filter StatsFilter) ([]CommissionLine, error)

		MigrateLegacyPartners(ctx context.Context, dryRun bool) ([]LegacyMigration, error)
		FixReferralCodes(ctx context.Context, dryRun bool) ([]ReferralCodeChange, error)
	}

	service struct {
		repo Repository
		tx   core.TxRunner
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(repo Repository, tx core.TxRunner) Service {
	return &service{repo: repo, tx: tx}
}

func (svc *service) CheckReferralCodeUniqueness(ctx context.Context, code string) error {
	exists, err := svc.repo.ReferralCodeExists(ctx, code)
	if err != nil {
		return errors.Wrap(err, "checking referral code")
	}
	if exists {
		return core.NewValidationError(ErrReferralCodeTaken, core.FieldError{Field: "referral_code", Error: ErrReferralCodeTaken.Error()})
	}
	return nil
}

func (svc *service) CheckParent(ctx context.Context, id, parentID string) error {
	cycleErr := core.NewValidationError(ErrParentCycle, core.FieldError{Field: "parent_id", Error: ErrParentCycle.Error()})
	if id == parentID {
		return cycleErr
	}
	if _, err := svc.GetCompany(ctx, parentID); err != nil {
		if errors.Cause(err) == ErrNotFound {
			return core.NewFieldError("parent_id", "parent company not found")
		}
		return err
	}
	desc, err := svc.Descendants(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range desc {
		if c.ID == parentID {
			return cycleErr
		}
	}
	return nil
}

func (svc *service) uniqueReferralCode(ctx context.Context, taken map[string]bool, exec ...core.DBExecutor) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := user.GenerateReferralCode()
		if taken[code] {
			continue
		}
		exists, err := svc.repo.ReferralCodeExists(ctx, code, exec...)
		if err != nil {
			return "", errors.Wrap(err, "checking referral code")
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique referral code")
}

func (svc *service) CreateCompany(ctx context.Context, nc NewCompany) (Company, error) {
	code := nc.ReferralCode
	if code == "" {
		var err error
		if code, err = svc.uniqueReferralCode(ctx, nil); err != nil {
			return Company{}, err
		}
	}

	now := core.NowFunc()
	c := Company{
		Name:           nc.Name,
		ReferralCode:   code,
		ParentID:       nc.ParentID,
		CommissionRate: nc.CommissionRate.Round(2),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if nc.IsActive != nil {
		c.IsActive = *nc.IsActive
	}
	return svc.repo.CreateCompany(ctx, c)
}

func (svc *service) QueryCompanies(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Company, error) {
	ordering = core.FilterOrderings(ordering, "name", "referral_code", "commission_rate", "created_at", "updated_at")
	return svc.repo.QueryCompanies(ctx, filter, ordering)
}

func (svc *service) GetCompany(ctx context.Context, id string) (Company, error) {
	return svc.repo.GetCompany(ctx, GetFilter{ID: id})
}

func (svc *service) GetCompanyByReferralCode(ctx context.Context, code string) (Company, error) {
	code = strings.ToUpper(core.CleanString(code))
	if code == "" {
		return Company{}, ErrNotFound
	}
	return svc.repo.GetCompany(ctx, GetFilter{ReferralCode: code})
}

func (svc *service) UpdateCompany(ctx context.Context, c Company, uc UpdateCompany) (Company, error) {
	if uc.Name != nil {
		c.Name = *uc.Name
	}
	if uc.ReferralCode != nil && *uc.ReferralCode != "" {
		c.ReferralCode = *uc.ReferralCode
	}
	if uc.ClearParent {
		c.ParentID = null.String{}
	} else if uc.ParentID.Valid {
		c.ParentID = uc.ParentID
	}
	if uc.CommissionRate != nil {
		c.CommissionRate = uc.CommissionRate.Round(2)
	}
	if uc.IsActive != nil {
		c.IsActive = *uc.IsActive
	}
	c.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateCompany(ctx, c)
}

func (svc *service) DeleteCompany(ctx context.Context, id string) error {
	children, err := svc.repo.QueryCompanies(ctx, &QueryFilter{ParentID: id}, nil)
	if err != nil {
		return errors.Wrap(err, "querying sub-companies")
	}
	if len(children) > 0 {
		return core.NewValidationError(ErrHasChildren)
	}
	cnt, err := svc.repo.CountCompanyRegistrations(ctx, id)
	if err != nil {
		return errors.Wrap(err, "counting company registrations")
	}
	if cnt > 0 {
		return core.NewValidationError(ErrHasRegistrations)
	}
	return svc.repo.DeleteCompany(ctx, id)
}

func (svc *service) allCompanies(ctx context.Context, exec ...core.DBExecutor) ([]Company, error) {
	companies, err := svc.repo.QueryCompanies(ctx, nil, nil, exec...)
	if err != nil {
		return nil, errors.Wrap(err, "querying companies")
	}
	return companies, nil
}

func (svc *service) Tree(ctx context.Context) ([]*CompanyNode, error) {
	companies, err := svc.allCompanies(ctx)
	if err != nil {
		return nil, err
	}
	return buildTree(companies), nil
}

func (svc *service) Descendants(ctx context.Context, id string) ([]Company, error) {
	companies, err := svc.allCompanies(ctx)
	if err != nil {
		return nil, err
	}
	return descendants(companies, id), nil
}

func (svc *service) Ancestors(ctx context.Context, id string) ([]Company, error) {
	companies, err := svc.allCompanies(ctx)
	if err != nil {
		return nil, err
	}
	return ancestors(companies, id), nil
}

func (svc *service) TreeIDs(ctx context.Context, id string) ([]string, error) {
	desc, err := svc.Descendants(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(desc)+1)
	ids = append(ids, id)
	for _, c := range desc {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (svc *service) CreateOffer(ctx context.Context, companyID string, no NewOffer) (Offer, error) {
	offers, err := svc.repo.QueryOffers(ctx, []string{companyID})
	if err != nil {
		return Offer{}, errors.Wrap(err, "querying offers")
	}
	for _, o := range offers {
		if o.CourseID == no.CourseID {
			return Offer{}, core.NewValidationError(ErrOfferExists, core.FieldError{Field: "course_id", Error: ErrOfferExists.Error()})
		}
	}

	o := Offer{
		CompanyID:      companyID,
		CourseID:       no.CourseID,
		CommissionRate: no.CommissionRate,
		DiscountRate:   no.DiscountRate.Round(2),
		ValidFrom:      no.ValidFrom,
		ValidTo:        no.ValidTo,
		CreatedAt:      core.NowFunc(),
	}
	if o.CommissionRate.Valid {
		o.CommissionRate.Decimal = o.CommissionRate.Decimal.Round(2)
	}
	return svc.repo.CreateOffer(ctx, o)
}

func (svc *service) QueryOffers(ctx context.Context, companyID string) ([]Offer, error) {
	return svc.repo.QueryOffers(ctx, []string{companyID})
}

func (svc *service) GetOffer(ctx context.Context, id string) (Offer, error) {
	return svc.repo.GetOffer(ctx, id)
}

func (svc *service) UpdateOffer(ctx context.Context, o Offer, uo UpdateOffer) (Offer, error) {
	if uo.CommissionRate.Valid {
		o.CommissionRate = decimal.NewNullDecimal(uo.CommissionRate.Decimal.Round(2))
	}
	if uo.DiscountRate != nil {
		o.DiscountRate = uo.DiscountRate.Round(2)
	}
	if uo.ValidFrom.Valid {
		o.ValidFrom = uo.ValidFrom
	}
	if uo.ValidTo.Valid {
		o.ValidTo = uo.ValidTo
	}
	return svc.repo.UpdateOffer(ctx, o)
}

func (svc *service) DeleteOffer(ctx context.Context, id string) error {
	return svc.repo.DeleteOffer(ctx, id)
}

func (svc *service) ActiveOffer(ctx context.Context, companyID, courseID string, at time.Time) (Offer, error) {
	offers, err := svc.repo.QueryOffers(ctx, []string{companyID})
	if err != nil {
		return Offer{}, errors.Wrap(err, "querying offers")
	}
	if o, ok := findActiveOffer(offers, companyID, courseID, at); ok {
		return o, nil
	}
	return Offer{}, ErrNoActiveOffer
}

// commissionIndex holds what is needed to compute commissions on the sales of a hierarchy.
type commissionIndex struct {
	byID   map[string]Company
	all    []Company
	offers []Offer
}

func (svc *service) newCommissionIndex(ctx context.Context) (*commissionIndex, error) {
	companies, err := svc.allCompanies(ctx)
	if err != nil {
		return nil, err
	}
	offers, err := svc.repo.QueryOffers(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying offers")
	}
	idx := &commissionIndex{byID: make(map[string]Company, len(companies)), all: companies, offers: offers}
	for _, c := range companies {
		idx.byID[c.ID] = c
	}
	return idx, nil
}

// shareOf returns the commission earned by companyID on sale.
func (idx *commissionIndex) shareOf(companyID string, sale Sale) (CommissionShare, bool) {
	direct, ok := idx.byID[sale.CompanyID]
	if !ok {
		return CommissionShare{}, false
	}
	chain := append([]Company{direct}, ancestors(idx.all, direct.ID)...)
	path := make([]RatedCompany, 0, len(chain))
	for _, c := range chain {
		path = append(path, RatedCompany{CompanyID: c.ID, Rate: EffectiveRate(c, idx.offers, sale.CourseID, sale.CreatedAt)})
	}
	for _, share := range ComputeCommission(sale.PaidAmount, path) {
		if share.CompanyID == companyID {
			return share, true
		}
	}
	return CommissionShare{}, false
}

func (svc *service) companySales(ctx context.Context, companyID string, filter StatsFilter) ([]Sale, error) {
	ids := []string{companyID}
	if filter.IncludeDescendants {
		var err error
		if ids, err = svc.TreeIDs(ctx, companyID); err != nil {
			return nil, err
		}
	}
	sales, err := svc.repo.QuerySales(ctx, SalesFilter{CompanyIDs: ids, From: filter.From, To: filter.To})
	if err != nil {
		return nil, errors.Wrap(err, "querying sales")
	}
	return sales, nil
}

func (svc *service) Stats(ctx context.Context, companyID string, filter StatsFilter) (Stats, error) {
	if _, err := svc.GetCompany(ctx, companyID); err != nil {
		return Stats{}, err
	}
	sales, err := svc.companySales(ctx, companyID, filter)
	if err != nil {
		return Stats{}, err
	}
	idx, err := svc.newCommissionIndex(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		CompanyID:          companyID,
		IncludeDescendants: filter.IncludeDescendants,
		From:               null.NewTime(filter.From, !filter.From.IsZero()),
		To:                 null.NewTime(filter.To, !filter.To.IsZero()),
		Registrations:      make(map[string]int),
		Courses:            make([]CourseStats, 0),
	}
	courses := make(map[string]*CourseStats)
	for _, sale := range sales {
		stats.Registrations[sale.Status]++

		cs, ok := courses[sale.CourseID]
		if !ok {
			cs = &CourseStats{CourseID: sale.CourseID, CourseTitle: sale.CourseTitle}
			courses[sale.CourseID] = cs
		}
		cs.Registrations++

		if core.StringInSlice(sale.Status, uncountedStatuses) {
			continue
		}
		commission := decimal.Zero
		if share, ok := idx.shareOf(companyID, sale); ok {
			commission = share.Amount
		}
		stats.GrossAmount = stats.GrossAmount.Add(sale.GrossAmount)
		stats.PaidAmount = stats.PaidAmount.Add(sale.PaidAmount)
		stats.Commission = stats.Commission.Add(commission)
		cs.GrossAmount = cs.GrossAmount.Add(sale.GrossAmount)
		cs.PaidAmount = cs.PaidAmount.Add(sale.PaidAmount)
		cs.Commission = cs.Commission.Add(commission)
	}

	for _, cs := range courses {
		stats.Courses = append(stats.Courses, *cs)
	}
	sort.Slice(stats.Courses, func(i, j int) bool { return stats.Courses[i].CourseTitle < stats.Courses[j].CourseTitle })
	return stats, nil
}

func (svc *service) Commissions(ctx context.Context, companyID string, filter StatsFilter) ([]CommissionLine, error) {
	if _, err := svc.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	sales, err := svc.companySales(ctx, companyID, filter)
	if err != nil {
		return nil, err
	}
	idx, err := svc.newCommissionIndex(ctx)
	if err != nil {
		return nil, err
	}

	lines := make([]CommissionLine, 0, len(sales))
	for _, sale := range sales {
		if core.StringInSlice(sale.Status, uncountedStatuses) {
			continue
		}
		if share, ok := idx.shareOf(companyID, sale); ok {
			lines = append(lines, CommissionLine{Sale: sale, Rate: share.Rate, Amount: share.Amount, IsDirect: share.IsDirect})
		}
	}
	return lines, nil
}

func (svc *service) MigrateLegacyPartners(ctx context.Context, dryRun bool) ([]LegacyMigration, error) {
	partners, err := svc.repo.QueryLegacyPartners(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying legacy partners")
	}
	sort.Slice(partners, func(i, j int) bool { return partners[i].CreatedAt.Before(partners[j].CreatedAt) })

	results := make([]LegacyMigration, 0, len(partners))
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		taken := make(map[string]bool)
		for _, p := range partners {
			res, err := svc.migrateLegacyPartner(ctx, p, taken, dryRun, exec)
			if err != nil {
				return errors.Wrapf(err, "migrating partner %s", p.UserID)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (svc *service) migrateLegacyPartner(ctx context.Context, p LegacyPartner, taken map[string]bool, dryRun bool, exec core.DBExecutor) (LegacyMigration, error) {
	res := LegacyMigration{UserID: p.UserID, UserName: p.Name}

	company, err := svc.repo.GetCompany(ctx, GetFilter{LegacyPartnerID: p.UserID}, exec)
	switch {
	case err == nil:
		res.Reused = true
	case errors.Cause(err) != ErrNotFound:
		return res, errors.Wrap(err, "finding legacy company")
	default:
		code := strings.ToUpper(p.ReferralCode)
		if code != "" && !taken[code] {
			// the code may be shared with the legacy user, not with another company
			if _, err := svc.repo.GetCompany(ctx, GetFilter{ReferralCode: code}, exec); err == nil {
				code = ""
			} else if errors.Cause(err) != ErrNotFound {
				return res, errors.Wrap(err, "checking referral code")
			}
		} else {
			code = ""
		}
		if code == "" {
			if code, err = svc.uniqueReferralCode(ctx, taken, exec); err != nil {
				return res, err
			}
		}
		taken[code] = true

		now := core.NowFunc()
		company = Company{
			Name:            p.Name,
			ReferralCode:    code,
			IsActive:        true,
			LegacyPartnerID: null.StringFrom(p.UserID),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if !dryRun {
			if company, err = svc.repo.CreateCompany(ctx, company, exec); err != nil {
				return res, errors.Wrap(err, "creating company")
			}
		}
	}
	res.CompanyID, res.CompanyName, res.ReferralCode = company.ID, company.Name, company.ReferralCode

	if dryRun {
		res.Registrations, err = svc.repo.CountReferredRegistrations(ctx, p.UserID, exec)
	} else {
		res.Registrations, err = svc.repo.AttachLegacyPartner(ctx, p.UserID, company.ID, exec)
	}
	if err != nil {
		return res, errors.Wrap(err, "attaching registrations")
	}
	return res, nil
}

func (svc *service) FixReferralCodes(ctx context.Context, dryRun bool) ([]ReferralCodeChange, error) {
	holders, err := svc.repo.QueryReferralHolders(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying referral codes")
	}
	changes := planReferralCodeFixes(holders, user.GenerateReferralCode)
	if dryRun || len(changes) == 0 {
		return changes, nil
	}

	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		for _, ch := range changes {
			holder := ReferralHolder{Kind: ch.Kind, ID: ch.ID, Code: ch.OldCode}
			if err := svc.repo.SetReferralCode(ctx, holder, ch.NewCode, exec); err != nil {
				return errors.Wrapf(err, "setting referral code of %s %s", ch.Kind, ch.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// planReferralCodeFixes gives a new code to holders with an empty code or a code already held
// by an older holder. A company may share its code with the legacy partner user it was migrated from.
func planReferralCodeFixes(holders []ReferralHolder, genCode func() string) []ReferralCodeChange {
	sorted := make([]ReferralHolder, len(holders))
	copy(sorted, holders)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	used := make(map[string]bool, len(sorted))
	for _, h := range sorted {
		if h.Code != "" {
			used[strings.ToUpper(h.Code)] = true
		}
	}

	owners := make(map[string]ReferralHolder, len(sorted))
	changes := make([]ReferralCodeChange, 0)
	for _, h := range sorted {
		code := strings.ToUpper(h.Code)
		if code != "" {
			owner, held := owners[code]
			if !held {
				owners[code] = h
				continue
			}
			if linked(owner, h) {
				continue
			}
		}

		newCode := genCode()
		for used[newCode] {
			newCode = genCode()
		}
		used[newCode] = true
		owners[newCode] = h
		changes = append(changes, ReferralCodeChange{Kind: h.Kind, ID: h.ID, OldCode: h.Code, NewCode: newCode})
	}
	return changes
}

// linked reports whether one holder is a company migrated from the other, a legacy partner user.
func linked(a, b ReferralHolder) bool {
	return (a.Kind == HolderCompany && b.Kind == HolderUser && a.LinkedUserID == b.ID) ||
		(b.Kind == HolderCompany && a.Kind == HolderUser && b.LinkedUserID == a.ID)
}
