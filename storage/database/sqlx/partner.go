package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/partner"
)

const (
	companyColumns = `id, name, referral_code, parent_id, commission_rate, is_active, legacy_partner_id, created_at, updated_at`
	offerColumns   = `id, company_id, course_id, commission_rate, discount_rate, valid_from, valid_to, created_at`

	partnerRoleCond = `EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE 'partner:%')`
)

type companyRow struct {
	ID              string          `db:"id"`
	Name            string          `db:"name"`
	ReferralCode    string          `db:"referral_code"`
	ParentID        null.String     `db:"parent_id"`
	CommissionRate  decimal.Decimal `db:"commission_rate"`
	IsActive        bool            `db:"is_active"`
	LegacyPartnerID null.String     `db:"legacy_partner_id"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func toCompanyRow(c partner.Company) companyRow {
	return companyRow{
		ID:              c.ID,
		Name:            c.Name,
		ReferralCode:    c.ReferralCode,
		ParentID:        c.ParentID,
		CommissionRate:  c.CommissionRate,
		IsActive:        c.IsActive,
		LegacyPartnerID: c.LegacyPartnerID,
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
}

func (r companyRow) company() partner.Company {
	return partner.Company{
		ID:              r.ID,
		Name:            r.Name,
		ReferralCode:    r.ReferralCode,
		ParentID:        r.ParentID,
		CommissionRate:  r.CommissionRate,
		IsActive:        r.IsActive,
		LegacyPartnerID: r.LegacyPartnerID,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

type offerRow struct {
	ID             string              `db:"id"`
	CompanyID      string              `db:"company_id"`
	CourseID       string              `db:"course_id"`
	CommissionRate decimal.NullDecimal `db:"commission_rate"`
	DiscountRate   decimal.Decimal     `db:"discount_rate"`
	ValidFrom      null.Time           `db:"valid_from"`
	ValidTo        null.Time           `db:"valid_to"`
	CreatedAt      time.Time           `db:"created_at"`
}

func toOfferRow(o partner.Offer) offerRow {
	return offerRow{
		ID:             o.ID,
		CompanyID:      o.CompanyID,
		CourseID:       o.CourseID,
		CommissionRate: o.CommissionRate,
		DiscountRate:   o.DiscountRate,
		ValidFrom:      o.ValidFrom,
		ValidTo:        o.ValidTo,
		CreatedAt:      o.CreatedAt.UTC(),
	}
}

func (r offerRow) offer() partner.Offer {
	for _, t := range []*null.Time{&r.ValidFrom, &r.ValidTo} {
		if t.Valid {
			t.Time = t.Time.UTC()
		}
	}
	return partner.Offer{
		ID:             r.ID,
		CompanyID:      r.CompanyID,
		CourseID:       r.CourseID,
		CommissionRate: r.CommissionRate,
		DiscountRate:   r.DiscountRate,
		ValidFrom:      r.ValidFrom,
		ValidTo:        r.ValidTo,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

type saleRow struct {
	RegistrationID string          `db:"registration_id"`
	CompanyID      string          `db:"company_id"`
	CourseID       string          `db:"course_id"`
	CourseTitle    string          `db:"course_title"`
	Status         string          `db:"status"`
	GrossAmount    decimal.Decimal `db:"gross_amount"`
	PaidAmount     decimal.Decimal `db:"paid_amount"`
	CreatedAt      time.Time       `db:"created_at"`
}

type legacyPartnerRow struct {
	UserID       string    `db:"user_id"`
	Name         string    `db:"name"`
	ReferralCode string    `db:"referral_code"`
	CreatedAt    time.Time `db:"created_at"`
}

type holderRow struct {
	Kind         string    `db:"kind"`
	ID           string    `db:"id"`
	Code         string    `db:"code"`
	LinkedUserID string    `db:"linked_user_id"`
	CreatedAt    time.Time `db:"created_at"`
}

type partnerRepository struct {
	base
}

var _ partner.Repository = (*partnerRepository)(nil) // interface compliance check

func NewPartnerRepository(db *sqlx.DB) *partnerRepository {
	return &partnerRepository{base{db: db}}
}

func (repo partnerRepository) CreateCompany(ctx context.Context, c partner.Company, exec ...core.DBExecutor) (partner.Company, error) {
	c.ID = uuid.New().String()
	row := toCompanyRow(c)
	_, err := repo.namedExec(ctx, exec, `INSERT INTO partner_company (`+companyColumns+`) VALUES (:id, :name,
		:referral_code, :parent_id, :commission_rate, :is_active, :legacy_partner_id, :created_at, :updated_at)`, row)
	if err != nil {
		return partner.Company{}, errors.Wrap(err, "inserting company")
	}
	return row.company(), nil
}

func (repo partnerRepository) QueryCompanies(ctx context.Context, filter *partner.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]partner.Company, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			val := like(filter.Search)
			w.add("name ILIKE ? OR referral_code ILIKE ?", val, val)
		}
		if filter.ParentID != "" {
			w.add("parent_id = ?", filter.ParentID)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
	}

	var rows []companyRow
	query := `SELECT ` + companyColumns + ` FROM partner_company` + w.String() + orderBy(ordering, "name ASC")
	if err := repo.selectAll(ctx, exec, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying companies")
	}
	companies := make([]partner.Company, 0, len(rows))
	for _, r := range rows {
		companies = append(companies, r.company())
	}
	return companies, nil
}

func (repo partnerRepository) GetCompany(ctx context.Context, filter partner.GetFilter, exec ...core.DBExecutor) (partner.Company, error) {
	var w where
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return partner.Company{}, partner.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.ReferralCode != "":
		w.add("referral_code = ?", filter.ReferralCode)
	case filter.LegacyPartnerID != "":
		w.add("legacy_partner_id = ?", filter.LegacyPartnerID)
	default:
		return partner.Company{}, partner.ErrNotFound
	}

	var row companyRow
	if err := repo.get(ctx, exec, &row, `SELECT `+companyColumns+` FROM partner_company`+w.String(), w.args...); err != nil {
		return partner.Company{}, trapNoRowsErr(err, partner.ErrNotFound, "finding company")
	}
	return row.company(), nil
}

func (repo partnerRepository) UpdateCompany(ctx context.Context, c partner.Company, exec ...core.DBExecutor) (partner.Company, error) {
	row := toCompanyRow(c)
	n, err := repo.namedExec(ctx, exec, `UPDATE partner_company SET name = :name, referral_code = :referral_code,
		parent_id = :parent_id, commission_rate = :commission_rate, is_active = :is_active,
		legacy_partner_id = :legacy_partner_id, updated_at = :updated_at WHERE id = :id`, row)
	if err != nil {
		return partner.Company{}, errors.Wrap(err, "updating company")
	}
	if n == 0 {
		return partner.Company{}, partner.ErrNotFound
	}
	return row.company(), nil
}

func (repo partnerRepository) DeleteCompany(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.exec(ctx, exec, `DELETE FROM partner_company WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "deleting company")
	}
	if n == 0 {
		return partner.ErrNotFound
	}
	return nil
}

func (repo partnerRepository) CountCompanyRegistrations(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	var cnt int
	if err := repo.get(ctx, exec, &cnt, `SELECT COUNT(*) FROM registration WHERE partner_company_id = ?`, id); err != nil {
		return 0, errors.Wrap(err, "counting company registrations")
	}
	return cnt, nil
}

func (repo partnerRepository) ReferralCodeExists(ctx context.Context, code string, exec ...core.DBExecutor) (bool, error) {
	var found bool
	err := repo.get(ctx, exec, &found, `SELECT EXISTS (SELECT 1 FROM partner_company WHERE referral_code = ?)
		OR EXISTS (SELECT 1 FROM "user" WHERE referral_code = ?)`, code, code)
	if err != nil {
		return false, errors.Wrap(err, "checking referral code")
	}
	return found, nil
}

func (repo partnerRepository) CreateOffer(ctx context.Context, o partner.Offer, exec ...core.DBExecutor) (partner.Offer, error) {
	o.ID = uuid.New().String()
	row := toOfferRow(o)
	_, err := repo.namedExec(ctx, exec, `INSERT INTO partner_offer (`+offerColumns+`) VALUES (:id, :company_id,
		:course_id, :commission_rate, :discount_rate, :valid_from, :valid_to, :created_at)`, row)
	if err != nil {
		return partner.Offer{}, errors.Wrap(err, "inserting offer")
	}
	return row.offer(), nil
}

func (repo partnerRepository) QueryOffers(ctx context.Context, companyIDs []string, exec ...core.DBExecutor) ([]partner.Offer, error) {
	var w where
	if len(companyIDs) > 0 {
		w.add("company_id IN (?)", companyIDs)
	}
	var rows []offerRow
	query := `SELECT ` + offerColumns + ` FROM partner_offer` + w.String() + ` ORDER BY created_at`
	if err := repo.selectAll(ctx, exec, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying offers")
	}
	offers := make([]partner.Offer, 0, len(rows))
	for _, r := range rows {
		offers = append(offers, r.offer())
	}
	return offers, nil
}

func (repo partnerRepository) GetOffer(ctx context.Context, id string, exec ...core.DBExecutor) (partner.Offer, error) {
	if _, err := uuid.Parse(id); err != nil {
		return partner.Offer{}, partner.ErrOfferNotFound
	}
	var row offerRow
	if err := repo.get(ctx, exec, &row, `SELECT `+offerColumns+` FROM partner_offer WHERE id = ?`, id); err != nil {
		return partner.Offer{}, trapNoRowsErr(err, partner.ErrOfferNotFound, "finding offer")
	}
	return row.offer(), nil
}

func (repo partnerRepository) UpdateOffer(ctx context.Context, o partner.Offer, exec ...core.DBExecutor) (partner.Offer, error) {
	row := toOfferRow(o)
	n, err := repo.namedExec(ctx, exec, `UPDATE partner_offer SET commission_rate = :commission_rate,
		discount_rate = :discount_rate, valid_from = :valid_from, valid_to = :valid_to WHERE id = :id`, row)
	if err != nil {
		return partner.Offer{}, errors.Wrap(err, "updating offer")
	}
	if n == 0 {
		return partner.Offer{}, partner.ErrOfferNotFound
	}
	return row.offer(), nil
}

func (repo partnerRepository) DeleteOffer(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.exec(ctx, exec, `DELETE FROM partner_offer WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "deleting offer")
	}
	if n == 0 {
		return partner.ErrOfferNotFound
	}
	return nil
}

func (repo partnerRepository) QuerySales(ctx context.Context, filter partner.SalesFilter, exec ...core.DBExecutor) ([]partner.Sale, error) {
	if len(filter.CompanyIDs) == 0 {
		return []partner.Sale{}, nil
	}
	var w where
	w.add("r.partner_company_id IN (?)", filter.CompanyIDs)
	if !filter.From.IsZero() {
		w.add("r.created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		w.add("r.created_at <= ?", filter.To.UTC())
	}

	var rows []saleRow
	query := `SELECT r.id AS registration_id, r.partner_company_id AS company_id, r.course_id, c.title AS course_title,
		r.status, r.total_amount - r.discount_amount AS gross_amount,
		COALESCE((SELECT SUM(d.paid_amount) FROM payment_deadline d WHERE d.registration_id = r.id), 0) AS paid_amount,
		r.created_at
		FROM registration r JOIN course c ON c.id = r.course_id` + w.String() + ` ORDER BY r.created_at`
	if err := repo.selectAll(ctx, exec, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying sales")
	}
	sales := make([]partner.Sale, 0, len(rows))
	for _, r := range rows {
		sales = append(sales, partner.Sale{
			RegistrationID: r.RegistrationID,
			CompanyID:      r.CompanyID,
			CourseID:       r.CourseID,
			CourseTitle:    r.CourseTitle,
			Status:         r.Status,
			GrossAmount:    r.GrossAmount,
			PaidAmount:     r.PaidAmount,
			CreatedAt:      r.CreatedAt.UTC(),
		})
	}
	return sales, nil
}

func (repo partnerRepository) QueryLegacyPartners(ctx context.Context, exec ...core.DBExecutor) ([]partner.LegacyPartner, error) {
	var rows []legacyPartnerRow
	query := `SELECT id AS user_id, name, COALESCE(referral_code, '') AS referral_code, created_at FROM "user"
		WHERE partner_company_id IS NULL AND ` + partnerRoleCond + ` ORDER BY created_at`
	if err := repo.selectAll(ctx, exec, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying legacy partners")
	}
	partners := make([]partner.LegacyPartner, 0, len(rows))
	for _, r := range rows {
		partners = append(partners, partner.LegacyPartner{
			UserID:       r.UserID,
			Name:         r.Name,
			ReferralCode: r.ReferralCode,
			CreatedAt:    r.CreatedAt.UTC(),
		})
	}
	return partners, nil
}

func (repo partnerRepository) CountReferredRegistrations(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	var cnt int
	err := repo.get(ctx, exec, &cnt, `SELECT COUNT(*) FROM registration
		WHERE referred_by_user_id = ? AND partner_company_id IS NULL`, userID)
	if err != nil {
		return 0, errors.Wrap(err, "counting referred registrations")
	}
	return cnt, nil
}

func (repo partnerRepository) AttachLegacyPartner(ctx context.Context, userID, companyID string, exec ...core.DBExecutor) (int, error) {
	if _, err := repo.exec(ctx, exec, `UPDATE "user" SET partner_company_id = ?, updated_at = ? WHERE id = ?`,
		companyID, core.NowFunc(), userID); err != nil {
		return 0, errors.Wrap(err, "attaching user")
	}
	n, err := repo.exec(ctx, exec, `UPDATE registration SET partner_company_id = ?
		WHERE referred_by_user_id = ? AND partner_company_id IS NULL`, companyID, userID)
	if err != nil {
		return 0, errors.Wrap(err, "attaching registrations")
	}
	return n, nil
}

func (repo partnerRepository) QueryReferralHolders(ctx context.Context, exec ...core.DBExecutor) ([]partner.ReferralHolder, error) {
	var rows []holderRow
	query := `SELECT '` + partner.HolderCompany + `' AS kind, id, referral_code AS code, COALESCE(legacy_partner_id::text, '') AS linked_user_id, created_at
		FROM partner_company
		UNION ALL
		SELECT '` + partner.HolderUser + `' AS kind, id, COALESCE(referral_code, '') AS code, '' AS linked_user_id, created_at
		FROM "user" WHERE referral_code IS NOT NULL OR ` + partnerRoleCond
	if err := repo.selectAll(ctx, exec, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying referral holders")
	}
	holders := make([]partner.ReferralHolder, 0, len(rows))
	for _, r := range rows {
		holders = append(holders, partner.ReferralHolder{
			Kind:         r.Kind,
			ID:           r.ID,
			Code:         r.Code,
			LinkedUserID: r.LinkedUserID,
			CreatedAt:    r.CreatedAt.UTC(),
		})
	}
	return holders, nil
}

func (repo partnerRepository) SetReferralCode(ctx context.Context, holder partner.ReferralHolder, code string, exec ...core.DBExecutor) error {
	table := "partner_company"
	if holder.Kind == partner.HolderUser {
		table = `"user"`
	}
	n, err := repo.exec(ctx, exec, `UPDATE `+table+` SET referral_code = ?, updated_at = ? WHERE id = ?`,
		code, core.NowFunc(), holder.ID)
	if err != nil {
		return errors.Wrapf(err, "setting referral code of %s %s", holder.Kind, holder.ID)
	}
	if n == 0 {
		return partner.ErrNotFound
	}
	return nil
}
