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
	"github.com/trezcool/enrolla/core/registration"
)

const registrationColumns = `id, user_id, course_id, partner_company_id, referred_by_user_id, referral_code, status,
	total_amount, discount_amount, notes, approved_at, created_at, updated_at`

type registrationRow struct {
	ID               string          `db:"id"`
	UserID           string          `db:"user_id"`
	CourseID         string          `db:"course_id"`
	PartnerCompanyID null.String     `db:"partner_company_id"`
	ReferredByUserID null.String     `db:"referred_by_user_id"`
	ReferralCode     string          `db:"referral_code"`
	Status           string          `db:"status"`
	TotalAmount      decimal.Decimal `db:"total_amount"`
	DiscountAmount   decimal.Decimal `db:"discount_amount"`
	Notes            string          `db:"notes"`
	ApprovedAt       null.Time       `db:"approved_at"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func toRegistrationRow(r registration.Registration) registrationRow {
	return registrationRow{
		ID:               r.ID,
		UserID:           r.UserID,
		CourseID:         r.CourseID,
		PartnerCompanyID: r.PartnerCompanyID,
		ReferredByUserID: r.ReferredByUserID,
		ReferralCode:     r.ReferralCode,
		Status:           r.Status,
		TotalAmount:      r.TotalAmount,
		DiscountAmount:   r.DiscountAmount,
		Notes:            r.Notes,
		ApprovedAt:       r.ApprovedAt,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

func (r registrationRow) registration() registration.Registration {
	if r.ApprovedAt.Valid {
		r.ApprovedAt.Time = r.ApprovedAt.Time.UTC()
	}
	return registration.Registration{
		ID:               r.ID,
		UserID:           r.UserID,
		CourseID:         r.CourseID,
		PartnerCompanyID: r.PartnerCompanyID,
		ReferredByUserID: r.ReferredByUserID,
		ReferralCode:     r.ReferralCode,
		Status:           r.Status,
		TotalAmount:      r.TotalAmount,
		DiscountAmount:   r.DiscountAmount,
		Notes:            r.Notes,
		ApprovedAt:       r.ApprovedAt,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

type registrationRepository struct {
	base
}

var _ registration.Repository = (*registrationRepository)(nil) // interface compliance check

func NewRegistrationRepository(db *sqlx.DB) *registrationRepository {
	return &registrationRepository{base{db: db}}
}

func (repo registrationRepository) CreateRegistration(ctx context.Context, reg registration.Registration, exec ...core.DBExecutor) (registration.Registration, error) {
	reg.ID = uuid.New().String()
	row := toRegistrationRow(reg)
	_, err := repo.namedExec(ctx, exec, `INSERT INTO registration (`+registrationColumns+`) VALUES (:id, :user_id,
		:course_id, :partner_company_id, :referred_by_user_id, :referral_code, :status, :total_amount,
		:discount_amount, :notes, :approved_at, :created_at, :updated_at)`, row)
	if err != nil {
		return registration.Registration{}, errors.Wrap(err, "inserting registration")
	}
	return row.registration(), nil
}

func (repo registrationRepository) QueryRegistrations(ctx context.Context, filter *registration.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]registration.Registration, error) {
	var w where
	if filter != nil {
		if filter.UserID != "" {
			w.add("user_id = ?", filter.UserID)
		}
		if filter.CourseID != "" {
			w.add("course_id = ?", filter.CourseID)
		}
		if len(filter.PartnerCompanyIDs) > 0 {
			w.add("partner_company_id IN (?)", filter.PartnerCompanyIDs)
		}
		if len(filter.Statuses) > 0 {
			w.add("status IN (?)", filter.Statuses)
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
		if filter.Search != "" {
			val := like(filter.Search)
			w.add(`EXISTS (SELECT 1 FROM "user" u WHERE u.id = user_id AND (u.name ILIKE ? OR u.email ILIKE ?))
				OR EXISTS (SELECT 1 FROM course c WHERE c.id = course_id AND (c.code ILIKE ? OR c.title ILIKE ?))`,
				val, val, val, val)
		}
	}

	var rows []registrationRow
	query := `SELECT ` + registrationColumns + ` FROM registration` + w.String() + orderBy(ordering, "created_at DESC")
	if err := repo.selectAll(ctx, exec, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying registrations")
	}
	regs := make([]registration.Registration, 0, len(rows))
	for _, r := range rows {
		regs = append(regs, r.registration())
	}
	return regs, nil
}

func (repo registrationRepository) GetRegistration(ctx context.Context, id string, exec ...core.DBExecutor) (registration.Registration, error) {
	if _, err := uuid.Parse(id); err != nil {
		return registration.Registration{}, registration.ErrNotFound
	}
	var row registrationRow
	if err := repo.get(ctx, exec, &row, `SELECT `+registrationColumns+` FROM registration WHERE id = ?`, id); err != nil {
		return registration.Registration{}, trapNoRowsErr(err, registration.ErrNotFound, "finding registration")
	}
	return row.registration(), nil
}

func (repo registrationRepository) UpdateRegistration(ctx context.Context, reg registration.Registration, exec ...core.DBExecutor) (registration.Registration, error) {
	row := toRegistrationRow(reg)
	n, err := repo.namedExec(ctx, exec, `UPDATE registration SET partner_company_id = :partner_company_id,
		referred_by_user_id = :referred_by_user_id, referral_code = :referral_code, status = :status,
		total_amount = :total_amount, discount_amount = :discount_amount, notes = :notes,
		approved_at = :approved_at, updated_at = :updated_at WHERE id = :id`, row)
	if err != nil {
		return registration.Registration{}, errors.Wrap(err, "updating registration")
	}
	if n == 0 {
		return registration.Registration{}, registration.ErrNotFound
	}
	return row.registration(), nil
}

func (repo registrationRepository) DeleteRegistration(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.exec(ctx, exec, `DELETE FROM registration WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "deleting registration")
	}
	if n == 0 {
		return registration.ErrNotFound
	}
	return nil
}

func (repo registrationRepository) HasActiveRegistration(ctx context.Context, userID, courseID string, exec ...core.DBExecutor) (bool, error) {
	var found bool
	err := repo.get(ctx, exec, &found, `SELECT EXISTS (SELECT 1 FROM registration
		WHERE user_id = ? AND course_id = ? AND status <> ?)`, userID, courseID, registration.StatusCancelled)
	if err != nil {
		return false, errors.Wrap(err, "checking active registration")
	}
	return found, nil
}
