package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
)

const deadlineColumns = `id, registration_id, installment, amount, due_on, paid_amount, paid_at, created_at, updated_at`

type deadlineRow struct {
	ID             string          `db:"id"`
	RegistrationID string          `db:"registration_id"`
	Installment    int             `db:"installment"`
	Amount         decimal.Decimal `db:"amount"`
	DueOn          time.Time       `db:"due_on"`
	PaidAmount     decimal.Decimal `db:"paid_amount"`
	PaidAt         null.Time       `db:"paid_at"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func toDeadlineRow(d payment.Deadline) deadlineRow {
	return deadlineRow{
		ID:             d.ID,
		RegistrationID: d.RegistrationID,
		Installment:    d.Installment,
		Amount:         d.Amount,
		DueOn:          d.DueOn.UTC(),
		PaidAmount:     d.PaidAmount,
		PaidAt:         d.PaidAt,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

func (r deadlineRow) deadline() payment.Deadline {
	if r.PaidAt.Valid {
		r.PaidAt.Time = r.PaidAt.Time.UTC()
	}
	return payment.Deadline{
		ID:             r.ID,
		RegistrationID: r.RegistrationID,
		Installment:    r.Installment,
		Amount:         r.Amount,
		DueOn:          r.DueOn.UTC(),
		PaidAmount:     r.PaidAmount,
		PaidAt:         r.PaidAt,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type planRow struct {
	RegistrationID string          `db:"registration_id"`
	Total          decimal.Decimal `db:"total"`
	Installments   int             `db:"installments"`
	Start          time.Time       `db:"start"`
	Existing       int             `db:"existing"`
}

type payerRow struct {
	Name        string      `db:"name"`
	Email       null.String `db:"email"`
	CourseTitle string      `db:"course_title"`
}

type paymentRepository struct {
	base
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *sqlx.DB) *paymentRepository {
	return &paymentRepository{base{db: db}}
}

func (repo paymentRepository) CreateDeadlines(ctx context.Context, deadlines []payment.Deadline, exec ...core.DBExecutor) ([]payment.Deadline, error) {
	if len(deadlines) == 0 {
		return []payment.Deadline{}, nil
	}
	rows := make([]deadlineRow, 0, len(deadlines))
	for _, d := range deadlines {
		d.ID = uuid.New().String()
		rows = append(rows, toDeadlineRow(d))
	}
	// sqlx expands a slice into a multi-row insert
	_, err := repo.namedExec(ctx, exec, `INSERT INTO payment_deadline (`+deadlineColumns+`) VALUES (:id,
		:registration_id, :installment, :amount, :due_on, :paid_amount, :paid_at, :created_at, :updated_at)`, rows)
	if err != nil {
		return nil, errors.Wrap(err, "inserting deadlines")
	}
	created := make([]payment.Deadline, 0, len(rows))
	for _, r := range rows {
		created = append(created, r.deadline())
	}
	return created, nil
}

func (repo paymentRepository) QueryDeadlines(ctx context.Context, filter *payment.QueryFilter, exec ...core.DBExecutor) ([]payment.Deadline, error) {
	var w where
	if filter != nil {
		if filter.RegistrationID != "" {
			w.add("registration_id = ?", filter.RegistrationID)
		}
		if filter.UserID != "" {
			w.add("registration_id IN (SELECT id FROM registration WHERE user_id = ?)", filter.UserID)
		}
		if !filter.OverdueAt.IsZero() {
			w.add("paid_amount < amount AND due_on < ?", filter.OverdueAt.UTC().Truncate(24*time.Hour))
		}
		if filter.Paid != nil {
			if *filter.Paid {
				w.add("paid_amount >= amount")
			} else {
				w.add("paid_amount < amount")
			}
		}
	}

	var rows []deadlineRow
	query := `SELECT ` + deadlineColumns + ` FROM payment_deadline` + w.String() + ` ORDER BY due_on, installment`
	if err := repo.selectAll(ctx, exec, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying deadlines")
	}
	deadlines := make([]payment.Deadline, 0, len(rows))
	for _, r := range rows {
		deadlines = append(deadlines, r.deadline())
	}
	return deadlines, nil
}

func (repo paymentRepository) GetDeadline(ctx context.Context, id string, exec ...core.DBExecutor) (payment.Deadline, error) {
	if _, err := uuid.Parse(id); err != nil {
		return payment.Deadline{}, payment.ErrNotFound
	}
	var row deadlineRow
	if err := repo.get(ctx, exec, &row, `SELECT `+deadlineColumns+` FROM payment_deadline WHERE id = ?`, id); err != nil {
		return payment.Deadline{}, trapNoRowsErr(err, payment.ErrNotFound, "finding deadline")
	}
	return row.deadline(), nil
}

func (repo paymentRepository) AddPayment(
	ctx context.Context,
	id string,
	amount decimal.Decimal,
	paidAt, updatedAt time.Time,
	exec ...core.DBExecutor,
) (payment.Deadline, error) {
	if _, err := uuid.Parse(id); err != nil {
		return payment.Deadline{}, payment.ErrNotFound
	}
	// a single statement, so that concurrent payments accumulate
	var row deadlineRow
	err := repo.get(ctx, exec, &row, `UPDATE payment_deadline SET paid_amount = paid_amount + ?,
		paid_at = CASE WHEN paid_amount + ? >= amount THEN ? ELSE paid_at END, updated_at = ?
		WHERE id = ? AND paid_amount + ? <= amount
		RETURNING `+deadlineColumns, amount, amount, paidAt.UTC(), updatedAt.UTC(), id, amount)
	if err == nil {
		return row.deadline(), nil
	}
	if errors.Cause(err) != sql.ErrNoRows {
		return payment.Deadline{}, errors.Wrap(err, "adding payment")
	}
	if _, err = repo.GetDeadline(ctx, id, exec...); err != nil {
		return payment.Deadline{}, err
	}
	return payment.Deadline{}, payment.ErrAmountTooHigh
}

func (repo paymentRepository) DeleteRegistrationDeadlines(ctx context.Context, registrationID string, exec ...core.DBExecutor) (int, error) {
	n, err := repo.exec(ctx, exec, `DELETE FROM payment_deadline WHERE registration_id = ?`, registrationID)
	if err != nil {
		return 0, errors.Wrap(err, "deleting deadlines")
	}
	return n, nil
}

func (repo paymentRepository) QueryIncompletePlans(ctx context.Context, exec ...core.DBExecutor) ([]payment.Plan, error) {
	var rows []planRow
	query := `SELECT r.id AS registration_id, r.total_amount - r.discount_amount AS total, c.installments,
		GREATEST(COALESCE(r.approved_at, r.created_at), COALESCE(c.starts_on, '-infinity'::timestamp)) AS start,
		(SELECT COUNT(*) FROM payment_deadline d WHERE d.registration_id = r.id) AS existing
		FROM registration r JOIN course c ON c.id = r.course_id
		WHERE r.status IN (?)
		AND (SELECT COUNT(*) FROM payment_deadline d WHERE d.registration_id = r.id) < c.installments
		ORDER BY r.created_at`
	statuses := []string{registration.StatusApproved, registration.StatusCompleted}
	if err := repo.selectAll(ctx, exec, &rows, query, statuses); err != nil {
		return nil, errors.Wrap(err, "querying incomplete plans")
	}
	plans := make([]payment.Plan, 0, len(rows))
	for _, r := range rows {
		plans = append(plans, payment.Plan{
			RegistrationID: r.RegistrationID,
			Total:          r.Total,
			Installments:   r.Installments,
			Start:          r.Start.UTC(),
			Existing:       r.Existing,
		})
	}
	return plans, nil
}

func (repo paymentRepository) GetPayer(ctx context.Context, registrationID string, exec ...core.DBExecutor) (payment.Payer, error) {
	var row payerRow
	err := repo.get(ctx, exec, &row, `SELECT u.name, u.email, c.title AS course_title
		FROM registration r JOIN "user" u ON u.id = r.user_id JOIN course c ON c.id = r.course_id
		WHERE r.id = ?`, registrationID)
	if err != nil {
		return payment.Payer{}, trapNoRowsErr(err, payment.ErrNotFound, "finding payer")
	}
	return payment.Payer{Name: row.Name, Email: row.Email.String, CourseTitle: row.CourseTitle}, nil
}
