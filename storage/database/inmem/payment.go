package inmemdb

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
)

type paymentRepository struct {
	db *DB
}

var _ payment.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *DB) *paymentRepository {
	return &paymentRepository{db: db}
}

func (repo *paymentRepository) CreateDeadlines(_ context.Context, deadlines []payment.Deadline, _ ...core.DBExecutor) ([]payment.Deadline, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	created := make([]payment.Deadline, 0, len(deadlines))
	for _, d := range deadlines {
		d.ID = newID()
		row := d
		repo.db.deadlines[d.ID] = &row
		created = append(created, d)
	}
	return created, nil
}

func sortDeadlines(deadlines []payment.Deadline) {
	orderRows(deadlines, nil, map[string]comparator[payment.Deadline]{
		"due_on":      func(a, b payment.Deadline) int { return a.DueOn.Compare(b.DueOn) },
		"installment": func(a, b payment.Deadline) int { return a.Installment - b.Installment },
	}, core.DBOrdering{Field: "due_on", Ascending: true}, core.DBOrdering{Field: "installment", Ascending: true})
}

func (repo *paymentRepository) QueryDeadlines(_ context.Context, filter *payment.QueryFilter, _ ...core.DBExecutor) ([]payment.Deadline, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	deadlines := make([]payment.Deadline, 0)
	for _, d := range values(repo.db.deadlines) {
		if filter != nil {
			if filter.RegistrationID != "" && d.RegistrationID != filter.RegistrationID {
				continue
			}
			if filter.UserID != "" {
				reg, ok := repo.db.registrations[d.RegistrationID]
				if !ok || reg.UserID != filter.UserID {
					continue
				}
			}
			if !filter.OverdueAt.IsZero() && !d.IsOverdueAt(filter.OverdueAt) {
				continue
			}
			if filter.Paid != nil && d.IsPaid() != *filter.Paid {
				continue
			}
		}
		deadlines = append(deadlines, d)
	}
	sortDeadlines(deadlines)
	return deadlines, nil
}

func (repo *paymentRepository) GetDeadline(_ context.Context, id string, _ ...core.DBExecutor) (payment.Deadline, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if d, ok := repo.db.deadlines[id]; ok {
		return *d, nil
	}
	return payment.Deadline{}, payment.ErrNotFound
}

func (repo *paymentRepository) AddPayment(
	_ context.Context,
	id string,
	amount decimal.Decimal,
	paidAt, updatedAt time.Time,
	_ ...core.DBExecutor,
) (payment.Deadline, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	d, ok := repo.db.deadlines[id]
	if !ok {
		return payment.Deadline{}, payment.ErrNotFound
	}
	if d.PaidAmount.Add(amount).GreaterThan(d.Amount) {
		return payment.Deadline{}, payment.ErrAmountTooHigh
	}
	d.PaidAmount = d.PaidAmount.Add(amount)
	if d.IsPaid() {
		d.PaidAt = null.TimeFrom(paidAt.UTC())
	}
	d.UpdatedAt = updatedAt
	return *d, nil
}

func (repo *paymentRepository) DeleteRegistrationDeadlines(_ context.Context, registrationID string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for id, d := range repo.db.deadlines {
		if d.RegistrationID == registrationID {
			delete(repo.db.deadlines, id)
			n++
		}
	}
	return n, nil
}

func (repo *paymentRepository) QueryIncompletePlans(_ context.Context, _ ...core.DBExecutor) ([]payment.Plan, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	counts := make(map[string]int)
	for _, d := range repo.db.deadlines {
		counts[d.RegistrationID]++
	}

	regs := values(repo.db.registrations)
	orderRows(regs, nil, registrationFields, core.DBOrdering{Field: "created_at", Ascending: true})

	plans := make([]payment.Plan, 0)
	for _, reg := range regs {
		if reg.Status != registration.StatusApproved && reg.Status != registration.StatusCompleted {
			continue
		}
		crs, ok := repo.db.courses[reg.CourseID]
		if !ok || counts[reg.ID] >= crs.Installments {
			continue
		}
		start := reg.CreatedAt
		if reg.ApprovedAt.Valid {
			start = reg.ApprovedAt.Time
		}
		if crs.StartsOn.Valid && crs.StartsOn.Time.After(start) {
			start = crs.StartsOn.Time
		}
		plans = append(plans, payment.Plan{
			RegistrationID: reg.ID,
			Total:          reg.NetAmount(),
			Installments:   crs.Installments,
			Start:          start.UTC(),
			Existing:       counts[reg.ID],
		})
	}
	return plans, nil
}

func (repo *paymentRepository) GetPayer(_ context.Context, registrationID string, _ ...core.DBExecutor) (payment.Payer, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	reg, ok := repo.db.registrations[registrationID]
	if !ok {
		return payment.Payer{}, payment.ErrNotFound
	}
	var payer payment.Payer
	if usr, ok := repo.db.users[reg.UserID]; ok {
		payer.Name, payer.Email = usr.Name, usr.Email
	}
	if crs, ok := repo.db.courses[reg.CourseID]; ok {
		payer.CourseTitle = crs.Title
	}
	return payer, nil
}
