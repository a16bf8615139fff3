package payment

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
)

var (
	// errors
	ErrNotFound        = errors.New("payment deadline not found")
	ErrAlreadyPaid     = errors.New("this installment is already paid")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrAmountTooHigh   = errors.New("amount exceeds the outstanding amount")
	ErrInvalidPlanSize = errors.New("invalid number of installments")
)

type (
	Repository interface {
		CreateDeadlines(ctx context.Context, deadlines []Deadline, exec ...core.DBExecutor) ([]Deadline, error)
		// QueryDeadlines orders deadlines by due date then installment number.
		QueryDeadlines(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Deadline, error)
		GetDeadline(ctx context.Context, id string, exec ...core.DBExecutor) (Deadline, error)
		// AddPayment adds amount to the paid amount of deadline id, unless it would exceed the due amount
		// (ErrAmountTooHigh). paidAt is recorded once the deadline is fully paid.
		AddPayment(ctx context.Context, id string, amount decimal.Decimal, paidAt, updatedAt time.Time, exec ...core.DBExecutor) (Deadline, error)
		DeleteRegistrationDeadlines(ctx context.Context, registrationID string, exec ...core.DBExecutor) (int, error)
		// QueryIncompletePlans returns the plans of approved or completed registrations
		// that have fewer deadlines than their course installments.
		QueryIncompletePlans(ctx context.Context, exec ...core.DBExecutor) ([]Plan, error)
		GetPayer(ctx context.Context, registrationID string, exec ...core.DBExecutor) (Payer, error)
	}

	Service interface {
		// GenerateForRegistration creates the deadlines of plan that do not exist yet.
		GenerateForRegistration(ctx context.Context, plan Plan, exec ...core.DBExecutor) ([]Deadline, error)
		AddMissingDeadlines(ctx context.Context, dryRun bool) ([]BackfillResult, error)
		Query(ctx context.Context, filter *QueryFilter) ([]Deadline, error)
		GetByID(ctx context.Context, id string) (Deadline, error)
		MarkPaid(ctx context.Context, d Deadline, p Payment) (Deadline, error)
		Overdue(ctx context.Context, at time.Time) ([]Deadline, error)
		Summary(ctx context.Context, registrationID string) (Summary, error)
		DeleteForRegistration(ctx context.Context, registrationID string, exec ...core.DBExecutor) (int, error)
	}

	service struct {
		repo    Repository
		tx      core.TxRunner
		mailSvc core.EmailService
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(repo Repository, tx core.TxRunner, mailSvc core.EmailService) Service {
	return &service{repo: repo, tx: tx, mailSvc: mailSvc}
}

func (svc *service) GenerateForRegistration(ctx context.Context, plan Plan, exec ...core.DBExecutor) ([]Deadline, error) {
	if plan.Installments < 1 {
		return nil, ErrInvalidPlanSize
	}
	existing, err := svc.repo.QueryDeadlines(ctx, &QueryFilter{RegistrationID: plan.RegistrationID}, exec...)
	if err != nil {
		return nil, errors.Wrap(err, "querying existing deadlines")
	}
	have := make(map[int]bool, len(existing))
	for _, d := range existing {
		have[d.Installment] = true
	}

	now := core.NowFunc()
	missing := make([]Deadline, 0, plan.Installments)
	for _, inst := range PlanInstallments(plan.Total, plan.Installments, plan.Start) {
		if have[inst.Number] {
			continue
		}
		missing = append(missing, Deadline{
			RegistrationID: plan.RegistrationID,
			Installment:    inst.Number,
			Amount:         inst.Amount,
			DueOn:          inst.DueOn,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if len(missing) == 0 {
		return missing, nil
	}
	return svc.repo.CreateDeadlines(ctx, missing, exec...)
}

func (svc *service) AddMissingDeadlines(ctx context.Context, dryRun bool) ([]BackfillResult, error) {
	plans, err := svc.repo.QueryIncompletePlans(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying incomplete plans")
	}

	results := make([]BackfillResult, 0, len(plans))
	if dryRun {
		for _, p := range plans {
			results = append(results, BackfillResult{RegistrationID: p.RegistrationID, Added: p.Installments - p.Existing})
		}
		return results, nil
	}

	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		for _, p := range plans {
			added, err := svc.GenerateForRegistration(ctx, p, exec)
			if err != nil {
				return errors.Wrapf(err, "generating deadlines of registration %s", p.RegistrationID)
			}
			results = append(results, BackfillResult{RegistrationID: p.RegistrationID, Added: len(added)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter) ([]Deadline, error) {
	return svc.repo.QueryDeadlines(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (Deadline, error) {
	return svc.repo.GetDeadline(ctx, id)
}

func (svc *service) MarkPaid(ctx context.Context, d Deadline, p Payment) (Deadline, error) {
	outstanding := d.Outstanding()
	if outstanding.IsZero() {
		return Deadline{}, core.NewValidationError(ErrAlreadyPaid)
	}

	amount := outstanding
	if p.Amount.Valid {
		amount = p.Amount.Decimal.Round(2)
	}
	if !amount.IsPositive() {
		return Deadline{}, core.NewValidationError(ErrInvalidAmount, core.FieldError{Field: "amount", Error: ErrInvalidAmount.Error()})
	}
	if amount.GreaterThan(outstanding) {
		return Deadline{}, core.NewValidationError(ErrAmountTooHigh, core.FieldError{Field: "amount", Error: ErrAmountTooHigh.Error()})
	}

	now := core.NowFunc()
	paidAt := now
	if p.PaidAt.Valid {
		paidAt = p.PaidAt.Time.UTC()
	}

	// d may be stale: the repository checks the outstanding amount again
	paid, err := svc.repo.AddPayment(ctx, d.ID, amount, paidAt, now)
	if err != nil {
		if errors.Cause(err) != ErrAmountTooHigh {
			return Deadline{}, err
		}
		if cur, err := svc.repo.GetDeadline(ctx, d.ID); err == nil && cur.IsPaid() {
			return Deadline{}, core.NewValidationError(ErrAlreadyPaid)
		}
		return Deadline{}, core.NewValidationError(ErrAmountTooHigh, core.FieldError{Field: "amount", Error: ErrAmountTooHigh.Error()})
	}
	svc.sendReceipt(ctx, paid, amount)
	return paid, nil
}

func (svc *service) sendReceipt(ctx context.Context, d Deadline, amount decimal.Decimal) {
	payer, err := svc.repo.GetPayer(ctx, d.RegistrationID)
	if err != nil || payer.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(core.NewEmailMessage(
		mail.Address{Name: payer.Name, Address: payer.Email},
		"Payment received",
		"payment_received",
		map[string]interface{}{
			"Name":        payer.Name,
			"Course":      payer.CourseTitle,
			"Installment": d.Installment,
			"Amount":      amount.StringFixed(2),
			"Outstanding": d.Outstanding().StringFixed(2),
		},
	))
}

func (svc *service) Overdue(ctx context.Context, at time.Time) ([]Deadline, error) {
	paid := false
	return svc.repo.QueryDeadlines(ctx, &QueryFilter{OverdueAt: at, Paid: &paid})
}

func (svc *service) Summary(ctx context.Context, registrationID string) (Summary, error) {
	deadlines, err := svc.repo.QueryDeadlines(ctx, &QueryFilter{RegistrationID: registrationID})
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying deadlines")
	}
	return summarize(registrationID, deadlines), nil
}

func summarize(registrationID string, deadlines []Deadline) Summary {
	s := Summary{RegistrationID: registrationID, Installments: len(deadlines)}
	for _, d := range deadlines {
		s.TotalDue = s.TotalDue.Add(d.Amount)
		s.Paid = s.Paid.Add(d.PaidAmount)
		if !d.IsPaid() && (!s.NextDueOn.Valid || d.DueOn.Before(s.NextDueOn.Time)) {
			s.NextDueOn = null.TimeFrom(d.DueOn)
		}
	}
	s.Outstanding = decimal.Max(decimal.Zero, s.TotalDue.Sub(s.Paid))
	return s
}

func (svc *service) DeleteForRegistration(ctx context.Context, registrationID string, exec ...core.DBExecutor) (int, error) {
	return svc.repo.DeleteRegistrationDeadlines(ctx, registrationID, exec...)
}
