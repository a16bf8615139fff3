package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanInstallments splits total into n installments.
// Every installment is total/n truncated to cents, the last one absorbs the remainder.
// Installment i (0-based) is due on start + i months, clamped to the last day of that month.
func PlanInstallments(total decimal.Decimal, n int, start time.Time) []Installment {
	if n < 1 {
		n = 1
	}
	start = dayOf(start)
	amount := total.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	last := total.Sub(amount.Mul(decimal.NewFromInt(int64(n - 1))))

	plan := make([]Installment, 0, n)
	for i := 0; i < n; i++ {
		inst := Installment{Number: i + 1, Amount: amount, DueOn: AddMonths(start, i)}
		if i == n-1 {
			inst.Amount = last
		}
		plan = append(plan, inst)
	}
	return plan
}

// AddMonths adds months to t; the day is clamped to the last day of the target month.
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
