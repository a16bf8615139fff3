//go:build integration

package sqlxrepos_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/storage/database"
	"github.com/trezcool/enrolla/storage/database/sqlx"
	"github.com/trezcool/enrolla/tests"
)

// openTestDB migrates the database at ENROLLA_TEST_DATABASE_URL and resets it once the test is done.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("ENROLLA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ENROLLA_TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx, db.DB, "up"))
	t.Cleanup(func() {
		assert.NoError(t, database.Migrate(ctx, db.DB, "reset"))
		_ = db.Close()
	})
	return db
}

func TestPaymentRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	usrRepo := sqlxrepos.NewUserRepository(db)
	crsRepo := sqlxrepos.NewCourseRepository(db)
	regRepo := sqlxrepos.NewRegistrationRepository(db)
	repo := sqlxrepos.NewPaymentRepository(db)

	usr := testutil.CreateUser(t, usrRepo, "Ada", "", "ada-"+uuid.NewString()+"@test.test", "", nil, true)
	startsOn := time.Now().UTC().AddDate(0, 0, 30).Truncate(24 * time.Hour)
	later := testutil.CreateCourse(t, crsRepo, "GO201", "Go services", "100", 2, startsOn)
	anytime := testutil.CreateCourse(t, crsRepo, "GO101", "Go basics", "300", 3)
	regLater := testutil.CreateRegistration(t, regRepo, usr, later, registration.StatusApproved)
	regAnytime := testutil.CreateRegistration(t, regRepo, usr, anytime, registration.StatusApproved)
	other := testutil.CreateUser(t, usrRepo, "Grace", "", "grace-"+uuid.NewString()+"@test.test", "", nil, true)
	testutil.CreateRegistration(t, regRepo, other, anytime, registration.StatusPending)

	t.Run("incomplete plans", func(t *testing.T) {
		plans, err := repo.QueryIncompletePlans(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 2)

		byReg := make(map[string]payment.Plan)
		for _, p := range plans {
			byReg[p.RegistrationID] = p
		}
		p := byReg[regLater.ID]
		assert.True(t, startsOn.Equal(p.Start), "a future course start wins over the approval date")
		assert.True(t, testutil.Dec("100").Equal(p.Total))
		assert.Equal(t, 2, p.Installments)
		assert.Zero(t, p.Existing)

		p = byReg[regAnytime.ID]
		assert.WithinDuration(t, regAnytime.ApprovedAt.Time, p.Start, time.Millisecond, "no course start falls back to the approval date")
		assert.Equal(t, 3, p.Installments)
	})

	now := time.Now().UTC()
	created, err := repo.CreateDeadlines(ctx, []payment.Deadline{
		{RegistrationID: regLater.ID, Installment: 1, Amount: testutil.Dec("50"), DueOn: startsOn, CreatedAt: now, UpdatedAt: now},
		{RegistrationID: regLater.ID, Installment: 2, Amount: testutil.Dec("50"), DueOn: startsOn.AddDate(0, 1, 0), CreatedAt: now, UpdatedAt: now},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	t.Run("complete plans are skipped", func(t *testing.T) {
		plans, err := repo.QueryIncompletePlans(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.Equal(t, regAnytime.ID, plans[0].RegistrationID)
	})

	t.Run("payments accumulate", func(t *testing.T) {
		id := created[0].ID
		tests := []struct {
			name       string
			amount     string
			wantErr    error
			wantPaid   string
			wantPaidAt bool
		}{
			{name: "partial", amount: "20", wantPaid: "20"},
			{name: "too high", amount: "40", wantErr: payment.ErrAmountTooHigh},
			{name: "balance", amount: "30", wantPaid: "50", wantPaidAt: true},
			{name: "already paid", amount: "1", wantErr: payment.ErrAmountTooHigh},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				d, err := repo.AddPayment(ctx, id, testutil.Dec(tt.amount), now, now)
				if tt.wantErr != nil {
					assert.Equal(t, tt.wantErr, err)
					return
				}
				require.NoError(t, err)
				assert.True(t, testutil.Dec(tt.wantPaid).Equal(d.PaidAmount), "paid %s", d.PaidAmount)
				assert.Equal(t, tt.wantPaidAt, d.PaidAt.Valid)
			})
		}

		_, err := repo.AddPayment(ctx, uuid.NewString(), testutil.Dec("1"), now, now)
		assert.Equal(t, payment.ErrNotFound, err)
	})

	t.Run("query deadlines", func(t *testing.T) {
		paid := true
		deadlines, err := repo.QueryDeadlines(ctx, &payment.QueryFilter{RegistrationID: regLater.ID, Paid: &paid})
		require.NoError(t, err)
		require.Len(t, deadlines, 1)
		assert.Equal(t, created[0].ID, deadlines[0].ID)

		deadlines, err = repo.QueryDeadlines(ctx, &payment.QueryFilter{UserID: usr.ID})
		require.NoError(t, err)
		assert.Len(t, deadlines, 2)

		deadlines, err = repo.QueryDeadlines(ctx, &payment.QueryFilter{OverdueAt: startsOn.AddDate(0, 2, 0)})
		require.NoError(t, err)
		if assert.Len(t, deadlines, 1) {
			assert.Equal(t, created[1].ID, deadlines[0].ID)
		}
	})
}
