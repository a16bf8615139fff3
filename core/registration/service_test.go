package registration_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/tests"
)

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	verr, ok := errors.Cause(err).(*core.ValidationError)
	require.True(t, ok, "expected a validation error, got %v", err)
	if len(verr.Fields) == 0 {
		return ""
	}
	return verr.Fields[0].Field
}

func TestService_Create(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	crs := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go basics", "1000", 4)
	company := testutil.CreateCompany(t, env.PartnerRepo, "Acme", "ACME1", "10")
	_, err := env.PartnerRepo.CreateOffer(ctx, partner.Offer{
		CompanyID:    company.ID,
		CourseID:     crs.ID,
		DiscountRate: testutil.Dec("10"),
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	legacy := testutil.CreateUser(t, env.UserRepo, "Old Partner", "old", "old@test.test", "", []string{user.RolePartner}, true)
	legacy.ReferralCode = "LEGACY1"
	legacy, err = env.UserRepo.UpdateUser(ctx, legacy)
	require.NoError(t, err)

	t.Run("with company referral and offer", func(t *testing.T) {
		usr := testutil.CreateUser(t, env.UserRepo, "Ada", "", "ada@test.test", "", []string{user.RoleStudent}, true)
		env.Mail.Reset()

		reg, err := env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: usr.ID, CourseID: crs.ID, ReferralCode: "ACME1"})
		require.NoError(t, err)
		assert.Equal(t, registration.StatusPending, reg.Status)
		assert.Equal(t, null.StringFrom(company.ID), reg.PartnerCompanyID)
		assert.False(t, reg.ReferredByUserID.Valid)
		assert.Equal(t, "100", reg.DiscountAmount.String())
		assert.Equal(t, "900", reg.NetAmount().String())

		msg, ok := env.Mail.Find("registration_received")
		if assert.True(t, ok) {
			assert.Contains(t, msg.TextContent, "900.00")
		}
	})

	t.Run("with legacy partner referral", func(t *testing.T) {
		usr := testutil.CreateUser(t, env.UserRepo, "Grace", "", "grace@test.test", "", []string{user.RoleStudent}, true)
		reg, err := env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: usr.ID, CourseID: crs.ID, ReferralCode: "LEGACY1"})
		require.NoError(t, err)
		assert.Equal(t, null.StringFrom(legacy.ID), reg.ReferredByUserID)
		assert.False(t, reg.PartnerCompanyID.Valid)
		assert.True(t, reg.DiscountAmount.IsZero())
	})

	t.Run("invalid referral", func(t *testing.T) {
		usr := testutil.CreateUser(t, env.UserRepo, "Linus", "", "linus@test.test", "", nil, true)
		_, err := env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: usr.ID, CourseID: crs.ID, ReferralCode: "NOPE"})
		assert.Equal(t, "referral_code", fieldOf(t, err))
	})

	t.Run("signup code is best effort", func(t *testing.T) {
		usr := testutil.CreateUser(t, env.UserRepo, "Ken", "", "ken@test.test", "", nil, true)
		usr.ReferredByCode = "NOPE"
		usr, err := env.UserRepo.UpdateUser(ctx, usr)
		require.NoError(t, err)

		reg, err := env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: usr.ID, CourseID: crs.ID})
		require.NoError(t, err)
		assert.False(t, reg.PartnerCompanyID.Valid)
		assert.Empty(t, reg.ReferralCode)
	})

	t.Run("signup code is used", func(t *testing.T) {
		usr := testutil.CreateUser(t, env.UserRepo, "Rob", "", "rob@test.test", "", nil, true)
		usr.ReferredByCode = "ACME1"
		usr, err := env.UserRepo.UpdateUser(ctx, usr)
		require.NoError(t, err)

		reg, err := env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: usr.ID, CourseID: crs.ID})
		require.NoError(t, err)
		assert.Equal(t, null.StringFrom(company.ID), reg.PartnerCompanyID)
		assert.Equal(t, "ACME1", reg.ReferralCode)
	})

	t.Run("already registered", func(t *testing.T) {
		usr := testutil.CreateUser(t, env.UserRepo, "Barbara", "", "barbara@test.test", "", nil, true)
		reg, err := env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: usr.ID, CourseID: crs.ID})
		require.NoError(t, err)

		_, err = env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: usr.ID, CourseID: crs.ID})
		assert.Equal(t, "course_id", fieldOf(t, err))

		// a cancelled registration does not block a new one
		_, err = env.RegistrationSvc.Cancel(ctx, reg, usr)
		require.NoError(t, err)
		_, err = env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: usr.ID, CourseID: crs.ID})
		assert.NoError(t, err)
	})

	t.Run("closed course", func(t *testing.T) {
		closed := testutil.CreateCourse(t, env.CourseRepo, "OLD1", "Old course", "10", 1)
		closed.IsActive = false
		_, err := env.CourseRepo.UpdateCourse(ctx, closed)
		require.NoError(t, err)

		usr := testutil.CreateUser(t, env.UserRepo, "Dennis", "", "dennis@test.test", "", nil, true)
		_, err = env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: usr.ID, CourseID: closed.ID})
		assert.Equal(t, "course_id", fieldOf(t, err))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := env.RegistrationSvc.Create(ctx, registration.NewRegistration{UserID: "unknown", CourseID: crs.ID})
		assert.Equal(t, "user_id", fieldOf(t, err))
	})
}

func TestService_ChangeStatus(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	testutil.MockNow(t, now)

	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin", "admin@test.test", "", []string{user.RoleAdmin}, true)
	usr := testutil.CreateUser(t, env.UserRepo, "Ada", "", "ada@test.test", "", nil, true)
	crs := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go basics", "1000", 3, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	reg := testutil.CreateRegistration(t, env.RegistrationRepo, usr, crs, registration.StatusPending)

	t.Run("invalid transition", func(t *testing.T) {
		_, err := env.RegistrationSvc.ChangeStatus(ctx, reg, registration.StatusChange{Status: registration.StatusCompleted}, admin)
		assert.Equal(t, "status", fieldOf(t, err))
	})

	t.Run("approve", func(t *testing.T) {
		env.Mail.Reset()
		approved, err := env.RegistrationSvc.ChangeStatus(ctx, reg, registration.StatusChange{Status: registration.StatusApproved, Note: "welcome"}, admin)
		require.NoError(t, err)
		assert.Equal(t, registration.StatusApproved, approved.Status)
		assert.Equal(t, null.TimeFrom(now), approved.ApprovedAt)
		assert.Equal(t, "[2024-03-10 approved by Admin] welcome", approved.Notes)

		deadlines, err := env.PaymentSvc.Query(ctx, &payment.QueryFilter{RegistrationID: reg.ID})
		require.NoError(t, err)
		if assert.Len(t, deadlines, 3) {
			assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), deadlines[0].DueOn)
			assert.Equal(t, "333.33", deadlines[0].Amount.String())
			assert.Equal(t, "333.34", deadlines[2].Amount.String())
		}

		docs, err := env.DocumentSvc.Query(ctx, &document.QueryFilter{RegistrationID: reg.ID})
		require.NoError(t, err)
		assert.Len(t, docs, len(document.RequiredKinds))
		for _, d := range docs {
			assert.Equal(t, document.StatusMissing, d.Status)
		}

		msg, ok := env.Mail.Find("registration_status")
		if assert.True(t, ok) {
			assert.Contains(t, msg.TextContent, "welcome")
		}

		_, err = env.RegistrationSvc.Cancel(ctx, approved, usr)
		assert.Equal(t, registration.ErrOnlyPendingCancel, errors.Cause(err).(*core.ValidationError).Err)

		completed, err := env.RegistrationSvc.ChangeStatus(ctx, approved, registration.StatusChange{Status: registration.StatusCompleted}, admin)
		require.NoError(t, err)
		assert.Equal(t, approved.Notes, completed.Notes)
	})
}

func TestService_Delete(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin", "admin@test.test", "", []string{user.RoleAdmin}, true)
	usr := testutil.CreateUser(t, env.UserRepo, "Ada", "", "ada@test.test", "", nil, true)
	crs := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go basics", "300", 3)
	reg := testutil.CreateRegistration(t, env.RegistrationRepo, usr, crs, registration.StatusPending)
	reg, err := env.RegistrationSvc.ChangeStatus(ctx, reg, registration.StatusChange{Status: registration.StatusApproved}, admin)
	require.NoError(t, err)

	require.NoError(t, env.RegistrationSvc.Delete(ctx, reg))

	_, err = env.RegistrationSvc.GetByID(ctx, reg.ID)
	assert.Equal(t, registration.ErrNotFound, err)

	deadlines, err := env.PaymentSvc.Query(ctx, &payment.QueryFilter{RegistrationID: reg.ID})
	require.NoError(t, err)
	assert.Empty(t, deadlines)

	// documents stay with their owner
	docs, err := env.DocumentSvc.Query(ctx, &document.QueryFilter{UserID: usr.ID})
	require.NoError(t, err)
	assert.Len(t, docs, len(document.RequiredKinds))
	for _, d := range docs {
		assert.False(t, d.RegistrationID.Valid)
	}
}

func TestService_Query(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	ada := testutil.CreateUser(t, env.UserRepo, "Ada Lovelace", "", "ada@test.test", "", nil, true)
	grace := testutil.CreateUser(t, env.UserRepo, "Grace Hopper", "", "grace@test.test", "", nil, true)
	goCourse := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go basics", "10", 1)
	sqlCourse := testutil.CreateCourse(t, env.CourseRepo, "SQL1", "SQL", "10", 1)
	testutil.CreateRegistration(t, env.RegistrationRepo, ada, goCourse, registration.StatusPending)
	testutil.CreateRegistration(t, env.RegistrationRepo, grace, sqlCourse, registration.StatusApproved)
	testutil.CreateRegistration(t, env.RegistrationRepo, grace, goCourse, registration.StatusRejected)

	tests := []struct {
		name   string
		filter registration.QueryFilter
		want   int
	}{
		{name: "all", want: 3},
		{name: "by user", filter: registration.QueryFilter{UserID: grace.ID}, want: 2},
		{name: "by course", filter: registration.QueryFilter{CourseID: goCourse.ID}, want: 2},
		{name: "by statuses", filter: registration.QueryFilter{Statuses: []string{registration.StatusPending, registration.StatusApproved}}, want: 2},
		{name: "search student", filter: registration.QueryFilter{Search: "lovelace"}, want: 1},
		{name: "search course", filter: registration.QueryFilter{Search: "sql"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regs, err := env.RegistrationSvc.Query(ctx, &tt.filter, nil)
			require.NoError(t, err)
			assert.Len(t, regs, tt.want)
		})
	}
}
