package user_test

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/tests"
)

func TestService_Signup(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	usr, err := env.UserSvc.Signup(ctx, user.SignupUser{
		Name:         "Ada",
		Email:        "ada@test.test",
		Password:     "correct-horse",
		ReferralCode: "ABCD1234",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.Equal(t, []string{user.RoleStudent}, usr.Roles)
	assert.Equal(t, "ABCD1234", usr.ReferredByCode)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword("correct-horse"))

	msg, ok := env.Mail.Find("welcome")
	if assert.True(t, ok) {
		assert.Equal(t, "ada@test.test", msg.To[0].Address)
		assert.Contains(t, msg.TextContent, "Ada")
	}
}

func TestService_CheckUniqueness(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, env.UserRepo, "Ada", "adalove", "ada@test.test", "", nil, true)

	tests := []struct {
		name      string
		uname     string
		email     string
		excl      []user.User
		wantField string
	}{
		{name: "free", uname: "grace", email: "grace@test.test"},
		{name: "username taken", uname: "adalove", email: "other@test.test", wantField: "username"},
		{name: "email taken", uname: "grace", email: "ada@test.test", wantField: "email"},
		{name: "excluded", uname: "adalove", email: "ada@test.test", excl: []user.User{usr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.UserSvc.CheckUniqueness(ctx, tt.uname, tt.email, tt.excl...)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *core.ValidationError
			if assert.True(t, errors.As(err, &verr)) {
				assert.Equal(t, tt.wantField, verr.Fields[0].Field)
			}
		})
	}
}

func TestService_Query(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	student := testutil.CreateUser(t, env.UserRepo, "Student", "student", "student@test.test", "", []string{user.RoleStudent}, true)
	partnerUsr := testutil.CreateUser(t, env.UserRepo, "Partner", "partner", "partner@test.test", "", []string{user.RolePartnerManager}, true)
	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, false)

	active := true
	tests := []struct {
		name   string
		filter *user.QueryFilter
		want   []user.User
	}{
		{name: "search", filter: &user.QueryFilter{Search: "PART"}, want: []user.User{partnerUsr}},
		{name: "role prefix", filter: &user.QueryFilter{Roles: []string{user.RolePartner}}, want: []user.User{partnerUsr}},
		{name: "active", filter: &user.QueryFilter{IsActive: &active, Roles: []string{user.RoleStudent, user.RoleAdmin}}, want: []user.User{student}},
		{name: "inactive admins", filter: &user.QueryFilter{Roles: []string{user.RoleAdmin}}, want: []user.User{admin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.UserSvc.Query(ctx, tt.filter, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_PasswordReset(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, env.UserRepo, "Ada", "adalove", "ada@test.test", "old-password", nil, true)
	testutil.CreateUser(t, env.UserRepo, "Off", "offline", "off@test.test", "", nil, false)

	assert.Equal(t, user.ErrNotFound, errors.Cause(env.UserSvc.RequestPasswordReset(ctx, "nobody@test.test")))
	assert.Equal(t, user.ErrNotFound, errors.Cause(env.UserSvc.RequestPasswordReset(ctx, "off@test.test")))
	require.NoError(t, env.UserSvc.RequestPasswordReset(ctx, " ADA@test.test "))

	msg, ok := env.Mail.Find("password_reset")
	require.True(t, ok)
	url := msg.TemplateData.(map[string]interface{})["URL"].(string)
	parts := strings.Split(url, "/")
	uid, token := parts[len(parts)-2], parts[len(parts)-1]
	assert.Equal(t, user.EncodeUID(usr), uid)

	rp := user.ResetUserPassword{UID: uid, Token: "bad-token-x", Password: "new-password", PasswordConfirm: "new-password"}
	err := env.UserSvc.ResetPassword(ctx, rp)
	assert.True(t, core.IsValidationError(err))

	rp.Token = token
	require.NoError(t, env.UserSvc.ResetPassword(ctx, rp))
	usr, err = env.UserSvc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("new-password"))

	// the token is spent once the password changed
	assert.True(t, core.IsValidationError(env.UserSvc.ResetPassword(ctx, rp)))
}

func TestService_SetPassword(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, env.UserRepo, "Ada", "adalove", "ada@test.test", "old-password", nil, true)

	usr, err := env.UserSvc.SetPassword(ctx, usr, user.SetUserPassword{Password: "s3cret-pass", PasswordConfirm: "s3cret-pass"})
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("s3cret-pass"))
	_, sent := env.Mail.Find("password_changed")
	assert.False(t, sent)

	_, err = env.UserSvc.SetPassword(ctx, usr, user.SetUserPassword{Password: "an0ther-pass", PasswordConfirm: "an0ther-pass", Notify: true})
	require.NoError(t, err)
	_, sent = env.Mail.Find("password_changed")
	assert.True(t, sent)
}

func TestService_Delete(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	u1 := testutil.CreateUser(t, env.UserRepo, "One", "user01", "one@test.test", "", nil, true)
	u2 := testutil.CreateUser(t, env.UserRepo, "Two", "user02", "two@test.test", "", nil, true)

	n, err := env.UserSvc.Delete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.UserSvc.Delete(ctx, u1.ID, "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.UserSvc.GetByID(ctx, u1.ID)
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	_, err = env.UserSvc.GetByID(ctx, u2.ID)
	assert.NoError(t, err)
}

func TestGenerateReferralCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code := user.GenerateReferralCode()
		assert.Len(t, code, 8)
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "0")
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}
