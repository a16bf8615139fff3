package tests

import (
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/enrolla/apps/api/echo"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/tests"
)

func Test_userApi_login(t *testing.T) {
	app, env := setup(t)

	testutil.CreateUser(t, env.UserRepo, "Admin", "admin", "admin@test.test", testPassword, []string{user.RoleAdmin}, true)
	testutil.CreateUser(t, env.UserRepo, "N Dog", "ndog", "ndog@test.test", testPassword, []string{user.RoleStudent}, false)

	authFailed := marchallObj(t, httpErr{Error: "authentication failed"})
	tests := []httpTest{
		{name: "missing fields", body: marchallObj(t, echoapi.LoginRequest{}), wantCode: http.StatusBadRequest},
		{
			name: "unknown user", body: marchallObj(t, echoapi.LoginRequest{Username: "nobody", Password: testPassword}),
			wantCode: http.StatusBadRequest, wantData: authFailed,
		},
		{
			name: "wrong password", body: marchallObj(t, echoapi.LoginRequest{Username: "admin", Password: "wrong"}),
			wantCode: http.StatusBadRequest, wantData: authFailed,
		},
		{
			name: "inactive user", body: marchallObj(t, echoapi.LoginRequest{Username: "ndog", Password: testPassword}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "by username", body: marchallObj(t, echoapi.LoginRequest{Username: " ADMIN ", Password: testPassword})},
		{name: "by email", body: marchallObj(t, echoapi.LoginRequest{Username: "admin@test.test", Password: testPassword})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			app.ServeHTTP(rec, req)
			if tt.wantCode == 0 {
				tt.wantCode = http.StatusOK
				var resp echoapi.LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_signup(t *testing.T) {
	app, env := setup(t)
	testutil.CreateUser(t, env.UserRepo, "Ada", "", "ada@test.test", "", nil, true)

	body := func(email string) []byte {
		return marchallObj(t, user.SignupUser{Name: "Grace", Email: email, Password: testPassword, PasswordConfirm: testPassword})
	}

	req, rec := newRequest(http.MethodPost, "/v1/users/signup", body("ADA@test.test"))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
	}, rec)

	req, rec = newRequest(http.MethodPost, "/v1/users/signup", body("grace@test.test"))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var usr user.User
	unmarshal(t, rec, &usr)
	assert.Equal(t, "grace@test.test", usr.Email)
	assert.Equal(t, []string{user.RoleStudent}, usr.Roles)

	// the new student can log in
	req, rec = newRequest(http.MethodPost, "/v1/users/login", marchallObj(t, echoapi.LoginRequest{Username: usr.Email, Password: testPassword}))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_userApi_query(t *testing.T) {
	app, env := setup(t)

	path := func(search string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}
	bPtr := func(b bool) *bool { return &b }

	usr := testutil.CreateUser(t, env.UserRepo, "User", "awesome", "awe@test.test", "", nil, true)
	student := testutil.CreateUser(t, env.UserRepo, "Hero", "heroic", "hero@test.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, true)
	partner := testutil.CreateUser(t, env.UserRepo, "Partner", "partner", "partner@test.test", "", []string{user.RolePartner}, true)
	naughty := testutil.CreateUser(t, env.UserRepo, "N Dog", "ndog01", "ndog@test.test", "", []string{user.RoleStudent}, false) // 😂

	adminToken := getToken(t, env, admin)
	empty := marchallList(t)

	runTests(t, app, []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: getToken(t, env, student), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/v1/users", token: adminToken, wantData: marchallList(t, naughty, partner, admin, student, usr)},
		{name: "search (unknown)", path: path("lol", nil), token: adminToken, wantData: empty},
		{name: "search=HER", path: path("HER", nil), token: adminToken, wantData: marchallList(t, student)},
		{name: "role=partner:", path: path("", nil, user.RolePartner), token: adminToken, wantData: marchallList(t, partner)},
		{
			name: "role=admin:,student:", path: path("", nil, user.RoleAdmin, user.RoleStudent), token: adminToken,
			wantData: marchallList(t, naughty, admin, student),
		},
		{name: "is_active=false", path: path("", bPtr(false)), token: adminToken, wantData: marchallList(t, naughty)},
		{name: "roles", path: "/v1/users/roles", token: adminToken, wantData: marchallObj(t, user.Roles)},
	})
}

func Test_userApi_detail(t *testing.T) {
	app, env := setup(t)

	student := testutil.CreateUser(t, env.UserRepo, "Hero", "heroic", "hero@test.test", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, env.UserRepo, "Other", "other1", "other@test.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, true)
	owner := testutil.CreateUser(t, env.UserRepo, "Owner", "owner1", "owner@test.test", "", []string{user.RoleAdminOwner}, true)

	studentToken := getToken(t, env, student)
	adminToken := getToken(t, env, admin)
	notFound := marchallObj(t, httpErr{Error: "not found"})
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	runTests(t, app, []httpTest{
		{name: "self", path: "/v1/users/" + student.ID, token: studentToken, wantData: marchallObj(t, student)},
		{name: "other user hidden", path: "/v1/users/" + other.ID, token: studentToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "admin sees anyone", path: "/v1/users/" + other.ID, token: adminToken, wantData: marchallObj(t, other)},
		{name: "unknown", path: "/v1/users/unknown", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "student cannot set roles", method: http.MethodPut, path: "/v1/users/" + student.ID, token: studentToken,
			body: marchallObj(t, user.UpdateUser{Roles: []string{user.RoleAdmin}}), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "admin cannot grant a higher role", method: http.MethodPut, path: "/v1/users/" + other.ID, token: adminToken,
			body:     marchallObj(t, user.UpdateUser{Roles: []string{user.RoleAdminOwner}}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
		{
			name: "invalid role", method: http.MethodPut, path: "/v1/users/" + other.ID, token: adminToken,
			body: marchallObj(t, user.UpdateUser{Roles: []string{"lol"}}), wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown company", method: http.MethodPut, path: "/v1/users/" + other.ID, token: adminToken,
			body:     []byte(`{"partner_company_id": "6b4f4a2e-1c1d-4f5e-9a3b-3f1f3c2d1e0f"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"partner_company_id": "partner company not found"}),
		},
		{name: "delete self", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "delete higher role", method: http.MethodDelete, path: "/v1/users/" + owner.ID, token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "student cannot delete", method: http.MethodDelete, path: "/v1/users/" + student.ID, token: studentToken, wantCode: http.StatusForbidden, wantData: forbidden},
	})

	t.Run("update self", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, studentToken, []byte(`{"name": "  Super Hero ", "phone": "+243 81 000 0000"}`))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var usr user.User
		unmarshal(t, rec, &usr)
		assert.Equal(t, "Super Hero", usr.Name)
		assert.Equal(t, "+243 81 000 0000", usr.Phone)
		assert.Equal(t, student.Email, usr.Email)
	})

	t.Run("set password", func(t *testing.T) {
		body := marchallObj(t, user.SetUserPassword{Password: testPassword, PasswordConfirm: testPassword})
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+other.ID+"/password", studentToken, body)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		req, rec = newAuthRequest(http.MethodPut, "/v1/users/"+other.ID+"/password", adminToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		req, rec = newRequest(http.MethodPost, "/v1/users/login", marchallObj(t, echoapi.LoginRequest{Username: "other1", Password: testPassword}))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+other.ID, adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodGet, "/v1/users/"+other.ID, adminToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		// a deleted user's token is no longer valid
		req, rec = newAuthRequest(http.MethodGet, "/v1/users/"+other.ID, getToken(t, env, other))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	app, env := setup(t)
	testutil.CreateUser(t, env.UserRepo, "Ada", "", "ada@test.test", "", nil, true)

	success := marchallObj(t, echoapi.SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})

	tests := []httpTest{
		{name: "invalid email", body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol"}), wantCode: http.StatusBadRequest},
		{name: "unknown email", body: marchallObj(t, echoapi.PasswordResetRequest{Email: "nobody@test.test"}), wantData: success},
		{name: "known email", body: marchallObj(t, echoapi.PasswordResetRequest{Email: "ADA@test.test"}), wantData: success},
		{
			name: "rate limited", body: marchallObj(t, echoapi.PasswordResetRequest{Email: "ada@test.test"}),
			wantCode: http.StatusTooManyRequests, wantData: marchallObj(t, httpErr{Error: "too many requests, try again later"}),
		},
	}
	require.Equal(t, 3, env.Conf.PasswordResetRL)
	for _, tt := range tests {
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	msgs := env.Mail.SentMessages()
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, "password_reset", msgs[0].TemplateName)
		assert.Equal(t, "ada@test.test", msgs[0].To[0].Address)
	}

	// confirmation is limited separately
	req, rec := newRequest(http.MethodPost, "/v1/users/password-reset-confirm", marchallObj(t, user.ResetUserPassword{
		Token: "lol", UID: "lol", Password: testPassword, PasswordConfirm: testPassword,
	}))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: user.ErrResetLink.Error()}),
	}, rec)
}

func Test_userApi_orphaned(t *testing.T) {
	app, env := setup(t)
	old := time.Now().Add(-60 * 24 * time.Hour)

	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, true, old)
	orphan := testutil.CreateUser(t, env.UserRepo, "Orphan", "", "orphan@test.test", "", []string{user.RoleStudent}, true, old)
	testutil.CreateUser(t, env.UserRepo, "Recent", "", "recent@test.test", "", []string{user.RoleStudent}, true)
	adminToken := getToken(t, env, admin)

	runTests(t, app, []httpTest{
		{name: "Admin required", path: "/v1/users/orphaned", token: getToken(t, env, orphan), wantCode: http.StatusForbidden},
		{name: "default age", path: "/v1/users/orphaned", token: adminToken, wantData: marchallList(t, orphan)},
		{name: "older than 90 days", path: "/v1/users/orphaned?older_than=2160h", token: adminToken, wantData: marchallList(t)},
		{
			name: "invalid age", path: "/v1/users/orphaned?older_than=lol", token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"older_than": "must be a positive duration, e.g. 72h"}),
		},
		{
			name: "delete", method: http.MethodDelete, path: "/v1/users/orphaned", token: adminToken,
			wantData: marchallObj(t, echoapi.CountResponse{Count: 1}),
		},
		{name: "deleted", path: "/v1/users/orphaned", token: adminToken, wantData: marchallList(t)},
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	app, env := setup(t)

	naughty := testutil.CreateUser(t, env.UserRepo, "N Dog", "ndog01", "ndog@test.test", "", []string{user.RoleStudent}, false) // 😂
	student := testutil.CreateUser(t, env.UserRepo, "Hero", "heroic", "hero@test.test", "", []string{user.RoleStudent}, true)

	now := time.Now()
	unrefreshableClaims := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    env.Conf.AppName,
			Subject:   student.ID,
			ExpiresAt: now.Add(env.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * env.Conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		IsStudent:    student.IsStudent(),
		Roles:        student.Roles,
	}
	unrefreshableToken, err := echoapi.GenerateToken(env.Conf, unrefreshableClaims)
	require.NoError(t, err)

	expiredClaims := echoapi.GetUserClaims(env.Conf, student)
	expiredClaims.ExpiresAt = now.Add(-time.Minute).Unix()
	expiredToken, err := echoapi.GenerateToken(env.Conf, expiredClaims)
	require.NoError(t, err)

	runTests(t, app, []httpTest{
		{name: "Auth required", method: http.MethodPost, path: "/v1/users/token-refresh", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Expired token", method: http.MethodPost, path: "/v1/users/token-refresh", token: expiredToken, wantCode: http.StatusUnauthorized},
		{
			name: "Inactive user not allowed", method: http.MethodPost, path: "/v1/users/token-refresh", token: getToken(t, env, naughty),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "Refresh period expired", method: http.MethodPost, path: "/v1/users/token-refresh", token: unrefreshableToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
		},
	})

	t.Run("Token refreshed", func(t *testing.T) {
		origIat := now.Add(-time.Hour).Unix()
		token, err := echoapi.GenerateToken(env.Conf, echoapi.GetUserClaims(env.Conf, student, origIat))
		require.NoError(t, err)

		req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp echoapi.LoginResponse
		unmarshal(t, rec, &resp)
		claims := new(echoapi.Claims)
		_, err = jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(env.Conf.SecretKey), nil
		})
		require.NoError(t, err)
		assert.Equal(t, student.ID, claims.Subject)
		assert.Equal(t, origIat, claims.OrigIssuedAt)
	})
}
