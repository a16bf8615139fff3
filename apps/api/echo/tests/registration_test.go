package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/enrolla/apps/api/echo"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/services/excel"
	"github.com/trezcool/enrolla/tests"
)

func Test_registrationApi(t *testing.T) {
	app, env := setup(t)

	root := testutil.CreateCompany(t, env.PartnerRepo, "Root Inc", "ROOT", "0.10")
	branch := testutil.CreateCompany(t, env.PartnerRepo, "Branch Inc", "BRANCH", "0.05", root)
	rival := testutil.CreateCompany(t, env.PartnerRepo, "Rival Inc", "RIVAL", "0.10")

	student := testutil.CreateUser(t, env.UserRepo, "Hero", "heroic", "hero@test.test", "", []string{user.RoleStudent}, true)
	student2 := testutil.CreateUser(t, env.UserRepo, "Sidekick", "sidekick", "side@test.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, true)
	rootPartner := testutil.CreateUser(t, env.UserRepo, "Root", "rootpartner", "root@test.test", "", []string{user.RolePartner}, true)
	rootPartner = testutil.AttachPartner(t, env.UserRepo, rootPartner, root)
	rivalPartner := testutil.CreateUser(t, env.UserRepo, "Rival", "rivalpartner", "rival@test.test", "", []string{user.RolePartner}, true)
	rivalPartner = testutil.AttachPartner(t, env.UserRepo, rivalPartner, rival)

	golang := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go Basics", "1500", 3)
	python := testutil.CreateCourse(t, env.CourseRepo, "PY101", "Python Basics", "900", 1)

	regRoot := testutil.CreateRegistration(t, env.RegistrationRepo, student, golang, registration.StatusPending, root)
	regBranch := testutil.CreateRegistration(t, env.RegistrationRepo, student2, golang, registration.StatusPending, branch)
	regRival := testutil.CreateRegistration(t, env.RegistrationRepo, student2, python, registration.StatusPending, rival)

	studentToken := getToken(t, env, student)
	student2Token := getToken(t, env, student2)
	adminToken := getToken(t, env, admin)
	rootToken := getToken(t, env, rootPartner)
	rivalToken := getToken(t, env, rivalPartner)
	notFound := marchallObj(t, httpErr{Error: "not found"})
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})
	today := time.Now().UTC().Format("2006-01-02")
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")

	runTests(t, app, []httpTest{
		{name: "Auth required", path: "/v1/registrations", wantCode: http.StatusUnauthorized},
		{name: "students see their own", path: "/v1/registrations", token: studentToken, wantData: marchallList(t, regRoot)},
		{name: "partners see their tree", path: "/v1/registrations", token: rootToken, wantData: marchallList(t, regRoot, regBranch)},
		{
			name: "partners filter within their tree", path: "/v1/registrations?partner_company_id=" + branch.ID, token: rootToken,
			wantData: marchallList(t, regBranch),
		},
		{
			name: "partners cannot filter outside their tree", path: "/v1/registrations?partner_company_id=" + rival.ID, token: rootToken,
			wantData: marchallList(t),
		},
		{name: "rival partner", path: "/v1/registrations", token: rivalToken, wantData: marchallList(t, regRival)},
		{name: "admins see all", path: "/v1/registrations", token: adminToken, wantData: marchallList(t, regRoot, regBranch, regRival)},
		{name: "status filter", path: "/v1/registrations?status=approved", token: adminToken, wantData: marchallList(t)},
		{
			name: "created today", path: "/v1/registrations?created_from=" + today + "&created_to=" + today, token: adminToken,
			wantData: marchallList(t, regRoot, regBranch, regRival),
		},
		{name: "created until yesterday", path: "/v1/registrations?created_to=" + yesterday, token: adminToken, wantData: marchallList(t)},
		{name: "owner detail", path: "/v1/registrations/" + regRoot.ID, token: studentToken, wantData: marchallObj(t, regRoot)},
		{name: "other student", path: "/v1/registrations/" + regRoot.ID, token: student2Token, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "tree partner detail", path: "/v1/registrations/" + regBranch.ID, token: rootToken, wantData: marchallObj(t, regBranch)},
		{name: "rival partner detail", path: "/v1/registrations/" + regBranch.ID, token: rivalToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "export is for admins", path: "/v1/registrations/export", token: rootToken, wantCode: http.StatusForbidden},
		{
			name: "students cannot change status", method: http.MethodPut, path: "/v1/registrations/" + regRoot.ID + "/status",
			token: studentToken, body: []byte(`{"status": "approved"}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "invalid status", method: http.MethodPut, path: "/v1/registrations/" + regRoot.ID + "/status",
			token: adminToken, body: []byte(`{"status": "lol"}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "partner cannot cancel", method: http.MethodPost, path: "/v1/registrations/" + regBranch.ID + "/cancel",
			token: rootToken, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "partner cannot see deadlines", path: "/v1/registrations/" + regBranch.ID + "/deadlines",
			token: rootToken, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "partners cannot register", method: http.MethodPost, path: "/v1/registrations", token: rootToken,
			body: marchallObj(t, registration.NewRegistration{CourseID: python.ID}), wantCode: http.StatusForbidden, wantData: forbidden,
		},
	})

	t.Run("student registers", func(t *testing.T) {
		// user_id is ignored for students
		body := marchallObj(t, registration.NewRegistration{UserID: student2.ID, CourseID: python.ID, ReferralCode: "root"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations", studentToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var reg registration.Registration
		unmarshal(t, rec, &reg)
		assert.Equal(t, student.ID, reg.UserID)
		assert.Equal(t, registration.StatusPending, reg.Status)
		assert.Equal(t, root.ID, reg.PartnerCompanyID.String)
		assert.Equal(t, "ROOT", reg.ReferralCode)

		msg, ok := env.Mail.Find("registration_received")
		if assert.True(t, ok) {
			assert.Equal(t, student.Email, msg.To[0].Address)
		}

		req, rec = newAuthRequest(http.MethodPost, "/v1/registrations", studentToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"course_id": registration.ErrAlreadyRegistered.Error()}),
		}, rec)
	})

	t.Run("invalid referral", func(t *testing.T) {
		js := testutil.CreateCourse(t, env.CourseRepo, "JS101", "JS Basics", "500", 1)
		body := marchallObj(t, registration.NewRegistration{CourseID: js.ID, ReferralCode: "nope"})

		// admins must name the student
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations", adminToken, body)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		req, rec = newAuthRequest(http.MethodPost, "/v1/registrations", student2Token, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"referral_code": registration.ErrInvalidReferral.Error()}),
		}, rec)
	})

	t.Run("approve", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/registrations/"+regRoot.ID+"/status", adminToken, []byte(`{"status": "Approved", "note": "welcome"}`))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var reg registration.Registration
		unmarshal(t, rec, &reg)
		assert.Equal(t, registration.StatusApproved, reg.Status)
		assert.True(t, reg.ApprovedAt.Valid)
		assert.Contains(t, reg.Notes, "welcome")
		_, ok := env.Mail.Find("registration_status")
		assert.True(t, ok)

		req, rec = newAuthRequest(http.MethodGet, "/v1/registrations/"+regRoot.ID+"/deadlines", studentToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp echoapi.RegistrationDeadlines
		unmarshal(t, rec, &resp)
		assert.Len(t, resp.Deadlines, 3)
		assert.Equal(t, 3, resp.Summary.Installments)
		assert.True(t, resp.Summary.TotalDue.Equal(testutil.Dec("1500")), resp.Summary.TotalDue.String())
		assert.True(t, resp.Summary.NextDueOn.Valid)

		// approved registrations cannot go back
		req, rec = newAuthRequest(http.MethodPut, "/v1/registrations/"+regRoot.ID+"/status", adminToken, []byte(`{"status": "pending"}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"status": "cannot change status from approved to pending"}),
		}, rec)

		req, rec = newAuthRequest(http.MethodPost, "/v1/registrations/"+regRoot.ID+"/cancel", studentToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: registration.ErrOnlyPendingCancel.Error()}),
		}, rec)
	})

	t.Run("cancel", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations/"+regBranch.ID+"/cancel", student2Token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var reg registration.Registration
		unmarshal(t, rec, &reg)
		assert.Equal(t, registration.StatusCancelled, reg.Status)
	})

	t.Run("export", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/registrations/export", adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, excel.ContentType, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "registrations-")
		assert.NotZero(t, rec.Body.Len())
	})

	t.Run("delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/registrations/"+regRoot.ID, studentToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		req, rec = newAuthRequest(http.MethodDelete, "/v1/registrations/"+regRoot.ID, adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		deadlines, err := env.PaymentSvc.Query(req.Context(), &payment.QueryFilter{RegistrationID: regRoot.ID})
		require.NoError(t, err)
		assert.Empty(t, deadlines)
	})
}
