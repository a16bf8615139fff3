package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/tests"
)

func Test_courseApi(t *testing.T) {
	app, env := setup(t)

	student := testutil.CreateUser(t, env.UserRepo, "Hero", "heroic", "hero@test.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, true)
	studentToken := getToken(t, env, student)
	adminToken := getToken(t, env, admin)

	golang := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go Basics", "1500", 3)
	rust := testutil.CreateCourse(t, env.CourseRepo, "RS101", "Rust Basics", "1200", 1)
	inactive := false
	rust, err := env.CourseSvc.Update(context.Background(), rust, course.UpdateCourse{IsActive: &inactive})
	require.NoError(t, err)

	notFound := marchallObj(t, httpErr{Error: "not found"})

	runTests(t, app, []httpTest{
		{name: "Auth required", path: "/v1/courses", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "students see active courses", path: "/v1/courses", token: studentToken, wantData: marchallList(t, golang)},
		{name: "students cannot list inactive", path: "/v1/courses?is_active=false", token: studentToken, wantData: marchallList(t, golang)},
		{name: "admins see all", path: "/v1/courses", token: adminToken, wantData: marchallList(t, golang, rust)},
		{name: "admin filter", path: "/v1/courses?is_active=false", token: adminToken, wantData: marchallList(t, rust)},
		{name: "search", path: "/v1/courses?search=go", token: adminToken, wantData: marchallList(t, golang)},
		{name: "active detail", path: "/v1/courses/" + golang.ID, token: studentToken, wantData: marchallObj(t, golang)},
		{name: "inactive hidden", path: "/v1/courses/" + rust.ID, token: studentToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "inactive for admin", path: "/v1/courses/" + rust.ID, token: adminToken, wantData: marchallObj(t, rust)},
		{
			name: "students cannot create", method: http.MethodPost, path: "/v1/courses", token: studentToken,
			body: []byte(`{"code": "py101", "title": "Python", "price": "900"}`), wantCode: http.StatusForbidden,
		},
		{
			name: "duplicate code", method: http.MethodPost, path: "/v1/courses", token: adminToken,
			body:     []byte(`{"code": " go101 ", "title": "Go Again", "price": "900"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"code": course.ErrCodeExists.Error()}),
		},
		{
			name: "invalid price", method: http.MethodPost, path: "/v1/courses", token: adminToken,
			body:     []byte(`{"code": "py101", "title": "Python", "price": "9.999"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"price": "must be a positive amount with at most 2 decimals"}),
		},
		{
			name: "students cannot update", method: http.MethodPut, path: "/v1/courses/" + golang.ID, token: studentToken,
			body: []byte(`{"title": "Go"}`), wantCode: http.StatusForbidden,
		},
	})

	t.Run("create", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/courses", adminToken, []byte(`{"code": "py101", "title": " Python ", "price": "900.50"}`))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var crs course.Course
		unmarshal(t, rec, &crs)
		assert.Equal(t, "PY101", crs.Code)
		assert.Equal(t, "Python", crs.Title)
		assert.True(t, crs.Price.Equal(testutil.Dec("900.5")))
		assert.Equal(t, course.MinInstallments, crs.Installments)
		assert.True(t, crs.IsActive)
	})

	t.Run("update", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/courses/"+golang.ID, adminToken, []byte(`{"title": "Go Fundamentals", "installments": 4}`))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var crs course.Course
		unmarshal(t, rec, &crs)
		assert.Equal(t, "Go Fundamentals", crs.Title)
		assert.Equal(t, 4, crs.Installments)
		assert.Equal(t, golang.Code, crs.Code)
	})

	t.Run("delete", func(t *testing.T) {
		testutil.CreateRegistration(t, env.RegistrationRepo, student, golang, registration.StatusPending)

		req, rec := newAuthRequest(http.MethodDelete, "/v1/courses/"+golang.ID, adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: course.ErrHasRegistrations.Error()}),
		}, rec)

		req, rec = newAuthRequest(http.MethodDelete, "/v1/courses/"+rust.ID, adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodGet, "/v1/courses/"+rust.ID, adminToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
