package tests

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/enrolla/apps/api/echo"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/tests"
)

var pdfContent = []byte("%PDF-1.4\n%fake\n")

func Test_documentApi_upload(t *testing.T) {
	app, env := setup(t)

	student := testutil.CreateUser(t, env.UserRepo, "Hero", "heroic", "hero@test.test", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, env.UserRepo, "Other", "other1", "other@test.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, true)
	crs := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go Basics", "900", 1)
	reg := testutil.CreateRegistration(t, env.RegistrationRepo, student, crs, registration.StatusApproved)
	otherReg := testutil.CreateRegistration(t, env.RegistrationRepo, other, crs, registration.StatusApproved)

	studentToken := getToken(t, env, student)

	tests := []struct {
		name     string
		token    string
		fields   map[string]string
		filename string
		wantCode int
		wantData []byte
	}{
		{name: "Auth required", fields: map[string]string{"kind": "diploma"}, filename: "diploma.pdf", wantCode: http.StatusUnauthorized},
		{
			name: "file required", token: studentToken, fields: map[string]string{"kind": "diploma"},
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"file": "a file is required"}),
		},
		{name: "invalid kind", token: studentToken, fields: map[string]string{"kind": "selfie"}, filename: "me.png", wantCode: http.StatusBadRequest},
		{
			name: "invalid extension", token: studentToken, fields: map[string]string{"kind": "other"}, filename: "virus.exe",
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"file": "only pdf, png and jpg files are allowed"}),
		},
		{
			name: "students cannot upload for others", token: studentToken, fields: map[string]string{"kind": "other", "user_id": other.ID},
			filename: "doc.pdf", wantCode: http.StatusForbidden,
		},
		{
			name: "registration of another user", token: studentToken, fields: map[string]string{"kind": "other", "registration_id": otherReg.ID},
			filename: "doc.pdf", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"registration_id": registration.ErrNotFound.Error()}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newMultipartRequest(t, "/v1/documents", tt.token, tt.fields, tt.filename, pdfContent)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, httpTest{wantCode: tt.wantCode, wantData: tt.wantData}, rec)
		})
	}
	assert.Zero(t, env.Store.Len())

	t.Run("upload", func(t *testing.T) {
		req, rec := newMultipartRequest(t, "/v1/documents", studentToken, map[string]string{"kind": " Transcript "}, "transcript.PDF", pdfContent)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var doc document.Document
		unmarshal(t, rec, &doc)
		assert.Equal(t, student.ID, doc.UserID)
		assert.Equal(t, document.KindTranscript, doc.Kind)
		assert.Equal(t, document.StatusPending, doc.Status)
		assert.Equal(t, "transcript.PDF", doc.Filename)
		assert.Equal(t, "application/pdf", doc.ContentType)
		assert.Equal(t, int64(len(pdfContent)), doc.Size)
		assert.Equal(t, 1, env.Store.Len())
	})

	t.Run("replaces placeholder", func(t *testing.T) {
		placeholders, err := env.DocumentSvc.CreatePlaceholders(context.Background(), student.ID, reg.ID)
		require.NoError(t, err)
		var idCard document.Document
		for _, p := range placeholders {
			if p.Kind == document.KindIDCard {
				idCard = p
			}
		}
		require.NotEmpty(t, idCard.ID)

		req, rec := newMultipartRequest(t, "/v1/documents", studentToken, map[string]string{"kind": "id_card", "registration_id": reg.ID}, "id.jpg", []byte("jpeg"))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var doc document.Document
		unmarshal(t, rec, &doc)
		assert.Equal(t, idCard.ID, doc.ID)
		assert.Equal(t, document.StatusPending, doc.Status)
		assert.Equal(t, "image/jpeg", doc.ContentType)
		assert.Equal(t, reg.ID, doc.RegistrationID.String)
	})

	t.Run("admin uploads for a student", func(t *testing.T) {
		req, rec := newMultipartRequest(t, "/v1/documents", getToken(t, env, admin), map[string]string{"kind": "contract", "user_id": other.ID}, "contract.pdf", pdfContent)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var doc document.Document
		unmarshal(t, rec, &doc)
		assert.Equal(t, other.ID, doc.UserID)
	})
}

func Test_documentApi_detail(t *testing.T) {
	app, env := setup(t)

	student := testutil.CreateUser(t, env.UserRepo, "Hero", "heroic", "hero@test.test", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, env.UserRepo, "Other", "other1", "other@test.test", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, true)
	crs := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go Basics", "900", 1)
	reg := testutil.CreateRegistration(t, env.RegistrationRepo, student, crs, registration.StatusApproved)

	placeholders, err := env.DocumentSvc.CreatePlaceholders(context.Background(), student.ID, reg.ID)
	require.NoError(t, err)
	placeholder := placeholders[0]

	doc, err := env.DocumentSvc.Upload(context.Background(), document.NewDocument{
		UserID:      student.ID,
		Kind:        document.KindOther,
		Filename:    "cv.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(pdfContent)),
	}, strings.NewReader(string(pdfContent)))
	require.NoError(t, err)
	otherDoc, err := env.DocumentSvc.Upload(context.Background(), document.NewDocument{
		UserID:      other.ID,
		Kind:        document.KindOther,
		Filename:    "cv.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(pdfContent)),
	}, strings.NewReader(string(pdfContent)))
	require.NoError(t, err)

	studentToken := getToken(t, env, student)
	adminToken := getToken(t, env, admin)
	notFound := marchallObj(t, httpErr{Error: "not found"})
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	docs := append(placeholders, doc)
	ownList := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		ownList = append(ownList, d)
	}

	runTests(t, app, []httpTest{
		{name: "own documents", path: "/v1/documents", token: studentToken, wantData: marchallList(t, ownList...)},
		{name: "user_id is ignored for students", path: "/v1/documents?user_id=" + other.ID, token: studentToken, wantData: marchallList(t, ownList...)},
		{name: "admin filters by user", path: "/v1/documents?user_id=" + other.ID, token: adminToken, wantData: marchallList(t, otherDoc)},
		{name: "admin filters by status", path: "/v1/documents?status=missing", token: adminToken, wantData: marchallList(t, ownList[:len(placeholders)]...)},
		{name: "owner detail", path: "/v1/documents/" + doc.ID, token: studentToken, wantData: marchallObj(t, doc)},
		{name: "other's document", path: "/v1/documents/" + otherDoc.ID, token: studentToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "placeholder has no file", path: "/v1/documents/" + placeholder.ID + "/download", token: studentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: document.ErrNoFile.Error()}),
		},
		{
			name: "students cannot review", method: http.MethodPut, path: "/v1/documents/" + doc.ID + "/review", token: studentToken,
			body: []byte(`{"approve": true}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "rejection needs a reason", method: http.MethodPut, path: "/v1/documents/" + doc.ID + "/review", token: adminToken,
			body:     []byte(`{"approve": false}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"reason": "a reason is required to reject a document"}),
		},
		{
			name: "placeholders cannot be reviewed", method: http.MethodPut, path: "/v1/documents/" + placeholder.ID + "/review", token: adminToken,
			body:     []byte(`{"approve": true}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: document.ErrNotReviewable.Error()}),
		},
	})

	t.Run("download", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/documents/"+doc.ID+"/download", studentToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp echoapi.DownloadResponse
		unmarshal(t, rec, &resp)
		assert.True(t, strings.HasPrefix(resp.URL, "memory://"+document.KeyPrefix+student.ID+"/"), resp.URL)
	})

	t.Run("review and delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/documents/"+doc.ID+"/review", adminToken, []byte(`{"approve": true}`))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var reviewed document.Document
		unmarshal(t, rec, &reviewed)
		assert.Equal(t, document.StatusApproved, reviewed.Status)
		assert.Equal(t, admin.ID, reviewed.ReviewedBy.String)
		msg, ok := env.Mail.Find("document_status")
		if assert.True(t, ok) {
			assert.Equal(t, student.Email, msg.To[0].Address)
		}

		// approved documents are kept
		req, rec = newAuthRequest(http.MethodDelete, "/v1/documents/"+doc.ID, studentToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: forbidden}, rec)

		storedBefore := env.Store.Len()
		req, rec = newAuthRequest(http.MethodDelete, "/v1/documents/"+doc.ID, adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, storedBefore-1, env.Store.Len())

		req, rec = newAuthRequest(http.MethodGet, "/v1/documents/"+doc.ID, adminToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("owner deletes a placeholder", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/documents/"+placeholder.ID, studentToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
