package tests

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/services/excel"
	"github.com/trezcool/enrolla/tests"
)

func Test_partnerApi_companies(t *testing.T) {
	app, env := setup(t)

	root := testutil.CreateCompany(t, env.PartnerRepo, "Root Inc", "ROOT", "10")
	branch := testutil.CreateCompany(t, env.PartnerRepo, "Branch Inc", "BRANCH", "5", root)
	rival := testutil.CreateCompany(t, env.PartnerRepo, "Rival Inc", "RIVAL", "8")

	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, true)
	branchPartner := testutil.CreateUser(t, env.UserRepo, "Branch", "branchpartner", "branch@test.test", "", []string{user.RolePartner}, true)
	branchPartner = testutil.AttachPartner(t, env.UserRepo, branchPartner, branch)

	adminToken := getToken(t, env, admin)
	branchToken := getToken(t, env, branchPartner)
	notFound := marchallObj(t, httpErr{Error: "not found"})

	runTests(t, app, []httpTest{
		{name: "Admin required", path: "/v1/partners/companies", token: branchToken, wantCode: http.StatusForbidden},
		{name: "list", path: "/v1/partners/companies", token: adminToken, wantData: marchallList(t, branch, rival, root)},
		{name: "children", path: "/v1/partners/companies?parent_id=" + root.ID, token: adminToken, wantData: marchallList(t, branch)},
		{name: "own company", path: "/v1/partners/companies/" + branch.ID, token: branchToken, wantData: marchallObj(t, branch)},
		{name: "parent company hidden", path: "/v1/partners/companies/" + root.ID, token: branchToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "rival company hidden", path: "/v1/partners/companies/" + rival.ID, token: branchToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "unknown company", path: "/v1/partners/companies/unknown", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "partners cannot update", method: http.MethodPut, path: "/v1/partners/companies/" + branch.ID, token: branchToken,
			body: []byte(`{"commission_rate": "50"}`), wantCode: http.StatusForbidden,
		},
		{
			name: "taken referral code", method: http.MethodPost, path: "/v1/partners/companies", token: adminToken,
			body:     []byte(`{"name": "Copycat", "referral_code": "root", "commission_rate": "5"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"referral_code": partner.ErrReferralCodeTaken.Error()}),
		},
		{
			name: "unknown parent", method: http.MethodPost, path: "/v1/partners/companies", token: adminToken,
			body:     []byte(`{"name": "Orphan", "parent_id": "6b4f4a2e-1c1d-4f5e-9a3b-3f1f3c2d1e0f", "commission_rate": "5"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"parent_id": "parent company not found"}),
		},
		{
			name: "parent cycle", method: http.MethodPut, path: "/v1/partners/companies/" + root.ID, token: adminToken,
			body:     marchallObj(t, map[string]string{"parent_id": branch.ID}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"parent_id": partner.ErrParentCycle.Error()}),
		},
		{
			name: "cannot delete a parent", method: http.MethodDelete, path: "/v1/partners/companies/" + root.ID, token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: partner.ErrHasChildren.Error()}),
		},
	})

	t.Run("create", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"name": " Leaf Inc ", "parent_id": branch.ID, "commission_rate": "2.5"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/partners/companies", adminToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var company partner.Company
		unmarshal(t, rec, &company)
		assert.Equal(t, "Leaf Inc", company.Name)
		assert.Equal(t, branch.ID, company.ParentID.String)
		assert.NotEmpty(t, company.ReferralCode)
		assert.True(t, company.IsActive)

		// the branch partner now sees the leaf
		req, rec = newAuthRequest(http.MethodGet, "/v1/partners/companies/"+company.ID, branchToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("tree", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/partners/tree", adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var roots []*partner.CompanyNode
		unmarshal(t, rec, &roots)
		require.Len(t, roots, 2)
		for _, node := range roots {
			if node.ID == root.ID {
				require.Len(t, node.Children, 1)
				assert.Equal(t, branch.ID, node.Children[0].ID)
			}
		}
	})

	t.Run("delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/partners/companies/"+rival.ID, adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodGet, "/v1/partners/companies/"+rival.ID, adminToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_partnerApi_offers(t *testing.T) {
	app, env := setup(t)

	company := testutil.CreateCompany(t, env.PartnerRepo, "Root Inc", "ROOT", "10")
	crs := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go Basics", "1000", 1)
	admin := testutil.CreateUser(t, env.UserRepo, "Admin", "admin1", "admin@test.test", "", []string{user.RoleAdmin}, true)
	student := testutil.CreateUser(t, env.UserRepo, "Hero", "heroic", "hero@test.test", "", []string{user.RoleStudent}, true)
	adminToken := getToken(t, env, admin)
	offersPath := "/v1/partners/companies/" + company.ID + "/offers"

	runTests(t, app, []httpTest{
		{name: "no offers", path: offersPath, token: adminToken, wantData: marchallList(t)},
		{
			name: "unknown course", method: http.MethodPost, path: offersPath, token: adminToken,
			body:     []byte(`{"course_id": "6b4f4a2e-1c1d-4f5e-9a3b-3f1f3c2d1e0f", "discount_rate": "10"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"course_id": "course not found"}),
		},
		{
			name: "invalid commission", method: http.MethodPost, path: offersPath, token: adminToken,
			body:     marchallObj(t, map[string]string{"course_id": crs.ID, "commission_rate": "120", "discount_rate": "10"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"commission_rate": "commission rate must be between 0 and 100"}),
		},
	})

	var offer partner.Offer
	t.Run("create", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"course_id": crs.ID, "commission_rate": "15", "discount_rate": "10"})
		req, rec := newAuthRequest(http.MethodPost, offersPath, adminToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		unmarshal(t, rec, &offer)
		assert.Equal(t, company.ID, offer.CompanyID)
		assert.True(t, offer.CommissionRate.Decimal.Equal(testutil.Dec("15")))

		req, rec = newAuthRequest(http.MethodPost, offersPath, adminToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"course_id": partner.ErrOfferExists.Error()}),
		}, rec)
	})

	t.Run("discount applies on registration", func(t *testing.T) {
		body := marchallObj(t, registration.NewRegistration{CourseID: crs.ID, ReferralCode: "root"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/registrations", getToken(t, env, student), body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var reg registration.Registration
		unmarshal(t, rec, &reg)
		assert.True(t, reg.DiscountAmount.Equal(testutil.Dec("100")), reg.DiscountAmount.String())
		assert.True(t, reg.NetAmount().Equal(testutil.Dec("900")))
	})

	t.Run("update and delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/partners/offers/"+offer.ID, adminToken, []byte(`{"discount_rate": "20"}`))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated partner.Offer
		unmarshal(t, rec, &updated)
		assert.True(t, updated.DiscountRate.Equal(testutil.Dec("20")))

		req, rec = newAuthRequest(http.MethodPut, "/v1/partners/offers/"+offer.ID, adminToken, []byte(`{"valid_from": "2020-02-01T00:00:00Z", "valid_to": "2020-01-01T00:00:00Z"}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"valid_to": "must be after valid_from"}),
		}, rec)

		req, rec = newAuthRequest(http.MethodDelete, "/v1/partners/offers/"+offer.ID, adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodDelete, "/v1/partners/offers/"+offer.ID, adminToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_partnerApi_stats(t *testing.T) {
	app, env := setup(t)
	ctx := context.Background()

	root := testutil.CreateCompany(t, env.PartnerRepo, "Root Inc", "ROOT", "10")
	branch := testutil.CreateCompany(t, env.PartnerRepo, "Branch Inc", "BRANCH", "4", root)
	crs := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go Basics", "1000", 1)
	student := testutil.CreateUser(t, env.UserRepo, "Hero", "heroic", "hero@test.test", "", []string{user.RoleStudent}, true)
	student2 := testutil.CreateUser(t, env.UserRepo, "Sidekick", "sidekick", "side@test.test", "", []string{user.RoleStudent}, true)
	rootPartner := testutil.CreateUser(t, env.UserRepo, "Root", "rootpartner", "root@test.test", "", []string{user.RolePartner}, true)
	rootPartner = testutil.AttachPartner(t, env.UserRepo, rootPartner, root)
	branchPartner := testutil.CreateUser(t, env.UserRepo, "Branch", "branchpartner", "branch@test.test", "", []string{user.RolePartner}, true)
	branchPartner = testutil.AttachPartner(t, env.UserRepo, branchPartner, branch)

	// a fully paid sale of the branch and a pending one
	sold := testutil.CreateRegistration(t, env.RegistrationRepo, student, crs, registration.StatusApproved, branch)
	testutil.CreateRegistration(t, env.RegistrationRepo, student2, crs, registration.StatusPending, branch)
	deadlines, err := env.PaymentSvc.GenerateForRegistration(ctx, payment.Plan{
		RegistrationID: sold.ID, Total: sold.NetAmount(), Installments: 1, Start: time.Now(),
	})
	require.NoError(t, err)
	_, err = env.PaymentSvc.MarkPaid(ctx, deadlines[0], payment.Payment{})
	require.NoError(t, err)

	rootToken := getToken(t, env, rootPartner)
	branchToken := getToken(t, env, branchPartner)

	getStats := func(t *testing.T, token, companyID, query string) partner.Stats {
		req, rec := newAuthRequest(http.MethodGet, "/v1/partners/companies/"+companyID+"/stats"+query, token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var stats partner.Stats
		unmarshal(t, rec, &stats)
		return stats
	}

	t.Run("direct sales", func(t *testing.T) {
		stats := getStats(t, branchToken, branch.ID, "")
		assert.Equal(t, map[string]int{registration.StatusApproved: 1, registration.StatusPending: 1}, stats.Registrations)
		assert.True(t, stats.GrossAmount.Equal(testutil.Dec("2000")), stats.GrossAmount.String())
		assert.True(t, stats.PaidAmount.Equal(testutil.Dec("1000")), stats.PaidAmount.String())
		assert.True(t, stats.Commission.Equal(testutil.Dec("40")), stats.Commission.String())
		if assert.Len(t, stats.Courses, 1) {
			assert.Equal(t, 2, stats.Courses[0].Registrations)
		}
	})

	t.Run("parent earns the differential", func(t *testing.T) {
		stats := getStats(t, rootToken, root.ID, "")
		assert.Empty(t, stats.Registrations)

		stats = getStats(t, rootToken, root.ID, "?include_descendants=true")
		assert.True(t, stats.IncludeDescendants)
		assert.True(t, stats.Commission.Equal(testutil.Dec("60")), stats.Commission.String())
	})

	t.Run("date range", func(t *testing.T) {
		tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
		stats := getStats(t, branchToken, branch.ID, "?from="+tomorrow)
		assert.Empty(t, stats.Registrations)
		assert.True(t, stats.From.Valid)

		// a date-only upper bound includes the whole day
		today := time.Now().UTC().Format("2006-01-02")
		stats = getStats(t, branchToken, branch.ID, "?from="+today+"&to="+today)
		assert.Equal(t, map[string]int{registration.StatusApproved: 1, registration.StatusPending: 1}, stats.Registrations)

		req, rec := newAuthRequest(http.MethodGet, "/v1/partners/companies/"+branch.ID+"/stats?to=lol", branchToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"to": "must be a date, e.g. 2006-01-02"}),
		}, rec)
	})

	t.Run("commissions", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/partners/companies/"+root.ID+"/commissions?include_descendants=true", rootToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var lines []partner.CommissionLine
		unmarshal(t, rec, &lines)
		require.Len(t, lines, 2) // pending sales earn nothing yet but are listed
		for _, l := range lines {
			assert.False(t, l.IsDirect)
			if l.RegistrationID == sold.ID {
				assert.True(t, l.Amount.Equal(testutil.Dec("60")), l.Amount.String())
				assert.True(t, l.Rate.Equal(testutil.Dec("6")), l.Rate.String())
			}
		}
	})

	t.Run("branch cannot see the root", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/partners/companies/"+root.ID+"/stats", branchToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("export", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/partners/companies/"+branch.ID+"/stats/export", branchToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, excel.ContentType, rec.Header().Get("Content-Type"))
	})
}
