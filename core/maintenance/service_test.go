package maintenance_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/tests"
)

func TestService_OrphanedUsers(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	old := time.Now().Add(-60 * 24 * time.Hour)

	orphan := testutil.CreateUser(t, env.UserRepo, "Orphan", "", "orphan@test.test", "", []string{user.RoleStudent}, true, old)
	roleless := testutil.CreateUser(t, env.UserRepo, "Roleless", "", "roleless@test.test", "", nil, false, old.Add(time.Hour))
	testutil.CreateUser(t, env.UserRepo, "Recent", "", "recent@test.test", "", nil, true)
	testutil.CreateUser(t, env.UserRepo, "Admin", "admin", "admin@test.test", "", []string{user.RoleAdmin}, true, old)
	testutil.CreateUser(t, env.UserRepo, "Partner", "", "partner@test.test", "", []string{user.RolePartner}, true, old)

	student := testutil.CreateUser(t, env.UserRepo, "Student", "", "student@test.test", "", []string{user.RoleStudent}, true, old)
	crs := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go", "10", 1)
	testutil.CreateRegistration(t, env.RegistrationRepo, student, crs, registration.StatusCancelled)

	uploader := testutil.CreateUser(t, env.UserRepo, "Uploader", "", "uploader@test.test", "", nil, true, old)
	_, err := env.DocumentSvc.Upload(ctx, document.NewDocument{
		UserID: uploader.ID, Kind: document.KindOther, Filename: "cv.pdf", ContentType: "application/pdf", Size: 2,
	}, strings.NewReader("cv"))
	require.NoError(t, err)

	orphans, err := env.MaintenanceSvc.OrphanedUsers(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	if assert.Len(t, orphans, 2) {
		assert.Equal(t, orphan.ID, orphans[0].ID)
		assert.Equal(t, roleless.ID, orphans[1].ID)
	}

	n, err := env.MaintenanceSvc.DeleteOrphanedUsers(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	users, err := env.UserSvc.Query(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, users, 5)

	n, err = env.MaintenanceSvc.DeleteOrphanedUsers(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
