package course_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/tests"
)

func TestNewCourse_Validate(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go basics", "1000", 4)

	tests := []struct {
		name    string
		nc      course.NewCourse
		wantErr bool
	}{
		{name: "valid", nc: course.NewCourse{Code: " rust1 ", Title: "Rust", Price: testutil.Dec("10")}},
		{name: "code taken", nc: course.NewCourse{Code: "go101", Title: "Go again", Price: testutil.Dec("10")}, wantErr: true},
		{name: "missing title", nc: course.NewCourse{Code: "X1", Price: testutil.Dec("10")}, wantErr: true},
		{name: "too many installments", nc: course.NewCourse{Code: "X2", Title: "X", Installments: 36}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nc := tt.nc
			err := nc.Validate(ctx, env.Validate, env.CourseSvc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "RUST1", nc.Code)
			assert.Equal(t, course.MinInstallments, nc.Installments)
		})
	}
}

func TestService_CreateUpdate(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	c, err := env.CourseSvc.Create(ctx, course.NewCourse{Code: "GO101", Title: "Go", Price: testutil.Dec("99.999"), Installments: 3})
	require.NoError(t, err)
	assert.True(t, c.IsActive)
	assert.Equal(t, "100", c.Price.String())

	other := testutil.CreateCourse(t, env.CourseRepo, "SQL1", "SQL", "10", 1)

	code := "sql1"
	uc := course.UpdateCourse{Code: &code}
	err = uc.Validate(ctx, c, env.Validate, env.CourseSvc)
	assert.True(t, core.IsValidationError(err))

	// keeping its own code is fine
	code = "go101"
	inactive := false
	uc = course.UpdateCourse{Code: &code, IsActive: &inactive}
	require.NoError(t, uc.Validate(ctx, c, env.Validate, env.CourseSvc))
	c, err = env.CourseSvc.Update(ctx, c, uc)
	require.NoError(t, err)
	assert.False(t, c.IsActive)

	active := true
	courses, err := env.CourseSvc.Query(ctx, &course.QueryFilter{IsActive: &active}, nil)
	require.NoError(t, err)
	if assert.Len(t, courses, 1) {
		assert.Equal(t, other.ID, courses[0].ID)
	}
}

func TestService_Delete(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, env.UserRepo, "Ada", "", "ada@test.test", "", nil, true)
	used := testutil.CreateCourse(t, env.CourseRepo, "GO101", "Go", "10", 1)
	unused := testutil.CreateCourse(t, env.CourseRepo, "SQL1", "SQL", "10", 1)
	testutil.CreateRegistration(t, env.RegistrationRepo, usr, used, registration.StatusPending)

	err := env.CourseSvc.Delete(ctx, used.ID)
	assert.True(t, core.IsValidationError(err))

	require.NoError(t, env.CourseSvc.Delete(ctx, unused.ID))
	_, err = env.CourseSvc.GetByID(ctx, unused.ID)
	assert.Equal(t, course.ErrNotFound, err)
}
