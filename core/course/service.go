package course

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/core"
)

var (
	// errors
	ErrNotFound         = errors.New("course not found")
	ErrCodeExists       = errors.New("a course with this code already exists")
	ErrHasRegistrations = errors.New("course has registrations and cannot be deleted")
)

type (
	Repository interface {
		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		// QueryCourses does a case-insensitive match of QueryFilter.Search on Course.Code or Course.Title.
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Course, error)
		GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (Course, error)
		GetCourseByCode(ctx context.Context, code string, exec ...core.DBExecutor) (Course, error)
		UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		DeleteCourse(ctx context.Context, id string, exec ...core.DBExecutor) error
		CountCourseRegistrations(ctx context.Context, id string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		CheckCodeUniqueness(ctx context.Context, code string, excl ...Course) error
		Create(ctx context.Context, nc NewCourse) (Course, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		GetByID(ctx context.Context, id string) (Course, error)
		Update(ctx context.Context, c Course, uc UpdateCourse) (Course, error)
		Delete(ctx context.Context, id string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) CheckCodeUniqueness(ctx context.Context, code string, excl ...Course) error {
	c, err := svc.repo.GetCourseByCode(ctx, code)
	switch {
	case errors.Cause(err) == ErrNotFound:
		return nil
	case err != nil:
		return err
	}
	for _, ex := range excl {
		if ex.ID == c.ID {
			return nil
		}
	}
	return core.NewValidationError(ErrCodeExists, core.FieldError{Field: "code", Error: ErrCodeExists.Error()})
}

func (svc *service) Create(ctx context.Context, nc NewCourse) (Course, error) {
	now := core.NowFunc()
	c := Course{
		Code:         nc.Code,
		Title:        nc.Title,
		Description:  nc.Description,
		Price:        nc.Price.Round(2),
		Installments: nc.Installments,
		IsActive:     true,
		StartsOn:     nc.StartsOn,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if nc.IsActive != nil {
		c.IsActive = *nc.IsActive
	}
	return svc.repo.CreateCourse(ctx, c)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	ordering = core.FilterOrderings(ordering, "code", "title", "price", "starts_on", "created_at", "updated_at")
	return svc.repo.QueryCourses(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *service) Update(ctx context.Context, c Course, uc UpdateCourse) (Course, error) {
	if uc.Code != nil {
		c.Code = *uc.Code
	}
	if uc.Title != nil {
		c.Title = *uc.Title
	}
	if uc.Description != nil {
		c.Description = core.CleanString(*uc.Description)
	}
	if uc.Price != nil {
		c.Price = uc.Price.Round(2)
	}
	if uc.Installments != nil {
		c.Installments = *uc.Installments
	}
	if uc.IsActive != nil {
		c.IsActive = *uc.IsActive
	}
	if uc.StartsOn.Valid {
		c.StartsOn = uc.StartsOn
	}
	c.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateCourse(ctx, c)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	cnt, err := svc.repo.CountCourseRegistrations(ctx, id)
	if err != nil {
		return errors.Wrap(err, "counting course registrations")
	}
	if cnt > 0 {
		return core.NewValidationError(ErrHasRegistrations)
	}
	return svc.repo.DeleteCourse(ctx, id)
}
