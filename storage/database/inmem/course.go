package inmemdb

import (
	"context"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/course"
)

var courseFields = map[string]comparator[course.Course]{
	"code":       func(a, b course.Course) int { return compareStrings(a.Code, b.Code) },
	"title":      func(a, b course.Course) int { return compareStrings(a.Title, b.Title) },
	"price":      func(a, b course.Course) int { return a.Price.Cmp(b.Price) },
	"starts_on":  func(a, b course.Course) int { return a.StartsOn.Time.Compare(b.StartsOn.Time) },
	"created_at": func(a, b course.Course) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at": func(a, b course.Course) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) *courseRepository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c.ID = newID()
	repo.db.courses[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) QueryCourses(_ context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	courses := make([]course.Course, 0, len(repo.db.courses))
	for _, c := range values(repo.db.courses) {
		if filter != nil {
			if filter.Search != "" && !contains(c.Code, filter.Search) && !contains(c.Title, filter.Search) {
				continue
			}
			if filter.IsActive != nil && c.IsActive != *filter.IsActive {
				continue
			}
		}
		courses = append(courses, c)
	}
	orderRows(courses, ordering, courseFields, core.DBOrdering{Field: "title", Ascending: true})
	return courses, nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id string, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.courses[id]; ok {
		return *c, nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) GetCourseByCode(_ context.Context, code string, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, c := range repo.db.courses {
		if c.Code == code {
			return *c, nil
		}
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.courses[c.ID]; !ok {
		return course.Course{}, course.ErrNotFound
	}
	repo.db.courses[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) DeleteCourse(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.courses[id]; !ok {
		return course.ErrNotFound
	}
	delete(repo.db.courses, id)
	return nil
}

func (repo *courseRepository) CountCourseRegistrations(_ context.Context, id string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, reg := range repo.db.registrations {
		if reg.CourseID == id {
			n++
		}
	}
	return n, nil
}
