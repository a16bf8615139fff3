package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/course"
)

const courseColumns = `id, code, title, description, price, installments, is_active, starts_on, created_at, updated_at`

type courseRow struct {
	ID           string          `db:"id"`
	Code         string          `db:"code"`
	Title        string          `db:"title"`
	Description  string          `db:"description"`
	Price        decimal.Decimal `db:"price"`
	Installments int             `db:"installments"`
	IsActive     bool            `db:"is_active"`
	StartsOn     null.Time       `db:"starts_on"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func toCourseRow(c course.Course) courseRow {
	return courseRow{
		ID:           c.ID,
		Code:         c.Code,
		Title:        c.Title,
		Description:  c.Description,
		Price:        c.Price,
		Installments: c.Installments,
		IsActive:     c.IsActive,
		StartsOn:     c.StartsOn,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
}

func (r courseRow) course() course.Course {
	if r.StartsOn.Valid {
		r.StartsOn.Time = r.StartsOn.Time.UTC()
	}
	return course.Course{
		ID:           r.ID,
		Code:         r.Code,
		Title:        r.Title,
		Description:  r.Description,
		Price:        r.Price,
		Installments: r.Installments,
		IsActive:     r.IsActive,
		StartsOn:     r.StartsOn,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type courseRepository struct {
	base
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *sqlx.DB) *courseRepository {
	return &courseRepository{base{db: db}}
}

func (repo courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	c.ID = uuid.New().String()
	row := toCourseRow(c)
	_, err := repo.namedExec(ctx, exec, `INSERT INTO course (`+courseColumns+`) VALUES (:id, :code, :title,
		:description, :price, :installments, :is_active, :starts_on, :created_at, :updated_at)`, row)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return row.course(), nil
}

func (repo courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]course.Course, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			val := like(filter.Search)
			w.add("code ILIKE ? OR title ILIKE ?", val, val)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
	}

	var rows []courseRow
	query := `SELECT ` + courseColumns + ` FROM course` + w.String() + orderBy(ordering, "title ASC")
	if err := repo.selectAll(ctx, exec, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, r.course())
	}
	return courses, nil
}

func (repo courseRepository) GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (course.Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Course{}, course.ErrNotFound
	}
	var row courseRow
	if err := repo.get(ctx, exec, &row, `SELECT `+courseColumns+` FROM course WHERE id = ?`, id); err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "finding course")
	}
	return row.course(), nil
}

func (repo courseRepository) GetCourseByCode(ctx context.Context, code string, exec ...core.DBExecutor) (course.Course, error) {
	var row courseRow
	if err := repo.get(ctx, exec, &row, `SELECT `+courseColumns+` FROM course WHERE code = ?`, code); err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "finding course by code")
	}
	return row.course(), nil
}

func (repo courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	row := toCourseRow(c)
	n, err := repo.namedExec(ctx, exec, `UPDATE course SET code = :code, title = :title, description = :description,
		price = :price, installments = :installments, is_active = :is_active, starts_on = :starts_on,
		updated_at = :updated_at WHERE id = :id`, row)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return row.course(), nil
}

func (repo courseRepository) DeleteCourse(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.exec(ctx, exec, `DELETE FROM course WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "deleting course")
	}
	if n == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (repo courseRepository) CountCourseRegistrations(ctx context.Context, id string, exec ...core.DBExecutor) (int, error) {
	var cnt int
	if err := repo.get(ctx, exec, &cnt, `SELECT COUNT(*) FROM registration WHERE course_id = ?`, id); err != nil {
		return 0, errors.Wrap(err, "counting course registrations")
	}
	return cnt, nil
}
