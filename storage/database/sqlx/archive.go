package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/archive"
)

const archiveColumns = `id, student_name, email, phone, course_title, year, amount_paid, status, notes, created_at, updated_at`

type archiveRow struct {
	ID          string          `db:"id"`
	StudentName string          `db:"student_name"`
	Email       string          `db:"email"`
	Phone       string          `db:"phone"`
	CourseTitle string          `db:"course_title"`
	Year        int             `db:"year"`
	AmountPaid  decimal.Decimal `db:"amount_paid"`
	Status      string          `db:"status"`
	Notes       string          `db:"notes"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func toArchiveRow(rec archive.Record) archiveRow {
	return archiveRow{
		ID:          rec.ID,
		StudentName: rec.StudentName,
		Email:       rec.Email,
		Phone:       rec.Phone,
		CourseTitle: rec.CourseTitle,
		Year:        rec.Year,
		AmountPaid:  rec.AmountPaid,
		Status:      rec.Status,
		Notes:       rec.Notes,
		CreatedAt:   rec.CreatedAt.UTC(),
		UpdatedAt:   rec.UpdatedAt.UTC(),
	}
}

func (r archiveRow) record() archive.Record {
	return archive.Record{
		ID:          r.ID,
		StudentName: r.StudentName,
		Email:       r.Email,
		Phone:       r.Phone,
		CourseTitle: r.CourseTitle,
		Year:        r.Year,
		AmountPaid:  r.AmountPaid,
		Status:      r.Status,
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type archiveRepository struct {
	base
}

var _ archive.Repository = (*archiveRepository)(nil) // interface compliance check

func NewArchiveRepository(db *sqlx.DB) *archiveRepository {
	return &archiveRepository{base{db: db}}
}

// CreateRecords inserts by batches to stay under the postgres parameters limit.
func (repo archiveRepository) CreateRecords(ctx context.Context, records []archive.Record, exec ...core.DBExecutor) ([]archive.Record, error) {
	const batchSize = 500
	created := make([]archive.Record, 0, len(records))
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		rows := make([]archiveRow, 0, end-start)
		for _, rec := range records[start:end] {
			rec.ID = uuid.New().String()
			rows = append(rows, toArchiveRow(rec))
		}
		_, err := repo.namedExec(ctx, exec, `INSERT INTO archive_record (`+archiveColumns+`) VALUES (:id,
			:student_name, :email, :phone, :course_title, :year, :amount_paid, :status, :notes, :created_at,
			:updated_at)`, rows)
		if err != nil {
			return nil, errors.Wrap(err, "inserting archive records")
		}
		for _, r := range rows {
			created = append(created, r.record())
		}
	}
	return created, nil
}

func (repo archiveRepository) QueryRecords(ctx context.Context, filter *archive.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]archive.Record, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			val := like(filter.Search)
			w.add("student_name ILIKE ? OR email ILIKE ? OR course_title ILIKE ?", val, val, val)
		}
		if filter.Year != 0 {
			w.add("year = ?", filter.Year)
		}
		if filter.Status != "" {
			w.add("status = ?", filter.Status)
		}
	}

	var rows []archiveRow
	query := `SELECT ` + archiveColumns + ` FROM archive_record` + w.String() + orderBy(ordering, "year DESC, student_name ASC")
	if err := repo.selectAll(ctx, exec, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying archive records")
	}
	records := make([]archive.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records, nil
}

func (repo archiveRepository) GetRecord(ctx context.Context, id string, exec ...core.DBExecutor) (archive.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return archive.Record{}, archive.ErrNotFound
	}
	var row archiveRow
	if err := repo.get(ctx, exec, &row, `SELECT `+archiveColumns+` FROM archive_record WHERE id = ?`, id); err != nil {
		return archive.Record{}, trapNoRowsErr(err, archive.ErrNotFound, "finding archive record")
	}
	return row.record(), nil
}

func (repo archiveRepository) UpdateRecord(ctx context.Context, rec archive.Record, exec ...core.DBExecutor) (archive.Record, error) {
	row := toArchiveRow(rec)
	n, err := repo.namedExec(ctx, exec, `UPDATE archive_record SET student_name = :student_name, email = :email,
		phone = :phone, course_title = :course_title, year = :year, amount_paid = :amount_paid, status = :status,
		notes = :notes, updated_at = :updated_at WHERE id = :id`, row)
	if err != nil {
		return archive.Record{}, errors.Wrap(err, "updating archive record")
	}
	if n == 0 {
		return archive.Record{}, archive.ErrNotFound
	}
	return row.record(), nil
}

func (repo archiveRepository) DeleteRecordsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := repo.exec(ctx, exec, `DELETE FROM archive_record WHERE id IN (?)`, ids)
	if err != nil {
		return 0, errors.Wrap(err, "deleting archive records")
	}
	return n, nil
}
