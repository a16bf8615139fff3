package inmemdb

import (
	"context"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/archive"
)

var archiveFields = map[string]comparator[archive.Record]{
	"student_name": func(a, b archive.Record) int { return compareStrings(a.StudentName, b.StudentName) },
	"email":        func(a, b archive.Record) int { return compareStrings(a.Email, b.Email) },
	"course_title": func(a, b archive.Record) int { return compareStrings(a.CourseTitle, b.CourseTitle) },
	"year":         func(a, b archive.Record) int { return a.Year - b.Year },
	"amount_paid":  func(a, b archive.Record) int { return a.AmountPaid.Cmp(b.AmountPaid) },
	"status":       func(a, b archive.Record) int { return compareStrings(a.Status, b.Status) },
	"created_at":   func(a, b archive.Record) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

type archiveRepository struct {
	db *DB
}

var _ archive.Repository = (*archiveRepository)(nil) // interface compliance check

func NewArchiveRepository(db *DB) *archiveRepository {
	return &archiveRepository{db: db}
}

func (repo *archiveRepository) CreateRecords(_ context.Context, records []archive.Record, _ ...core.DBExecutor) ([]archive.Record, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	created := make([]archive.Record, 0, len(records))
	for _, rec := range records {
		rec.ID = newID()
		row := rec
		repo.db.archive[rec.ID] = &row
		created = append(created, rec)
	}
	return created, nil
}

func (repo *archiveRepository) QueryRecords(_ context.Context, filter *archive.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]archive.Record, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	records := make([]archive.Record, 0, len(repo.db.archive))
	for _, rec := range values(repo.db.archive) {
		if filter != nil {
			if filter.Search != "" && !contains(rec.StudentName, filter.Search) &&
				!contains(rec.Email, filter.Search) && !contains(rec.CourseTitle, filter.Search) {
				continue
			}
			if filter.Year != 0 && rec.Year != filter.Year {
				continue
			}
			if filter.Status != "" && rec.Status != filter.Status {
				continue
			}
		}
		records = append(records, rec)
	}
	orderRows(records, ordering, archiveFields,
		core.DBOrdering{Field: "year"}, core.DBOrdering{Field: "student_name", Ascending: true})
	return records, nil
}

func (repo *archiveRepository) GetRecord(_ context.Context, id string, _ ...core.DBExecutor) (archive.Record, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if rec, ok := repo.db.archive[id]; ok {
		return *rec, nil
	}
	return archive.Record{}, archive.ErrNotFound
}

func (repo *archiveRepository) UpdateRecord(_ context.Context, rec archive.Record, _ ...core.DBExecutor) (archive.Record, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.archive[rec.ID]; !ok {
		return archive.Record{}, archive.ErrNotFound
	}
	repo.db.archive[rec.ID] = &rec
	return rec, nil
}

func (repo *archiveRepository) DeleteRecordsByID(_ context.Context, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for _, id := range ids {
		if _, ok := repo.db.archive[id]; ok {
			delete(repo.db.archive, id)
			n++
		}
	}
	return n, nil
}
