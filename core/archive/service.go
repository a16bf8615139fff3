package archive

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/enrolla/core"
)

var (
	// errors
	ErrNotFound  = errors.New("archive record not found")
	ErrNoRows    = errors.New("the file has no data rows")
	ErrNoColumns = errors.New("the file has no student name column")

	// header aliases per field, normalized by normalizeHeader, the preferred one first
	columns = []struct {
		field   string
		aliases []string
	}{
		{"student_name", []string{"student name", "full name", "name", "student"}},
		{"email", []string{"email", "e-mail"}},
		{"phone", []string{"phone", "telephone"}},
		{"course_title", []string{"course title", "course", "formation"}},
		{"year", []string{"year"}},
		{"amount_paid", []string{"amount paid", "amount", "paid"}},
		{"status", []string{"status"}},
		{"notes", []string{"notes", "comments", "comment"}},
	}
)

type (
	Repository interface {
		CreateRecords(ctx context.Context, records []Record, exec ...core.DBExecutor) ([]Record, error)
		// QueryRecords does a case-insensitive match of QueryFilter.Search on the student name, email or course title.
		QueryRecords(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Record, error)
		GetRecord(ctx context.Context, id string, exec ...core.DBExecutor) (Record, error)
		UpdateRecord(ctx context.Context, rec Record, exec ...core.DBExecutor) (Record, error)
		DeleteRecordsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		// Import validates rows and inserts the valid ones in a single transaction.
		Import(ctx context.Context, rows []ImportRow) (ImportResult, error)
		Create(ctx context.Context, nr NewRecord) (Record, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Record, error)
		GetByID(ctx context.Context, id string) (Record, error)
		Update(ctx context.Context, rec Record, ur UpdateRecord) (Record, error)
		Delete(ctx context.Context, ids ...string) (int, error)
	}

	service struct {
		repo       Repository
		tx         core.TxRunner
		validate   *validator.Validate
		translator ut.Translator
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(repo Repository, tx core.TxRunner, validate *validator.Validate, translator ut.Translator) Service {
	return &service{repo: repo, tx: tx, validate: validate, translator: translator}
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", ".", "", ":", "").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// resolveColumns lists, per field, the header cells it may be read from, preferred first:
// by alias preference, then in lexical order.
func resolveColumns(rows []ImportRow) map[string][]string {
	byAlias := make(map[string][]string)
	seen := make(map[string]bool)
	for _, row := range rows {
		for header := range row.Values {
			if seen[header] {
				continue
			}
			seen[header] = true
			alias := normalizeHeader(header)
			byAlias[alias] = append(byAlias[alias], header)
		}
	}

	cols := make(map[string][]string)
	for _, col := range columns {
		for _, alias := range col.aliases {
			headers := byAlias[alias]
			sort.Strings(headers)
			cols[col.field] = append(cols[col.field], headers...)
		}
	}
	return cols
}

// mapRow converts a spreadsheet row to a NewRecord, reporting cells that cannot be parsed.
func mapRow(row ImportRow, cols map[string][]string) (NewRecord, map[string]string) {
	var nr NewRecord
	errs := make(map[string]string)
	for _, col := range columns {
		var (
			val string
			ok  bool
		)
		for _, header := range cols[col.field] {
			if val, ok = row.Values[header]; ok {
				break
			}
		}
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		field := col.field
		switch field {
		case "student_name":
			nr.StudentName = val
		case "email":
			nr.Email = val
		case "phone":
			nr.Phone = val
		case "course_title":
			nr.CourseTitle = val
		case "year":
			if val == "" {
				continue
			}
			year, err := strconv.Atoi(strings.TrimSuffix(val, ".0"))
			if err != nil {
				errs[field] = "invalid year"
				continue
			}
			nr.Year = year
		case "amount_paid":
			if val == "" {
				continue
			}
			amount, err := decimal.NewFromString(strings.ReplaceAll(strings.ReplaceAll(val, ",", ""), " ", ""))
			if err != nil {
				errs[field] = "invalid amount"
				continue
			}
			nr.AmountPaid = amount
		case "status":
			nr.Status = val
		case "notes":
			nr.Notes = val
		}
	}
	return nr, errs
}

func isBlank(row ImportRow) bool {
	for _, v := range row.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (svc *service) fieldErrors(err error) map[string]string {
	errs := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			errs[fe.Field()] = fe.Translate(svc.translator)
		}
		return errs
	}
	errs["row"] = err.Error()
	return errs
}

func (svc *service) Import(ctx context.Context, rows []ImportRow) (ImportResult, error) {
	res := ImportResult{Errors: make([]LineError, 0)}
	if len(rows) == 0 {
		return res, core.NewValidationError(ErrNoRows, core.FieldError{Field: "file", Error: ErrNoRows.Error()})
	}
	cols := resolveColumns(rows)
	if len(cols["student_name"]) == 0 {
		return res, core.NewValidationError(ErrNoColumns, core.FieldError{Field: "file", Error: ErrNoColumns.Error()})
	}

	now := core.NowFunc()
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		nr, errs := mapRow(row, cols)
		if len(errs) == 0 {
			if err := nr.Validate(svc.validate); err != nil {
				errs = svc.fieldErrors(err)
			}
		}
		if len(errs) > 0 {
			res.Errors = append(res.Errors, LineError{Line: row.Line, Fields: errs})
			res.Skipped++
			continue
		}
		records = append(records, newRecord(nr, now))
	}
	if len(records) == 0 {
		return res, nil
	}

	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		created, err := svc.repo.CreateRecords(ctx, records, exec)
		res.Imported = len(created)
		return err
	})
	if err != nil {
		return ImportResult{}, errors.Wrap(err, "importing archive records")
	}
	return res, nil
}

func newRecord(nr NewRecord, now time.Time) Record {
	return Record{
		StudentName: nr.StudentName,
		Email:       nr.Email,
		Phone:       nr.Phone,
		CourseTitle: nr.CourseTitle,
		Year:        nr.Year,
		AmountPaid:  nr.AmountPaid.Round(2),
		Status:      nr.Status,
		Notes:       nr.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (svc *service) Create(ctx context.Context, nr NewRecord) (Record, error) {
	created, err := svc.repo.CreateRecords(ctx, []Record{newRecord(nr, core.NowFunc())})
	if err != nil {
		return Record{}, err
	}
	return created[0], nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Record, error) {
	ordering = core.FilterOrderings(ordering, "student_name", "email", "course_title", "year", "amount_paid", "status", "created_at")
	return svc.repo.QueryRecords(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Record, error) {
	return svc.repo.GetRecord(ctx, id)
}

func (svc *service) Update(ctx context.Context, rec Record, ur UpdateRecord) (Record, error) {
	if ur.StudentName != nil {
		rec.StudentName = *ur.StudentName
	}
	if ur.Email != nil {
		rec.Email = *ur.Email
	}
	if ur.Phone != nil {
		rec.Phone = *ur.Phone
	}
	if ur.CourseTitle != nil {
		rec.CourseTitle = *ur.CourseTitle
	}
	if ur.Year != nil {
		rec.Year = *ur.Year
	}
	if ur.AmountPaid != nil {
		rec.AmountPaid = ur.AmountPaid.Round(2)
	}
	if ur.Status != nil {
		rec.Status = *ur.Status
	}
	if ur.Notes != nil {
		rec.Notes = *ur.Notes
	}
	rec.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateRecord(ctx, rec)
}

func (svc *service) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return svc.repo.DeleteRecordsByID(ctx, ids)
}
