package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/registration"
)

const documentColumns = `id, user_id, registration_id, kind, status, object_key, filename, content_type, size,
	rejection_reason, reviewed_by, reviewed_at, created_at, updated_at`

type documentRow struct {
	ID              string      `db:"id"`
	UserID          string      `db:"user_id"`
	RegistrationID  null.String `db:"registration_id"`
	Kind            string      `db:"kind"`
	Status          string      `db:"status"`
	ObjectKey       null.String `db:"object_key"`
	Filename        string      `db:"filename"`
	ContentType     string      `db:"content_type"`
	Size            int64       `db:"size"`
	RejectionReason string      `db:"rejection_reason"`
	ReviewedBy      null.String `db:"reviewed_by"`
	ReviewedAt      null.Time   `db:"reviewed_at"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`
}

func toDocumentRow(d document.Document) documentRow {
	return documentRow{
		ID:              d.ID,
		UserID:          d.UserID,
		RegistrationID:  d.RegistrationID,
		Kind:            d.Kind,
		Status:          d.Status,
		ObjectKey:       nullString(d.ObjectKey),
		Filename:        d.Filename,
		ContentType:     d.ContentType,
		Size:            d.Size,
		RejectionReason: d.RejectionReason,
		ReviewedBy:      d.ReviewedBy,
		ReviewedAt:      d.ReviewedAt,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

func (r documentRow) document() document.Document {
	if r.ReviewedAt.Valid {
		r.ReviewedAt.Time = r.ReviewedAt.Time.UTC()
	}
	return document.Document{
		ID:              r.ID,
		UserID:          r.UserID,
		RegistrationID:  r.RegistrationID,
		Kind:            r.Kind,
		Status:          r.Status,
		ObjectKey:       r.ObjectKey.String,
		Filename:        r.Filename,
		ContentType:     r.ContentType,
		Size:            r.Size,
		RejectionReason: r.RejectionReason,
		ReviewedBy:      r.ReviewedBy,
		ReviewedAt:      r.ReviewedAt,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

type registrationDocumentsRow struct {
	RegistrationID string            `db:"registration_id"`
	UserID         string            `db:"user_id"`
	Kinds          types.StringArray `db:"kinds"`
}

type documentRepository struct {
	base
}

var _ document.Repository = (*documentRepository)(nil) // interface compliance check

func NewDocumentRepository(db *sqlx.DB) *documentRepository {
	return &documentRepository{base{db: db}}
}

func (repo documentRepository) CreateDocuments(ctx context.Context, docs []document.Document, exec ...core.DBExecutor) ([]document.Document, error) {
	if len(docs) == 0 {
		return []document.Document{}, nil
	}
	rows := make([]documentRow, 0, len(docs))
	for _, d := range docs {
		d.ID = uuid.New().String()
		rows = append(rows, toDocumentRow(d))
	}
	_, err := repo.namedExec(ctx, exec, `INSERT INTO user_document (`+documentColumns+`) VALUES (:id, :user_id,
		:registration_id, :kind, :status, :object_key, :filename, :content_type, :size, :rejection_reason,
		:reviewed_by, :reviewed_at, :created_at, :updated_at)`, rows)
	if err != nil {
		return nil, errors.Wrap(err, "inserting documents")
	}
	created := make([]document.Document, 0, len(rows))
	for _, r := range rows {
		created = append(created, r.document())
	}
	return created, nil
}

func (repo documentRepository) QueryDocuments(ctx context.Context, filter *document.QueryFilter, exec ...core.DBExecutor) ([]document.Document, error) {
	var w where
	if filter != nil {
		if filter.UserID != "" {
			w.add("user_id = ?", filter.UserID)
		}
		if filter.RegistrationID != "" {
			w.add("registration_id = ?", filter.RegistrationID)
		}
		if len(filter.Kinds) > 0 {
			w.add("kind IN (?)", filter.Kinds)
		}
		if len(filter.Statuses) > 0 {
			w.add("status IN (?)", filter.Statuses)
		}
	}

	var rows []documentRow
	query := `SELECT ` + documentColumns + ` FROM user_document` + w.String() + ` ORDER BY created_at, kind`
	if err := repo.selectAll(ctx, exec, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	docs := make([]document.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs, nil
}

func (repo documentRepository) GetDocument(ctx context.Context, id string, exec ...core.DBExecutor) (document.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return document.Document{}, document.ErrNotFound
	}
	var row documentRow
	if err := repo.get(ctx, exec, &row, `SELECT `+documentColumns+` FROM user_document WHERE id = ?`, id); err != nil {
		return document.Document{}, trapNoRowsErr(err, document.ErrNotFound, "finding document")
	}
	return row.document(), nil
}

func (repo documentRepository) UpdateDocument(ctx context.Context, doc document.Document, exec ...core.DBExecutor) (document.Document, error) {
	row := toDocumentRow(doc)
	n, err := repo.namedExec(ctx, exec, `UPDATE user_document SET registration_id = :registration_id, kind = :kind,
		status = :status, object_key = :object_key, filename = :filename, content_type = :content_type,
		size = :size, rejection_reason = :rejection_reason, reviewed_by = :reviewed_by,
		reviewed_at = :reviewed_at, updated_at = :updated_at WHERE id = :id`, row)
	if err != nil {
		return document.Document{}, errors.Wrap(err, "updating document")
	}
	if n == 0 {
		return document.Document{}, document.ErrNotFound
	}
	return row.document(), nil
}

func (repo documentRepository) DeleteDocument(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := repo.exec(ctx, exec, `DELETE FROM user_document WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "deleting document")
	}
	if n == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (repo documentRepository) DetachRegistration(ctx context.Context, registrationID string, exec ...core.DBExecutor) (int, error) {
	n, err := repo.exec(ctx, exec, `UPDATE user_document SET registration_id = NULL, updated_at = ?
		WHERE registration_id = ?`, core.NowFunc(), registrationID)
	if err != nil {
		return 0, errors.Wrap(err, "detaching documents")
	}
	return n, nil
}

func (repo documentRepository) QueryRegistrationDocuments(ctx context.Context, exec ...core.DBExecutor) ([]document.RegistrationDocuments, error) {
	var rows []registrationDocumentsRow
	query := `SELECT r.id AS registration_id, r.user_id,
		COALESCE(ARRAY_AGG(DISTINCT d.kind) FILTER (WHERE d.kind IS NOT NULL), '{}') AS kinds
		FROM registration r LEFT JOIN user_document d ON d.registration_id = r.id
		WHERE r.status IN (?)
		GROUP BY r.id, r.user_id, r.created_at
		ORDER BY r.created_at`
	statuses := []string{registration.StatusApproved, registration.StatusCompleted}
	if err := repo.selectAll(ctx, exec, &rows, query, statuses); err != nil {
		return nil, errors.Wrap(err, "querying registration documents")
	}
	regs := make([]document.RegistrationDocuments, 0, len(rows))
	for _, r := range rows {
		regs = append(regs, document.RegistrationDocuments{
			RegistrationID: r.RegistrationID,
			UserID:         r.UserID,
			Kinds:          []string(r.Kinds),
		})
	}
	return regs, nil
}

func (repo documentRepository) ObjectKeys(ctx context.Context, exec ...core.DBExecutor) ([]string, error) {
	var keys []string
	if err := repo.selectAll(ctx, exec, &keys, `SELECT object_key FROM user_document WHERE object_key IS NOT NULL`); err != nil {
		return nil, errors.Wrap(err, "querying object keys")
	}
	return keys, nil
}
