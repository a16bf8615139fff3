package document

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/user"
)

var (
	// errors
	ErrNotFound      = errors.New("document not found")
	ErrNoFile        = errors.New("this document has no file yet")
	ErrNotReviewable = errors.New("this document cannot be reviewed")
)

type (
	Repository interface {
		CreateDocuments(ctx context.Context, docs []Document, exec ...core.DBExecutor) ([]Document, error)
		QueryDocuments(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Document, error)
		GetDocument(ctx context.Context, id string, exec ...core.DBExecutor) (Document, error)
		UpdateDocument(ctx context.Context, doc Document, exec ...core.DBExecutor) (Document, error)
		DeleteDocument(ctx context.Context, id string, exec ...core.DBExecutor) error
		// DetachRegistration unlinks the documents of a registration; they remain attached to their user.
		DetachRegistration(ctx context.Context, registrationID string, exec ...core.DBExecutor) (int, error)
		// QueryRegistrationDocuments lists approved and completed registrations with their document kinds.
		QueryRegistrationDocuments(ctx context.Context, exec ...core.DBExecutor) ([]RegistrationDocuments, error)
		// ObjectKeys returns every object key referenced by a document.
		ObjectKeys(ctx context.Context, exec ...core.DBExecutor) ([]string, error)
	}

	Service interface {
		Upload(ctx context.Context, nd NewDocument, content io.Reader) (Document, error)
		Query(ctx context.Context, filter *QueryFilter) ([]Document, error)
		GetByID(ctx context.Context, id string) (Document, error)
		DownloadURL(ctx context.Context, doc Document) (string, error)
		Review(ctx context.Context, doc Document, r Review, reviewer user.User) (Document, error)
		Delete(ctx context.Context, doc Document) error
		// CreatePlaceholders adds a missing document for every required kind the registration lacks.
		CreatePlaceholders(ctx context.Context, userID, registrationID string, exec ...core.DBExecutor) ([]Document, error)
		DetachRegistration(ctx context.Context, registrationID string, exec ...core.DBExecutor) (int, error)
		BackfillRequired(ctx context.Context, dryRun bool) ([]BackfillResult, error)
		// CleanupStorage deletes the stored objects not referenced by any document and older than olderThan.
		CleanupStorage(ctx context.Context, olderThan time.Duration, dryRun bool) ([]core.ObjectInfo, error)
	}

	service struct {
		repo    Repository
		tx      core.TxRunner
		store   core.ObjectStore
		userSvc user.Service
		mailSvc core.EmailService
		conf    *core.Config
		logger  core.Logger
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	repo Repository,
	tx core.TxRunner,
	store core.ObjectStore,
	userSvc user.Service,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) Service {
	return &service{repo: repo, tx: tx, store: store, userSvc: userSvc, mailSvc: mailSvc, conf: conf, logger: logger}
}

// deleteObject removes a file the caller no longer needs; failures are only logged,
// CleanupStorage collects what is left.
func (svc *service) deleteObject(ctx context.Context, key string) {
	if err := svc.store.Delete(ctx, key); err != nil {
		svc.logger.Warn(fmt.Sprintf("deleting document file %s", key), errors.Wrap(err, "document.Upload"))
	}
}

func objectKey(userID, ext string) string {
	return KeyPrefix + userID + "/" + uuid.New().String() + ext
}

func (svc *service) Upload(ctx context.Context, nd NewDocument, content io.Reader) (Document, error) {
	// a missing or rejected document of the same kind is replaced
	var replaced *Document
	if nd.RegistrationID.Valid {
		docs, err := svc.repo.QueryDocuments(ctx, &QueryFilter{
			UserID:         nd.UserID,
			RegistrationID: nd.RegistrationID.String,
			Kinds:          []string{nd.Kind},
			Statuses:       []string{StatusMissing, StatusRejected},
		})
		if err != nil {
			return Document{}, errors.Wrap(err, "querying documents")
		}
		if len(docs) > 0 {
			replaced = &docs[0]
		}
	}

	key := objectKey(nd.UserID, nd.Ext())
	if err := svc.store.Put(ctx, key, content, nd.Size, nd.ContentType); err != nil {
		return Document{}, errors.Wrap(err, "storing document")
	}

	now := core.NowFunc()
	var (
		doc    Document
		oldKey string
		err    error
	)
	if replaced != nil {
		doc, oldKey = *replaced, replaced.ObjectKey
		doc.Status = StatusPending
		doc.ObjectKey = key
		doc.Filename = nd.Filename
		doc.ContentType = nd.ContentType
		doc.Size = nd.Size
		doc.RejectionReason = ""
		doc.ReviewedBy = null.String{}
		doc.ReviewedAt = null.Time{}
		doc.UpdatedAt = now
		doc, err = svc.repo.UpdateDocument(ctx, doc)
	} else {
		var docs []Document
		docs, err = svc.repo.CreateDocuments(ctx, []Document{{
			UserID:         nd.UserID,
			RegistrationID: nd.RegistrationID,
			Kind:           nd.Kind,
			Status:         StatusPending,
			ObjectKey:      key,
			Filename:       nd.Filename,
			ContentType:    nd.ContentType,
			Size:           nd.Size,
			CreatedAt:      now,
			UpdatedAt:      now,
		}})
		if err == nil {
			doc = docs[0]
		}
	}
	if err != nil {
		svc.deleteObject(ctx, key)
		return Document{}, errors.Wrap(err, "saving document")
	}

	if oldKey != "" {
		svc.deleteObject(ctx, oldKey)
	}
	return doc, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter) ([]Document, error) {
	return svc.repo.QueryDocuments(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (Document, error) {
	return svc.repo.GetDocument(ctx, id)
}

func (svc *service) DownloadURL(ctx context.Context, doc Document) (string, error) {
	if !doc.HasFile() {
		return "", ErrNoFile
	}
	url, err := svc.store.PresignGet(ctx, doc.ObjectKey, svc.conf.Storage.PresignExpiry)
	if err != nil {
		return "", errors.Wrap(err, "presigning document URL")
	}
	return url, nil
}

func (svc *service) Review(ctx context.Context, doc Document, r Review, reviewer user.User) (Document, error) {
	if !doc.HasFile() || doc.Status == StatusMissing {
		return Document{}, core.NewValidationError(ErrNotReviewable)
	}

	now := core.NowFunc()
	if r.Approve {
		doc.Status = StatusApproved
		doc.RejectionReason = ""
	} else {
		doc.Status = StatusRejected
		doc.RejectionReason = r.Reason
	}
	doc.ReviewedBy = null.StringFrom(reviewer.ID)
	doc.ReviewedAt = null.TimeFrom(now)
	doc.UpdatedAt = now

	doc, err := svc.repo.UpdateDocument(ctx, doc)
	if err != nil {
		return Document{}, err
	}

	if owner, err := svc.userSvc.GetByID(ctx, doc.UserID); err == nil {
		if addr, ok := owner.EmailAddress(); ok {
			svc.mailSvc.SendMessages(core.NewEmailMessage(addr, "Document "+doc.Status, "document_status", map[string]interface{}{
				"Name":     owner.Name,
				"Filename": doc.Filename,
				"Kind":     doc.Kind,
				"Status":   doc.Status,
				"Reason":   doc.RejectionReason,
			}))
		}
	}
	return doc, nil
}

func (svc *service) Delete(ctx context.Context, doc Document) error {
	if err := svc.repo.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if doc.HasFile() {
		if err := svc.store.Delete(ctx, doc.ObjectKey); err != nil {
			return errors.Wrap(err, "deleting document file")
		}
	}
	return nil
}

func missingKinds(have []string) []string {
	missing := make([]string, 0, len(RequiredKinds))
	for _, kind := range RequiredKinds {
		if !core.StringInSlice(kind, have) {
			missing = append(missing, kind)
		}
	}
	return missing
}

func placeholders(userID, registrationID string, kinds []string) []Document {
	now := core.NowFunc()
	docs := make([]Document, 0, len(kinds))
	for _, kind := range kinds {
		docs = append(docs, Document{
			UserID:         userID,
			RegistrationID: null.StringFrom(registrationID),
			Kind:           kind,
			Status:         StatusMissing,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return docs
}

func (svc *service) CreatePlaceholders(ctx context.Context, userID, registrationID string, exec ...core.DBExecutor) ([]Document, error) {
	docs, err := svc.repo.QueryDocuments(ctx, &QueryFilter{RegistrationID: registrationID}, exec...)
	if err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	have := make([]string, 0, len(docs))
	for _, d := range docs {
		have = append(have, d.Kind)
	}
	kinds := missingKinds(have)
	if len(kinds) == 0 {
		return []Document{}, nil
	}
	return svc.repo.CreateDocuments(ctx, placeholders(userID, registrationID, kinds), exec...)
}

func (svc *service) DetachRegistration(ctx context.Context, registrationID string, exec ...core.DBExecutor) (int, error) {
	return svc.repo.DetachRegistration(ctx, registrationID, exec...)
}

func (svc *service) BackfillRequired(ctx context.Context, dryRun bool) ([]BackfillResult, error) {
	regs, err := svc.repo.QueryRegistrationDocuments(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying registration documents")
	}

	results := make([]BackfillResult, 0)
	err = svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		for _, reg := range regs {
			kinds := missingKinds(reg.Kinds)
			if len(kinds) == 0 {
				continue
			}
			if !dryRun {
				if _, err := svc.repo.CreateDocuments(ctx, placeholders(reg.UserID, reg.RegistrationID, kinds), exec); err != nil {
					return errors.Wrapf(err, "creating placeholders of registration %s", reg.RegistrationID)
				}
			}
			results = append(results, BackfillResult{RegistrationID: reg.RegistrationID, UserID: reg.UserID, Created: kinds})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (svc *service) CleanupStorage(ctx context.Context, olderThan time.Duration, dryRun bool) ([]core.ObjectInfo, error) {
	objects, err := svc.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "listing stored documents")
	}
	keys, err := svc.repo.ObjectKeys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying document keys")
	}
	referenced := make(map[string]bool, len(keys))
	for _, k := range keys {
		referenced[k] = true
	}

	cutoff := core.NowFunc().Add(-olderThan)
	orphans := make([]core.ObjectInfo, 0)
	orphanKeys := make([]string, 0)
	for _, obj := range objects {
		if referenced[obj.Key] || !obj.LastModified.Before(cutoff) {
			continue
		}
		orphans = append(orphans, obj)
		orphanKeys = append(orphanKeys, obj.Key)
	}
	if dryRun || len(orphanKeys) == 0 {
		return orphans, nil
	}
	if err = svc.store.Delete(ctx, orphanKeys...); err != nil {
		return nil, errors.Wrap(err, "deleting orphaned documents")
	}
	return orphans, nil
}
