package inmemdb

import (
	"context"
	"sort"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/registration"
)

type documentRepository struct {
	db *DB
}

var _ document.Repository = (*documentRepository)(nil) // interface compliance check

func NewDocumentRepository(db *DB) *documentRepository {
	return &documentRepository{db: db}
}

func (repo *documentRepository) CreateDocuments(_ context.Context, docs []document.Document, _ ...core.DBExecutor) ([]document.Document, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	created := make([]document.Document, 0, len(docs))
	for _, d := range docs {
		d.ID = newID()
		row := d
		repo.db.documents[d.ID] = &row
		created = append(created, d)
	}
	return created, nil
}

func (repo *documentRepository) QueryDocuments(_ context.Context, filter *document.QueryFilter, _ ...core.DBExecutor) ([]document.Document, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	docs := make([]document.Document, 0)
	for _, d := range values(repo.db.documents) {
		if filter != nil {
			if filter.UserID != "" && d.UserID != filter.UserID {
				continue
			}
			if filter.RegistrationID != "" && d.RegistrationID.String != filter.RegistrationID {
				continue
			}
			if len(filter.Kinds) > 0 && !core.StringInSlice(d.Kind, filter.Kinds) {
				continue
			}
			if len(filter.Statuses) > 0 && !core.StringInSlice(d.Status, filter.Statuses) {
				continue
			}
		}
		docs = append(docs, d)
	}
	orderRows(docs, nil, map[string]comparator[document.Document]{
		"created_at": func(a, b document.Document) int { return a.CreatedAt.Compare(b.CreatedAt) },
		"kind":       func(a, b document.Document) int { return compareStrings(a.Kind, b.Kind) },
	}, core.DBOrdering{Field: "created_at", Ascending: true}, core.DBOrdering{Field: "kind", Ascending: true})
	return docs, nil
}

func (repo *documentRepository) GetDocument(_ context.Context, id string, _ ...core.DBExecutor) (document.Document, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if d, ok := repo.db.documents[id]; ok {
		return *d, nil
	}
	return document.Document{}, document.ErrNotFound
}

func (repo *documentRepository) UpdateDocument(_ context.Context, doc document.Document, _ ...core.DBExecutor) (document.Document, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.documents[doc.ID]; !ok {
		return document.Document{}, document.ErrNotFound
	}
	repo.db.documents[doc.ID] = &doc
	return doc, nil
}

func (repo *documentRepository) DeleteDocument(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.documents[id]; !ok {
		return document.ErrNotFound
	}
	delete(repo.db.documents, id)
	return nil
}

func (repo *documentRepository) DetachRegistration(_ context.Context, registrationID string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	now := core.NowFunc()
	for _, d := range repo.db.documents {
		if d.RegistrationID.String == registrationID {
			d.RegistrationID = null.String{}
			d.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (repo *documentRepository) QueryRegistrationDocuments(_ context.Context, _ ...core.DBExecutor) ([]document.RegistrationDocuments, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	kinds := make(map[string]map[string]bool)
	for _, d := range repo.db.documents {
		if !d.RegistrationID.Valid {
			continue
		}
		if kinds[d.RegistrationID.String] == nil {
			kinds[d.RegistrationID.String] = make(map[string]bool)
		}
		kinds[d.RegistrationID.String][d.Kind] = true
	}

	regs := values(repo.db.registrations)
	orderRows(regs, nil, registrationFields, core.DBOrdering{Field: "created_at", Ascending: true})

	res := make([]document.RegistrationDocuments, 0)
	for _, reg := range regs {
		if reg.Status != registration.StatusApproved && reg.Status != registration.StatusCompleted {
			continue
		}
		have := make([]string, 0, len(kinds[reg.ID]))
		for k := range kinds[reg.ID] {
			have = append(have, k)
		}
		sort.Strings(have)
		res = append(res, document.RegistrationDocuments{RegistrationID: reg.ID, UserID: reg.UserID, Kinds: have})
	}
	return res, nil
}

func (repo *documentRepository) ObjectKeys(_ context.Context, _ ...core.DBExecutor) ([]string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	keys := make([]string, 0, len(repo.db.documents))
	for _, d := range repo.db.documents {
		if d.ObjectKey != "" {
			keys = append(keys, d.ObjectKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
