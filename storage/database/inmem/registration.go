package inmemdb

import (
	"context"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/registration"
)

var registrationFields = map[string]comparator[registration.Registration]{
	"status":       func(a, b registration.Registration) int { return compareStrings(a.Status, b.Status) },
	"total_amount": func(a, b registration.Registration) int { return a.TotalAmount.Cmp(b.TotalAmount) },
	"approved_at":  func(a, b registration.Registration) int { return a.ApprovedAt.Time.Compare(b.ApprovedAt.Time) },
	"created_at":   func(a, b registration.Registration) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at":   func(a, b registration.Registration) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

type registrationRepository struct {
	db *DB
}

var _ registration.Repository = (*registrationRepository)(nil) // interface compliance check

func NewRegistrationRepository(db *DB) *registrationRepository {
	return &registrationRepository{db: db}
}

func (repo *registrationRepository) CreateRegistration(_ context.Context, reg registration.Registration, _ ...core.DBExecutor) (registration.Registration, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	reg.ID = newID()
	repo.db.registrations[reg.ID] = &reg
	return reg, nil
}

// matchesSearch must be called with the read lock held.
func (repo *registrationRepository) matchesSearch(reg registration.Registration, search string) bool {
	if usr, ok := repo.db.users[reg.UserID]; ok && (contains(usr.Name, search) || contains(usr.Email, search)) {
		return true
	}
	if crs, ok := repo.db.courses[reg.CourseID]; ok && (contains(crs.Code, search) || contains(crs.Title, search)) {
		return true
	}
	return false
}

func (repo *registrationRepository) QueryRegistrations(_ context.Context, filter *registration.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]registration.Registration, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	regs := make([]registration.Registration, 0, len(repo.db.registrations))
	for _, reg := range values(repo.db.registrations) {
		if filter != nil {
			if filter.UserID != "" && reg.UserID != filter.UserID {
				continue
			}
			if filter.CourseID != "" && reg.CourseID != filter.CourseID {
				continue
			}
			if len(filter.PartnerCompanyIDs) > 0 && !core.StringInSlice(reg.PartnerCompanyID.String, filter.PartnerCompanyIDs) {
				continue
			}
			if len(filter.Statuses) > 0 && !core.StringInSlice(reg.Status, filter.Statuses) {
				continue
			}
			if !filter.CreatedFrom.IsZero() && reg.CreatedAt.Before(filter.CreatedFrom) {
				continue
			}
			if !filter.CreatedTo.IsZero() && reg.CreatedAt.After(filter.CreatedTo) {
				continue
			}
			if filter.Search != "" && !repo.matchesSearch(reg, filter.Search) {
				continue
			}
		}
		regs = append(regs, reg)
	}
	orderRows(regs, ordering, registrationFields, core.DBOrdering{Field: "created_at"})
	return regs, nil
}

func (repo *registrationRepository) GetRegistration(_ context.Context, id string, _ ...core.DBExecutor) (registration.Registration, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if reg, ok := repo.db.registrations[id]; ok {
		return *reg, nil
	}
	return registration.Registration{}, registration.ErrNotFound
}

func (repo *registrationRepository) UpdateRegistration(_ context.Context, reg registration.Registration, _ ...core.DBExecutor) (registration.Registration, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.registrations[reg.ID]; !ok {
		return registration.Registration{}, registration.ErrNotFound
	}
	repo.db.registrations[reg.ID] = &reg
	return reg, nil
}

func (repo *registrationRepository) DeleteRegistration(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.registrations[id]; !ok {
		return registration.ErrNotFound
	}
	delete(repo.db.registrations, id)
	return nil
}

func (repo *registrationRepository) HasActiveRegistration(_ context.Context, userID, courseID string, _ ...core.DBExecutor) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, reg := range repo.db.registrations {
		if reg.UserID == userID && reg.CourseID == courseID && reg.IsActive() {
			return true, nil
		}
	}
	return false, nil
}
