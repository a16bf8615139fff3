package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/maintenance"
	"github.com/trezcool/enrolla/core/user"
)

type maintenanceRepository struct {
	db *DB
}

var _ maintenance.Repository = (*maintenanceRepository)(nil) // interface compliance check

func NewMaintenanceRepository(db *DB) *maintenanceRepository {
	return &maintenanceRepository{db: db}
}

func (repo *maintenanceRepository) QueryUnreferencedUsers(_ context.Context, createdBefore time.Time, _ ...core.DBExecutor) ([]user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	referenced := make(map[string]bool)
	for _, reg := range repo.db.registrations {
		referenced[reg.UserID] = true
	}
	for _, d := range repo.db.documents {
		referenced[d.UserID] = true
	}

	users := make([]user.User, 0)
	for _, usr := range values(repo.db.users) {
		if !referenced[usr.ID] && usr.CreatedAt.Before(createdBefore) {
			users = append(users, usr)
		}
	}
	orderRows(users, nil, userFields, core.DBOrdering{Field: "created_at", Ascending: true})
	return users, nil
}
