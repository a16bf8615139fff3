package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/maintenance"
	"github.com/trezcool/enrolla/core/user"
)

type maintenanceRepository struct {
	base
}

var _ maintenance.Repository = (*maintenanceRepository)(nil) // interface compliance check

func NewMaintenanceRepository(db *sqlx.DB) *maintenanceRepository {
	return &maintenanceRepository{base{db: db}}
}

func (repo maintenanceRepository) QueryUnreferencedUsers(ctx context.Context, createdBefore time.Time, exec ...core.DBExecutor) ([]user.User, error) {
	var rows []userRow
	query := `SELECT ` + userColumns + ` FROM "user" u WHERE u.created_at < ?
		AND NOT EXISTS (SELECT 1 FROM registration r WHERE r.user_id = u.id)
		AND NOT EXISTS (SELECT 1 FROM user_document d WHERE d.user_id = u.id)
		ORDER BY u.created_at`
	if err := repo.selectAll(ctx, exec, &rows, query, createdBefore.UTC()); err != nil {
		return nil, errors.Wrap(err, "querying unreferenced users")
	}
	return userRows(rows), nil
}
