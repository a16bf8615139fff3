// Package maintenance holds the cross-domain housekeeping run by admins.
package maintenance

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/user"
)

type (
	Repository interface {
		// QueryUnreferencedUsers returns the users created before createdBefore that have no registration and no document.
		QueryUnreferencedUsers(ctx context.Context, createdBefore time.Time, exec ...core.DBExecutor) ([]user.User, error)
	}

	Service interface {
		// OrphanedUsers lists the students (or role-less users) older than olderThan with no registration and no document.
		OrphanedUsers(ctx context.Context, olderThan time.Duration) ([]user.User, error)
		DeleteOrphanedUsers(ctx context.Context, olderThan time.Duration) (int, error)
	}

	service struct {
		repo    Repository
		userSvc user.Service
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(repo Repository, userSvc user.Service) Service {
	return &service{repo: repo, userSvc: userSvc}
}

func isOrphanCandidate(usr user.User) bool {
	return !usr.IsStaff()
}

func (svc *service) OrphanedUsers(ctx context.Context, olderThan time.Duration) ([]user.User, error) {
	users, err := svc.repo.QueryUnreferencedUsers(ctx, core.NowFunc().Add(-olderThan))
	if err != nil {
		return nil, errors.Wrap(err, "querying unreferenced users")
	}
	orphans := make([]user.User, 0, len(users))
	for _, usr := range users {
		if isOrphanCandidate(usr) {
			orphans = append(orphans, usr)
		}
	}
	return orphans, nil
}

func (svc *service) DeleteOrphanedUsers(ctx context.Context, olderThan time.Duration) (int, error) {
	orphans, err := svc.OrphanedUsers(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(orphans))
	for _, usr := range orphans {
		ids = append(ids, usr.ID)
	}
	return svc.userSvc.Delete(ctx, ids...)
}
