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
	"github.com/trezcool/enrolla/core/user"
)

const userColumns = `id, name, username, email, phone, is_active, roles, password_hash, referral_code,
	referred_by_code, partner_company_id, created_at, updated_at, last_login`

type userRow struct {
	ID               string            `db:"id"`
	Name             string            `db:"name"`
	Username         null.String       `db:"username"`
	Email            null.String       `db:"email"`
	Phone            string            `db:"phone"`
	IsActive         bool              `db:"is_active"`
	Roles            types.StringArray `db:"roles"`
	PasswordHash     []byte            `db:"password_hash"`
	ReferralCode     null.String       `db:"referral_code"`
	ReferredByCode   string            `db:"referred_by_code"`
	PartnerCompanyID null.String       `db:"partner_company_id"`
	CreatedAt        time.Time         `db:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at"`
	LastLogin        null.Time         `db:"last_login"`
}

func toUserRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:               usr.ID,
		Name:             usr.Name,
		Username:         nullString(usr.Username),
		Email:            nullString(usr.Email),
		Phone:            usr.Phone,
		IsActive:         usr.IsActive,
		Roles:            roles,
		PasswordHash:     usr.PasswordHash,
		ReferralCode:     nullString(usr.ReferralCode),
		ReferredByCode:   usr.ReferredByCode,
		PartnerCompanyID: usr.PartnerCompanyID,
		CreatedAt:        usr.CreatedAt.UTC(),
		UpdatedAt:        usr.UpdatedAt.UTC(),
		LastLogin:        nullTime(usr.LastLogin),
	}
}

func (r userRow) user() user.User {
	return user.User{
		ID:               r.ID,
		Name:             r.Name,
		Username:         r.Username.String,
		Email:            r.Email.String,
		Phone:            r.Phone,
		IsActive:         r.IsActive,
		Roles:            []string(r.Roles),
		PasswordHash:     r.PasswordHash,
		ReferralCode:     r.ReferralCode.String,
		ReferredByCode:   r.ReferredByCode,
		PartnerCompanyID: r.PartnerCompanyID,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		LastLogin:        r.LastLogin.Time.UTC(),
	}
}

func userRows(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users
}

type userRepository struct {
	base
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{base{db: db}}
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	var w where
	w.add("username = ? OR email = ?", nullString(username), nullString(email))
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		w.add("id NOT IN (?)", ids)
	}

	var rows []userRow
	if err := repo.selectAll(ctx, exec, &rows, `SELECT `+userColumns+` FROM "user"`+w.String()+` LIMIT 2`, w.args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		if username != "" && r.Username.String == username {
			return user.ErrUsernameExists
		}
	}
	if len(rows) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	row := toUserRow(usr)
	_, err := repo.namedExec(ctx, exec, `INSERT INTO "user" (`+userColumns+`) VALUES (:id, :name, :username, :email, :phone,
		:is_active, :roles, :password_hash, :referral_code, :referred_by_code, :partner_company_id, :created_at,
		:updated_at, :last_login)`, row)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.user(), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	var w where
	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := like(filter.Search)
			w.add("name ILIKE ? OR username ILIKE ? OR email ILIKE ?", val, val, val)
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			patterns := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				patterns = append(patterns, role+"%")
			}
			w.add("EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE ANY (?))", types.StringArray(patterns))
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
		if filter.CompanyID != "" {
			w.add("partner_company_id = ?", filter.CompanyID)
		}
	}

	var rows []userRow
	query := `SELECT ` + userColumns + ` FROM "user"` + w.String() + orderBy(ordering, "created_at DESC")
	if err := repo.selectAll(ctx, exec, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return userRows(rows), nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var w where
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.Username != "":
		w.add("username = ?", filter.Username)
	case filter.Email != "":
		w.add("email = ?", filter.Email)
	case filter.ReferralCode != "":
		w.add("referral_code = ?", filter.ReferralCode)
	case len(filter.UsernameOrEmail) > 0:
		var email string
		uname := filter.UsernameOrEmail[0]
		if len(filter.UsernameOrEmail) == 2 {
			email = filter.UsernameOrEmail[1]
		}
		if email == "" {
			email = uname
		} else if uname == "" {
			uname = email
		}
		if uname == "" {
			return user.User{}, user.ErrNotFound
		}
		w.add("username = ? OR email = ?", uname, email)
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := repo.get(ctx, exec, &row, `SELECT `+userColumns+` FROM "user"`+w.String()+` LIMIT 1`, w.args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return row.user(), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	row := toUserRow(usr)
	n, err := repo.namedExec(ctx, exec, `UPDATE "user" SET name = :name, username = :username, email = :email,
		phone = :phone, is_active = :is_active, roles = :roles, password_hash = :password_hash,
		referral_code = :referral_code, referred_by_code = :referred_by_code,
		partner_company_id = :partner_company_id, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`, row)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return row.user(), nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := repo.exec(ctx, exec, `DELETE FROM "user" WHERE id IN (?)`, ids)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return n, nil
}
