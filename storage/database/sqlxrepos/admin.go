package sqlxrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/storage/database"
)

type adminRow struct {
	ID           string `db:"id"`
	Username     string `db:"username"`
	Role         string `db:"role"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    int64  `db:"created_at"`
	UpdatedAt    int64  `db:"updated_at"`
}

func (r adminRow) toAdmin() admin.Admin {
	return admin.Admin{
		ID:           r.ID,
		Username:     r.Username,
		Role:         admin.Role(r.Role),
		PasswordHash: []byte(r.PasswordHash),
		CreatedAt:    fromMillis(r.CreatedAt),
		UpdatedAt:    fromMillis(r.UpdatedAt),
	}
}

type adminRepository struct {
	exec   core.DBExecutor
	flavor flavor
}

var _ admin.Repository = (*adminRepository)(nil) // interface compliance check

func NewAdminRepository(exec core.DBExecutor, dialect database.Dialect) *adminRepository {
	return &adminRepository{exec: exec, flavor: newFlavor(dialect)}
}

func (repo adminRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	return getExec(repo.exec, svcExec)
}

func (repo adminRepository) CreateAdmin(ctx context.Context, adm admin.Admin, exec ...core.DBExecutor) (admin.Admin, error) {
	adm.ID = uuid.New().String()
	q := repo.flavor.rebind(`INSERT INTO admins (id, username, role, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := repo.getExec(exec).ExecContext(ctx, q,
		adm.ID, adm.Username, string(adm.Role), string(adm.PasswordHash), toMillis(adm.CreatedAt), toMillis(adm.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return admin.Admin{}, admin.ErrAdminExists
		}
		return admin.Admin{}, errors.Wrap(err, "inserting administrator")
	}
	return adm, nil
}

func (repo adminRepository) GetAdmin(ctx context.Context, filter admin.GetFilter, exec ...core.DBExecutor) (admin.Admin, error) {
	query := "SELECT id, username, role, password_hash, created_at, updated_at FROM admins WHERE "
	var arg string
	switch {
	case filter.ID != "":
		query += "id = ?"
		arg = filter.ID
	case filter.Username != "":
		query += "username = ?"
		arg = filter.Username
	default:
		return admin.Admin{}, admin.ErrNotFound
	}

	var rows []adminRow
	if err := selectAll(ctx, repo.getExec(exec), &rows, repo.flavor.rebind(query), arg); err != nil {
		return admin.Admin{}, errors.Wrap(err, "selecting administrator")
	}
	if len(rows) == 0 {
		return admin.Admin{}, admin.ErrNotFound
	}
	return rows[0].toAdmin(), nil
}

func (repo adminRepository) UpdatePassword(ctx context.Context, id string, hash []byte, exec ...core.DBExecutor) error {
	q := repo.flavor.rebind("UPDATE admins SET password_hash = ?, updated_at = ? WHERE id = ?")
	res, err := repo.getExec(exec).ExecContext(ctx, q, string(hash), toMillis(core.Now()), id)
	if err != nil {
		return errors.Wrap(err, "updating password")
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return admin.ErrNotFound
	}
	return nil
}

func (repo adminRepository) CountAdmins(ctx context.Context, exec ...core.DBExecutor) (int, error) {
	var n int
	err := repo.getExec(exec).QueryRowContext(ctx, "SELECT COUNT(*) FROM admins").Scan(&n)
	return n, errors.Wrap(err, "counting administrators")
}
