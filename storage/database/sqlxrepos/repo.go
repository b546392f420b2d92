// Package sqlxrepos implements the domain repositories on database/sql with sqlx helpers.
// Queries are written with `?` placeholders and rebound for the open database.
package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/storage/database"
)

// flavor holds what differs between the supported databases.
type flavor struct {
	bindType  int
	forUpdate string
}

func newFlavor(d database.Dialect) flavor {
	if d == database.Postgres {
		return flavor{bindType: sqlx.DOLLAR, forUpdate: " FOR UPDATE"}
	}
	// sqlite locks the whole database on write
	return flavor{bindType: sqlx.QUESTION}
}

func (f flavor) rebind(query string) string {
	return sqlx.Rebind(f.bindType, query)
}

// in expands `IN (?)` slice arguments then rebinds the query.
func (f flavor) in(query string, args ...interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return f.rebind(q), a, nil
}

func getExec(own core.DBExecutor, svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return own
}

// selectAll runs the query and scans every row into dest, a pointer to a slice of structs.
func selectAll(ctx context.Context, exec core.DBExecutor, dest interface{}, query string, args ...interface{}) error {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	return sqlx.StructScan(rows, dest)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "reading affected rows")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// timestamps are stored as unix milliseconds

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) null.Int64 {
	if t == nil {
		return null.Int64{}
	}
	return null.Int64From(toMillis(*t))
}

func timePtr(ms null.Int64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}
