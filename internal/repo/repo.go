// Package repo holds the postgres backed stores for resources and union graph orders.
package repo

import (
	"database/sql"
	"errors"
	"time"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/sqlmw"
)

var ErrNotFound = errors.New("not found")

type scanFn func(dest ...any) error

type repo struct {
	db  *sqlmw.DB
	now func() time.Time
}

type Opt func(*repo)

func WithNow(now func() time.Time) Opt {
	return func(r *repo) {
		r.now = now
	}
}

func newRepo(db *sqlmw.DB, opts ...Opt) repo {
	r := repo{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
