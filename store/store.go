// Package store persists accounts and revocation entries with bun. SQLite
// and Postgres are supported and picked from the DSN.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/cvbuilder/go-auth"
)

// Open connects to dsn. postgres:// and postgresql:// URLs use pgx, anything
// else is handed to SQLite ("file::memory:?cache=shared", "./auth.db", ...).
func Open(dsn string) (*bun.DB, error) {
	if dsn == "" {
		return nil, errors.New("store: empty DSN")
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, strings.TrimPrefix(dsn, "sqlite://"))
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// SQLite serializes writers, a single connection also keeps
	// :memory: databases alive across queries.
	sqldb.SetMaxOpenConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Migrate creates the accounts and revoked_tokens tables when missing.
func Migrate(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*auth.Account)(nil),
		(*auth.RevokedToken)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("store: create table: %w", err)
		}
	}

	_, err := db.NewCreateIndex().
		Model((*auth.RevokedToken)(nil)).
		Index("revoked_tokens_expires_at_idx").
		IfNotExists().
		Column("expires_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: create index: %w", err)
	}
	return nil
}

// Ping checks the connection is usable.
func Ping(ctx context.Context, db *bun.DB) error {
	return db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
