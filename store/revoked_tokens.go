package store

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	auth "github.com/cvbuilder/go-auth"
)

// RevokedTokens is a SQL auth.RevocationStore. Rows outlive their expiry
// until Sweep removes them, Exists ignores them.
type RevokedTokens struct {
	db  bun.IDB
	now func() time.Time
}

var _ auth.RevocationStore = (*RevokedTokens)(nil)

// NewRevokedTokens returns a revocation store over db.
func NewRevokedTokens(db bun.IDB, clock ...func() time.Time) *RevokedTokens {
	r := &RevokedTokens{db: db, now: time.Now}
	if len(clock) > 0 && clock[0] != nil {
		r.now = clock[0]
	}
	return r
}

func (r *RevokedTokens) Put(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	entry := &auth.RevokedToken{
		Key:       key,
		ExpiresAt: r.now().UTC().Add(ttl),
	}
	_, err := r.db.NewInsert().
		Model(entry).
		On(`CONFLICT ("key") DO UPDATE`).
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return err
}

func (r *RevokedTokens) Exists(ctx context.Context, key string) (bool, error) {
	return r.db.NewSelect().
		Model((*auth.RevokedToken)(nil)).
		Where("? = ?", bun.Ident("key"), key).
		Where("expires_at > ?", r.now().UTC()).
		Exists(ctx)
}

func (r *RevokedTokens) Sweep(ctx context.Context) (int, error) {
	res, err := r.db.NewDelete().
		Model((*auth.RevokedToken)(nil)).
		Where("expires_at <= ?", r.now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
