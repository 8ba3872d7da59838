package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	auth "github.com/cvbuilder/go-auth"
)

// RecordFailedLoginSQL increments the failure counter and evaluates the
// lock condition in the same statement, so concurrent attempts cannot lose
// an increment. Locked accounts match no row.
const RecordFailedLoginSQL = `
	UPDATE "accounts"
	SET
		"failed_login_attempts" = "failed_login_attempts" + 1,
		"is_locked" = ("failed_login_attempts" + 1 >= ?),
		"updated_at" = ?
	WHERE
		"id" = ?
		AND "is_locked" = ?
	RETURNING "failed_login_attempts", "is_locked"
`

// RecordSuccessfulLoginSQL resets the failure counter after a good password.
// An account locked after its row was read matches no row.
const RecordSuccessfulLoginSQL = `
	UPDATE "accounts"
	SET
		"failed_login_attempts" = 0,
		"last_login" = ?,
		"updated_at" = ?
	WHERE
		"id" = ?
		AND "is_locked" = ?
`

// Accounts is the bun backed auth.AccountStore.
type Accounts struct {
	db  bun.IDB
	now func() time.Time
}

var _ auth.AccountStore = (*Accounts)(nil)

// AccountsOption customizes the account store.
type AccountsOption func(*Accounts)

// WithAccountsClock injects a custom clock (useful for tests).
func WithAccountsClock(clock func() time.Time) AccountsOption {
	return func(a *Accounts) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewAccounts returns an account store over db.
func NewAccounts(db bun.IDB, opts ...AccountsOption) *Accounts {
	a := &Accounts{db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

func (a *Accounts) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return a.findOne(ctx, "email = ?", auth.NormalizeEmail(email))
}

func (a *Accounts) FindByID(ctx context.Context, id uuid.UUID) (*auth.Account, error) {
	return a.findOne(ctx, "id = ?", id)
}

func (a *Accounts) findOne(ctx context.Context, where string, arg any) (*auth.Account, error) {
	account := new(auth.Account)
	err := a.db.NewSelect().Model(account).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (a *Accounts) Create(ctx context.Context, account *auth.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = auth.NormalizeEmail(account.Email)

	now := a.now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	if _, err := a.db.NewInsert().Model(account).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return auth.ErrEmailTaken.Wrap(err)
		}
		return err
	}
	return nil
}

func (a *Accounts) Activate(ctx context.Context, id uuid.UUID) error {
	return a.update(ctx, id, map[string]any{"is_active": true})
}

func (a *Accounts) Unlock(ctx context.Context, id uuid.UUID) error {
	return a.update(ctx, id, map[string]any{
		"is_locked":             false,
		"failed_login_attempts": 0,
	})
}

func (a *Accounts) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return a.update(ctx, id, map[string]any{"password_hash": hash})
}

func (a *Accounts) RecordFailedLogin(ctx context.Context, id uuid.UUID, threshold int) (auth.LoginCounter, error) {
	var counter auth.LoginCounter

	err := a.db.NewRaw(RecordFailedLoginSQL, threshold, a.now().UTC(), id, false).
		Scan(ctx, &counter.Attempts, &counter.Locked)
	if err == nil {
		return counter, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return counter, err
	}

	// no row: the account is already locked or does not exist
	account, err := a.FindByID(ctx, id)
	if err != nil {
		return counter, err
	}
	if account == nil {
		return counter, auth.ErrNotRegistered
	}
	return auth.LoginCounter{Attempts: account.FailedLoginAttempts, Locked: true}, nil
}

func (a *Accounts) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := a.db.NewRaw(RecordSuccessfulLoginSQL, at.UTC(), a.now().UTC(), id, false).Exec(ctx)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// no row: locked by a concurrent failure, or gone
	account, err := a.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return auth.ErrNotRegistered
	}
	return auth.ErrAccountLocked
}

func (a *Accounts) update(ctx context.Context, id uuid.UUID, values map[string]any) error {
	q := a.db.NewUpdate().
		Model((*auth.Account)(nil)).
		Set("updated_at = ?", a.now().UTC()).
		Where("id = ?", id)
	for column, value := range values {
		q = q.Set("? = ?", bun.Ident(column), value)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotRegistered
	}
	return nil
}
