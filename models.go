package auth

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// LockState is the lockout state derived from an account's failure counter.
type LockState string

const (
	// LockStateActive has no recorded failures
	LockStateActive LockState = "active"
	// LockStateWarned has at least one failure but is below the threshold
	LockStateWarned LockState = "warned"
	// LockStateLocked rejects every login until the password is reset
	LockStateLocked LockState = "locked"
)

// Account is the account model
type Account struct {
	bun.BaseModel       `bun:"table:accounts,alias:acc"`
	ID                  uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email               string     `bun:"email,notnull,unique" json:"email"`
	FullName            string     `bun:"full_name,notnull" json:"full_name"`
	PasswordHash        string     `bun:"password_hash,notnull" json:"-"`
	IsActive            bool       `bun:"is_active,notnull,default:false" json:"is_active"`
	IsLocked            bool       `bun:"is_locked,notnull,default:false" json:"is_locked"`
	FailedLoginAttempts int        `bun:"failed_login_attempts,notnull,default:0" json:"failed_login_attempts"`
	LastLogin           *time.Time `bun:"last_login,nullzero" json:"last_login,omitempty"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// LockState reports where the account sits in the lockout state machine.
func (a *Account) LockState() LockState {
	switch {
	case a.IsLocked:
		return LockStateLocked
	case a.FailedLoginAttempts > 0:
		return LockStateWarned
	default:
		return LockStateActive
	}
}

// RevokedToken is a revocation entry persisted by SQL backed registries.
type RevokedToken struct {
	bun.BaseModel `bun:"table:revoked_tokens,alias:rvk"`
	Key           string    `bun:"key,pk" json:"key"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

// NormalizeEmail trims and lowercases an email address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewAccountID returns the id for a new account. Deterministic ids are
// derived from the email.
func NewAccountID(email string, deterministic bool) uuid.UUID {
	if deterministic {
		if id, err := hashid.NewUUID(NormalizeEmail(email)); err == nil {
			return id
		}
	}
	return uuid.New()
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}
