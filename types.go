package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger is the structured logger used across the package. Messages are
// followed by key/value pairs.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetIssuer() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetResetTokenTTL() time.Duration
	GetVerificationTokenTTL() time.Duration
	GetLockoutThreshold() int
	GetStoreTimeout() time.Duration
	GetFrontendURL() string
}

// LoginCounter is the state of the failure counter after an attempt was
// recorded.
type LoginCounter struct {
	Attempts int
	Locked   bool
}

// AccountStore persists accounts. Finders return (nil, nil) when nothing
// matches.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	Create(ctx context.Context, account *Account) error
	Activate(ctx context.Context, id uuid.UUID) error
	// RecordFailedLogin increments the failure counter and locks the account
	// once threshold is reached, as a single atomic operation. Accounts that
	// are already locked are left untouched and reported as locked.
	RecordFailedLogin(ctx context.Context, id uuid.UUID, threshold int) (LoginCounter, error)
	// RecordSuccessfulLogin zeroes the failure counter and sets last_login.
	// It returns ErrAccountLocked and changes nothing when the account was
	// locked in the meantime.
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// Unlock clears the lock flag and zeroes the failure counter.
	Unlock(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}

// RevocationStore is the key/TTL backend behind the RevocationRegistry.
type RevocationStore interface {
	Put(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	// Sweep drops elapsed entries and reports how many were removed.
	// Backends with native expiry return 0.
	Sweep(ctx context.Context) (int, error)
}

// Message is an outgoing email
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers transactional email
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg Message) error

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// MailComposer renders the content of the transactional emails.
type MailComposer interface {
	VerificationEmail(to, link string, ttl time.Duration) (Message, error)
	PasswordResetEmail(to, link string, ttl time.Duration) (Message, error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print("[ERR] AUTH " + render(format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print("[WRN] AUTH " + render(format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print("[INF] AUTH " + render(format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print("[DBG] AUTH " + render(format, args...))
}

func render(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(msg, "\n"))
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}
