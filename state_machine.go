package auth

import (
	"context"
	"errors"
	"time"
)

// DefaultLockoutThreshold is the number of consecutive failures that lock
// an account.
const DefaultLockoutThreshold = 5

// lockTransitions is the lockout graph. Failures move forward, a successful
// login returns to active and only an unlock leaves the locked state.
var lockTransitions = map[LockState]map[LockState]struct{}{
	LockStateActive: {
		LockStateActive: {},
		LockStateWarned: {},
		LockStateLocked: {},
	},
	LockStateWarned: {
		LockStateActive: {},
		LockStateWarned: {},
		LockStateLocked: {},
	},
	LockStateLocked: {
		LockStateActive: {},
	},
}

// CanTransition reports whether the lockout graph allows from -> to.
func CanTransition(from, to LockState) bool {
	targets, ok := lockTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// LoginGuard runs password checks through the lockout state machine.
type LoginGuard struct {
	store        AccountStore
	passwords    PasswordAuthenticator
	threshold    int
	timeout      time.Duration
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// LoginGuardOption customizes guard construction.
type LoginGuardOption func(*LoginGuard)

// WithLoginGuardClock injects a custom clock (useful for tests).
func WithLoginGuardClock(clock func() time.Time) LoginGuardOption {
	return func(g *LoginGuard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithLoginGuardThreshold overrides the lockout threshold.
func WithLoginGuardThreshold(threshold int) LoginGuardOption {
	return func(g *LoginGuard) {
		if threshold > 0 {
			g.threshold = threshold
		}
	}
}

// WithLoginGuardTimeout bounds every store call.
func WithLoginGuardTimeout(timeout time.Duration) LoginGuardOption {
	return func(g *LoginGuard) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithLoginGuardActivitySink sets the ActivitySink used to publish lockout events.
func WithLoginGuardActivitySink(sink ActivitySink) LoginGuardOption {
	return func(g *LoginGuard) {
		g.activitySink = normalizeActivitySink(sink)
	}
}

// WithLoginGuardLogger overrides the logger.
func WithLoginGuardLogger(logger Logger) LoginGuardOption {
	return func(g *LoginGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewLoginGuard returns a guard over store.
func NewLoginGuard(store AccountStore, passwords PasswordAuthenticator, opts ...LoginGuardOption) *LoginGuard {
	g := &LoginGuard{
		store:        store,
		passwords:    passwords,
		threshold:    DefaultLockoutThreshold,
		timeout:      3 * time.Second,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Threshold returns the number of failures that lock an account.
func (g *LoginGuard) Threshold() int {
	return g.threshold
}

// Attempt checks password against account. Checks run in a fixed order:
// unknown account, unverified email, lock, password. Only a wrong password
// on an unlocked account touches the failure counter.
func (g *LoginGuard) Attempt(ctx context.Context, account *Account, password string) error {
	if account == nil {
		return ErrNotRegistered
	}

	if !account.IsActive {
		return ErrEmailNotVerified
	}

	if account.IsLocked {
		g.logger.Info("LoginGuard rejected locked account", "account", account.ID)
		return ErrAccountLocked
	}

	from := account.LockState()

	err := g.passwords.ComparePasswordAndHash(password, account.PasswordHash)
	if err == nil {
		return g.succeed(ctx, account, from)
	}
	if !errors.Is(err, ErrMismatchedHashAndPassword) {
		g.logger.Error("LoginGuard password compare error", "account", account.ID, "error", err)
		return err
	}

	return g.fail(ctx, account, from)
}

func (g *LoginGuard) succeed(ctx context.Context, account *Account, from LockState) error {
	at := g.now()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.store.RecordSuccessfulLogin(callCtx, account.ID, at); err != nil {
		if errors.Is(err, ErrAccountLocked) {
			g.logger.Info("LoginGuard rejected account locked during password check", "account", account.ID)
			account.IsLocked = true
			return ErrAccountLocked
		}
		g.logger.Error("LoginGuard failed to record successful login", "account", account.ID, "error", err)
		return storageError(err)
	}

	account.FailedLoginAttempts = 0
	account.LastLogin = &at

	g.record(ctx, ActivityEventLoginSuccess, account, from, LockStateActive, nil)
	return nil
}

func (g *LoginGuard) fail(ctx context.Context, account *Account, from LockState) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	counter, err := g.store.RecordFailedLogin(callCtx, account.ID, g.threshold)
	if err != nil {
		g.logger.Error("LoginGuard failed to record failed login", "account", account.ID, "error", err)
		return storageError(err)
	}

	account.FailedLoginAttempts = counter.Attempts
	account.IsLocked = counter.Locked
	to := account.LockState()

	if !CanTransition(from, to) {
		g.logger.Warn("LoginGuard observed unexpected lock transition", "from", from, "to", to)
	}

	remaining := max(g.threshold-counter.Attempts, 0)
	g.record(ctx, ActivityEventLoginFailure, account, from, to, map[string]any{
		"attempts":  counter.Attempts,
		"remaining": remaining,
	})

	if counter.Locked {
		g.logger.Warn("LoginGuard locked account", "account", account.ID, "attempts", counter.Attempts)
		g.record(ctx, ActivityEventAccountLocked, account, from, LockStateLocked, nil)
		return ErrAccountLocked
	}

	return ErrWrongPassword.WithMetadata(map[string]any{
		"attempts":  counter.Attempts,
		"remaining": remaining,
	})
}

// Unlock clears the lock and zeroes the failure counter. The password reset
// flow is the only caller.
func (g *LoginGuard) Unlock(ctx context.Context, account *Account) error {
	if account == nil {
		return ErrNotRegistered
	}

	from := account.LockState()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.store.Unlock(callCtx, account.ID); err != nil {
		g.logger.Error("LoginGuard failed to unlock account", "account", account.ID, "error", err)
		return storageError(err)
	}

	account.IsLocked = false
	account.FailedLoginAttempts = 0

	if from != LockStateActive {
		g.record(ctx, ActivityEventAccountUnlocked, account, from, LockStateActive, nil)
	}
	return nil
}

func (g *LoginGuard) record(ctx context.Context, eventType ActivityEventType, account *Account, from, to LockState, md map[string]any) {
	recordActivity(ctx, g.activitySink, g.logger, ActivityEvent{
		EventType:  eventType,
		AccountID:  account.ID.String(),
		Email:      account.Email,
		FromState:  from,
		ToState:    to,
		Metadata:   md,
		OccurredAt: g.now(),
	})
}
