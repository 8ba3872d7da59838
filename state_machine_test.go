package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/cvbuilder/go-auth"
)

type guardFixture struct {
	clock    *fakeClock
	accounts *memAccounts
	sink     *capturingSink
	guard    *auth.LoginGuard
	account  *auth.Account
}

func newGuardFixture(t *testing.T, active bool) *guardFixture {
	t.Helper()
	f := &guardFixture{
		clock:    newFakeClock(),
		accounts: newMemAccounts(),
		sink:     &capturingSink{},
	}
	f.guard = auth.NewLoginGuard(f.accounts, cheapHasher(),
		auth.WithLoginGuardClock(f.clock.Now),
		auth.WithLoginGuardActivitySink(f.sink),
	)

	hash, err := cheapHasher().HashPassword("Secret123")
	require.NoError(t, err)
	f.account = &auth.Account{
		ID:           uuid.New(),
		Email:        "lock@example.com",
		PasswordHash: hash,
		IsActive:     active,
	}
	require.NoError(t, f.accounts.Create(context.Background(), f.account))
	return f
}

// attempt reloads the account like a login request would.
func (f *guardFixture) attempt(t *testing.T, password string) error {
	t.Helper()
	return f.guard.Attempt(context.Background(), f.accounts.get(t, f.account.ID), password)
}

func TestLoginGuard_LocksAfterThreshold(t *testing.T) {
	f := newGuardFixture(t, true)

	for i := 1; i < auth.DefaultLockoutThreshold; i++ {
		err := f.attempt(t, "wrong")
		require.ErrorIs(t, err, auth.ErrWrongPassword, "attempt %d", i)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

		var authErr *auth.Error
		require.True(t, errors.As(err, &authErr))
		assert.Equal(t, i, authErr.Metadata["attempts"])
		assert.Equal(t, auth.DefaultLockoutThreshold-i, authErr.Metadata["remaining"])

		stored := f.accounts.get(t, f.account.ID)
		assert.Equal(t, auth.LockStateWarned, stored.LockState())
	}

	err := f.attempt(t, "wrong")
	require.ErrorIs(t, err, auth.ErrAccountLocked)

	stored := f.accounts.get(t, f.account.ID)
	assert.True(t, stored.IsLocked)
	assert.Equal(t, auth.DefaultLockoutThreshold, stored.FailedLoginAttempts)
	assert.Equal(t, auth.LockStateLocked, stored.LockState())

	t.Run("correct password stays locked", func(t *testing.T) {
		err := f.attempt(t, "Secret123")
		assert.ErrorIs(t, err, auth.ErrAccountLocked)
	})

	t.Run("further failures do not count", func(t *testing.T) {
		err := f.attempt(t, "wrong")
		assert.ErrorIs(t, err, auth.ErrAccountLocked)
		assert.Equal(t, auth.DefaultLockoutThreshold, f.accounts.get(t, f.account.ID).FailedLoginAttempts)
	})
}

func TestLoginGuard_SuccessResetsCounter(t *testing.T) {
	f := newGuardFixture(t, true)

	require.ErrorIs(t, f.attempt(t, "wrong"), auth.ErrWrongPassword)
	require.ErrorIs(t, f.attempt(t, "wrong"), auth.ErrWrongPassword)
	assert.Equal(t, 2, f.accounts.get(t, f.account.ID).FailedLoginAttempts)

	require.NoError(t, f.attempt(t, "Secret123"))

	stored := f.accounts.get(t, f.account.ID)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
	assert.Equal(t, auth.LockStateActive, stored.LockState())
	require.NotNil(t, stored.LastLogin)
	assert.True(t, stored.LastLogin.Equal(f.clock.Now()))

	// the counter starts over
	for i := 1; i < auth.DefaultLockoutThreshold; i++ {
		require.ErrorIs(t, f.attempt(t, "wrong"), auth.ErrWrongPassword)
	}
	require.NoError(t, f.attempt(t, "Secret123"))
}

// lockingHasher locks the account between the row read and the success
// write, like a concurrent wrong-password request would.
type lockingHasher struct {
	*auth.BcryptHasher
	lock func() error
}

func (h lockingHasher) ComparePasswordAndHash(password, hash string) error {
	if err := h.lock(); err != nil {
		return err
	}
	return h.BcryptHasher.ComparePasswordAndHash(password, hash)
}

func TestLoginGuard_LockedDuringPasswordCheck(t *testing.T) {
	f := newGuardFixture(t, true)

	for i := 1; i < auth.DefaultLockoutThreshold; i++ {
		require.ErrorIs(t, f.attempt(t, "wrong"), auth.ErrWrongPassword)
	}

	guard := auth.NewLoginGuard(f.accounts, lockingHasher{
		BcryptHasher: cheapHasher(),
		lock: func() error {
			counter, err := f.accounts.RecordFailedLogin(context.Background(), f.account.ID, auth.DefaultLockoutThreshold)
			if err == nil && !counter.Locked {
				return errors.New("expected the account to lock")
			}
			return err
		},
	})

	account := f.accounts.get(t, f.account.ID)
	require.False(t, account.IsLocked)

	err := guard.Attempt(context.Background(), account, "Secret123")
	assert.ErrorIs(t, err, auth.ErrAccountLocked)
	assert.True(t, account.IsLocked)

	stored := f.accounts.get(t, f.account.ID)
	assert.True(t, stored.IsLocked)
	assert.Equal(t, auth.DefaultLockoutThreshold, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LastLogin)
}

func TestLoginGuard_CheckOrder(t *testing.T) {
	t.Run("unknown account", func(t *testing.T) {
		f := newGuardFixture(t, true)
		err := f.guard.Attempt(context.Background(), nil, "Secret123")
		assert.ErrorIs(t, err, auth.ErrNotRegistered)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("inactive before password", func(t *testing.T) {
		f := newGuardFixture(t, false)
		for range 3 {
			assert.ErrorIs(t, f.attempt(t, "wrong"), auth.ErrEmailNotVerified)
		}
		assert.Equal(t, 0, f.accounts.get(t, f.account.ID).FailedLoginAttempts)
		assert.Empty(t, f.sink.types())
	})

	t.Run("inactive before lock", func(t *testing.T) {
		f := newGuardFixture(t, false)
		require.NoError(t, f.accounts.mutate(f.account.ID, func(a *auth.Account) { a.IsLocked = true }))
		assert.ErrorIs(t, f.attempt(t, "Secret123"), auth.ErrEmailNotVerified)
	})
}

func TestLoginGuard_ConcurrentFailuresAreAllCounted(t *testing.T) {
	f := newGuardFixture(t, true)
	const workers = 20

	// every goroutine starts from the same unlocked snapshot
	snapshot := f.accounts.get(t, f.account.ID)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wrong  int
		locked int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account := *snapshot
			err := f.guard.Attempt(context.Background(), &account, "wrong")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, auth.ErrWrongPassword):
				wrong++
			case errors.Is(err, auth.ErrAccountLocked):
				locked++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, auth.DefaultLockoutThreshold-1, wrong)
	assert.Equal(t, workers-auth.DefaultLockoutThreshold+1, locked)

	stored := f.accounts.get(t, f.account.ID)
	assert.True(t, stored.IsLocked)
	assert.Equal(t, auth.DefaultLockoutThreshold, stored.FailedLoginAttempts)
}

func TestLoginGuard_Threshold(t *testing.T) {
	accounts := newMemAccounts()
	assert.Equal(t, auth.DefaultLockoutThreshold, auth.NewLoginGuard(accounts, cheapHasher()).Threshold())
	assert.Equal(t, 3, auth.NewLoginGuard(accounts, cheapHasher(), auth.WithLoginGuardThreshold(3)).Threshold())
	assert.Equal(t, auth.DefaultLockoutThreshold, auth.NewLoginGuard(accounts, cheapHasher(), auth.WithLoginGuardThreshold(0)).Threshold())
}

func TestLoginGuard_StorageErrors(t *testing.T) {
	hash, err := cheapHasher().HashPassword("Secret123")
	require.NoError(t, err)
	account := &auth.Account{ID: uuid.New(), Email: "a@example.com", PasswordHash: hash, IsActive: true}

	t.Run("failed login", func(t *testing.T) {
		store := new(MockAccountStore)
		store.On("RecordFailedLogin", mock.Anything, account.ID, auth.DefaultLockoutThreshold).
			Return(auth.LoginCounter{}, errors.New("deadlock detected"))

		guard := auth.NewLoginGuard(store, cheapHasher())
		err := guard.Attempt(context.Background(), account, "wrong")
		assert.True(t, auth.IsStorageError(err))
		assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
		store.AssertExpectations(t)
	})

	t.Run("successful login", func(t *testing.T) {
		store := new(MockAccountStore)
		store.On("RecordSuccessfulLogin", mock.Anything, account.ID, mock.Anything).
			Return(context.DeadlineExceeded)

		guard := auth.NewLoginGuard(store, cheapHasher())
		err := guard.Attempt(context.Background(), account, "Secret123")
		assert.ErrorIs(t, err, auth.ErrStorageTimeout)
		store.AssertExpectations(t)
	})
}

func TestLoginGuard_EmitsActivity(t *testing.T) {
	f := newGuardFixture(t, true)

	require.ErrorIs(t, f.attempt(t, "wrong"), auth.ErrWrongPassword)
	require.NoError(t, f.attempt(t, "Secret123"))

	for i := 0; i < auth.DefaultLockoutThreshold; i++ {
		_ = f.attempt(t, "wrong")
	}

	require.NoError(t, f.guard.Unlock(context.Background(), f.accounts.get(t, f.account.ID)))

	types := f.sink.types()
	assert.Equal(t, auth.ActivityEventLoginFailure, types[0])
	assert.Equal(t, auth.ActivityEventLoginSuccess, types[1])
	assert.Contains(t, types, auth.ActivityEventAccountLocked)
	assert.Equal(t, auth.ActivityEventAccountUnlocked, types[len(types)-1])

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	first := f.sink.events[0]
	assert.Equal(t, auth.LockStateActive, first.FromState)
	assert.Equal(t, auth.LockStateWarned, first.ToState)
	assert.Equal(t, f.account.ID.String(), first.AccountID)
	assert.Equal(t, f.clock.Now(), first.OccurredAt)
}

func TestLoginGuard_Unlock(t *testing.T) {
	f := newGuardFixture(t, true)

	for i := 0; i < auth.DefaultLockoutThreshold; i++ {
		_ = f.attempt(t, "wrong")
	}
	require.True(t, f.accounts.get(t, f.account.ID).IsLocked)

	account := f.accounts.get(t, f.account.ID)
	require.NoError(t, f.guard.Unlock(context.Background(), account))
	assert.False(t, account.IsLocked)

	stored := f.accounts.get(t, f.account.ID)
	assert.False(t, stored.IsLocked)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
	assert.NoError(t, f.attempt(t, "Secret123"))

	assert.ErrorIs(t, f.guard.Unlock(context.Background(), nil), auth.ErrNotRegistered)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to auth.LockState
		allowed  bool
	}{
		{auth.LockStateActive, auth.LockStateWarned, true},
		{auth.LockStateActive, auth.LockStateLocked, true},
		{auth.LockStateWarned, auth.LockStateWarned, true},
		{auth.LockStateWarned, auth.LockStateLocked, true},
		{auth.LockStateWarned, auth.LockStateActive, true},
		{auth.LockStateLocked, auth.LockStateActive, true},
		{auth.LockStateLocked, auth.LockStateWarned, false},
		{auth.LockStateLocked, auth.LockStateLocked, false},
		{auth.LockState("frozen"), auth.LockStateActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, auth.CanTransition(tt.from, tt.to))
		})
	}
}
