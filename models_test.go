package auth_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	auth "github.com/cvbuilder/go-auth"
)

func TestAccountLockState(t *testing.T) {
	assert.Equal(t, auth.LockStateActive, (&auth.Account{}).LockState())
	assert.Equal(t, auth.LockStateWarned, (&auth.Account{FailedLoginAttempts: 2}).LockState())
	assert.Equal(t, auth.LockStateLocked, (&auth.Account{FailedLoginAttempts: 5, IsLocked: true}).LockState())
	assert.Equal(t, auth.LockStateLocked, (&auth.Account{IsLocked: true}).LockState())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", auth.NormalizeEmail("  Ada@Example.COM "))
	assert.Equal(t, "", auth.NormalizeEmail("   "))
}

func TestNewAccountID(t *testing.T) {
	a := auth.NewAccountID("ada@example.com", true)
	b := auth.NewAccountID("ADA@example.com", true)
	assert.Equal(t, a, b)
	assert.NotEqual(t, uuid.Nil, a)

	assert.NotEqual(t, auth.NewAccountID("ada@example.com", false), auth.NewAccountID("ada@example.com", false))
	assert.NotEqual(t, a, auth.NewAccountID("bob@example.com", true))
}
