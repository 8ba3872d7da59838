//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// race builds are several times slower, bcrypt.DefaultCost keeps them usable
	return bcrypt.DefaultCost
}
