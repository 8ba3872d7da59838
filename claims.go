package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind is the purpose a token was issued for. The set is closed.
type TokenKind string

const (
	TokenAccess       TokenKind = "access"
	TokenRefresh      TokenKind = "refresh"
	TokenReset        TokenKind = "reset"
	TokenVerification TokenKind = "verification"
)

// TokenKinds lists every kind the codec issues.
var TokenKinds = []TokenKind{TokenAccess, TokenRefresh, TokenReset, TokenVerification}

// ParseTokenKind returns the kind named by s.
func ParseTokenKind(s string) (TokenKind, bool) {
	for _, k := range TokenKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

func (k TokenKind) String() string {
	return string(k)
}

// TokenClaims is the payload carried by every token
type TokenClaims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"type"`
	UID  string    `json:"uid,omitempty"`
}

// Email returns the subject, which is the account email
func (c *TokenClaims) Email() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the jti claim
func (c *TokenClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Expires returns the expiration time
func (c *TokenClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Issued returns the issued at time
func (c *TokenClaims) Issued() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}
