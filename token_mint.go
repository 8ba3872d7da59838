package auth

import "time"

// IssuedToken is a signed token plus the claims callers usually need
// without decoding it again.
type IssuedToken struct {
	Token     string
	ID        string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueOptions controls how Issue mints a token.
type IssueOptions struct {
	// TTL overrides the default token expiration. Zero uses the kind default.
	TTL time.Duration
	// IssuedAt overrides the issuance time. Zero uses the service clock.
	IssuedAt time.Time
	// AccountID sets the optional uid claim.
	AccountID string
}

// IssueOption customizes a single Issue call.
type IssueOption func(*IssueOptions)

// WithTTL overrides the kind default lifetime.
func WithTTL(ttl time.Duration) IssueOption {
	return func(o *IssueOptions) {
		o.TTL = ttl
	}
}

// WithIssuedAt overrides the issuance time.
func WithIssuedAt(at time.Time) IssueOption {
	return func(o *IssueOptions) {
		o.IssuedAt = at
	}
}

// WithAccountID stamps the account id on the token.
func WithAccountID(id string) IssueOption {
	return func(o *IssueOptions) {
		o.AccountID = id
	}
}
