package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	revokedIDPrefix  = "jti:"
	revokedRawPrefix = "raw:"

	// DefaultUndecodableTTL is how long tokens that fail to decode stay revoked.
	DefaultUndecodableTTL = 15 * time.Minute
)

// TokenDecoder is the part of TokenService the registry depends on.
type TokenDecoder interface {
	Decode(raw string) (*TokenClaims, error)
}

// RevocationRegistry tracks revoked tokens until they would have expired
// anyway.
type RevocationRegistry struct {
	store          RevocationStore
	decoder        TokenDecoder
	undecodableTTL time.Duration
	timeout        time.Duration
	now            func() time.Time
	logger         Logger
}

// RevocationOption customizes registry construction.
type RevocationOption func(*RevocationRegistry)

// WithRevocationClock injects a custom clock (useful for tests).
func WithRevocationClock(clock func() time.Time) RevocationOption {
	return func(r *RevocationRegistry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithRevocationLogger overrides the logger.
func WithRevocationLogger(logger Logger) RevocationOption {
	return func(r *RevocationRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithUndecodableTTL sets how long tokens that fail to decode stay revoked.
func WithUndecodableTTL(ttl time.Duration) RevocationOption {
	return func(r *RevocationRegistry) {
		if ttl > 0 {
			r.undecodableTTL = ttl
		}
	}
}

// WithRevocationTimeout bounds every backend call.
func WithRevocationTimeout(timeout time.Duration) RevocationOption {
	return func(r *RevocationRegistry) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewRevocationRegistry returns a registry backed by store.
func NewRevocationRegistry(store RevocationStore, decoder TokenDecoder, opts ...RevocationOption) *RevocationRegistry {
	r := &RevocationRegistry{
		store:          store,
		decoder:        decoder,
		undecodableTTL: DefaultUndecodableTTL,
		timeout:        3 * time.Second,
		now:            time.Now,
		logger:         defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Revoke marks raw as revoked until its expiry. Tokens that are already
// expired are not stored. Tokens that cannot be decoded are revoked by
// content hash for the undecodable TTL.
func (r *RevocationRegistry) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}

	key, ttl := r.entryFor(raw)
	if ttl <= 0 {
		r.logger.Debug("RevocationRegistry skipping expired token", "key", key)
		return nil
	}

	return r.put(ctx, key, ttl)
}

// RevokeID marks a token id as revoked for ttl.
func (r *RevocationRegistry) RevokeID(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	return r.put(ctx, revokedIDPrefix+jti, ttl)
}

// IsRevoked accepts either a raw token or a jti. Backend failures are
// returned as errors and never reported as "not revoked".
func (r *RevocationRegistry) IsRevoked(ctx context.Context, tokenOrID string) (bool, error) {
	if tokenOrID == "" {
		return false, nil
	}

	keys := make([]string, 0, 2)
	if claims, err := r.decoder.Decode(tokenOrID); err == nil {
		if claims.ID != "" {
			keys = append(keys, revokedIDPrefix+claims.ID)
		}
		keys = append(keys, revokedRawPrefix+hashToken(tokenOrID))
	} else if looksLikeToken(tokenOrID) {
		keys = append(keys, revokedRawPrefix+hashToken(tokenOrID))
	} else {
		keys = append(keys, revokedIDPrefix+tokenOrID)
	}

	for _, key := range keys {
		found, err := r.exists(ctx, key)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// Sweep removes elapsed entries from backends without native expiry.
func (r *RevocationRegistry) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.store.Sweep(ctx)
	if err != nil {
		r.logger.Error("RevocationRegistry sweep failed", "error", err)
		return 0, storageError(err)
	}
	if n > 0 {
		r.logger.Info("RevocationRegistry swept entries", "count", n)
	}
	return n, nil
}

func (r *RevocationRegistry) entryFor(raw string) (string, time.Duration) {
	claims, err := r.decoder.Decode(raw)
	if err != nil || claims.ID == "" {
		return revokedRawPrefix + hashToken(raw), r.undecodableTTL
	}

	ttl := claims.Expires().Sub(r.now())
	if ttl < 0 {
		ttl = 0
	}
	return revokedIDPrefix + claims.ID, ttl
}

func (r *RevocationRegistry) put(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.Put(ctx, key, ttl); err != nil {
		r.logger.Error("RevocationRegistry failed to store entry", "error", err)
		return storageError(err)
	}
	return nil
}

func (r *RevocationRegistry) exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	found, err := r.store.Exists(ctx, key)
	if err != nil {
		r.logger.Error("RevocationRegistry lookup failed", "error", err)
		return false, storageError(err)
	}
	return found, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// looksLikeToken reports whether s has the three dot separated segments of
// a compact JWT.
func looksLikeToken(s string) bool {
	dots := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			dots++
		}
	}
	return dots == 2
}
