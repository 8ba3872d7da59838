package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenService issues and verifies signed tokens of every TokenKind.
type TokenService struct {
	signingKey []byte
	method     jwt.SigningMethod
	issuer     string
	ttls       map[TokenKind]time.Duration
	now        func() time.Time
	logger     Logger
}

// TokenServiceOption customizes token service construction.
type TokenServiceOption func(*TokenService)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService from the signing and TTL
// settings in cfg.
func NewTokenService(cfg Config, opts ...TokenServiceOption) (*TokenService, error) {
	if cfg == nil {
		return nil, ErrValidation.Wrap(errors.New("config is required"))
	}
	if cfg.GetSigningKey() == "" {
		return nil, ErrValidation.Wrap(errors.New("signing key is required"))
	}

	method, err := signingMethod(cfg.GetSigningMethod())
	if err != nil {
		return nil, err
	}

	ts := &TokenService{
		signingKey: []byte(cfg.GetSigningKey()),
		method:     method,
		issuer:     cfg.GetIssuer(),
		ttls: map[TokenKind]time.Duration{
			TokenAccess:       cfg.GetAccessTokenTTL(),
			TokenRefresh:      cfg.GetRefreshTokenTTL(),
			TokenReset:        cfg.GetResetTokenTTL(),
			TokenVerification: cfg.GetVerificationTokenTTL(),
		},
		now:    time.Now,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	for kind, ttl := range ts.ttls {
		if ttl <= 0 {
			return nil, ErrValidation.Wrap(fmt.Errorf("%s token TTL must be positive", kind))
		}
	}

	return ts, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "", jwt.SigningMethodHS256.Alg():
		return jwt.SigningMethodHS256, nil
	case jwt.SigningMethodHS384.Alg():
		return jwt.SigningMethodHS384, nil
	case jwt.SigningMethodHS512.Alg():
		return jwt.SigningMethodHS512, nil
	}
	return nil, ErrValidation.Wrap(fmt.Errorf("unsupported signing method %q", alg))
}

// TTL returns the default lifetime of kind.
func (ts *TokenService) TTL(kind TokenKind) time.Duration {
	return ts.ttls[kind]
}

// Issue signs a new token of the given kind for subject.
func (ts *TokenService) Issue(subject string, kind TokenKind, opts ...IssueOption) (IssuedToken, error) {
	if _, ok := ParseTokenKind(string(kind)); !ok {
		return IssuedToken{}, ErrValidation.Wrap(fmt.Errorf("unknown token kind %q", kind))
	}
	if subject == "" {
		return IssuedToken{}, ErrValidation.Wrap(errors.New("token subject is required"))
	}

	options := IssueOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	ttl := options.TTL
	if ttl < 0 {
		return IssuedToken{}, ErrValidation.Wrap(errors.New("token TTL must be non-negative"))
	}
	if ttl == 0 {
		ttl = ts.ttls[kind]
	}

	issuedAt := options.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = ts.now()
	}
	issuedAt = issuedAt.Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind: kind,
		UID:  options.AccountID,
	}

	signed, err := jwt.NewWithClaims(ts.method, claims).SignedString(ts.signingKey)
	if err != nil {
		ts.logger.Error("TokenService failed to sign token", "kind", kind, "error", err)
		return IssuedToken{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return IssuedToken{
		Token:     signed,
		ID:        claims.ID,
		Kind:      kind,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks signature, expiry, kind and jti of raw, in that order.
func (ts *TokenService) Verify(raw string, expected TokenKind) (*TokenClaims, error) {
	claims, err := ts.parse(raw, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	if claims.Kind != expected {
		return nil, ErrTokenTypeMismatch.WithMetadata(map[string]any{
			"expected": string(expected),
			"actual":   string(claims.Kind),
		})
	}

	if claims.ID == "" {
		return nil, ErrTokenMissingID
	}

	return claims, nil
}

// Decode checks the signature of raw and returns its claims regardless of
// expiry or kind.
func (ts *TokenService) Decode(raw string) (*TokenClaims, error) {
	return ts.parse(raw, jwt.WithoutClaimsValidation())
}

func (ts *TokenService) parse(raw string, extra ...jwt.ParserOption) (*TokenClaims, error) {
	if raw == "" {
		return nil, ErrTokenMalformed
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{ts.method.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	parserOptions = append(parserOptions, extra...)

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("TokenService encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired.Wrap(err)
		}
		return nil, ErrTokenMalformed.Wrap(err)
	}

	if !token.Valid {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}
