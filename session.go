package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is the authenticated principal behind an access token
type Session struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionTokens is the access/refresh pair handed out on login and refresh
type SessionTokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"-"`
	Account          *Account  `json:"user"`
}

// VerifyResult is the outcome of VerifyEmail
type VerifyResult struct {
	Account         *Account
	AlreadyVerified bool
}

// Service orchestrates registration, login, token rotation and logout.
type Service struct {
	cfg              Config
	accounts         AccountStore
	tokens           *TokenService
	registry         *RevocationRegistry
	passwords        PasswordAuthenticator
	guard            *LoginGuard
	mailer           Mailer
	composer         MailComposer
	timeout          time.Duration
	deterministicIDs bool
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithServiceClock injects a custom clock (useful for tests).
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithServiceLogger overrides the logger.
func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceActivitySink sets the ActivitySink shared by the service and its login guard.
func WithServiceActivitySink(sink ActivitySink) ServiceOption {
	return func(s *Service) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithPasswordAuthenticator overrides password hashing.
func WithPasswordAuthenticator(p PasswordAuthenticator) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.passwords = p
		}
	}
}

// WithMailer sets the transport for verification and reset emails.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithMailComposer sets how verification and reset emails are rendered.
func WithMailComposer(c MailComposer) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.composer = c
		}
	}
}

// WithDeterministicIDs derives new account ids from the email.
func WithDeterministicIDs(enabled bool) ServiceOption {
	return func(s *Service) {
		s.deterministicIDs = enabled
	}
}

// WithLoginGuard replaces the guard built from the service settings.
func WithLoginGuard(g *LoginGuard) ServiceOption {
	return func(s *Service) {
		if g != nil {
			s.guard = g
		}
	}
}

// NewService wires the session service.
func NewService(cfg Config, accounts AccountStore, tokens *TokenService, registry *RevocationRegistry, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:          cfg,
		accounts:     accounts,
		tokens:       tokens,
		registry:     registry,
		passwords:    NewBcryptHasher(passwordHashCost()),
		composer:     plainComposer{},
		timeout:      cfg.GetStoreTimeout(),
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}
	if s.timeout <= 0 {
		s.timeout = 3 * time.Second
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.mailer == nil {
		s.mailer = noopMailer{logger: s.logger}
	}

	if s.guard == nil {
		s.guard = NewLoginGuard(accounts, s.passwords,
			WithLoginGuardThreshold(cfg.GetLockoutThreshold()),
			WithLoginGuardTimeout(s.timeout),
			WithLoginGuardClock(s.now),
			WithLoginGuardActivitySink(s.activitySink),
			WithLoginGuardLogger(s.logger),
		)
	}

	return s
}

// Tokens exposes the codec used by the service.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Registry exposes the revocation registry used by the service.
func (s *Service) Registry() *RevocationRegistry {
	return s.registry
}

// Register creates an inactive account and mails a verification link.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}

	email := NormalizeEmail(in.Email)

	existing, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := s.passwords.HashPassword(in.Password)
	if err != nil {
		s.logger.Error("Register failed to hash password", "error", err)
		return nil, err
	}

	now := s.now()
	account := &Account{
		ID:           NewAccountID(email, s.deterministicIDs),
		Email:        email,
		FullName:     in.FullName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.accounts.Create(callCtx, account); err != nil {
		s.logger.Error("Register failed to create account", "error", err)
		return nil, storageError(err)
	}

	s.record(ctx, ActivityEventRegistered, account, nil)

	if err := s.sendVerification(ctx, account); err != nil {
		// the account exists, the user can ask for another email
		s.logger.Error("Register failed to send verification email", "account", account.ID, "error", err)
	}

	return account, nil
}

// Login authenticates email/password and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*SessionTokens, error) {
	account, err := s.findByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}

	if err := s.guard.Attempt(ctx, account, password); err != nil {
		return nil, err
	}

	return s.mintPair(account)
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token is revoked before the new pair is returned.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}

	if err := s.ensureNotRevoked(ctx, refreshToken); err != nil {
		return nil, err
	}

	account, err := s.findByEmail(ctx, claims.Email())
	if err != nil {
		return nil, err
	}
	switch {
	case account == nil:
		return nil, ErrNotRegistered
	case !account.IsActive:
		return nil, ErrEmailNotVerified
	case account.IsLocked:
		return nil, ErrAccountLocked
	}

	if err := s.registry.Revoke(ctx, refreshToken); err != nil {
		return nil, err
	}

	pair, err := s.mintPair(account)
	if err != nil {
		return nil, err
	}

	s.record(ctx, ActivityEventTokenRefreshed, account, map[string]any{"rotated_jti": claims.ID})
	return pair, nil
}

// Logout revokes the access token and, when given, the refresh token.
// Revoking an already revoked, expired or malformed token is not an error.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	for _, raw := range []string{accessToken, refreshToken} {
		if raw == "" {
			continue
		}
		if err := s.registry.Revoke(ctx, raw); err != nil {
			return err
		}
	}

	if claims, err := s.tokens.Decode(accessToken); err == nil {
		recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
			EventType:  ActivityEventLogout,
			AccountID:  claims.UID,
			Email:      claims.Email(),
			OccurredAt: s.now(),
		})
	}
	return nil
}

// VerifyEmail activates the account named by a verification token.
// Verifying an active account succeeds without changes.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*VerifyResult, error) {
	claims, err := s.tokens.Verify(token, TokenVerification)
	if err != nil {
		return nil, err
	}

	account, err := s.findByEmail(ctx, claims.Email())
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrNotRegistered
	}

	if account.IsActive {
		return &VerifyResult{Account: account, AlreadyVerified: true}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.accounts.Activate(callCtx, account.ID); err != nil {
		s.logger.Error("VerifyEmail failed to activate account", "account", account.ID, "error", err)
		return nil, storageError(err)
	}
	account.IsActive = true

	s.record(ctx, ActivityEventEmailVerified, account, nil)
	return &VerifyResult{Account: account}, nil
}

// ResendVerification mails a new verification link to an inactive account.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	account, err := s.findByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return err
	}
	if account == nil {
		return ErrNotRegistered
	}
	if account.IsActive {
		return ErrAlreadyVerified
	}
	return s.sendVerification(ctx, account)
}

// IssueVerificationToken returns a verification token for an inactive
// account without mailing it.
func (s *Service) IssueVerificationToken(ctx context.Context, email string) (string, error) {
	account, err := s.findByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", ErrNotRegistered
	}
	if account.IsActive {
		return "", ErrAlreadyVerified
	}
	issued, err := s.tokens.Issue(account.Email, TokenVerification, WithAccountID(account.ID.String()))
	if err != nil {
		return "", err
	}
	return issued.Token, nil
}

// RequestPasswordReset mails a reset link when email belongs to an account.
// Unknown emails succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if !isEmail(email) {
		return ErrValidation.WithMetadata(map[string]any{"email": "must be a valid email address"})
	}

	account, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if account == nil {
		s.logger.Info("RequestPasswordReset for unknown email")
		return nil
	}

	issued, err := s.tokens.Issue(account.Email, TokenReset, WithAccountID(account.ID.String()))
	if err != nil {
		return err
	}

	ttl := issued.ExpiresAt.Sub(issued.IssuedAt)
	msg, err := s.composer.PasswordResetEmail(account.Email, PasswordResetLink(s.cfg.GetFrontendURL(), issued.Token), ttl)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("RequestPasswordReset failed to send email", "account", account.ID, "error", err)
		return err
	}

	s.record(ctx, ActivityEventPasswordResetRequest, account, nil)
	return nil
}

// ResetPassword sets a new password from a single-use reset token and
// lifts any lockout.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := in.Validate(); err != nil {
		return validationError(err)
	}

	claims, err := s.tokens.Verify(in.Token, TokenReset)
	if err != nil {
		return err
	}

	if err := s.ensureNotRevoked(ctx, in.Token); err != nil {
		return err
	}

	account, err := s.findByEmail(ctx, claims.Email())
	if err != nil {
		return err
	}
	if account == nil {
		return ErrNotRegistered
	}

	hash, err := s.passwords.HashPassword(in.NewPassword)
	if err != nil {
		return err
	}

	if err := s.registry.Revoke(ctx, in.Token); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.accounts.UpdatePassword(callCtx, account.ID, hash); err != nil {
		s.logger.Error("ResetPassword failed to update password", "account", account.ID, "error", err)
		return storageError(err)
	}

	if err := s.guard.Unlock(ctx, account); err != nil {
		return err
	}

	s.record(ctx, ActivityEventPasswordResetSuccess, account, nil)
	return nil
}

// Authenticate validates the access token of a protected call. Revocation
// is checked first and backend failures are returned, never ignored.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Session, error) {
	if err := s.ensureNotRevoked(ctx, accessToken); err != nil {
		return nil, err
	}

	claims, err := s.tokens.Verify(accessToken, TokenAccess)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccountID: claims.UID,
		Email:     claims.Email(),
		TokenID:   claims.ID,
		IssuedAt:  claims.Issued(),
		ExpiresAt: claims.Expires(),
	}, nil
}

// Account loads the account behind session.
func (s *Service) Account(ctx context.Context, session *Session) (*Account, error) {
	if session == nil {
		return nil, ErrNotRegistered
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		account *Account
		err     error
	)
	if id, perr := uuid.Parse(session.AccountID); perr == nil {
		account, err = s.accounts.FindByID(callCtx, id)
	} else {
		account, err = s.accounts.FindByEmail(callCtx, session.Email)
	}
	if err != nil {
		return nil, storageError(err)
	}
	if account == nil {
		return nil, ErrNotRegistered
	}
	return account, nil
}

func (s *Service) ensureNotRevoked(ctx context.Context, token string) error {
	revoked, err := s.registry.IsRevoked(ctx, token)
	if err != nil {
		return err
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}

func (s *Service) mintPair(account *Account) (*SessionTokens, error) {
	uid := WithAccountID(account.ID.String())

	access, err := s.tokens.Issue(account.Email, TokenAccess, uid)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Issue(account.Email, TokenRefresh, uid)
	if err != nil {
		return nil, err
	}

	return &SessionTokens{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        "bearer",
		ExpiresIn:        int64(access.ExpiresAt.Sub(access.IssuedAt).Seconds()),
		RefreshExpiresAt: refresh.ExpiresAt,
		Account:          account,
	}, nil
}

func (s *Service) sendVerification(ctx context.Context, account *Account) error {
	issued, err := s.tokens.Issue(account.Email, TokenVerification, WithAccountID(account.ID.String()))
	if err != nil {
		return err
	}

	ttl := issued.ExpiresAt.Sub(issued.IssuedAt)
	msg, err := s.composer.VerificationEmail(account.Email, VerificationLink(s.cfg.GetFrontendURL(), issued.Token), ttl)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

func (s *Service) findByEmail(ctx context.Context, email string) (*Account, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	account, err := s.accounts.FindByEmail(callCtx, email)
	if err != nil {
		s.logger.Error("Service account lookup failed", "error", err)
		return nil, storageError(err)
	}
	return account, nil
}

func (s *Service) record(ctx context.Context, eventType ActivityEventType, account *Account, md map[string]any) {
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType:  eventType,
		AccountID:  account.ID.String(),
		Email:      account.Email,
		Metadata:   md,
		OccurredAt: s.now(),
	})
}
