package auth_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/cvbuilder/go-auth"
	"github.com/cvbuilder/go-auth/revocation"
)

const testSecret = "test-signing-secret-that-is-long-enough"

type testConfig struct {
	secret       string
	method       string
	issuer       string
	access       time.Duration
	refresh      time.Duration
	reset        time.Duration
	verification time.Duration
	threshold    int
	timeout      time.Duration
	frontend     string
}

func newTestConfig() *testConfig {
	return &testConfig{
		secret:       testSecret,
		method:       "HS256",
		issuer:       "cv-builder-test",
		access:       30 * time.Minute,
		refresh:      7 * 24 * time.Hour,
		reset:        24 * time.Hour,
		verification: 48 * time.Hour,
		threshold:    5,
		timeout:      time.Second,
		frontend:     "https://cv.example.com",
	}
}

func (c *testConfig) GetSigningKey() string { return c.secret }
func (c *testConfig) GetSigningMethod() string { return c.method }
func (c *testConfig) GetIssuer() string { return c.issuer }
func (c *testConfig) GetAccessTokenTTL() time.Duration { return c.access }
func (c *testConfig) GetRefreshTokenTTL() time.Duration { return c.refresh }
func (c *testConfig) GetResetTokenTTL() time.Duration { return c.reset }
func (c *testConfig) GetVerificationTokenTTL() time.Duration { return c.verification }
func (c *testConfig) GetLockoutThreshold() int { return c.threshold }
func (c *testConfig) GetStoreTimeout() time.Duration { return c.timeout }
func (c *testConfig) GetFrontendURL() string { return c.frontend }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memAccounts is an in-memory AccountStore. Every method holds the lock for
// its whole body so RecordFailedLogin is atomic like the SQL statement.
type memAccounts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*auth.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[uuid.UUID]*auth.Account)}
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == auth.NormalizeEmail(email) {
			out := *a
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) FindByID(_ context.Context, id uuid.UUID) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

func (m *memAccounts) Create(_ context.Context, account *auth.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == account.Email {
			return auth.ErrEmailTaken
		}
	}
	stored := *account
	m.byID[account.ID] = &stored
	return nil
}

func (m *memAccounts) Activate(_ context.Context, id uuid.UUID) error {
	return m.mutate(id, func(a *auth.Account) { a.IsActive = true })
}

func (m *memAccounts) RecordFailedLogin(_ context.Context, id uuid.UUID, threshold int) (auth.LoginCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return auth.LoginCounter{}, auth.ErrNotRegistered
	}
	if a.IsLocked {
		return auth.LoginCounter{Attempts: a.FailedLoginAttempts, Locked: true}, nil
	}
	a.FailedLoginAttempts++
	a.IsLocked = a.FailedLoginAttempts >= threshold
	return auth.LoginCounter{Attempts: a.FailedLoginAttempts, Locked: a.IsLocked}, nil
}

func (m *memAccounts) RecordSuccessfulLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return auth.ErrNotRegistered
	}
	if a.IsLocked {
		return auth.ErrAccountLocked
	}
	a.FailedLoginAttempts = 0
	a.LastLogin = &at
	return nil
}

func (m *memAccounts) Unlock(_ context.Context, id uuid.UUID) error {
	return m.mutate(id, func(a *auth.Account) {
		a.IsLocked = false
		a.FailedLoginAttempts = 0
	})
}

func (m *memAccounts) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return m.mutate(id, func(a *auth.Account) { a.PasswordHash = hash })
}

func (m *memAccounts) mutate(id uuid.UUID, fn func(*auth.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return auth.ErrNotRegistered
	}
	fn(a)
	return nil
}

func (m *memAccounts) get(t *testing.T, id uuid.UUID) *auth.Account {
	t.Helper()
	a, err := m.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

// MockAccountStore implements auth.AccountStore for failure injection
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	if a, ok := args.Get(0).(*auth.Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) FindByID(ctx context.Context, id uuid.UUID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	if a, ok := args.Get(0).(*auth.Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *MockAccountStore) Activate(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAccountStore) RecordFailedLogin(ctx context.Context, id uuid.UUID, threshold int) (auth.LoginCounter, error) {
	args := m.Called(ctx, id, threshold)
	return args.Get(0).(auth.LoginCounter), args.Error(1)
}

func (m *MockAccountStore) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockAccountStore) Unlock(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAccountStore) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

// MockRevocationStore implements auth.RevocationStore for failure injection
type MockRevocationStore struct {
	mock.Mock
}

func (m *MockRevocationStore) Put(ctx context.Context, key string, ttl time.Duration) error {
	return m.Called(ctx, key, ttl).Error(0)
}

func (m *MockRevocationStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockRevocationStore) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// blockingStore never answers before the context is done.
type blockingStore struct{}

func (blockingStore) Put(ctx context.Context, _ string, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStore) Exists(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (blockingStore) Sweep(ctx context.Context) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *capturingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *capturingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type capturingMailer struct {
	mu   sync.Mutex
	sent []auth.Message
}

func (m *capturingMailer) Send(_ context.Context, msg auth.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *capturingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var tokenParamRe = regexp.MustCompile(`token=([A-Za-z0-9._-]+)`)

// lastToken returns the token carried by the link of the last sent message.
func (m *capturingMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	match := tokenParamRe.FindStringSubmatch(m.sent[len(m.sent)-1].HTML)
	require.Len(t, match, 2, "no token link in mail")
	return match[1]
}

func cheapHasher() *auth.BcryptHasher {
	return auth.NewBcryptHasher(bcrypt.MinCost)
}

func newTokenService(t *testing.T, cfg auth.Config, clock *fakeClock) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(cfg, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)
	return ts
}

type harness struct {
	cfg      *testConfig
	clock    *fakeClock
	accounts *memAccounts
	tokens   *auth.TokenService
	backend  *revocation.Memory
	registry *auth.RevocationRegistry
	mailer   *capturingMailer
	sink     *capturingSink
	service  *auth.Service
}

func newHarness(t *testing.T, opts ...auth.ServiceOption) *harness {
	t.Helper()
	h := &harness{
		cfg:      newTestConfig(),
		clock:    newFakeClock(),
		accounts: newMemAccounts(),
		mailer:   &capturingMailer{},
		sink:     &capturingSink{},
	}
	h.tokens = newTokenService(t, h.cfg, h.clock)
	h.backend = revocation.NewMemory(h.clock.Now)
	h.registry = auth.NewRevocationRegistry(h.backend, h.tokens, auth.WithRevocationClock(h.clock.Now))

	base := []auth.ServiceOption{
		auth.WithServiceClock(h.clock.Now),
		auth.WithPasswordAuthenticator(cheapHasher()),
		auth.WithMailer(h.mailer),
		auth.WithServiceActivitySink(h.sink),
	}
	h.service = auth.NewService(h.cfg, h.accounts, h.tokens, h.registry, append(base, opts...)...)
	return h
}

// seedAccount stores an account with password "Secret123".
func (h *harness) seedAccount(t *testing.T, email string, active bool) *auth.Account {
	t.Helper()
	hash, err := cheapHasher().HashPassword("Secret123")
	require.NoError(t, err)
	account := &auth.Account{
		ID:           uuid.New(),
		Email:        auth.NormalizeEmail(email),
		FullName:     "Test User",
		PasswordHash: hash,
		IsActive:     active,
	}
	require.NoError(t, h.accounts.Create(context.Background(), account))
	return account
}
