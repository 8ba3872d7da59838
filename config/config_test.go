package config_test

import (
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvbuilder/go-auth/config"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SIGNING_SECRET", secret)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "HS256", cfg.GetSigningMethod())
	assert.Equal(t, 30*time.Minute, cfg.GetAccessTokenTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.GetRefreshTokenTTL())
	assert.Equal(t, 24*time.Hour, cfg.GetResetTokenTTL())
	assert.Equal(t, 48*time.Hour, cfg.GetVerificationTokenTTL())
	assert.Equal(t, 15*time.Minute, cfg.UndecodableTokenTTL)
	assert.Equal(t, 5, cfg.GetLockoutThreshold())
	assert.Equal(t, 3*time.Second, cfg.GetStoreTimeout())
	assert.Equal(t, config.RevocationMemory, cfg.RevocationBackend)
	assert.Equal(t, "http://localhost:3000", cfg.GetFrontendURL())
	assert.Equal(t, 8000, cfg.Port)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SIGNING_SECRET", secret)
	t.Setenv("JWT_ALGORITHM", "HS512")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "15")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "30")
	t.Setenv("LOCKOUT_THRESHOLD", "3")
	t.Setenv("REVOCATION_BACKEND", "REDIS")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("LOGIN_RATE_LIMIT_RPS", "0.5")
	t.Setenv("APP_ENV", "production")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "HS512", cfg.GetSigningMethod())
	assert.Equal(t, 15*time.Minute, cfg.GetAccessTokenTTL())
	assert.Equal(t, 30*24*time.Hour, cfg.GetRefreshTokenTTL())
	assert.Equal(t, 3, cfg.GetLockoutThreshold())
	assert.Equal(t, config.RevocationRedis, cfg.RevocationBackend)
	assert.True(t, cfg.CookieSecure)
	assert.InDelta(t, 0.5, cfg.LoginRateLimit, 0.0001)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"missing secret", map[string]string{}, "SigningSecret"},
		{"short secret", map[string]string{"SIGNING_SECRET": "short"}, "SigningSecret"},
		{"asymmetric algorithm", map[string]string{"SIGNING_SECRET": secret, "JWT_ALGORITHM": "RS256"}, "Algorithm"},
		{"unknown backend", map[string]string{"SIGNING_SECRET": secret, "REVOCATION_BACKEND": "memcached"}, "RevocationBackend"},
		{"redis without url", map[string]string{"SIGNING_SECRET": secret, "REVOCATION_BACKEND": "redis"}, "RedisURL"},
		{"zero threshold", map[string]string{"SIGNING_SECRET": secret, "LOCKOUT_THRESHOLD": "0"}, "LockoutThreshold"},
		{"bad frontend url", map[string]string{"SIGNING_SECRET": secret, "FRONTEND_URL": "not a url"}, "FrontendURL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SIGNING_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load()
			require.Error(t, err)

			var fields validation.Errors
			require.ErrorAs(t, err, &fields)
			assert.Contains(t, fields, tt.field)
		})
	}
}
