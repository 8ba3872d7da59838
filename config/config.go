// Package config loads service settings from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"

	auth "github.com/cvbuilder/go-auth"
)

// Revocation backends
const (
	RevocationMemory = "memory"
	RevocationRedis  = "redis"
	RevocationSQL    = "sql"
)

// Config holds the service configuration. It implements auth.Config.
type Config struct {
	// Tokens
	SigningSecret        string
	Algorithm            string
	Issuer               string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration
	UndecodableTokenTTL  time.Duration

	// Lockout and hashing
	LockoutThreshold int
	BcryptCost       int

	// Storage
	DatabaseURL       string
	RedisURL          string
	RevocationBackend string
	StoreTimeout      time.Duration
	SweepInterval     time.Duration

	// Mail
	FrontendURL  string
	MailHost     string
	MailPort     int
	MailUsername string
	MailPassword string
	MailFrom     string

	// HTTP
	Port             int
	LoginRateLimit   float64
	LoginRateBurst   int
	CookieSecure     bool
	CronSecret       string
	DeterministicIDs bool

	// Application settings
	Environment string
	SentryDSN   string
}

var _ auth.Config = (*Config)(nil)

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (not required in production)
	_ = godotenv.Load()

	cfg := &Config{
		SigningSecret:        getEnv("SIGNING_SECRET", ""),
		Algorithm:            getEnv("JWT_ALGORITHM", "HS256"),
		Issuer:               getEnv("JWT_ISSUER", "cv-builder"),
		AccessTokenTTL:       time.Duration(getEnvAsInt("ACCESS_TOKEN_TTL_MINUTES", 30)) * time.Minute,
		RefreshTokenTTL:      time.Duration(getEnvAsInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		ResetTokenTTL:        time.Duration(getEnvAsInt("RESET_TOKEN_TTL_HOURS", 24)) * time.Hour,
		VerificationTokenTTL: time.Duration(getEnvAsInt("VERIFICATION_TOKEN_TTL_HOURS", 48)) * time.Hour,
		UndecodableTokenTTL:  time.Duration(getEnvAsInt("UNDECODABLE_TOKEN_TTL_MINUTES", 15)) * time.Minute,
		LockoutThreshold:     getEnvAsInt("LOCKOUT_THRESHOLD", auth.DefaultLockoutThreshold),
		BcryptCost:           getEnvAsInt("BCRYPT_COST", 12),
		DatabaseURL:          getEnv("DATABASE_URL", "file:auth.db?cache=shared"),
		RedisURL:             getEnv("REDIS_URL", ""),
		RevocationBackend:    strings.ToLower(getEnv("REVOCATION_BACKEND", RevocationMemory)),
		StoreTimeout:         time.Duration(getEnvAsInt("STORE_TIMEOUT_MS", 3000)) * time.Millisecond,
		SweepInterval:        time.Duration(getEnvAsInt("SWEEP_INTERVAL_MINUTES", 10)) * time.Minute,
		FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:3000"),
		MailHost:             getEnv("MAIL_SERVER", ""),
		MailPort:             getEnvAsInt("MAIL_PORT", 587),
		MailUsername:         getEnv("MAIL_USERNAME", ""),
		MailPassword:         getEnv("MAIL_PASSWORD", ""),
		MailFrom:             getEnv("MAIL_FROM", "no-reply@localhost"),
		Port:                 getEnvAsInt("PORT", 8000),
		LoginRateLimit:       getEnvAsFloat("LOGIN_RATE_LIMIT_RPS", 1),
		LoginRateBurst:       getEnvAsInt("LOGIN_RATE_LIMIT_BURST", 5),
		CookieSecure:         getEnvAsBool("COOKIE_SECURE", false),
		CronSecret:           getEnv("CRON_SECRET", ""),
		DeterministicIDs:     getEnvAsBool("DETERMINISTIC_IDS", false),
		Environment:          getEnv("APP_ENV", "development"),
		SentryDSN:            getEnv("SENTRY_DSN", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SigningSecret, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.Algorithm, validation.In("HS256", "HS384", "HS512")),
		validation.Field(&c.AccessTokenTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.RefreshTokenTTL, validation.Required, validation.Min(time.Hour)),
		validation.Field(&c.ResetTokenTTL, validation.Required),
		validation.Field(&c.VerificationTokenTTL, validation.Required),
		validation.Field(&c.UndecodableTokenTTL, validation.Required),
		validation.Field(&c.LockoutThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.RevocationBackend, validation.In(RevocationMemory, RevocationRedis, RevocationSQL)),
		validation.Field(&c.RedisURL, validation.By(c.requireRedisURL)),
		validation.Field(&c.StoreTimeout, validation.Required),
		validation.Field(&c.FrontendURL, validation.Required, is.URL),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

func (c *Config) requireRedisURL(value any) error {
	if c.RevocationBackend == RevocationRedis && value == "" {
		return errors.New("is required when REVOCATION_BACKEND is redis")
	}
	return nil
}

// IsDevelopment reports whether development only routes may be mounted.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetSigningKey() string { return c.SigningSecret }
func (c *Config) GetSigningMethod() string { return c.Algorithm }
func (c *Config) GetIssuer() string { return c.Issuer }
func (c *Config) GetAccessTokenTTL() time.Duration { return c.AccessTokenTTL }
func (c *Config) GetRefreshTokenTTL() time.Duration { return c.RefreshTokenTTL }
func (c *Config) GetResetTokenTTL() time.Duration { return c.ResetTokenTTL }
func (c *Config) GetVerificationTokenTTL() time.Duration { return c.VerificationTokenTTL }
func (c *Config) GetLockoutThreshold() int { return c.LockoutThreshold }
func (c *Config) GetStoreTimeout() time.Duration { return c.StoreTimeout }
func (c *Config) GetFrontendURL() string { return c.FrontendURL }

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
