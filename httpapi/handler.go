// Package httpapi exposes the auth service over HTTP with fiber.
package httpapi

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"

	auth "github.com/cvbuilder/go-auth"
	"github.com/cvbuilder/go-auth/middleware/jwtware"
	"github.com/cvbuilder/go-auth/middleware/ratelimit"
)

const refreshCookie = "refresh_token"

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures the handler.
type Options struct {
	// CookieSecure sets the Secure flag on the refresh cookie.
	CookieSecure bool
	// Development mounts the verification token route.
	Development bool
	// CronSecret protects the maintenance endpoint. Empty disables it.
	CronSecret string
	// LoginLimiter throttles the login route when set.
	LoginLimiter *ratelimit.RateLimiter
	// HealthChecks are run by GET /health.
	HealthChecks map[string]HealthCheck
	Logger       auth.Logger
}

// Handler serves the auth endpoints.
type Handler struct {
	service *auth.Service
	opts    Options
	logger  auth.Logger
	bearer  []jwtware.JWTExtractor
}

// NewHandler returns a handler over service.
func NewHandler(service *auth.Service, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = auth.DefaultLogger()
	}
	return &Handler{
		service: service,
		opts:    opts,
		logger:  logger,
		bearer:  jwtware.GetExtractors("header:"+fiber.HeaderAuthorization, "Bearer"),
	}
}

// Mount adds every route to router.
func (h *Handler) Mount(router fiber.Router) {
	protected := jwtware.New(jwtware.Config{
		Authenticator: h.service,
		ErrorHandler:  h.authError,
	})

	group := router.Group("/auth")
	group.Post("/register", h.Register)

	if h.opts.LoginLimiter != nil {
		group.Post("/login", ratelimit.New(ratelimit.Config{Limiter: h.opts.LoginLimiter}), h.Login)
	} else {
		group.Post("/login", h.Login)
	}

	group.Post("/refresh", h.Refresh)
	// logout only needs the bearer token, revoked or expired ones included
	group.Post("/logout", h.Logout)
	group.Get("/verify-email", h.VerifyEmail)
	group.Post("/resend-verification", h.ResendVerification)
	group.Post("/password-reset", h.RequestPasswordReset)
	group.Post("/password-reset/confirm", h.ResetPassword)
	group.Get("/me", protected, h.Me)

	if h.opts.Development {
		group.Get("/dev/verification-token/:email", h.DevVerificationToken)
	}

	router.Post("/internal/maintenance/sweep", h.Sweep)
	router.Get("/health", h.Health)
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type tokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

func (r emailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (h *Handler) Register(c *fiber.Ctx) error {
	var in auth.RegisterInput
	if err := c.BodyParser(&in); err != nil {
		return h.badRequest(c)
	}

	account, err := h.service.Register(c.UserContext(), in)
	if err != nil {
		return h.fail(c, err)
	}

	return ok(c, fiber.StatusCreated, "Registration successful. Please check your email to verify your account.", fiber.Map{
		"id":        account.ID,
		"email":     account.Email,
		"full_name": account.FullName,
	})
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var in loginRequest
	if err := c.BodyParser(&in); err != nil {
		return h.badRequest(c)
	}
	if err := in.Validate(); err != nil {
		return h.fail(c, invalid(err))
	}

	tokens, err := h.service.Login(c.UserContext(), in.Email, in.Password)
	if err != nil {
		return h.fail(c, err)
	}

	if in.RememberMe {
		h.setRefreshCookie(c, tokens.RefreshToken, tokens.RefreshExpiresAt)
	}

	return ok(c, fiber.StatusOK, "Login successful", tokens)
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	var in tokenRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return h.badRequest(c)
		}
	}

	fromCookie := false
	if in.RefreshToken == "" {
		in.RefreshToken = c.Cookies(refreshCookie)
		fromCookie = in.RefreshToken != ""
	}
	if in.RefreshToken == "" {
		return h.fail(c, auth.ErrValidation.WithMetadata(map[string]any{"refresh_token": "Refresh token required"}))
	}

	tokens, err := h.service.Refresh(c.UserContext(), in.RefreshToken)
	if err != nil {
		return h.fail(c, err)
	}

	if fromCookie {
		h.setRefreshCookie(c, tokens.RefreshToken, tokens.RefreshExpiresAt)
	}

	return ok(c, fiber.StatusOK, "Token refreshed", tokens)
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	access, err := jwtware.ExtractRawTokenFromContext(c, h.bearer)
	if err != nil || access == "" {
		return h.authError(c, jwtware.ErrJWTMissingOrMalformed)
	}

	var in tokenRequest
	if len(c.Body()) > 0 {
		_ = c.BodyParser(&in)
	}
	if in.RefreshToken == "" {
		in.RefreshToken = c.Cookies(refreshCookie)
	}

	if err := h.service.Logout(c.UserContext(), access, in.RefreshToken); err != nil {
		return h.fail(c, err)
	}

	c.ClearCookie(refreshCookie)
	return ok(c, fiber.StatusOK, "Successfully logged out", nil)
}

func (h *Handler) VerifyEmail(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return h.fail(c, auth.ErrValidation.WithMetadata(map[string]any{"token": "cannot be blank"}))
	}

	result, err := h.service.VerifyEmail(c.UserContext(), token)
	if err != nil {
		return h.fail(c, err)
	}

	if result.AlreadyVerified {
		return ok(c, fiber.StatusOK, "Email already verified", nil)
	}
	return ok(c, fiber.StatusOK, "Email verified successfully", nil)
}

func (h *Handler) ResendVerification(c *fiber.Ctx) error {
	var in emailRequest
	if err := c.BodyParser(&in); err != nil {
		return h.badRequest(c)
	}
	if err := in.Validate(); err != nil {
		return h.fail(c, invalid(err))
	}

	if err := h.service.ResendVerification(c.UserContext(), in.Email); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Verification email sent", nil)
}

func (h *Handler) RequestPasswordReset(c *fiber.Ctx) error {
	var in emailRequest
	if err := c.BodyParser(&in); err != nil {
		return h.badRequest(c)
	}
	if err := in.Validate(); err != nil {
		return h.fail(c, invalid(err))
	}

	if err := h.service.RequestPasswordReset(c.UserContext(), in.Email); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, "If the email is registered, a reset link has been sent", nil)
}

func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var in auth.ResetPasswordInput
	if err := c.BodyParser(&in); err != nil {
		return h.badRequest(c)
	}

	if err := h.service.ResetPassword(c.UserContext(), in); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Password has been reset", nil)
}

func (h *Handler) Me(c *fiber.Ctx) error {
	session, found := jwtware.SessionFrom(c, "")
	if !found {
		return h.fail(c, auth.ErrTokenMalformed)
	}

	account, err := h.service.Account(c.UserContext(), session)
	if err != nil {
		return h.fail(c, err)
	}

	return ok(c, fiber.StatusOK, "Authenticated", fiber.Map{
		"id":         account.ID,
		"email":      account.Email,
		"full_name":  account.FullName,
		"last_login": account.LastLogin,
	})
}

func (h *Handler) DevVerificationToken(c *fiber.Ctx) error {
	token, err := h.service.IssueVerificationToken(c.UserContext(), c.Params("email"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, "Verification token generated", fiber.Map{
		"verification_token": token,
	})
}

// Sweep drops elapsed revocation entries. It answers 404 unless a cron
// secret is configured and presented as a bearer token.
func (h *Handler) Sweep(c *fiber.Ctx) error {
	if h.opts.CronSecret == "" {
		return c.Status(fiber.StatusNotFound).JSON(Response{Message: "not found"})
	}

	parts := strings.SplitN(strings.TrimSpace(c.Get(fiber.HeaderAuthorization)), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.opts.CronSecret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(Response{Message: "unauthorized"})
	}

	removed, err := h.service.Registry().Sweep(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}

	h.logger.Info("revocation sweep completed", "removed", removed)
	return ok(c, fiber.StatusOK, "Sweep completed", fiber.Map{"removed": removed})
}

func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	checks := make(fiber.Map, len(h.opts.HealthChecks))
	for name, check := range h.opts.HealthChecks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			status = fiber.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	return c.Status(status).JSON(Response{
		Success: status == fiber.StatusOK,
		Message: "health",
		Data:    checks,
	})
}

func (h *Handler) authError(c *fiber.Ctx, err error) error {
	if err == jwtware.ErrJWTMissingOrMalformed {
		return c.Status(fiber.StatusUnauthorized).JSON(Response{
			Message: "Authorization token is missing",
			Code:    "TOKEN_MISSING",
		})
	}
	return h.fail(c, err)
}

func (h *Handler) badRequest(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(Response{Message: "invalid json body", Code: "BAD_REQUEST"})
}

func (h *Handler) setRefreshCookie(c *fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookie,
		Value:    token,
		Path:     "/auth",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func invalid(err error) error {
	md := map[string]any{}
	if fields, ok := err.(validation.Errors); ok {
		for name, ferr := range fields {
			md[name] = ferr.Error()
		}
	}
	return auth.ErrValidation.Wrap(err).WithMetadata(md)
}
