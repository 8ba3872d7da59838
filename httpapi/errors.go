package httpapi

import (
	"errors"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	auth "github.com/cvbuilder/go-auth"
)

// retryAfterSeconds is sent with 503 and 504 responses caused by storage
// failures.
const retryAfterSeconds = 5

// Response is the JSON envelope of every endpoint.
type Response struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Data    any            `json:"data,omitempty"`
	Errors  map[string]any `json:"errors,omitempty"`
}

// statusFor maps an error to its HTTP status, public code and message.
// Unknown-email and wrong-password failures share one response so the API
// does not reveal which emails are registered.
func statusFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return fiber.StatusUnauthorized, "INVALID_CREDENTIALS", "Incorrect email or password"
	case errors.Is(err, auth.ErrAccountLocked):
		return fiber.StatusLocked, auth.ErrAccountLocked.Code(), "Account locked due to too many failed login attempts. Please reset your password."
	case errors.Is(err, auth.ErrEmailNotVerified):
		return fiber.StatusForbidden, auth.ErrEmailNotVerified.Code(), "Please verify your email before logging in"
	case errors.Is(err, auth.ErrTokenExpired):
		return fiber.StatusUnauthorized, auth.ErrTokenExpired.Code(), "Token has expired"
	case errors.Is(err, auth.ErrTokenTypeMismatch):
		return fiber.StatusUnauthorized, auth.ErrTokenTypeMismatch.Code(), "Invalid token type"
	case errors.Is(err, auth.ErrTokenRevoked):
		return fiber.StatusUnauthorized, auth.ErrTokenRevoked.Code(), "Token has been revoked"
	case auth.IsMalformedError(err):
		return fiber.StatusUnauthorized, auth.ErrTokenMalformed.Code(), "Invalid token"
	case errors.Is(err, auth.ErrStorageTimeout):
		return fiber.StatusGatewayTimeout, auth.ErrStorageTimeout.Code(), "Service temporarily unavailable, please retry"
	case errors.Is(err, auth.ErrStorageUnavailable):
		return fiber.StatusServiceUnavailable, auth.ErrStorageUnavailable.Code(), "Service temporarily unavailable, please retry"
	case errors.Is(err, auth.ErrEmailTaken):
		return fiber.StatusConflict, auth.ErrEmailTaken.Code(), "Email already registered"
	case errors.Is(err, auth.ErrAlreadyVerified):
		return fiber.StatusConflict, auth.ErrAlreadyVerified.Code(), "Email already verified"
	case errors.Is(err, auth.ErrValidation):
		return fiber.StatusUnprocessableEntity, auth.ErrValidation.Code(), "Validation failed"
	}
	return fiber.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
}

// fail writes the error response for err. Storage and unexpected failures
// are reported to Sentry.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, code, message := statusFor(err)

	if status >= fiber.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Path(), "status", status, "error", err)
		sentry.CaptureException(err)
	}
	if status == fiber.StatusServiceUnavailable || status == fiber.StatusGatewayTimeout {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds))
	}

	resp := Response{Success: false, Message: message, Code: code}

	var authErr *auth.Error
	if errors.As(err, &authErr) && authErr.Kind == auth.KindValidation {
		resp.Errors = authErr.Metadata
	}

	return c.Status(status).JSON(resp)
}

func ok(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(Response{Success: true, Message: message, Data: data})
}
