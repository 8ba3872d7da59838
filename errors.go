package auth

import (
	"context"
	"errors"
	"maps"
	"strings"
)

// ErrorKind groups errors by how callers are expected to react to them.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindAccountLocked      ErrorKind = "account_locked"
	KindEmailNotVerified   ErrorKind = "email_not_verified"
	KindTokenExpired       ErrorKind = "token_expired"
	KindTokenTypeMismatch  ErrorKind = "token_type_mismatch"
	KindTokenMalformed     ErrorKind = "token_malformed"
	KindTokenRevoked       ErrorKind = "token_revoked"
	KindStorageUnavailable ErrorKind = "storage_unavailable"
	KindConflict           ErrorKind = "conflict"
	KindValidation         ErrorKind = "validation"
)

// Error is the error type returned by every operation in this package.
type Error struct {
	Kind     ErrorKind
	TextCode string
	Message  string
	Metadata map[string]any
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on text code. Targets without a text code match any error of
// the same kind, so errors.Is(err, ErrInvalidCredentials) holds for both
// ErrNotRegistered and ErrWrongPassword.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.TextCode == "" {
		return t.Kind == e.Kind
	}
	return t.TextCode == e.TextCode
}

// Code returns the machine readable code of the error.
func (e *Error) Code() string {
	if e.TextCode != "" {
		return e.TextCode
	}
	return strings.ToUpper(string(e.Kind))
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	out := e.clone()
	out.Err = err
	return out
}

// WithMetadata returns a copy of e with md merged into its metadata.
func (e *Error) WithMetadata(md map[string]any) *Error {
	out := e.clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, len(md))
	}
	maps.Copy(out.Metadata, md)
	return out
}

func (e *Error) clone() *Error {
	out := *e
	if e.Metadata != nil {
		out.Metadata = maps.Clone(e.Metadata)
	}
	return &out
}

var (
	// ErrInvalidCredentials matches both ErrNotRegistered and ErrWrongPassword.
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}

	ErrNotRegistered = &Error{Kind: KindInvalidCredentials, TextCode: "NOT_REGISTERED", Message: "email not registered"}
	ErrWrongPassword = &Error{Kind: KindInvalidCredentials, TextCode: "WRONG_PASSWORD", Message: "invalid password"}

	ErrAccountLocked    = &Error{Kind: KindAccountLocked, TextCode: "ACCOUNT_LOCKED", Message: "account locked after too many failed login attempts"}
	ErrEmailNotVerified = &Error{Kind: KindEmailNotVerified, TextCode: "EMAIL_NOT_VERIFIED", Message: "email not verified"}

	ErrTokenExpired      = &Error{Kind: KindTokenExpired, TextCode: "TOKEN_EXPIRED", Message: "token is expired"}
	ErrTokenTypeMismatch = &Error{Kind: KindTokenTypeMismatch, TextCode: "TOKEN_TYPE_MISMATCH", Message: "unexpected token type"}
	ErrTokenMalformed    = &Error{Kind: KindTokenMalformed, TextCode: "TOKEN_MALFORMED", Message: "token is malformed"}
	ErrTokenMissingID    = &Error{Kind: KindTokenMalformed, TextCode: "TOKEN_MISSING_ID", Message: "token has no jti"}
	ErrTokenRevoked      = &Error{Kind: KindTokenRevoked, TextCode: "TOKEN_REVOKED", Message: "token has been revoked"}

	// ErrStorageUnavailable matches every storage failure, including ErrStorageTimeout.
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable, Message: "storage unavailable"}
	ErrStorageTimeout     = &Error{Kind: KindStorageUnavailable, TextCode: "STORAGE_TIMEOUT", Message: "storage call timed out"}

	ErrEmailTaken      = &Error{Kind: KindConflict, TextCode: "EMAIL_TAKEN", Message: "email already registered"}
	ErrAlreadyVerified = &Error{Kind: KindConflict, TextCode: "ALREADY_VERIFIED", Message: "email already verified"}

	ErrValidation = &Error{Kind: KindValidation, TextCode: "VALIDATION_FAILED", Message: "validation failed"}
)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}

// IsMalformedError will check for tokens that could not be decoded
func IsMalformedError(err error) bool {
	return errors.Is(err, &Error{Kind: KindTokenMalformed})
}

// IsStorageError reports whether err came from a store or registry backend.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// storageError classifies a backend failure. Errors that already carry a
// kind pass through untouched.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStorageTimeout.Wrap(err)
	}
	return ErrStorageUnavailable.Wrap(err)
}
