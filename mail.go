package auth

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
)

const (
	verifyEmailPath   = "/verify-email"
	resetPasswordPath = "/reset-password"
)

// VerificationLink builds the frontend link that confirms an email.
func VerificationLink(frontendURL, token string) string {
	return frontendLink(frontendURL, verifyEmailPath, token)
}

// PasswordResetLink builds the frontend link that opens the reset form.
func PasswordResetLink(frontendURL, token string) string {
	return frontendLink(frontendURL, resetPasswordPath, token)
}

func frontendLink(base, path, token string) string {
	return strings.TrimRight(base, "/") + path + "?token=" + url.QueryEscape(token)
}

// HumanizeTTL renders durations the way the emails state them,
// e.g. "48 hours" or "30 minutes".
func HumanizeTTL(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// plainComposer is used when no template based composer is configured.
type plainComposer struct{}

func (plainComposer) VerificationEmail(to, link string, ttl time.Duration) (Message, error) {
	return Message{
		To:      to,
		Subject: "Verify Your Email",
		HTML: fmt.Sprintf(`<p>Confirm your email address by opening <a href="%s">this link</a>. It expires in %s.</p>`,
			html.EscapeString(link), HumanizeTTL(ttl)),
	}, nil
}

func (plainComposer) PasswordResetEmail(to, link string, ttl time.Duration) (Message, error) {
	return Message{
		To:      to,
		Subject: "Password Reset Request",
		HTML: fmt.Sprintf(`<p>Reset your password by opening <a href="%s">this link</a>. It expires in %s.</p>`,
			html.EscapeString(link), HumanizeTTL(ttl)),
	}, nil
}

type noopMailer struct {
	logger Logger
}

func (m noopMailer) Send(_ context.Context, msg Message) error {
	m.logger.Warn("mailer not configured, dropping message", "to", msg.To, "subject", msg.Subject)
	return nil
}
