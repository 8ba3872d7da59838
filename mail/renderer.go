// Package mail renders and delivers the verification and password reset
// emails.
package mail

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gofiber/template/django/v3"

	auth "github.com/cvbuilder/go-auth"
)

//go:embed templates/*.html
var templatesFS embed.FS

const (
	verifyTemplate = "verify_email"
	resetTemplate  = "password_reset"
)

// Renderer renders the transactional emails from django templates.
type Renderer struct {
	engine *django.Engine
}

var _ auth.MailComposer = (*Renderer)(nil)

// NewRenderer loads the embedded templates.
func NewRenderer() (*Renderer, error) {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, err
	}
	return NewRendererFS(http.FS(sub))
}

// NewRendererFS loads templates from fsys, which must provide
// verify_email.html and password_reset.html.
func NewRendererFS(fsys http.FileSystem) (*Renderer, error) {
	engine := django.NewFileSystem(fsys, ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("mail: load templates: %w", err)
	}
	return &Renderer{engine: engine}, nil
}

func (r *Renderer) VerificationEmail(to, link string, ttl time.Duration) (auth.Message, error) {
	html, err := r.render(verifyTemplate, map[string]any{
		"verify_url": link,
		"expires_in": auth.HumanizeTTL(ttl),
	})
	if err != nil {
		return auth.Message{}, err
	}
	return auth.Message{To: to, Subject: "Verify Your Email", HTML: html}, nil
}

func (r *Renderer) PasswordResetEmail(to, link string, ttl time.Duration) (auth.Message, error) {
	html, err := r.render(resetTemplate, map[string]any{
		"reset_url":  link,
		"expires_in": auth.HumanizeTTL(ttl),
	})
	if err != nil {
		return auth.Message{}, err
	}
	return auth.Message{To: to, Subject: "Password Reset Request", HTML: html}, nil
}

func (r *Renderer) render(name string, binding map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, name, binding); err != nil {
		return "", fmt.Errorf("mail: render %s: %w", name, err)
	}
	return buf.String(), nil
}
