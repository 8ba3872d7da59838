package mail

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	auth "github.com/cvbuilder/go-auth"
)

type ctxKey struct{}

func newTestSender(t *testing.T, cfg SMTPConfig) *SMTPSender {
	t.Helper()
	sender, err := NewSMTPSender(cfg)
	require.NoError(t, err)
	return sender
}

func TestSMTPSender_Send(t *testing.T) {
	sender := newTestSender(t, SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "mailer",
		Password: "secret",
		From:     "noreply@cv.example.com",
	})

	var (
		got    *gomail.Msg
		gotCtx context.Context
	)
	sender.send = func(ctx context.Context, msg *gomail.Msg) error {
		got, gotCtx = msg, ctx
		return nil
	}

	ctx := context.WithValue(context.Background(), ctxKey{}, "request")
	err := sender.Send(ctx, auth.Message{
		To:      "ada@example.com",
		Subject: "Verify Your Email",
		HTML:    "<p>hi</p>",
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "request", gotCtx.Value(ctxKey{}))

	recipients, err := got.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.com"}, recipients)
	assert.Equal(t, []string{"Verify Your Email"}, got.GetGenHeader(gomail.HeaderSubject))

	var raw bytes.Buffer
	_, err = got.WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "noreply@cv.example.com")
	assert.Contains(t, raw.String(), "text/html")
	assert.Contains(t, raw.String(), "<p>hi</p>")
}

func TestSMTPSender_Errors(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{Port: 25})
	assert.Error(t, err, "a relay host is required")

	sender := newTestSender(t, SMTPConfig{Host: "localhost", Port: 25, From: "a@example.com"})
	sender.send = func(context.Context, *gomail.Msg) error {
		return errors.New("connection refused")
	}

	err = sender.Send(context.Background(), auth.Message{To: "x@example.com"})
	assert.ErrorContains(t, err, "connection refused")

	err = sender.Send(context.Background(), auth.Message{To: "not an address"})
	assert.ErrorContains(t, err, "to address")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sender.Send(ctx, auth.Message{To: "x@example.com"}), context.Canceled)
}

func TestSMTPSender_InvalidFrom(t *testing.T) {
	sender := newTestSender(t, SMTPConfig{Host: "localhost", Port: 25, From: "not an address"})
	sender.send = func(context.Context, *gomail.Msg) error {
		t.Fatal("message with a bad sender must not be sent")
		return nil
	}

	err := sender.Send(context.Background(), auth.Message{To: "x@example.com"})
	assert.ErrorContains(t, err, "from address")
}
