package mail

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	auth "github.com/cvbuilder/go-auth"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds connecting to the relay. Zero uses 15s.
	Timeout time.Duration
}

// SMTPSender delivers messages through an SMTP relay. STARTTLS is used when
// the relay offers it.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(ctx context.Context, msg *gomail.Msg) error
}

var _ auth.Mailer = (*SMTPSender)(nil)

// NewSMTPSender returns a sender for cfg. Credentials are only sent when a
// username is set.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp client: %w", err)
	}

	return &SMTPSender{
		cfg: cfg,
		send: func(ctx context.Context, msg *gomail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

// Send delivers msg. The context bounds the whole SMTP exchange.
func (s *SMTPSender) Send(ctx context.Context, msg auth.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := s.compose(msg)
	if err != nil {
		return err
	}

	if err := s.send(ctx, m); err != nil {
		return fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) compose(msg auth.Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("mail: from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail: to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	return m, nil
}

// LogSender writes messages to the logger instead of delivering them.
type LogSender struct {
	logger auth.Logger
}

// NewLogSender returns a development sender.
func NewLogSender(logger auth.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg auth.Message) error {
	s.logger.Info("mail not sent, logging instead", "to", msg.To, "subject", msg.Subject, "html", msg.HTML)
	return nil
}
