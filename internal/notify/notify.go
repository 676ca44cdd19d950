// Package notify delivers password reset tokens.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"text/template"
	"time"

	"github.com/MrEthical07/taskauth"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// ErrNoRecipient is returned for a message without an address.
var ErrNoRecipient = errors.New("notify: reset message has no recipient")

// SMTPConfig configures [SMTP].
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// TLS requires STARTTLS. Without it the connection is plain.
	TLS bool `mapstructure:"tls"`
	// ResetURL is the page the token is appended to as ?token=.
	ResetURL string        `mapstructure:"reset_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

const resetBody = `Hello {{.Name}},

A password reset was requested for your account.

Use the link below to choose a new password. It expires at {{.Expires}}.

{{.Link}}

If you did not request this, you can ignore this message.
`

var resetTemplate = template.Must(template.New("reset").Parse(resetBody))

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTP sends reset links by mail.
type SMTP struct {
	cfg    SMTPConfig
	client sender
	logger *zap.Logger
}

// NewSMTP builds a client for cfg. No connection is made until a message is sent.
func NewSMTP(cfg SMTPConfig, logger *zap.Logger) (*SMTP, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("notify: smtp host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSConfig(&tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: create mail client: %w", err)
	}
	return &SMTP{cfg: cfg, client: client, logger: logger}, nil
}

// SendPasswordReset mails msg.To a reset link.
func (s *SMTP) SendPasswordReset(ctx context.Context, msg taskauth.ResetMessage) error {
	m, err := s.message(msg)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		s.logger.Error("password reset mail failed", zap.Error(err))
		return fmt.Errorf("notify: send reset mail: %w", err)
	}
	s.logger.Info("password reset mail sent")
	return nil
}

func (s *SMTP) message(msg taskauth.ResetMessage) (*mail.Msg, error) {
	if msg.To == "" {
		return nil, ErrNoRecipient
	}
	body, err := renderReset(msg, s.cfg.ResetURL)
	if err != nil {
		return nil, err
	}

	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("notify: from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("notify: to address: %w", err)
	}
	m.Subject("Password reset request")
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func renderReset(msg taskauth.ResetMessage, base string) (string, error) {
	link := msg.Token
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("notify: reset url: %w", err)
		}
		q := u.Query()
		q.Set("token", msg.Token)
		u.RawQuery = q.Encode()
		link = u.String()
	}

	name := msg.Name
	if name == "" {
		name = "there"
	}
	var buf bytes.Buffer
	err := resetTemplate.Execute(&buf, struct {
		Name    string
		Link    string
		Expires string
	}{name, link, msg.ExpiresAt.UTC().Format(time.RFC1123)})
	return buf.String(), err
}

// Log writes reset tokens to a logger. It is meant for development.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a notifier logging through logger.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// SendPasswordReset logs the token at Info.
func (l *Log) SendPasswordReset(_ context.Context, msg taskauth.ResetMessage) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	l.logger.Info("password reset token issued",
		zap.String("to", msg.To),
		zap.String("token", msg.Token),
		zap.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}
