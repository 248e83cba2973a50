// Package smtp delivers slot messages by email.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/notify"
)

const (
	channel = "email"

	// DefaultPort is the SMTP submission port.
	DefaultPort = 587

	// DefaultSubject is used when no subject is configured.
	DefaultSubject = "New appointment slots available"
)

// ErrMissingAddresses is returned when the sender or recipients are missing.
var ErrMissingAddresses = errors.New("email: host, from address and at least one recipient are required")

// Session is one SMTP connection.
type Session interface {
	DialWithContext(ctx context.Context) error
	Send(msgs ...*mail.Msg) error
	Close() error
}

// SessionFactory opens a new, undialed session.
type SessionFactory func() (Session, error)

// Config holds configuration for the email notifier.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSPolicy string // mandatory, opportunistic or none
	From      string
	To        []string
	Subject   string

	// Sessions overrides how connections are opened (optional).
	Sessions SessionFactory

	Logger zerolog.Logger
}

// Notifier emails messages to a fixed recipient list.
type Notifier struct {
	sessions SessionFactory
	from     string
	to       []string
	subject  string
	logger   zerolog.Logger
}

// New creates an email notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, ErrMissingAddresses
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	sessions := cfg.Sessions
	if sessions == nil {
		opts, err := clientOptions(cfg)
		if err != nil {
			return nil, err
		}
		sessions = func() (Session, error) {
			return mail.NewClient(cfg.Host, opts...)
		}
	}

	return &Notifier{
		sessions: sessions,
		from:     cfg.From,
		to:       append([]string(nil), cfg.To...),
		subject:  cfg.Subject,
		logger:   cfg.Logger,
	}, nil
}

func clientOptions(cfg Config) ([]mail.Option, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}

	switch strings.ToLower(cfg.TLSPolicy) {
	case "", "mandatory":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case "opportunistic":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		return nil, fmt.Errorf("email: unknown tls policy %q", cfg.TLSPolicy)
	}

	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return opts, nil
}

// Name returns "email".
func (n *Notifier) Name() string {
	return channel
}

// Send emails msg to every recipient in a single message.
func (n *Notifier) Send(ctx context.Context, msg appointment.Message) error {
	if msg.Body == "" {
		return notify.ErrEmptyMessage
	}

	m := mail.NewMsg()
	if err := m.From(n.from); err != nil {
		return &notify.SendError{Channel: channel, Err: fmt.Errorf("from address: %w", err)}
	}
	if err := m.To(n.to...); err != nil {
		return &notify.SendError{Channel: channel, Err: fmt.Errorf("recipient address: %w", err)}
	}
	m.Subject(n.subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	session, err := n.sessions()
	if err != nil {
		return &notify.SendError{Channel: channel, Err: err}
	}

	if err := session.DialWithContext(ctx); err != nil {
		return &notify.SendError{Channel: channel, Err: fmt.Errorf("dialing: %w", err)}
	}
	defer func() {
		if err := session.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("closing smtp session")
		}
	}()

	if err := session.Send(m); err != nil {
		return &notify.SendError{Channel: channel, Err: err}
	}

	n.logger.Info().Int("recipients", len(n.to)).Msg("email sent")
	return nil
}
