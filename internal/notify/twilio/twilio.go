// Package twilio delivers slot messages by SMS.
package twilio

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	twiliogo "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/notify"
)

const channel = "sms"

// Configuration errors.
var (
	ErrMissingCredentials = errors.New("sms: account sid and auth token are required")
	ErrMissingNumbers     = errors.New("sms: from number and at least one recipient are required")
)

// MessageCreator is the slice of the Twilio API the notifier uses.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Config holds configuration for the SMS notifier.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
	Logger     zerolog.Logger
}

// Notifier sends one SMS per recipient.
type Notifier struct {
	api    MessageCreator
	from   string
	to     []string
	logger zerolog.Logger
}

// New creates an SMS notifier backed by the Twilio REST API.
func New(cfg Config) (*Notifier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}

	client := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return NewWithCreator(cfg, client.Api)
}

// NewWithCreator creates an SMS notifier on top of an existing API client.
func NewWithCreator(cfg Config, api MessageCreator) (*Notifier, error) {
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, ErrMissingNumbers
	}
	return &Notifier{
		api:    api,
		from:   cfg.From,
		to:     append([]string(nil), cfg.To...),
		logger: cfg.Logger,
	}, nil
}

// Name returns "sms".
func (n *Notifier) Name() string {
	return channel
}

// Send texts msg to every recipient. It stops at the first rejection.
func (n *Notifier) Send(ctx context.Context, msg appointment.Message) error {
	if msg.Body == "" {
		return notify.ErrEmptyMessage
	}

	for _, to := range n.to {
		if err := ctx.Err(); err != nil {
			return err
		}

		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(n.from)
		params.SetBody(msg.Body)

		resp, err := n.api.CreateMessage(params)
		if err != nil {
			sendErr := &notify.SendError{Channel: channel, Err: fmt.Errorf("to %s: %w", to, err)}
			var restErr *twclient.TwilioRestError
			if errors.As(err, &restErr) {
				sendErr.Code = restErr.Code
			}
			return sendErr
		}

		event := n.logger.Info().Str("to", to)
		if resp != nil && resp.Sid != nil {
			event = event.Str("sid", *resp.Sid)
		}
		event.Msg("sms sent")
	}

	return nil
}
