// Package twitter posts slot messages as status updates.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/notify"
)

const (
	// DefaultBaseURL is the v1.1 REST API root.
	DefaultBaseURL = "https://api.twitter.com/1.1"

	// MaxStatusLength is the longest status the API accepts.
	MaxStatusLength = 280

	// CodeDuplicateStatus is returned when the same status was already posted.
	CodeDuplicateStatus = 187

	channel = "twitter"
)

// ErrMissingCredentials is returned when any OAuth credential is empty.
var ErrMissingCredentials = errors.New("twitter: consumer key, consumer secret, access token and access token secret are required")

// Config holds configuration for the Twitter notifier.
type Config struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string

	// BaseURL overrides the API root (optional).
	BaseURL string

	// HTTPClient is the transport the signed client wraps (optional).
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// Notifier posts statuses with OAuth 1.0a user credentials.
type Notifier struct {
	client   *http.Client
	endpoint string
	logger   zerolog.Logger
}

// New creates a Twitter notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" || cfg.AccessToken == "" || cfg.AccessTokenSecret == "" {
		return nil, ErrMissingCredentials
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth1.HTTPClient, cfg.HTTPClient)
	}

	config := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessTokenSecret)

	return &Notifier{
		client:   config.Client(ctx, token),
		endpoint: strings.TrimRight(baseURL, "/") + "/statuses/update.json",
		logger:   cfg.Logger,
	}, nil
}

// Name returns "twitter".
func (n *Notifier) Name() string {
	return channel
}

type apiErrors struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send posts msg as a status. A duplicate-status rejection counts as
// delivered since the same slots were already announced.
func (n *Notifier) Send(ctx context.Context, msg appointment.Message) error {
	if msg.Body == "" {
		return notify.ErrEmptyMessage
	}

	form := url.Values{"status": {fitStatus(msg.Body, MaxStatusLength)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &notify.SendError{Channel: channel, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return &notify.SendError{Channel: channel, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &notify.SendError{Channel: channel, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		n.logger.Info().Msg("status posted")
		return nil
	}

	var apiErr apiErrors
	if err := json.Unmarshal(body, &apiErr); err != nil || len(apiErr.Errors) == 0 {
		return &notify.SendError{Channel: channel, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	first := apiErr.Errors[0]
	if len(apiErr.Errors) == 1 && first.Code == CodeDuplicateStatus {
		n.logger.Info().Int("code", first.Code).Msg("duplicate status, already announced")
		return nil
	}

	return &notify.SendError{Channel: channel, Code: first.Code, Err: errors.New(first.Message)}
}

// fitStatus shortens an over-long body by dropping trailing slot lines,
// keeping the header and the booking line. A count of the dropped lines
// takes their place.
func fitStatus(body string, limit int) string {
	if utf8.RuneCountInString(body) <= limit {
		return body
	}

	lines := strings.Split(body, "\n")
	if len(lines) < 3 {
		return truncate(body, limit)
	}
	header, footer := lines[0], lines[len(lines)-1]
	slots := lines[1 : len(lines)-1]

	for keep := len(slots) - 1; keep >= 0; keep-- {
		parts := make([]string, 0, keep+3)
		parts = append(parts, header)
		parts = append(parts, slots[:keep]...)
		parts = append(parts, fmt.Sprintf("(+%d more)", len(slots)-keep), footer)
		if s := strings.Join(parts, "\n"); utf8.RuneCountInString(s) <= limit {
			return s
		}
	}
	return truncate(body, limit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
