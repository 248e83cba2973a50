// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/appointment/ttp"
	"github.com/slotwatch/slotwatch/internal/database"
)

// Notifier channel names.
const (
	NotifierConsole = "console"
	NotifierTwitter = "twitter"
	NotifierSMS     = "sms"
	NotifierEmail   = "email"
)

// History store names.
const (
	HistoryMemory   = "memory"
	HistoryPostgres = "postgres"
)

// SchedulerConfig configures the scheduler API client.
type SchedulerConfig struct {
	BaseURL   string
	Style     ttp.URLStyle
	Window    time.Duration
	SlotLimit int
}

// FetchConfig configures the retrying fetcher.
type FetchConfig struct {
	MaxAttempts   int
	RetryInterval time.Duration
	Timeout       time.Duration
}

// TwitterConfig holds OAuth 1.0a user credentials.
type TwitterConfig struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

// SMSConfig holds Twilio credentials and numbers.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSPolicy string
	From      string
	To        []string
	Subject   string
}

// TelemetryConfig toggles OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

// PubSubConfig identifies the trigger subscription.
type PubSubConfig struct {
	ProjectID    string
	Subscription string
}

// Config is the full process configuration.
type Config struct {
	Environment string
	LogLevel    zerolog.Level

	Scheduler    SchedulerConfig
	Locations    []appointment.Location
	Policy       appointment.Policy
	Baseline     *appointment.Baseline
	Fetch        FetchConfig
	PaceInterval time.Duration
	BookingURL   string

	Notifier string
	Twitter  TwitterConfig
	SMS      SMSConfig
	Email    EmailConfig

	HistoryStore string
	Database     database.Config

	Telemetry TelemetryConfig

	Port              string
	TriggerSigningKey string
	PubSub            PubSubConfig
	Schedule          string
}

// envReader accumulates parse errors so they can be reported together.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, defaultValue string) string {
	return getEnvOrDefault(key, defaultValue)
}

func (r *envReader) integer(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func (r *envReader) boolean(key string) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return false
	}
	return v
}

func (r *envReader) add(err error) {
	if err != nil {
		r.errs = append(r.errs, err)
	}
}

// FromEnv reads and validates the configuration.
func FromEnv() (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the configuration without cross-field validation, so callers
// can override fields (such as the notifier) before calling Validate.
func Load() (Config, error) {
	r := &envReader{}

	cfg := Config{
		Environment: r.str("APP_ENV", "development"),
		Scheduler: SchedulerConfig{
			BaseURL:   r.str("SCHEDULER_BASE_URL", ttp.DefaultBaseURL),
			Window:    r.duration("SCHEDULER_WINDOW", ttp.DefaultWindow),
			SlotLimit: r.integer("SCHEDULER_SLOT_LIMIT", ttp.DefaultSlotLimit),
		},
		Fetch: FetchConfig{
			MaxAttempts:   r.integer("FETCH_MAX_ATTEMPTS", 3),
			RetryInterval: r.duration("FETCH_RETRY_INTERVAL", 2*time.Second),
			Timeout:       r.duration("FETCH_TIMEOUT", 30*time.Second),
		},
		PaceInterval: r.duration("POLL_PACE_INTERVAL", time.Second),
		BookingURL:   r.str("BOOKING_URL", appointment.DefaultBookingURL),
		Notifier:     strings.ToLower(r.str("NOTIFIER", NotifierConsole)),
		Twitter: TwitterConfig{
			ConsumerKey:       os.Getenv("CONSUMER_KEY"),
			ConsumerSecret:    os.Getenv("CONSUMER_SECRET"),
			AccessToken:       os.Getenv("ACCESS_TOKEN_KEY"),
			AccessTokenSecret: os.Getenv("ACCESS_TOKEN_SECRET"),
		},
		SMS: SMSConfig{
			AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
			From:       os.Getenv("TWILIO_FROM_NUMBER"),
			To:         splitList(os.Getenv("TWILIO_TO_NUMBER")),
		},
		Email: EmailConfig{
			Host:      os.Getenv("SMTP_HOST"),
			Port:      r.integer("SMTP_PORT", 587),
			Username:  os.Getenv("SMTP_USERNAME"),
			Password:  os.Getenv("SMTP_PASSWORD"),
			TLSPolicy: r.str("SMTP_TLS_POLICY", "mandatory"),
			From:      os.Getenv("EMAIL_FROM"),
			To:        splitList(os.Getenv("EMAIL_TO")),
			Subject:   os.Getenv("EMAIL_SUBJECT"),
		},
		HistoryStore: strings.ToLower(r.str("HISTORY_STORE", HistoryMemory)),
		Telemetry: TelemetryConfig{
			Enabled:      r.boolean("OTEL_ENABLED"),
			OTLPEndpoint: r.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		Port:              r.str("APP_PORT", "8080"),
		TriggerSigningKey: os.Getenv("TRIGGER_SIGNING_KEY"),
		PubSub: PubSubConfig{
			ProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
			Subscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
		},
		Schedule: os.Getenv("POLL_SCHEDULE"),
	}

	level, err := zerolog.ParseLevel(strings.ToLower(r.str("LOG_LEVEL", "info")))
	r.add(err)
	cfg.LogLevel = level

	style, err := ttp.ParseURLStyle(r.str("SCHEDULER_URL_STYLE", string(ttp.StyleLocations)))
	r.add(err)
	cfg.Scheduler.Style = style

	cfg.Locations = appointment.DefaultLocations()
	if raw := os.Getenv("POLL_LOCATIONS"); raw != "" {
		locations, err := appointment.ParseLocations(raw)
		r.add(err)
		if err == nil {
			cfg.Locations = locations
		}
	}

	policy, err := appointment.ParsePolicy(r.str("FILTER_POLICY", string(appointment.PolicyAvailability)))
	r.add(err)
	cfg.Policy = policy

	cfg.Baseline = readBaseline(r)

	if cfg.HistoryStore == HistoryPostgres {
		cfg.Database = database.ConfigFromEnv()
	}

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readBaseline(r *envReader) *appointment.Baseline {
	rawID := os.Getenv("BASELINE_LOCATION_ID")
	rawTime := os.Getenv("BASELINE_NOT_BEFORE")
	if rawID == "" && rawTime == "" {
		return nil
	}

	id, err := strconv.Atoi(rawID)
	if err != nil {
		r.add(fmt.Errorf("BASELINE_LOCATION_ID: %w", err))
		return nil
	}
	notBefore, err := appointment.ParseTimestamp(rawTime)
	if err != nil {
		r.add(fmt.Errorf("BASELINE_NOT_BEFORE: %w", err))
		return nil
	}
	return &appointment.Baseline{LocationID: id, NotBefore: notBefore}
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, errors.New("FETCH_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Fetch.RetryInterval < 0 || c.PaceInterval < 0 {
		errs = append(errs, errors.New("FETCH_RETRY_INTERVAL and POLL_PACE_INTERVAL must not be negative"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if _, err := appointment.NewRegistry(c.Locations); err != nil {
		errs = append(errs, fmt.Errorf("POLL_LOCATIONS: %w", err))
	}
	if c.Policy == appointment.PolicyThreshold && c.Baseline == nil {
		errs = append(errs, fmt.Errorf("FILTER_POLICY=threshold: %w", appointment.ErrBaselineRequired))
	}

	switch c.Notifier {
	case NotifierConsole:
	case NotifierTwitter:
		t := c.Twitter
		if t.ConsumerKey == "" || t.ConsumerSecret == "" || t.AccessToken == "" || t.AccessTokenSecret == "" {
			errs = append(errs, errors.New("NOTIFIER=twitter requires CONSUMER_KEY, CONSUMER_SECRET, ACCESS_TOKEN_KEY and ACCESS_TOKEN_SECRET"))
		}
	case NotifierSMS:
		if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" || c.SMS.From == "" || len(c.SMS.To) == 0 {
			errs = append(errs, errors.New("NOTIFIER=sms requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and TWILIO_TO_NUMBER"))
		}
	case NotifierEmail:
		if c.Email.Host == "" || c.Email.From == "" || len(c.Email.To) == 0 {
			errs = append(errs, errors.New("NOTIFIER=email requires SMTP_HOST, EMAIL_FROM and EMAIL_TO"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFIER %q", c.Notifier))
	}

	switch c.HistoryStore {
	case HistoryMemory, HistoryPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown HISTORY_STORE %q", c.HistoryStore))
	}

	if (c.PubSub.ProjectID == "") != (c.PubSub.Subscription == "") {
		errs = append(errs, errors.New("PUBSUB_PROJECT_ID and PUBSUB_SUBSCRIPTION must be set together"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
