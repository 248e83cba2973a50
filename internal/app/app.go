// Package app assembles the poller and its collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/appointment/ttp"
	"github.com/slotwatch/slotwatch/internal/config"
	"github.com/slotwatch/slotwatch/internal/database"
	"github.com/slotwatch/slotwatch/internal/notify"
	"github.com/slotwatch/slotwatch/internal/notify/smtp"
	"github.com/slotwatch/slotwatch/internal/notify/twilio"
	"github.com/slotwatch/slotwatch/internal/notify/twitter"
	"github.com/slotwatch/slotwatch/internal/poller"
	"github.com/slotwatch/slotwatch/internal/provider/resilience"
)

// Options are process-level overrides for Build.
type Options struct {
	Logger zerolog.Logger

	// Stdout receives console notifications. Defaults to os.Stdout.
	Stdout io.Writer

	// Notifier replaces the configured channel (optional).
	Notifier notify.Notifier
}

// App is the assembled object graph.
type App struct {
	Poller    *poller.Poller
	Providers *resilience.Registry
	Locations *appointment.Registry

	pool *pgxpool.Pool
}

// Build wires the scheduler client, filter, formatter, notifier and history
// store described by cfg. Close releases what Build opened.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	locations, err := appointment.NewRegistry(cfg.Locations)
	if err != nil {
		return nil, fmt.Errorf("building location registry: %w", err)
	}

	filter, err := appointment.NewFilter(cfg.Policy, cfg.Baseline)
	if err != nil {
		return nil, fmt.Errorf("building filter: %w", err)
	}

	providers := resilience.NewRegistry()
	httpCfg := resilience.DefaultClientConfig(ttp.ProviderName)
	httpCfg.Timeout = cfg.Fetch.Timeout
	httpCfg.MaxAttempts = cfg.Fetch.MaxAttempts
	httpCfg.RetryInterval = cfg.Fetch.RetryInterval
	httpCfg.Registry = providers
	httpCfg.Logger = logger.With().Str("provider", ttp.ProviderName).Logger()

	source := ttp.NewClient(ttp.ClientConfig{
		BaseURL:    cfg.Scheduler.BaseURL,
		Style:      cfg.Scheduler.Style,
		Window:     cfg.Scheduler.Window,
		SlotLimit:  cfg.Scheduler.SlotLimit,
		HTTPClient: resilience.NewClient(httpCfg),
		Logger:     logger,
	})

	scanner := appointment.NewScanner(appointment.ScannerConfig{
		Source:       source,
		Registry:     locations,
		PaceInterval: cfg.PaceInterval,
		Logger:       logger,
	})

	formatter := appointment.NewFormatter(appointment.FormatterConfig{
		Registry:   locations,
		BookingURL: cfg.BookingURL,
	})

	notifier := opts.Notifier
	if notifier == nil {
		notifier, err = NewNotifier(cfg, opts.Stdout, logger)
		if err != nil {
			return nil, err
		}
	}

	a := &App{Providers: providers, Locations: locations}

	history, err := a.buildHistory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	p, err := poller.New(poller.Config{
		Scanner:   scanner,
		Filter:    filter,
		Formatter: formatter,
		Notifier:  notifier,
		History:   history,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building poller: %w", err)
	}
	a.Poller = p

	logger.Info().
		Int("locations", locations.Len()).
		Str("policy", string(filter.Policy())).
		Str("notifier", notifier.Name()).
		Str("history", cfg.HistoryStore).
		Msg("poller assembled")

	return a, nil
}

func (a *App) buildHistory(ctx context.Context, cfg config.Config, logger zerolog.Logger) (poller.HistoryRepository, error) {
	if cfg.HistoryStore != config.HistoryPostgres {
		return poller.NewInMemoryRepository(poller.DefaultHistorySize), nil
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	repo := poller.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	a.pool = pool

	logger.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("database connected")
	return repo, nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// NewNotifier builds the channel named by cfg.Notifier.
func NewNotifier(cfg config.Config, stdout io.Writer, logger zerolog.Logger) (notify.Notifier, error) {
	var (
		n   notify.Notifier
		err error
	)

	switch cfg.Notifier {
	case config.NotifierConsole, "":
		n = notify.NewConsole(stdout)
	case config.NotifierTwitter:
		n, err = twitter.New(twitter.Config{
			ConsumerKey:       cfg.Twitter.ConsumerKey,
			ConsumerSecret:    cfg.Twitter.ConsumerSecret,
			AccessToken:       cfg.Twitter.AccessToken,
			AccessTokenSecret: cfg.Twitter.AccessTokenSecret,
			Logger:            logger,
		})
	case config.NotifierSMS:
		n, err = twilio.New(twilio.Config{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.From,
			To:         cfg.SMS.To,
			Logger:     logger,
		})
	case config.NotifierEmail:
		n, err = smtp.New(smtp.Config{
			Host:      cfg.Email.Host,
			Port:      cfg.Email.Port,
			Username:  cfg.Email.Username,
			Password:  cfg.Email.Password,
			TLSPolicy: cfg.Email.TLSPolicy,
			From:      cfg.Email.From,
			To:        cfg.Email.To,
			Subject:   cfg.Email.Subject,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
	if err != nil {
		return nil, fmt.Errorf("building %s notifier: %w", cfg.Notifier, err)
	}
	return n, nil
}
