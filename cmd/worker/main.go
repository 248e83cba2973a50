// Package main provides the long-running poll worker: an HTTP API for health,
// history and manual triggers, plus optional Pub/Sub and cron triggers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/slotwatch/slotwatch/internal/api"
	"github.com/slotwatch/slotwatch/internal/api/middleware"
	"github.com/slotwatch/slotwatch/internal/app"
	"github.com/slotwatch/slotwatch/internal/auth"
	"github.com/slotwatch/slotwatch/internal/config"
	"github.com/slotwatch/slotwatch/internal/telemetry"
	"github.com/slotwatch/slotwatch/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "slotwatch-worker"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout))
}

// run starts the worker and blocks until it is signalled to stop. It returns
// the process exit code.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	flags.SetOutput(stdout)
	issueFor := flags.String("issue-token", "", "print a trigger token for `subject` and exit")
	tokenTTL := flags.Duration("token-ttl", auth.DefaultTokenExpiry, "lifetime of an issued trigger token")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	log := zerolog.New(stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if *issueFor != "" {
		return issueToken(stdout, log, *issueFor, *tokenTTL)
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting slotwatch worker")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}
	log = log.Level(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize telemetry")
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		return 1
	}

	a, err := app.Build(ctx, cfg, app.Options{Logger: log})
	if err != nil {
		log.Error().Err(err).Msg("failed to assemble poller")
		return 1
	}
	defer a.Close()

	routerCfg := api.RouterConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Logger:    log,
		Metrics:   metrics,
		Cycles:    a.Poller,
		Providers: a.Providers,
	}
	if cfg.TriggerSigningKey != "" {
		tokens, err := auth.NewTokenService(auth.TokenConfig{SigningKey: cfg.TriggerSigningKey})
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize trigger tokens")
			return 1
		}
		routerCfg.Tokens = tokens
		log.Info().Msg("HTTP trigger enabled")
	} else {
		log.Warn().Msg("TRIGGER_SIGNING_KEY not set - POST /v1/cycles disabled")
	}

	dispatcher := worker.NewDispatcher(a.Poller, log)

	var scheduler *worker.Scheduler
	if cfg.Schedule != "" {
		scheduler, err = worker.NewScheduler(worker.SchedulerConfig{
			Spec:       cfg.Schedule,
			Dispatcher: dispatcher,
			Logger:     log,
		})
		if err != nil {
			log.Error().Err(err).Msg("invalid POLL_SCHEDULE")
			return 1
		}
	}

	var subscriber *worker.PubSubHandler
	if cfg.PubSub.Subscription != "" {
		subscriber, err = worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Dispatcher:       dispatcher,
			Logger:           log,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create pubsub handler")
			return 1
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close pubsub client")
			}
		}()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // triggers run a whole cycle synchronously
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if subscriber != nil {
		g.Go(func() error { return subscriber.Start(gctx) })
	}
	if scheduler != nil {
		scheduler.Start()
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down worker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var errs []error
		if scheduler != nil {
			errs = append(errs, scheduler.Stop(shutdownCtx))
		}
		errs = append(errs, server.Shutdown(shutdownCtx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		return 1
	}
	log.Info().Msg("worker stopped")
	return 0
}

// issueToken prints a trigger token signed with TRIGGER_SIGNING_KEY.
func issueToken(stdout io.Writer, log zerolog.Logger, subject string, ttl time.Duration) int {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		SigningKey: os.Getenv("TRIGGER_SIGNING_KEY"),
		Expiry:     ttl,
	})
	if err != nil {
		log.Error().Err(err).Msg("TRIGGER_SIGNING_KEY is required to issue tokens")
		return 1
	}

	token, _, err := tokens.Generate(subject, auth.ScopeTrigger)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue trigger token")
		return 1
	}

	fmt.Fprintln(stdout, token)
	return 0
}
