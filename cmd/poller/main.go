// Package main runs a single poll cycle and exits. It is meant to be invoked
// by an external scheduler such as cron or a Cloud Scheduler job.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/slotwatch/slotwatch/internal/app"
	"github.com/slotwatch/slotwatch/internal/config"
	"github.com/slotwatch/slotwatch/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "slotwatch-poller"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one cycle and returns the process exit code: 0 when the
// cycle ends QUIET or NOTIFIED, 1 on any failure.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	flags.SetOutput(stderr)
	testMode := flags.Bool("test", false, "print the notification to stdout instead of sending it")
	verbose := flags.Bool("verbose", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	out := zerolog.New(stderr)
	if *testMode {
		out = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339})
	}
	log := out.With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}
	if *testMode {
		cfg.Notifier = config.NotifierConsole
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	level := cfg.LogLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log = log.Level(level)

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

	opts := app.Options{Logger: log, Stdout: stdout}

	a, err := app.Build(ctx, cfg, opts)
	if err != nil {
		log.Error().Err(err).Msg("failed to assemble poller")
		return 1
	}
	defer a.Close()

	log.Debug().Str("build_time", BuildTime).Bool("test", *testMode).Msg("running poll cycle")

	if _, err := a.Poller.RunCycle(ctx); err != nil {
		// RunCycle has already logged the failure with its cycle id.
		return 1
	}
	return 0
}
