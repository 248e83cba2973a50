package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler triggers cycles on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	dispatcher *Dispatcher
	logger     zerolog.Logger

	// ctx is handed to every tick and cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
}

// SchedulerConfig holds configuration for the Scheduler.
type SchedulerConfig struct {
	// Spec is a 5- or 6-field cron expression or a descriptor such as
	// "@every 5m".
	Spec       string
	Location   *time.Location
	Dispatcher *Dispatcher
	Logger     zerolog.Logger
}

// NewScheduler parses the schedule and registers the poll job. The job is
// skipped while a previous run is still going.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	cronLogger := cronLogAdapter{logger: cfg.Logger}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       c,
		spec:       cfg.Spec,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	if _, err := c.AddFunc(cfg.Spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("parsing schedule %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start starts the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Str("schedule", s.spec).Time("next_run", s.Next()).Msg("scheduler started")
}

// Stop stops scheduling, cancels a running cycle and waits for it to
// return or for ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	s.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	if err := s.dispatcher.Run(s.ctx, "cron"); err != nil {
		s.logger.Error().Err(err).Msg("scheduled cycle failed")
	}
}

// cronLogAdapter routes cron's logr-style logging to zerolog.
type cronLogAdapter struct {
	logger zerolog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
