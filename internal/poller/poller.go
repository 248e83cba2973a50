package poller

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/notify"
)

// ErrCycleInProgress is returned when a cycle is triggered while another runs.
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// SlotStreamer yields fetched slots in polling order.
type SlotStreamer interface {
	Stream(ctx context.Context) iter.Seq2[appointment.Slot, error]
}

// Formatter renders qualifying slots.
type Formatter interface {
	Format(slots []appointment.Slot) (appointment.Message, error)
}

// Config holds the collaborators of a Poller.
type Config struct {
	Scanner   SlotStreamer
	Filter    appointment.Filter
	Formatter Formatter
	Notifier  notify.Notifier
	History   HistoryRepository
	Logger    zerolog.Logger

	// Now and NewID override the clock and id source (optional).
	Now   func() time.Time
	NewID func() string
}

// Poller runs one cycle per trigger. Cycles never overlap.
type Poller struct {
	scanner   SlotStreamer
	filter    appointment.Filter
	formatter Formatter
	notifier  notify.Notifier
	history   HistoryRepository
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string

	tracer  trace.Tracer
	metrics *cycleMetrics

	mu   sync.Mutex
	last atomic.Pointer[CycleResult]
}

// New creates a new Poller.
func New(cfg Config) (*Poller, error) {
	if cfg.Scanner == nil || cfg.Filter == nil || cfg.Formatter == nil || cfg.Notifier == nil {
		return nil, errors.New("poller: scanner, filter, formatter and notifier are required")
	}

	metrics, err := newCycleMetrics()
	if err != nil {
		return nil, fmt.Errorf("create cycle metrics: %w", err)
	}

	if cfg.History == nil {
		cfg.History = NewInMemoryRepository(DefaultHistorySize)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}

	return &Poller{
		scanner:   cfg.Scanner,
		filter:    cfg.Filter,
		formatter: cfg.Formatter,
		notifier:  cfg.Notifier,
		history:   cfg.History,
		logger:    cfg.Logger,
		now:       cfg.Now,
		newID:     cfg.NewID,
		tracer:    otel.Tracer(instrumentationName),
		metrics:   metrics,
	}, nil
}

// RunCycle fetches slots, filters them against the baseline and, when any
// qualify, formats and sends one message. A fetch failure aborts the cycle
// before anything is formatted. A send failure is returned alongside a
// result whose outcome is still OutcomeNotified.
func (p *Poller) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !p.mu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer p.mu.Unlock()

	result := &CycleResult{
		ID:        p.newID(),
		StartedAt: p.now(),
		Policy:    p.filter.Policy(),
	}

	ctx, span := p.tracer.Start(ctx, "poller.RunCycle", trace.WithAttributes(
		attribute.String("cycle.id", result.ID),
		attribute.String("filter.policy", string(result.Policy)),
	))
	defer span.End()

	logger := p.logger.With().Str("cycle_id", result.ID).Logger()
	logger.Debug().Str("policy", string(result.Policy)).Msg("poll cycle started")

	err := p.run(ctx, result)
	result.FinishedAt = p.now()
	if err != nil {
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("cycle.outcome", string(result.Outcome)),
		attribute.Int("cycle.qualifying_slots", len(result.Slots)),
	)

	p.metrics.record(ctx, result)
	p.last.Store(result)

	if herr := p.history.Record(context.WithoutCancel(ctx), result); herr != nil {
		logger.Warn().Err(herr).Msg("failed to record cycle history")
	}

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.
		Str("outcome", string(result.Outcome)).
		Int("qualifying_slots", len(result.Slots)).
		Dur("duration", result.Duration()).
		Msg("poll cycle finished")

	return result, err
}

func (p *Poller) run(ctx context.Context, result *CycleResult) error {
	slots, err := appointment.Select(p.filter, p.scanner.Stream(ctx))
	if err != nil {
		result.Outcome = OutcomeFailed
		return fmt.Errorf("fetch slots: %w", err)
	}

	result.Slots = slots
	if len(slots) == 0 {
		result.Outcome = OutcomeQuiet
		return nil
	}

	msg, err := p.formatter.Format(slots)
	if err != nil {
		result.Outcome = OutcomeFailed
		return fmt.Errorf("format message: %w", err)
	}

	result.Outcome = OutcomeNotified
	result.Channel = p.notifier.Name()
	result.Message = msg.Body

	if err := p.notifier.Send(ctx, msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// LastCycle returns the most recent result, or nil before the first cycle.
func (p *Poller) LastCycle() *CycleResult {
	return p.last.Load()
}

// Recent returns up to limit recorded results, newest first.
func (p *Poller) Recent(ctx context.Context, limit int) ([]*CycleResult, error) {
	return p.history.Recent(ctx, limit)
}
