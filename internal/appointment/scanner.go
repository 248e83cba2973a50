package appointment

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
)

// SlotSource fetches the advertised slots for one location.
type SlotSource interface {
	FetchSlots(ctx context.Context, loc Location) ([]Slot, error)
}

// ScannerConfig holds configuration for the Scanner.
type ScannerConfig struct {
	Source   SlotSource
	Registry *Registry

	// PaceInterval is waited after every location fetch, including the last,
	// to stay under upstream rate limits.
	PaceInterval time.Duration

	// Wait overrides the pacing wait (optional, for tests).
	Wait func(ctx context.Context, d time.Duration) error

	Logger zerolog.Logger
}

// Scanner walks the location registry in order, one location at a time.
type Scanner struct {
	source   SlotSource
	registry *Registry
	pace     time.Duration
	wait     func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger
}

// NewScanner creates a new scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	wait := cfg.Wait
	if wait == nil {
		wait = sleepContext
	}
	return &Scanner{
		source:   cfg.Source,
		registry: cfg.Registry,
		pace:     cfg.PaceInterval,
		wait:     wait,
		logger:   cfg.Logger,
	}
}

// Stream yields every slot of every location in registry order, then API
// order. A fetch failure is yielded once and ends the sequence. Locations
// after the point where the consumer stops are never fetched.
func (s *Scanner) Stream(ctx context.Context) iter.Seq2[Slot, error] {
	return func(yield func(Slot, error) bool) {
		for _, loc := range s.registry.Locations() {
			slots, err := s.source.FetchSlots(ctx, loc)
			if err != nil {
				yield(Slot{}, fmt.Errorf("fetching slots for location %d: %w", loc.ID, err))
				return
			}

			s.logger.Debug().
				Int("location_id", loc.ID).
				Str("location", loc.DisplayName).
				Int("slots", len(slots)).
				Msg("fetched slots")

			if err := s.wait(ctx, s.pace); err != nil {
				yield(Slot{}, err)
				return
			}

			for _, slot := range slots {
				slot.LocationID = loc.ID
				if !yield(slot, nil) {
					return
				}
			}
		}
	}
}

// FetchAll fetches every location and returns all slots.
func (s *Scanner) FetchAll(ctx context.Context) ([]Slot, error) {
	var all []Slot
	for slot, err := range s.Stream(ctx) {
		if err != nil {
			return nil, err
		}
		all = append(all, slot)
	}
	return all, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
