// Package worker turns external triggers into poll cycles.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slotwatch/slotwatch/internal/poller"
)

// JobTypePollCycle is the only job type a trigger message may carry.
const JobTypePollCycle = "poll_cycle"

// Trigger message errors.
var (
	ErrMalformedMessage = errors.New("malformed trigger message")
	ErrUnknownJobType   = errors.New("unknown job type")
)

// CycleRunner runs one poll cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*poller.CycleResult, error)
}

// TriggerMessage is the body of a trigger message. An empty body is
// treated as a poll_cycle job.
type TriggerMessage struct {
	JobType string `json:"job_type"`
}

// Dispatcher runs a cycle for each trigger it receives.
type Dispatcher struct {
	runner CycleRunner
	logger zerolog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(runner CycleRunner, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{runner: runner, logger: logger}
}

// HandleMessage decodes a trigger message and runs the cycle it asks for.
func (d *Dispatcher) HandleMessage(ctx context.Context, source string, data []byte) error {
	msg, err := decodeTrigger(data)
	if err != nil {
		return err
	}
	if msg.JobType != JobTypePollCycle {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, msg.JobType)
	}
	return d.Run(ctx, source)
}

// Run runs one cycle. A cycle already in progress is not an error: the
// trigger is dropped.
func (d *Dispatcher) Run(ctx context.Context, source string) error {
	start := time.Now()
	logger := d.logger.With().Str("trigger", source).Logger()

	result, err := d.runner.RunCycle(ctx)
	if errors.Is(err, poller.ErrCycleInProgress) {
		logger.Info().Msg("cycle already running, trigger skipped")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Debug().
		Str("cycle_id", result.ID).
		Str("outcome", string(result.Outcome)).
		Dur("duration", time.Since(start)).
		Msg("triggered cycle completed")
	return nil
}

func decodeTrigger(data []byte) (TriggerMessage, error) {
	if strings.TrimSpace(string(data)) == "" {
		return TriggerMessage{JobType: JobTypePollCycle}, nil
	}

	var msg TriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return TriggerMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.JobType == "" {
		msg.JobType = JobTypePollCycle
	}
	return msg, nil
}
