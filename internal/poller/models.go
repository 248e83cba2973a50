// Package poller runs poll cycles: fetch, filter, format and dispatch.
package poller

import (
	"time"

	"github.com/slotwatch/slotwatch/internal/appointment"
)

// Outcome is how a cycle ended.
type Outcome string

const (
	// OutcomeQuiet means no slot qualified and nothing was sent.
	OutcomeQuiet Outcome = "quiet"

	// OutcomeNotified means a message was formatted and handed to the
	// notifier. The send itself may still have failed; see CycleResult.Error.
	OutcomeNotified Outcome = "notified"

	// OutcomeFailed means the cycle aborted before dispatch.
	OutcomeFailed Outcome = "failed"
)

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Policy     appointment.Policy
	Slots      []appointment.Slot
	Channel    string
	Message    string
	Error      string
}

// Duration returns how long the cycle took.
func (r *CycleResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
