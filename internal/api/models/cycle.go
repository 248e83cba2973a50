package models

import (
	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/poller"
)

// Cycle is a finished poll cycle.
type Cycle struct {
	ID         string      `json:"id"`
	StartedAt  Timestamp   `json:"startedAt"`
	FinishedAt Timestamp   `json:"finishedAt"`
	DurationMs int64       `json:"durationMs"`
	Outcome    string      `json:"outcome"`
	Policy     string      `json:"policy"`
	Slots      []CycleSlot `json:"slots"`
	Channel    string      `json:"channel,omitempty"`
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// CycleSlot is a qualifying slot. Start is the center's wall-clock time.
type CycleSlot struct {
	LocationID int    `json:"locationId"`
	Start      string `json:"start"`
	Active     int    `json:"active"`
}

// CycleList is a page of recent cycles, newest first.
type CycleList struct {
	Items []Cycle `json:"items"`
	Limit int     `json:"limit"`
}

// NewCycle converts a poller result.
func NewCycle(r *poller.CycleResult) Cycle {
	slots := make([]CycleSlot, 0, len(r.Slots))
	for _, s := range r.Slots {
		slots = append(slots, CycleSlot{
			LocationID: s.LocationID,
			Start:      s.Start.Format(appointment.TimestampLayout),
			Active:     s.Active,
		})
	}

	return Cycle{
		ID:         r.ID,
		StartedAt:  Timestamp(r.StartedAt),
		FinishedAt: Timestamp(r.FinishedAt),
		DurationMs: r.Duration().Milliseconds(),
		Outcome:    string(r.Outcome),
		Policy:     string(r.Policy),
		Slots:      slots,
		Channel:    r.Channel,
		Message:    r.Message,
		Error:      r.Error,
	}
}
