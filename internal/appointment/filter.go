package appointment

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// Policy names a baseline filter policy.
type Policy string

const (
	// PolicyThreshold drops slots at the baseline location that start at or
	// after the baseline. Slots elsewhere always qualify.
	PolicyThreshold Policy = "threshold"

	// PolicyAvailability keeps only the first slot with active capacity and
	// stops evaluating after it.
	PolicyAvailability Policy = "availability"
)

// ErrBaselineRequired is returned when the threshold policy has no baseline.
var ErrBaselineRequired = errors.New("threshold policy requires a baseline")

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyThreshold, PolicyAvailability:
		return p, nil
	default:
		return "", fmt.Errorf("unknown filter policy %q", s)
	}
}

// Filter decides, slot by slot, which fetched slots warrant a notification.
type Filter interface {
	Policy() Policy

	// Evaluate reports whether slot qualifies and whether further slots
	// should be inspected at all.
	Evaluate(slot Slot) (qualifies, more bool)
}

// NewFilter builds the filter for policy.
func NewFilter(policy Policy, baseline *Baseline) (Filter, error) {
	switch policy {
	case PolicyThreshold:
		if baseline == nil {
			return nil, ErrBaselineRequired
		}
		return ThresholdFilter{Baseline: *baseline}, nil
	case PolicyAvailability:
		return AvailabilityFilter{}, nil
	default:
		return nil, fmt.Errorf("unknown filter policy %q", policy)
	}
}

// ThresholdFilter implements PolicyThreshold.
type ThresholdFilter struct {
	Baseline Baseline
}

// Policy returns PolicyThreshold.
func (ThresholdFilter) Policy() Policy { return PolicyThreshold }

// Evaluate drops slots at the baseline location that are not strictly earlier.
func (f ThresholdFilter) Evaluate(slot Slot) (bool, bool) {
	if slot.LocationID != f.Baseline.LocationID {
		return true, true
	}
	return slot.Start.Before(f.Baseline.NotBefore), true
}

// AvailabilityFilter implements PolicyAvailability.
type AvailabilityFilter struct{}

// Policy returns PolicyAvailability.
func (AvailabilityFilter) Policy() Policy { return PolicyAvailability }

// Evaluate keeps the slot if it has active capacity and halts on that match.
func (AvailabilityFilter) Evaluate(slot Slot) (bool, bool) {
	if slot.Active > 0 {
		return true, false
	}
	return false, true
}

// Select drains slots through filter and returns the qualifying ones in
// input order. The first error from the sequence aborts selection; when the
// filter asks to stop, the sequence is abandoned and nothing further is
// pulled from it.
func Select(filter Filter, slots iter.Seq2[Slot, error]) ([]Slot, error) {
	var selected []Slot
	for slot, err := range slots {
		if err != nil {
			return nil, err
		}

		qualifies, more := filter.Evaluate(slot)
		if qualifies {
			selected = append(selected, slot)
		}
		if !more {
			break
		}
	}
	return selected, nil
}
