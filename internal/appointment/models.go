// Package appointment holds the slot-watching domain: the location registry,
// slot records, baseline filter policies, the scanner that walks the registry
// and the notification formatter.
package appointment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the wall-clock layout used by the scheduler API and by
// configured baselines.
const TimestampLayout = "2006-01-02T15:04"

// Registry errors.
var (
	ErrEmptyRegistry     = errors.New("location registry is empty")
	ErrDuplicateLocation = errors.New("duplicate location id")
)

// Location is an enrollment center that gets polled.
type Location struct {
	ID          int
	DisplayName string
}

// DefaultLocations returns the enrollment centers polled when none are configured.
func DefaultLocations() []Location {
	return []Location{
		{ID: 5027, DisplayName: "Toronto Enrollment Center"},
		{ID: 5022, DisplayName: "Buffalo-Ft. Erie Enrollment Center"},
		{ID: 5161, DisplayName: "Niagara Falls Enrollment Center"},
	}
}

// Registry is the ordered, immutable set of polled locations.
type Registry struct {
	locations []Location
	byID      map[int]Location
}

// NewRegistry builds a registry, preserving order. Ids must be unique.
func NewRegistry(locations []Location) (*Registry, error) {
	if len(locations) == 0 {
		return nil, ErrEmptyRegistry
	}

	byID := make(map[int]Location, len(locations))
	for _, loc := range locations {
		if _, exists := byID[loc.ID]; exists {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateLocation, loc.ID)
		}
		byID[loc.ID] = loc
	}

	return &Registry{
		locations: append([]Location(nil), locations...),
		byID:      byID,
	}, nil
}

// Locations returns the locations in polling order.
func (r *Registry) Locations() []Location {
	return append([]Location(nil), r.locations...)
}

// Lookup returns the location with the given id.
func (r *Registry) Lookup(id int) (Location, bool) {
	loc, ok := r.byID[id]
	return loc, ok
}

// Len returns the number of locations.
func (r *Registry) Len() int {
	return len(r.locations)
}

// ParseLocations parses "id:Display Name" entries separated by semicolons,
// e.g. "5027:Toronto Enrollment Center;5161:Niagara Falls Enrollment Center".
func ParseLocations(s string) ([]Location, error) {
	var locations []Location
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		idPart, name, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("location %q: expected id:name", entry)
		}

		id, err := strconv.Atoi(strings.TrimSpace(idPart))
		if err != nil {
			return nil, fmt.Errorf("location %q: invalid id: %w", entry, err)
		}

		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("location %q: empty name", entry)
		}

		locations = append(locations, Location{ID: id, DisplayName: name})
	}

	if len(locations) == 0 {
		return nil, ErrEmptyRegistry
	}
	return locations, nil
}

// Slot is one appointment time advertised by the scheduler for a location.
type Slot struct {
	LocationID int
	Start      time.Time
	Active     int
}

// Baseline is the appointment already held. Slots at its location that do
// not start before NotBefore are not worth a notification.
type Baseline struct {
	LocationID int
	NotBefore  time.Time
}

// Message is the rendered notification body.
type Message struct {
	Body string
}

// ParseTimestamp parses a scheduler wall-clock timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
