package appointment

import (
	"errors"
	"strconv"
	"strings"
)

const (
	// MessageTimeLayout renders slot times, e.g. "Tuesday, February 01, 2022 at 09:00 AM".
	MessageTimeLayout = "Monday, January 02, 2006 at 03:04 PM"

	// DefaultHeader opens every notification.
	DefaultHeader = "New appointment slots are open:"

	// DefaultBookingURL is where the trailing line points.
	DefaultBookingURL = "https://ttp.cbp.dhs.gov/"
)

// ErrNoSlots is returned when formatting an empty slot list.
var ErrNoSlots = errors.New("no slots to format")

// FormatterConfig holds configuration for the Formatter.
type FormatterConfig struct {
	Registry   *Registry
	Header     string
	BookingURL string
}

// Formatter renders qualifying slots into a notification message.
type Formatter struct {
	registry   *Registry
	header     string
	bookingURL string
}

// NewFormatter creates a formatter, defaulting the header and booking URL.
func NewFormatter(cfg FormatterConfig) *Formatter {
	header := cfg.Header
	if header == "" {
		header = DefaultHeader
	}
	bookingURL := cfg.BookingURL
	if bookingURL == "" {
		bookingURL = DefaultBookingURL
	}
	return &Formatter{
		registry:   cfg.Registry,
		header:     header,
		bookingURL: bookingURL,
	}
}

// Format renders slots in the order given: a header, one line per slot and
// a trailing booking reference.
func (f *Formatter) Format(slots []Slot) (Message, error) {
	if len(slots) == 0 {
		return Message{}, ErrNoSlots
	}

	var b strings.Builder
	b.WriteString(f.header)
	for _, slot := range slots {
		b.WriteByte('\n')
		b.WriteString(f.locationName(slot.LocationID))
		b.WriteString(" at ")
		b.WriteString(slot.Start.Format(MessageTimeLayout))
	}
	b.WriteString("\nBook at ")
	b.WriteString(f.bookingURL)

	return Message{Body: b.String()}, nil
}

func (f *Formatter) locationName(id int) string {
	if f.registry != nil {
		if loc, ok := f.registry.Lookup(id); ok {
			return loc.DisplayName
		}
	}
	return "Location " + strconv.Itoa(id)
}
