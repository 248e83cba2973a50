// Package ttp fetches appointment slots from the Trusted Traveler Programs
// scheduler API.
package ttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/provider/resilience"
)

const (
	// ProviderName identifies the scheduler in the provider registry.
	ProviderName = "ttp-scheduler"

	// DefaultBaseURL is the scheduler API root.
	DefaultBaseURL = "https://ttp.cbp.dhs.gov/schedulerapi"

	// DefaultWindow is how far ahead the locations style searches.
	DefaultWindow = 12 * 7 * 24 * time.Hour

	// DefaultSlotLimit caps results for the slots style.
	DefaultSlotLimit = 1
)

// URLStyle selects which scheduler endpoint shape is queried.
type URLStyle string

const (
	// StyleLocations queries /locations/{id}/slots over a start/end window.
	StyleLocations URLStyle = "locations"

	// StyleSlots queries /slots ordered by soonest for one location.
	StyleSlots URLStyle = "slots"
)

// ParseURLStyle parses a URL style name.
func ParseURLStyle(s string) (URLStyle, error) {
	switch style := URLStyle(strings.ToLower(strings.TrimSpace(s))); style {
	case StyleLocations, StyleSlots:
		return style, nil
	default:
		return "", fmt.Errorf("unknown scheduler url style %q", s)
	}
}

// ClientConfig holds configuration for the scheduler client.
type ClientConfig struct {
	BaseURL    string
	Style      URLStyle
	Window     time.Duration
	SlotLimit  int
	HTTPClient *resilience.Client

	// Now overrides the clock used for the search window (optional).
	Now    func() time.Time
	Logger zerolog.Logger
}

// Client is a scheduler API client. It implements appointment.SlotSource.
type Client struct {
	baseURL    string
	style      URLStyle
	window     time.Duration
	slotLimit  int
	httpClient *resilience.Client
	now        func() time.Time
	logger     zerolog.Logger
}

// NewClient creates a new scheduler client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Style == "" {
		cfg.Style = StyleLocations
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SlotLimit <= 0 {
		cfg.SlotLimit = DefaultSlotLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		style:      cfg.Style,
		window:     cfg.Window,
		slotLimit:  cfg.SlotLimit,
		httpClient: cfg.HTTPClient,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// SlotsURL returns the query URL for loc.
func (c *Client) SlotsURL(loc appointment.Location) string {
	if c.style == StyleSlots {
		return fmt.Sprintf("%s/slots?orderBy=soonest&limit=%d&locationId=%d&minimum=1",
			c.baseURL, c.slotLimit, loc.ID)
	}

	start := c.now()
	end := start.Add(c.window)
	return fmt.Sprintf("%s/locations/%d/slots?startTimestamp=%s&endTimestamp=%s",
		c.baseURL, loc.ID,
		start.Format(appointment.TimestampLayout),
		end.Format(appointment.TimestampLayout))
}

// FetchSlots fetches the slots advertised for loc. Every returned slot is
// tagged with loc's id.
func (c *Client) FetchSlots(ctx context.Context, loc appointment.Location) ([]appointment.Slot, error) {
	url := c.SlotsURL(loc)

	var records []slotRecord
	if err := c.httpClient.GetJSON(ctx, url, &records); err != nil {
		return nil, err
	}

	slots := make([]appointment.Slot, 0, len(records))
	for i, rec := range records {
		slot, err := rec.toSlot(loc.ID)
		if err != nil {
			return nil, &resilience.MalformedResponseError{
				URL: url,
				Err: fmt.Errorf("record %d: %w", i, err),
			}
		}
		slots = append(slots, slot)
	}

	c.logger.Debug().
		Int("location_id", loc.ID).
		Str("style", string(c.style)).
		Int("records", len(slots)).
		Msg("scheduler response decoded")

	return slots, nil
}

// slotRecord is one element of the scheduler's JSON array. The locations
// endpoint reports "timestamp" and a numeric "active"; the slots endpoint
// reports "startTimestamp" and may report "active" as a boolean.
type slotRecord struct {
	LocationID     int         `json:"locationId"`
	StartTimestamp string      `json:"startTimestamp"`
	Timestamp      string      `json:"timestamp"`
	Active         flexibleInt `json:"active"`
	ActiveCount    *int        `json:"activeCount"`
}

func (r slotRecord) toSlot(locationID int) (appointment.Slot, error) {
	raw := r.StartTimestamp
	if raw == "" {
		raw = r.Timestamp
	}
	if raw == "" {
		return appointment.Slot{}, fmt.Errorf("missing timestamp")
	}

	start, err := appointment.ParseTimestamp(raw)
	if err != nil {
		return appointment.Slot{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}

	active := int(r.Active)
	if r.ActiveCount != nil {
		active = *r.ActiveCount
	}

	return appointment.Slot{
		LocationID: locationID,
		Start:      start,
		Active:     active,
	}, nil
}

// flexibleInt decodes a JSON number or boolean into a count.
type flexibleInt int

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*f = 1
		return nil
	case "false", "null":
		*f = 0
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("active: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*f = flexibleInt(i)
		return nil
	}
	fl, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return fmt.Errorf("active: %w", err)
	}
	*f = flexibleInt(fl)
	return nil
}
