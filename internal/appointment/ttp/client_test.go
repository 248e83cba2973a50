package ttp_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwatch/slotwatch/internal/appointment"
	"github.com/slotwatch/slotwatch/internal/appointment/ttp"
	"github.com/slotwatch/slotwatch/internal/provider/resilience"
)

var toronto = appointment.Location{ID: 5027, DisplayName: "Toronto Enrollment Center"}

func fixedNow() time.Time {
	return time.Date(2022, 1, 10, 8, 30, 0, 0, time.UTC)
}

func newTestClient(t *testing.T, baseURL string, style ttp.URLStyle) *ttp.Client {
	t.Helper()
	httpCfg := resilience.DefaultClientConfig(ttp.ProviderName)
	httpCfg.MaxAttempts = 2
	httpCfg.RetryInterval = time.Millisecond
	return ttp.NewClient(ttp.ClientConfig{
		BaseURL:    baseURL,
		Style:      style,
		HTTPClient: resilience.NewClient(httpCfg),
		Now:        fixedNow,
		Logger:     zerolog.Nop(),
	})
}

func TestClient_SlotsURL(t *testing.T) {
	locations := newTestClient(t, "https://scheduler.test/api/", ttp.StyleLocations)
	assert.Equal(t,
		"https://scheduler.test/api/locations/5027/slots?startTimestamp=2022-01-10T08:30&endTimestamp=2022-04-04T08:30",
		locations.SlotsURL(toronto))

	slots := newTestClient(t, "https://scheduler.test/api", ttp.StyleSlots)
	assert.Equal(t,
		"https://scheduler.test/api/slots?orderBy=soonest&limit=1&locationId=5027&minimum=1",
		slots.SlotsURL(toronto))
}

func TestClient_FetchSlots_LocationsStyle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/locations/5027/slots", r.URL.Path)
		assert.Equal(t, "2022-01-10T08:30", r.URL.Query().Get("startTimestamp"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"active": 0, "total": 1, "pending": 0, "conflicts": 0, "duration": 10, "timestamp": "2022-02-01T09:00", "remote": false},
			{"active": 2, "total": 2, "pending": 0, "conflicts": 0, "duration": 10, "timestamp": "2022-02-01T09:10", "remote": false}
		]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ttp.StyleLocations)
	slots, err := client.FetchSlots(context.Background(), toronto)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.Equal(t, 5027, slots[0].LocationID)
	assert.Equal(t, 0, slots[0].Active)
	assert.Equal(t, time.Date(2022, 2, 1, 9, 0, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, 2, slots[1].Active)
}

func TestClient_FetchSlots_SlotsStyle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/slots", r.URL.Path)
		assert.Equal(t, "5027", r.URL.Query().Get("locationId"))
		_, _ = w.Write([]byte(`[
			{"locationId": 5027, "startTimestamp": "2022-02-01T09:00", "endTimestamp": "2022-02-01T09:10", "active": true, "duration": 10},
			{"locationId": 5027, "startTimestamp": "2022-02-02T09:00", "endTimestamp": "2022-02-02T09:10", "active": false, "duration": 10}
		]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ttp.StyleSlots)
	slots, err := client.FetchSlots(context.Background(), toronto)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 1, slots[0].Active)
	assert.Equal(t, 0, slots[1].Active)
}

func TestClient_FetchSlots_TagsRequestedLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"locationId": 1, "startTimestamp": "2022-02-01T09:00", "activeCount": 4}]`))
	}))
	defer server.Close()

	slots, err := newTestClient(t, server.URL, ttp.StyleSlots).FetchSlots(context.Background(), toronto)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 5027, slots[0].LocationID)
	assert.Equal(t, 4, slots[0].Active)
}

func TestClient_FetchSlots_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	slots, err := newTestClient(t, server.URL, ttp.StyleLocations).FetchSlots(context.Background(), toronto)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestClient_FetchSlots_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>maintenance</html>`},
		{"object instead of array", `{"error": "nope"}`},
		{"bad timestamp", `[{"timestamp": "01/02/2022 09:00", "active": 1}]`},
		{"missing timestamp", `[{"active": 1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL, ttp.StyleLocations).FetchSlots(context.Background(), toronto)
			var malformed *resilience.MalformedResponseError
			assert.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestClient_FetchSlots_ConnectionError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, ttp.StyleLocations).FetchSlots(context.Background(), toronto)
	assert.True(t, resilience.IsConnectionError(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestParseURLStyle(t *testing.T) {
	style, err := ttp.ParseURLStyle("SLOTS")
	require.NoError(t, err)
	assert.Equal(t, ttp.StyleSlots, style)

	_, err = ttp.ParseURLStyle("graphql")
	assert.Error(t, err)
}
