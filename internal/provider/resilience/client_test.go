package resilience_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwatch/slotwatch/internal/provider/resilience"
)

var errConnRefused = errors.New("connection refused")

// failingTransport fails every round trip and counts the attempts.
type failingTransport struct {
	calls atomic.Int32
}

func (t *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.calls.Add(1)
	return nil, errConnRefused
}

func testConfig(name string, attempts int) resilience.ClientConfig {
	cfg := resilience.DefaultClientConfig(name)
	cfg.MaxAttempts = attempts
	cfg.RetryInterval = time.Millisecond
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestClient_GetJSON_Success(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := resilience.NewClient(testConfig("test", 3))

	var out struct {
		Status string `json:"status"`
	}
	err := client.GetJSON(context.Background(), server.URL, &out)
	require.NoError(t, err)

	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, int32(1), attempts.Load(), "a successful first attempt must not retry")
}

func TestClient_RetriesExactlyMaxAttemptsMinusOne(t *testing.T) {
	for _, maxAttempts := range []int{1, 2, 4} {
		transport := &failingTransport{}
		cfg := testConfig("test-retry", maxAttempts)
		cfg.Transport = transport
		client := resilience.NewClient(cfg)

		var out []any
		err := client.GetJSON(context.Background(), "http://scheduler.invalid/slots", &out)
		require.Error(t, err)

		var connErr *resilience.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, maxAttempts, connErr.Attempts)
		assert.ErrorIs(t, err, errConnRefused)
		assert.Equal(t, int32(maxAttempts), transport.calls.Load(), "attempts for cap %d", maxAttempts)
	}
}

func TestClient_RetryOn5xxUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := resilience.NewClient(testConfig("test-5xx", 3))

	var out []any
	err := client.GetJSON(context.Background(), server.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_5xxExhaustedIsConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := resilience.NewClient(testConfig("test-5xx-exhausted", 2))

	var out []any
	err := client.GetJSON(context.Background(), server.URL, &out)

	var serverErr *resilience.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusBadGateway, serverErr.StatusCode)
	assert.True(t, resilience.IsConnectionError(err))
}

func TestClient_TruncatedBodyRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, buf, err := hj.Hijack()
		require.NoError(t, err)
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 100\r\n\r\n[{\"locationId\":")
		_ = buf.Flush()
		_ = conn.Close()
	}))
	defer server.Close()

	client := resilience.NewClient(testConfig("test-truncated", 3))

	var out []any
	err := client.GetJSON(context.Background(), server.URL, &out)
	require.Error(t, err)

	var connErr *resilience.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_MalformedBodyNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	client := resilience.NewClient(testConfig("test-malformed", 3))

	var out []any
	err := client.GetJSON(context.Background(), server.URL, &out)

	var malformed *resilience.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, server.URL, malformed.URL)
	assert.False(t, resilience.IsConnectionError(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_4xxNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := resilience.NewClient(testConfig("test-4xx", 3))

	var out []any
	err := client.GetJSON(context.Background(), server.URL, &out)

	var statusErr *resilience.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, int32(1), attempts.Load(), "should not retry 4xx errors")
}

func TestClient_CircuitBreakerTrips(t *testing.T) {
	transport := &failingTransport{}
	cbConfig := resilience.CircuitBreakerConfig{
		Name:        "test-trip",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: resilience.TripAfterConsecutiveFailures(2),
	}
	cfg := testConfig("test-trip", 2)
	cfg.Transport = transport
	cfg.CircuitBreaker = &cbConfig
	client := resilience.NewClient(cfg)

	var out []any
	err := client.GetJSON(context.Background(), "http://scheduler.invalid/a", &out)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())

	err = client.GetJSON(context.Background(), "http://scheduler.invalid/b", &out)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, resilience.IsConnectionError(err))
	assert.Equal(t, int32(2), transport.calls.Load(), "open circuit must not reach the transport")
}

func TestClient_DefaultBreakerDoesNotTripWithinOneFetch(t *testing.T) {
	transport := &failingTransport{}
	cfg := testConfig("test-no-trip", 5)
	cfg.Transport = transport
	client := resilience.NewClient(cfg)

	var out []any
	err := client.GetJSON(context.Background(), "http://scheduler.invalid/slots", &out)
	require.Error(t, err)

	assert.Equal(t, int32(5), transport.calls.Load())
	assert.Equal(t, gobreaker.StateClosed, client.CircuitBreakerState())
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(testConfig("test-cancel", 3))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out []any
	err := client.GetJSON(ctx, server.URL, &out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := resilience.DefaultClientConfig("test-client")

	assert.Equal(t, "test-client", cfg.Name)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.RetryInterval)
	assert.NotNil(t, cfg.CircuitBreaker)
}

func TestTripAfterConsecutiveFailures(t *testing.T) {
	trip := resilience.TripAfterConsecutiveFailures(3)

	assert.False(t, trip(gobreaker.Counts{ConsecutiveFailures: 2, TotalFailures: 10}))
	assert.True(t, trip(gobreaker.Counts{ConsecutiveFailures: 3}))
}

func TestServerError(t *testing.T) {
	err := &resilience.ServerError{StatusCode: http.StatusInternalServerError}
	assert.Contains(t, err.Error(), "Internal Server Error")
}
