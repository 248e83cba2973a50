package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ClientConfig holds configuration for the retrying HTTP client.
type ClientConfig struct {
	// Name identifies this client in logs, the circuit breaker and the registry.
	Name string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxAttempts caps the number of attempts per request, including the first.
	// Default: 3
	MaxAttempts int

	// RetryInterval is the fixed wait between attempts.
	// Default: 2 seconds
	RetryInterval time.Duration

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Transport overrides the underlying round tripper (optional).
	Transport http.RoundTripper

	// Registry receives success/failure reports when set.
	Registry *Registry

	Logger zerolog.Logger
}

// DefaultClientConfig returns the defaults used for scheduler API calls.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:           name,
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		RetryInterval:  2 * time.Second,
		CircuitBreaker: &cbConfig,
		Logger:         zerolog.Nop(),
	}
}

// Client is an HTTP client that retries connection-level failures with a
// fixed backoff and guards the upstream with a circuit breaker.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
	logger         zerolog.Logger
}

// NewClient creates a new retrying HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval < 0 {
		cfg.RetryInterval = 0
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	if cbConfig.ReadyToTrip == nil {
		cbConfig.ReadyToTrip = TripAfterConsecutiveFailures(uint32(2 * cfg.MaxAttempts)) //nolint:gosec // attempt cap is small
	}
	if cbConfig.OnStateChange == nil {
		logger := cfg.Logger
		cbConfig.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		}
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		circuitBreaker: NewCircuitBreaker[*http.Response](cbConfig), //nolint:bodyclose // type param, not response
		config:         cfg,
		logger:         cfg.Logger,
	}

	if cfg.Registry != nil {
		cfg.Registry.Track(cfg.Name, c)
	}

	return c
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.config.Name
}

// MaxAttempts returns the effective attempt cap.
func (c *Client) MaxAttempts() int {
	return c.config.MaxAttempts
}

// Do executes an HTTP request, retrying transport errors, 5xx responses and
// bodies cut off mid-read up to MaxAttempts-1 times with a fixed wait in between. When attempts are
// exhausted, or the circuit is open, it returns a *ConnectionError.
// Any other response is returned with its body fully buffered.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(c.config.RetryInterval),
			uint64(c.config.MaxAttempts-1), //nolint:gosec // MaxAttempts >= 1
		),
		ctx,
	)

	var (
		resp     *http.Response
		attempts int
	)

	operation := func() error {
		attempts++
		r, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller is responsible for closing
			r, err := c.httpClient.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 {
				_, _ = io.Copy(io.Discard, r.Body)
				r.Body.Close()
				return nil, &ServerError{StatusCode: r.StatusCode}
			}
			body, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("reading response body: %w", err)
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			return r, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			return err
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn().
			Err(err).
			Str("provider", c.config.Name).
			Str("url", req.URL.String()).
			Int("attempt", attempts).
			Int("max_attempts", c.config.MaxAttempts).
			Dur("retry_in", wait).
			Msg("request failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.report(ctxErr)
			return nil, ctxErr
		}
		connErr := &ConnectionError{URL: req.URL.String(), Attempts: attempts, Err: err}
		c.report(connErr)
		return nil, connErr
	}

	c.report(nil)
	return resp, nil
}

// GetJSON issues a GET to url and decodes the JSON body into out.
// A 200 response whose body is not valid JSON yields *MalformedResponseError;
// any other non-5xx status yields *StatusError. Neither is retried.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &MalformedResponseError{URL: url, Err: err}
	}

	return nil
}

func (c *Client) report(err error) {
	if c.config.Registry == nil {
		return
	}
	if err != nil {
		c.config.Registry.RecordFailure(c.config.Name, err)
		return
	}
	c.config.Registry.RecordSuccess(c.config.Name)
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
