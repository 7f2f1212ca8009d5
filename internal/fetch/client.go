// Package fetch provides the shared outbound HTTP client used by the favicon
// resolver and the filter-list refresher: resty on a retryable transport,
// rate limited, behind a circuit breaker.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/sitedock/sitedock/internal/infrastructure/resilience"
)

// Client wraps resty with rate limiting and circuit breaker protection.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	mu      sync.RWMutex
}

// NewClient creates the outbound HTTP client.
func NewClient() *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 15 * time.Second
	retryClient.Logger = nil // disable retryablehttp's own logging

	restyClient := resty.New()
	restyClient.
		SetTimeout(20*time.Second).
		SetHeader("User-Agent", "Sitedock/1.0")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	breaker := resilience.New("outbound-http", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			// Favicon hosts and list mirrors vary in reliability; trip
			// only on sustained failure.
			return counts.ConsecutiveFailures >= 8
		},
	})

	return &Client{
		resty:   restyClient,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		breaker: breaker,
	}
}

// SetTimeout configures the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetTimeout(d)
}

// SetRateLimit configures outbound requests per second.
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)*2)
	}
}

// Request creates a new request after passing the rate limiter and breaker.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if c.breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resty.R().SetContext(ctx), nil
}

// Execute runs an HTTP operation with circuit breaker accounting.
func (c *Client) Execute(fn func() (*resty.Response, error)) (*resty.Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return fn()
	})

	if err == resilience.ErrCircuitOpen {
		return nil, fmt.Errorf("outbound fetch unavailable: circuit breaker open")
	}
	if err != nil {
		return nil, err
	}

	return result.(*resty.Response), nil
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}
