// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package backend talks to the traceability API. Every call is a POST to
// the base URL naming the endpoint in the "action" field.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ManuGH/vegtrace/internal/cache"
	"github.com/ManuGH/vegtrace/internal/clock"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/ManuGH/vegtrace/internal/resilience"
	"github.com/ManuGH/vegtrace/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Result is the decoded backend response.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Options configures a Client. Zero values take the defaults below.
type Options struct {
	BaseURL string
	Timeout time.Duration

	// MaxAttempts bounds the tries per call, the first one included.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	RateLimit rate.Limit
	RateBurst int

	// Cache holds read responses. Nothing is cached when nil.
	Cache          cache.Cache
	CacheTTL       time.Duration
	CacheEndpoints []string
	JSONEndpoints  []string

	BreakerThreshold int
	BreakerReset     time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock
	UserAgent  string
}

const (
	defaultTimeout     = 15 * time.Second
	defaultAttempts    = 2
	defaultBackoff     = time.Second
	defaultMaxBackoff  = 5 * time.Second
	defaultRateLimit   = 5
	defaultRateBurst   = 10
	defaultCacheTTL    = 5 * time.Minute
	maxResponseBytes   = 8 << 20
	defaultUserAgent   = "vegtrace"
	tracerName         = "vegtrace.backend"
	breakerName        = "backend"
	cacheEndpointToken = "get"
)

// DefaultJSONEndpoints take a JSON body because their payload nests.
var DefaultJSONEndpoints = []string{"updateProductionData", "createProductionCycle"}

// Client calls the backend with retries, de-duplication, read caching, a
// circuit breaker and a client-side rate limit.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	clock       clock.Clock
	limiter     *rate.Limiter
	breaker     *resilience.CircuitBreaker
	group       singleflight.Group
	cache       cache.Cache
	cacheTTL    time.Duration
	cacheable   []string
	jsonBodies  []string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	userAgent   string
	logger      zerolog.Logger
}

// New validates the base URL and builds a client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, ErrDisabled
	}
	base, err := normalizeBaseURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	opts = normalizeOptions(opts)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		}
		httpClient = &http.Client{Transport: otelhttp.NewTransport(transport)}
	}

	breaker := resilience.NewCircuitBreaker(breakerName, opts.BreakerThreshold, opts.BreakerReset,
		resilience.WithClock(opts.Clock),
		resilience.WithFailureFilter(remoteFault),
	)
	return &Client{
		baseURL:     base,
		httpClient:  httpClient,
		clock:       opts.Clock,
		limiter:     rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		breaker:     breaker,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		cacheable:   opts.CacheEndpoints,
		jsonBodies:  opts.JSONEndpoints,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.BackoffBase,
		maxBackoff:  opts.BackoffMax,
		userAgent:   opts.UserAgent,
		logger:      log.WithComponent("backend").With().Str(log.FieldBaseURL, base).Logger(),
	}, nil
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoff
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultMaxBackoff
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = defaultRateBurst
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.JSONEndpoints == nil {
		opts.JSONEndpoints = DefaultJSONEndpoints
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	return opts
}

// BaseURL returns the normalized endpoint URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Breaker exposes the circuit breaker state for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

func (c *Client) isCacheable(endpoint string) bool {
	if c.cache == nil {
		return false
	}
	return strings.HasPrefix(endpoint, cacheEndpointToken) || slices.Contains(c.cacheable, endpoint)
}

func (c *Client) encodingFor(endpoint string) string {
	if slices.Contains(c.jsonBodies, endpoint) {
		return encodingJSON
	}
	return encodingForm
}

// timeoutFor gives batch and report endpoints twice the regular budget.
func (c *Client) timeoutFor(endpoint string) time.Duration {
	lower := strings.ToLower(endpoint)
	if strings.Contains(lower, "batch") || strings.Contains(lower, "report") || strings.Contains(lower, "upload") {
		return 2 * c.timeout
	}
	return c.timeout
}

// Call invokes endpoint with payload. Identical concurrent calls share one
// request; read endpoints are answered from the cache while fresh.
func (c *Client) Call(ctx context.Context, endpoint string, payload Payload) (*Result, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("backend: empty endpoint")
	}
	payload = normalize(payload)
	key, err := requestKey(endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", endpoint, err)
	}

	cacheable := c.isCacheable(endpoint)
	if cacheable {
		if data, ok := c.cache.Get(key); ok {
			var res Result
			if err := json.Unmarshal(data, &res); err == nil {
				metrics.RecordAPIRequest(endpoint, "cached")
				c.logger.Debug().Str(log.FieldEndpoint, endpoint).Msg("backend cache hit")
				return &res, nil
			}
			c.cache.Delete(key)
		}
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.do(ctx, endpoint, payload)
	})
	if shared {
		metrics.RecordAPIRequest(endpoint, "shared")
	}
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	if cacheable && res.Success {
		if data, err := json.Marshal(res); err == nil {
			c.cache.Set(key, data, c.cacheTTL)
		}
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, endpoint string, payload Payload) (*Result, error) {
	encoding := c.encodingFor(endpoint)
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "vegtrace.backend.call", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(telemetry.APIAttributes(endpoint, encoding)...)
	defer span.End()

	logger := c.logger.With().Str(log.FieldEndpoint, endpoint).Logger()
	var lastErr *CallError
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			lastErr = &CallError{Endpoint: endpoint, Attempts: attempt, Kind: ErrUnavailable, Err: err}
			break
		}

		var res *Result
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			res, err = c.attempt(ctx, endpoint, encoding, payload)
			return err
		})
		if err == nil {
			metrics.RecordAPIRequest(endpoint, "success")
			span.SetAttributes(attribute.Int(telemetry.APIAttemptsKey, attempt))
			span.SetStatus(codes.Ok, "")
			return res, nil
		}

		var ce *CallError
		switch {
		case errors.As(err, &ce):
		case errors.Is(err, resilience.ErrCircuitOpen):
			metrics.RecordAPIRequest(endpoint, "rejected")
			ce = &CallError{Endpoint: endpoint, Kind: ErrUnavailable, Err: err}
		default:
			ce = &CallError{Endpoint: endpoint, Kind: ErrUnavailable, Err: err}
		}
		ce.Attempts = attempt
		lastErr = ce

		if !ce.retryable || attempt == c.maxAttempts {
			break
		}
		wait := c.backoffFor(attempt)
		metrics.RecordAPIRetry(endpoint)
		logger.Warn().Err(ce).
			Str(log.FieldEvent, "backend.retry").
			Int(log.FieldAttempt, attempt).
			Dur("backoff", wait).
			Msg("backend call failed, retrying")
		if err := c.sleep(ctx, wait); err != nil {
			lastErr = &CallError{Endpoint: endpoint, Attempts: attempt, Kind: ErrUnavailable, Err: err}
			break
		}
	}

	if !errors.Is(lastErr.Err, resilience.ErrCircuitOpen) {
		metrics.RecordAPIRequest(endpoint, "failure")
	}
	span.SetAttributes(attribute.Int(telemetry.APIAttemptsKey, lastErr.Attempts))
	span.SetAttributes(telemetry.ErrorAttributes(lastErr, lastErr.Kind.Error())...)
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Kind.Error())
	logger.Error().Err(lastErr).Str(log.FieldEvent, "backend.failed").Msg("backend call failed")
	return nil, lastErr
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

// backoffFor returns min(base*2^(attempt-1), max) for the 1-based attempt
// that just failed.
func (c *Client) backoffFor(attempt int) time.Duration {
	wait := c.backoff
	for i := 1; i < attempt && wait < c.maxBackoff; i++ {
		wait *= 2
	}
	if wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	return wait
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	fired := make(chan struct{})
	t := c.clock.AfterFunc(d, func() { close(fired) })
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-fired:
		return nil
	}
}

func (c *Client) attempt(ctx context.Context, endpoint, encoding string, payload Payload) (*Result, error) {
	timestamp := c.clock.Now().UTC().Format(time.RFC3339Nano)
	body, contentType, err := encodeBody(encoding, endpoint, timestamp, payload)
	if err != nil {
		return nil, &CallError{Endpoint: endpoint, Kind: ErrClient, Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeoutFor(endpoint))
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Endpoint: endpoint, Kind: ErrClient, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case ctx.Err() != nil:
			// The caller gave up; retrying would not help.
			return nil, &CallError{Endpoint: endpoint, Kind: ErrUnavailable, Err: ctx.Err()}
		case isTimeout(err) || attemptCtx.Err() != nil:
			return nil, &CallError{Endpoint: endpoint, Kind: ErrTimeout, Err: err, retryable: true}
		default:
			return nil, &CallError{Endpoint: endpoint, Kind: ErrUnavailable, Err: err, retryable: true}
		}
	}
	defer func() { _ = resp.Body.Close() }()

	status := resp.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &CallError{Endpoint: endpoint, Status: status, Kind: ErrUnavailable, retryable: true}
	case status >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &CallError{Endpoint: endpoint, Status: status, Kind: ErrServer, retryable: true}
	case status >= http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &CallError{Endpoint: endpoint, Status: status, Kind: ErrClient}
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return nil, &CallError{Endpoint: endpoint, Status: status, Kind: ErrBadResponse}
	}

	var res Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&res); err != nil {
		if attemptCtx.Err() != nil {
			return nil, &CallError{Endpoint: endpoint, Status: status, Kind: ErrTimeout, Err: err, retryable: ctx.Err() == nil}
		}
		return nil, &CallError{Endpoint: endpoint, Status: status, Kind: ErrBadResponse, Err: err}
	}
	if res.Error != "" || (!res.Success && res.Message == "") {
		msg := res.Error
		if msg == "" {
			msg = "unknown server error"
		}
		return nil, &CallError{Endpoint: endpoint, Status: status, Kind: ErrServer, Err: errors.New(msg)}
	}
	return &res, nil
}
