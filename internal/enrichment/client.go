// Package enrichment fetches a lead's site and extracts the attributes the scorer uses.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/lead-engine/internal/config"
	"github.com/lead-engine/internal/logging"
	"github.com/lead-engine/internal/metrics"
	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/retry"
	"github.com/lead-engine/internal/validation"
)

const maxRedirects = 10

// StatusError is returned for a non-2xx response
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// RedirectError is returned when a response redirects to a host the client
// refuses to fetch
type RedirectError struct {
	URL string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect to disallowed host: %s", e.URL)
}

// Client fetches site roots under a shared rate limit
type Client struct {
	http         *http.Client
	limiter      *rate.Limiter
	retry        *retry.RetryConfig
	metrics      *metrics.Metrics
	userAgent    string
	maxBodyBytes int64
	resolve      func(domain string) string
	allowHost    func(host string) bool
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithURLResolver maps a domain to the URL fetched for it
func WithURLResolver(fn func(domain string) string) Option {
	return func(cl *Client) { cl.resolve = fn }
}

// WithRedirectPolicy replaces the check applied to every redirect target host.
// The default is validation.IsValidDomain.
func WithRedirectPolicy(allow func(host string) bool) Option {
	return func(cl *Client) { cl.allowHost = allow }
}

// WithRetryConfig replaces the backoff schedule. Retryable is always set by the client.
func WithRetryConfig(cfg *retry.RetryConfig) Option {
	return func(cl *Client) { cl.retry = cfg }
}

// WithMetrics records fetch outcomes and durations
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates an enrichment client from configuration
func NewClient(cfg *config.EnrichmentConfig, opts ...Option) *Client {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 2 << 20
	}

	backoff := retry.DefaultRetryConfig()
	backoff.InitialDelay = 500 * time.Millisecond
	backoff.MaxDelay = 5 * time.Second
	if cfg.MaxAttempts > 0 {
		backoff.MaxAttempts = cfg.MaxAttempts
	}

	c := &Client{
		http:         &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(limit, burst),
		retry:        backoff,
		userAgent:    cfg.UserAgent,
		maxBodyBytes: maxBody,
		resolve: func(domain string) string {
			return scheme + "://" + domain + "/"
		},
		allowHost: validation.IsValidDomain,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = guardRedirects(c.http, c.allowHost)

	cp := *c.retry
	cp.Retryable = isRetryable
	c.retry = &cp
	return c
}

// Enrich fetches the site root of domain and parses it
func (c *Client) Enrich(ctx context.Context, domain string) (*models.Enrichment, error) {
	pageURL := c.resolve(domain)
	start := time.Now()

	var enrichment *models.Enrichment
	err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		e, err := c.fetch(ctx, pageURL)
		if err != nil {
			return err
		}
		enrichment = e
		return nil
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.metrics.ObserveFetch(result, time.Since(start).Seconds())

	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("domain", domain).Debug("Enrichment failed")
		return nil, fmt.Errorf("enrich %s: %w", domain, err)
	}
	return enrichment, nil
}

func (c *Client) fetch(ctx context.Context, pageURL string) (*models.Enrichment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.http.Do(req)
	if err != nil {
		var redirectErr *RedirectError
		if errors.As(err, &redirectErr) {
			return nil, retry.Permanent(err)
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	e, err := Parse(io.LimitReader(resp.Body, c.maxBodyBytes), resp.Request.URL)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return e, nil
}

// guardRedirects returns a copy of hc that refuses redirects to hosts allow
// rejects, then applies hc's own redirect policy
func guardRedirects(hc *http.Client, allow func(host string) bool) *http.Client {
	guarded := *hc
	next := hc.CheckRedirect
	guarded.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !allow(req.URL.Hostname()) {
			return &RedirectError{URL: req.URL.String()}
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return &guarded
}

// isRetryable accepts network failures and 5xx/429 responses
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var netErr net.Error
		// Client.Timeout surfaces as a net.Error timeout wrapping DeadlineExceeded
		return errors.As(err, &netErr) && netErr.Timeout()
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
