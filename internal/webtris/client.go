package webtris

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultBaseURL is the public WebTRIS API root.
const DefaultBaseURL = "https://webtris.highwaysengland.co.uk/api/v1"

const (
	defaultMaxAttempts          = 3
	defaultMaxRateLimitAttempts = 8
	defaultBackoffBase          = 500 * time.Millisecond
	defaultRateLimitDelay       = 2 * time.Second
	defaultUserAgent            = "webtris-scraper/1.0"

	// reportPageSize is large enough to return a full sub-range in one page.
	reportPageSize = 40000

	// reportDateFormat is the ddMMyyyy format the reports endpoint expects.
	reportDateFormat = "02012006"
)

// FailureKind classifies a request that could not be completed.
type FailureKind string

const (
	KindTimeout          FailureKind = "timeout"
	KindRateLimited      FailureKind = "rate_limit_exhausted"
	KindClientError      FailureKind = "client_error"
	KindMalformedPayload FailureKind = "malformed_payload"
)

// RequestError is the terminal error for a request after the retry policy
// has been applied.
type RequestError struct {
	Kind     FailureKind
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("webtris request failed (%s after %d attempts): %v", e.Kind, e.Attempts, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Client talks to the WebTRIS API. The embedded retry policy treats
// timeouts, connection resets and 5xx responses as transient, retries 429
// responses on a separate longer budget, and fails other 4xx responses and
// malformed bodies immediately. Safe for concurrent use.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	// Retry tuning. Zero values fall back to the package defaults.
	MaxAttempts          int
	MaxRateLimitAttempts int
	BackoffBase          time.Duration
	RateLimitDelay       time.Duration

	sleep func(time.Duration)
}

// NewClient creates a Client with a connection pool sized for the given
// concurrency.
func NewClient(baseURL string, timeout time.Duration, maxConns int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxConns < 1 {
		maxConns = 1
	}
	transport := &http.Transport{
		MaxIdleConns:        maxConns * 2,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		BaseURL:              baseURL,
		HTTPClient:           &http.Client{Timeout: timeout, Transport: transport},
		UserAgent:            defaultUserAgent,
		MaxAttempts:          defaultMaxAttempts,
		MaxRateLimitAttempts: defaultMaxRateLimitAttempts,
		BackoffBase:          defaultBackoffBase,
		RateLimitDelay:       defaultRateLimitDelay,
		sleep:                time.Sleep,
	}
}

// Sites fetches the full site catalogue.
func (c *Client) Sites(ctx context.Context) ([]Site, error) {
	var payload sitesResponse
	if _, err := c.getJSON(ctx, c.BaseURL+"/sites", &payload); err != nil {
		return nil, err
	}
	return payload.Sites, nil
}

// DailyReport fetches daily readings for one site over an inclusive date
// range. It returns the raw report rows and the number of attempts made.
func (c *Client) DailyReport(ctx context.Context, siteID int, start, end time.Time) ([]json.RawMessage, int, error) {
	url := fmt.Sprintf("%s/reports/%s/to/%s/daily?sites=%d&page=1&page_size=%d",
		c.BaseURL, start.Format(reportDateFormat), end.Format(reportDateFormat), siteID, reportPageSize)

	var payload dailyReportResponse
	attempts, err := c.getJSON(ctx, url, &payload)
	if err != nil {
		return nil, attempts, err
	}
	return payload.Rows, attempts, nil
}

// getJSON performs a GET with the retry policy and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) (int, error) {
	attempts := 0
	strikes := 0
	rateLimitHits := 0

	for {
		attempts++

		resp, err := c.do(ctx, url)
		if err != nil {
			if !isTransient(err) {
				return attempts, &RequestError{Kind: KindClientError, Attempts: attempts, Err: err}
			}
			strikes++
			if strikes >= c.maxAttempts() {
				return attempts, &RequestError{Kind: KindTimeout, Attempts: attempts, Err: err}
			}
			c.backoff(strikes)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp)
			rateLimitHits++
			if rateLimitHits >= c.maxRateLimitAttempts() {
				return attempts, &RequestError{
					Kind:     KindRateLimited,
					Attempts: attempts,
					Err:      fmt.Errorf("rate limited %d times by %s", rateLimitHits, url),
				}
			}
			// Rate limiting is expected under high concurrency; it does
			// not consume a transient strike.
			c.pause(c.rateLimitDelay())
			continue

		case resp.StatusCode >= 500:
			body := readPreview(resp)
			strikes++
			if strikes >= c.maxAttempts() {
				return attempts, &RequestError{
					Kind:     KindTimeout,
					Attempts: attempts,
					Err:      fmt.Errorf("upstream returned %s: %s", resp.Status, body),
				}
			}
			c.backoff(strikes)
			continue

		case resp.StatusCode != http.StatusOK:
			body := readPreview(resp)
			return attempts, &RequestError{
				Kind:     KindClientError,
				Attempts: attempts,
				Err:      fmt.Errorf("upstream returned %s: %s", resp.Status, body),
			}
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return attempts, &RequestError{
				Kind:     KindMalformedPayload,
				Attempts: attempts,
				Err:      fmt.Errorf("decode response from %s: %w", url, err),
			}
		}
		return attempts, nil
	}
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	return c.HTTPClient.Do(req)
}

func (c *Client) backoff(strikes int) {
	c.pause(c.backoffBase() << (strikes - 1))
}

func (c *Client) pause(d time.Duration) {
	if c.sleep != nil {
		c.sleep(d)
		return
	}
	time.Sleep(d)
}

func (c *Client) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return defaultMaxAttempts
}

func (c *Client) maxRateLimitAttempts() int {
	if c.MaxRateLimitAttempts > 0 {
		return c.MaxRateLimitAttempts
	}
	return defaultMaxRateLimitAttempts
}

func (c *Client) backoffBase() time.Duration {
	if c.BackoffBase > 0 {
		return c.BackoffBase
	}
	return defaultBackoffBase
}

func (c *Client) rateLimitDelay() time.Duration {
	if c.RateLimitDelay > 0 {
		return c.RateLimitDelay
	}
	return defaultRateLimitDelay
}

func (c *Client) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return defaultUserAgent
}

// isTransient reports whether a transport-level error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Connection resets and broken pipes surface as *net.OpError.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

func readPreview(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return string(body)
}
