package garmin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Retry and backoff constants.
const (
	defaultMaxRetries = 3
	baseBackoff       = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
)

// Default endpoints and headers. The SSO pages are served to a browser user
// agent; the connectapi host expects the mobile app's.
const (
	DefaultDomain  = "garmin.com"
	ssoUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	apiUserAgent   = "com.garmin.android.apps.connectmobile"
	maxBodyBytes   = 8 << 20
	maxErrorDetail = 512
)

// Config holds the endpoint and transport settings for a Client.
type Config struct {
	// SSOURL is the SSO host, e.g. "https://sso.garmin.com".
	SSOURL string
	// APIURL is the connect API host, e.g. "https://connectapi.garmin.com".
	APIURL string
	// UserAgent overrides the API user agent when non-empty.
	UserAgent string
	// MaxRetries bounds retries of a single request. Zero uses the default;
	// negative disables retries.
	MaxRetries int
}

// EndpointsForDomain returns the SSO and API base URLs for a Garmin domain
// ("garmin.com", or "garmin.cn" for the China region).
func EndpointsForDomain(domain string) (ssoURL, apiURL string) {
	if domain == "" {
		domain = DefaultDomain
	}

	return "https://sso." + domain, "https://connectapi." + domain
}

// Client is the HTTP transport shared by the authentication flow and the
// uploader. It carries the cookie jar that ties the SSO requests of one
// login attempt together, and retries transient failures with exponential
// backoff.
type Client struct {
	ssoURL     string
	apiURL     string
	userAgent  string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client. A nil httpClient gets a default one; a client
// without a cookie jar is copied and given one, because the SSO flow needs
// cookies to survive across its requests.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("garmin: creating cookie jar: %w", err)
		}

		withJar := *httpClient
		withJar.Jar = jar
		httpClient = &withJar
	}

	sso, api := EndpointsForDomain(DefaultDomain)
	if cfg.SSOURL != "" {
		sso = cfg.SSOURL
	}

	if cfg.APIURL != "" {
		api = cfg.APIURL
	}

	ua := apiUserAgent
	if cfg.UserAgent != "" {
		ua = cfg.UserAgent
	}

	retries := cfg.MaxRetries
	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}

	return &Client{
		ssoURL:     sso,
		apiURL:     api,
		userAgent:  ua,
		maxRetries: retries,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
	}, nil
}

// request describes one HTTP call. The body is held as bytes so that a
// retry can resend it.
type request struct {
	method string
	url    string
	header http.Header
	body   []byte

	// accept reports whether a status code is a non-error outcome.
	// nil accepts 2xx only.
	accept func(status int) bool

	// client overrides the transport, e.g. with an OAuth1 signing client.
	client *http.Client

	// retry allows resending after a network error or a retryable status.
	// Leave it unset for single-use submissions (credentials, MFA codes,
	// uploads): the server may have consumed them before the failure.
	retry bool
}

// do executes the request. Requests marked retry are resent after network
// errors and retryable status codes; all others return the first failure.
// On an accepted status the caller owns the response body.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	path := logPath(r.url)

	maxRetries := 0
	if r.retry {
		maxRetries = c.maxRetries
	}

	accept := r.accept
	if accept == nil {
		accept = is2xx
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, r)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("garmin: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", r.method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("garmin: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("garmin: %s %s failed after %d retries: %w", r.method, path, attempt, err)
		}

		if accept(resp.StatusCode) {
			c.logger.Debug("request succeeded",
				slog.String("method", r.method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", r.method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("garmin: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, r request) (*http.Response, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	hc := r.client
	if hc == nil {
		hc = c.httpClient
	}

	return hc.Do(req)
}

// getPage fetches an SSO page and returns its body.
func (c *Client) getPage(ctx context.Context, pageURL, referer string) ([]byte, error) {
	h := http.Header{}
	h.Set("User-Agent", ssoUserAgent)

	if referer != "" {
		h.Set("Referer", referer)
	}

	resp, err := c.do(ctx, request{method: http.MethodGet, url: pageURL, header: h, retry: true})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readBody(resp)
}

// postForm submits an SSO form and returns the resulting page body. Form
// posts carry a single-use CSRF value and are never retried.
func (c *Client) postForm(ctx context.Context, pageURL string, form url.Values, referer string) ([]byte, error) {
	h := http.Header{}
	h.Set("User-Agent", ssoUserAgent)
	h.Set("Content-Type", "application/x-www-form-urlencoded")

	if referer != "" {
		h.Set("Referer", referer)
	}

	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    pageURL,
		header: h,
		body:   []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readBody(resp)
}

// ssoEndpoint builds an SSO URL with the given query parameters.
func (c *Client) ssoEndpoint(path string, params url.Values) string {
	u := c.ssoURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	return u
}

// apiEndpoint builds a connect API URL with the given query parameters.
func (c *Client) apiEndpoint(path string, params url.Values) string {
	u := c.apiURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	return u
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// readBody reads a response body up to maxBodyBytes.
func readBody(resp *http.Response) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("garmin: reading response body: %w", err)
	}

	return b, nil
}

func is2xx(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// logPath strips the query string so tickets and tokens in URLs never
// reach the logs.
func logPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable url)"
	}

	return u.Path
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
