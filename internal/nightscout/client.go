// Package nightscout provides a client for interacting with the Nightscout API
package nightscout

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // Required for Nightscout API secret hashing (legacy API requirement)
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mrcode/nightscout-autotune/internal/models"
)

// DefaultCount is the page size used for windowed history queries
const DefaultCount = 100000

var (
	// ErrInsecureURL is returned for any base URL that is not https
	ErrInsecureURL = errors.New("nightscout URL must use https")
	// ErrNoProfiles is returned when /api/v1/profile is empty
	ErrNoProfiles = errors.New("no profiles found in Nightscout")
)

// APIError is a non-2xx response from Nightscout
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Config holds the connection settings for a Client
type Config struct {
	BaseURL   string
	APISecret string
	APIToken  string
	UseToken  bool
	Timeout   time.Duration
	Retry     RetryConfig
}

// ConfigFromSettings maps application settings onto a client config
func ConfigFromSettings(s *models.Settings) Config {
	retry := DefaultRetryConfig()
	retry.MaxAttempts = s.RetryAttempts
	retry.InitialBackoff = s.RetryBackoff
	return Config{
		BaseURL:   s.NightscoutURL,
		APISecret: s.APISecret,
		APIToken:  s.APIToken,
		UseToken:  s.UseToken,
		Timeout:   s.RequestTimeout,
		Retry:     retry,
	}
}

// Client handles communication with the Nightscout API
type Client struct {
	baseURL    string
	apiSecret  string
	apiToken   string
	useToken   bool
	retry      RetryConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests use the httptest TLS client)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new Nightscout client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing nightscout URL: %w", err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("%w: got %q", ErrInsecureURL, cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryConfig()
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiSecret: cfg.APISecret,
		apiToken:  cfg.APIToken,
		useToken:  cfg.UseToken,
		retry:     retry,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// hashSecret generates SHA1 hash of the API secret
// Note: SHA1 is required for Nightscout API compatibility
func hashSecret(secret string) string {
	hasher := sha1.New() //nolint:gosec // Required for Nightscout API
	hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

// buildRequest creates an HTTP request with proper authentication
func (c *Client) buildRequest(ctx context.Context, method, endpoint string, params url.Values, body []byte) (*http.Request, error) {
	fullURL := c.baseURL + endpoint
	if params != nil {
		fullURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	// Add authentication
	if c.useToken && c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	} else if c.apiSecret != "" {
		req.Header.Set("API-SECRET", hashSecret(c.apiSecret))
	}

	return req, nil
}

// doRequest executes an HTTP request and returns the response body
func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// call builds and executes a request, retrying transient failures.
// The body is rebuilt per attempt so POSTs can be replayed.
func (c *Client) call(ctx context.Context, method, endpoint string, params url.Values, body []byte) ([]byte, error) {
	var out []byte
	_, err := Retry(ctx, c.retry, func(ctx context.Context, attempt int) error {
		req, err := c.buildRequest(ctx, method, endpoint, params, body)
		if err != nil {
			return err
		}
		out, err = c.doRequest(req)
		if err != nil && IsRetryable(err) && attempt < c.retry.MaxAttempts {
			c.logger.Warn("nightscout request failed, retrying",
				zap.String("method", method),
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	})
	return out, err
}

// GetStatus retrieves the Nightscout server status
func (c *Client) GetStatus(ctx context.Context) (*models.ServerStatus, error) {
	body, err := c.call(ctx, http.MethodGet, "/api/v1/status", nil, nil)
	if err != nil {
		return nil, err
	}

	var status models.ServerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("parsing status: %w", err)
	}

	return &status, nil
}

// FetchProfileDocument retrieves the current profile document as raw JSON.
// The endpoint serves either a single document or a list, newest first.
func (c *Client) FetchProfileDocument(ctx context.Context) (json.RawMessage, error) {
	c.logger.Info("fetching profile document")

	body, err := c.call(ctx, http.MethodGet, "/api/v1/profile", nil, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var docs []json.RawMessage
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, fmt.Errorf("parsing profiles: %w", err)
		}
		if len(docs) == 0 {
			return nil, ErrNoProfiles
		}
		return docs[0], nil
	}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, ErrNoProfiles
	}
	return json.RawMessage(trimmed), nil
}

// UpdateProfileDocument posts a full profile document back to Nightscout
func (c *Client) UpdateProfileDocument(ctx context.Context, doc json.RawMessage) (json.RawMessage, error) {
	c.logger.Info("updating profile document")

	body, err := c.call(ctx, http.MethodPost, "/api/v1/profile", nil, doc)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// FetchEntries retrieves raw glucose entries whose dateString lies in [from, to]
func (c *Client) FetchEntries(ctx context.Context, from, to time.Time, count int) ([]json.RawMessage, error) {
	return c.fetchWindow(ctx, "/api/v1/entries.json", "dateString", from, to, count)
}

// FetchTreatments retrieves raw treatments whose created_at lies in [from, to]
func (c *Client) FetchTreatments(ctx context.Context, from, to time.Time, count int) ([]json.RawMessage, error) {
	return c.fetchWindow(ctx, "/api/v1/treatments.json", "created_at", from, to, count)
}

func (c *Client) fetchWindow(ctx context.Context, endpoint, field string, from, to time.Time, count int) ([]json.RawMessage, error) {
	if count <= 0 {
		count = DefaultCount
	}
	params := url.Values{}
	params.Set("find["+field+"][$gte]", from.UTC().Format(time.RFC3339))
	params.Set("find["+field+"][$lte]", to.UTC().Format(time.RFC3339))
	params.Set("count", strconv.Itoa(count))

	body, err := c.call(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		c.logger.Error("window fetch failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", endpoint, err)
	}

	c.logger.Info("fetched records",
		zap.String("endpoint", endpoint),
		zap.Int("count", len(records)),
		zap.Time("from", from),
		zap.Time("to", to))
	return records, nil
}
