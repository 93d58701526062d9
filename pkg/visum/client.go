package visum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.visum.ai"

// DefaultMaxBatchSize is the largest number of records a single create
// request may carry. Larger inputs are split into contiguous batches of at
// most this size and dispatched concurrently.
const DefaultMaxBatchSize = 128

// API paths, relative to the versioned base URL.
const (
	recordsPath       = "/records"
	recordsStatusPath = "/records/status"
	searchesPath      = "/searches"
	tokenPath         = "/token"
)

// ClientOptions configures the Visum API client
type ClientOptions struct {
	// BaseURL is the base URL for the Visum API (default: "https://api.visum.ai")
	// Do not include /v2 - it is added automatically
	BaseURL string
	// APIKey authenticates requests with a static key
	APIKey string
	// ClientID and ClientSecret authenticate via the token endpoint instead
	// of APIKey; access tokens are exchanged and refreshed automatically
	ClientID     string
	ClientSecret string
	// MaxBatchSize caps how many records one create request carries
	// (default: DefaultMaxBatchSize)
	MaxBatchSize int
	// MaxConcurrentBatches caps how many batch requests are in flight at
	// once. Zero dispatches all batches concurrently.
	MaxConcurrentBatches int
	// RetryMax is the maximum number of retries (default: 3)
	RetryMax int
	// Timeout is the HTTP client timeout (default: 30 seconds)
	Timeout time.Duration
	// Logger receives debug request traces (default: slog.Default())
	Logger *slog.Logger
}

// Client is the Visum API client
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	logger     *slog.Logger
	creds      credentials

	maxBatchSize         int
	maxConcurrentBatches int

	// Records operates on the records collection.
	Records *RecordsService
}

// NewClient creates a new Visum API client with default settings
func NewClient(apiKey string) *Client {
	return NewClientWithOptions(ClientOptions{
		APIKey:  apiKey,
		BaseURL: DefaultBaseURL,
	})
}

// NewClientWithBaseURL creates a new Visum API client with a custom base URL
func NewClientWithBaseURL(baseURL, apiKey string) *Client {
	return NewClientWithOptions(ClientOptions{
		APIKey:  apiKey,
		BaseURL: baseURL,
	})
}

// NewClientWithOptions creates a new Visum API client with custom options
func NewClientWithOptions(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	// Normalize base URL - remove trailing slash and any /v2 suffix
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/v2")

	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil // Disable logging by default

	c := &Client{
		baseURL:              opts.BaseURL,
		httpClient:           retryClient,
		logger:               opts.Logger,
		maxBatchSize:         opts.MaxBatchSize,
		maxConcurrentBatches: opts.MaxConcurrentBatches,
	}

	switch {
	case opts.APIKey != "":
		c.creds = &staticKey{key: opts.APIKey}
	case opts.ClientID != "" || opts.ClientSecret != "":
		c.creds = newTokenSource(opts.ClientID, opts.ClientSecret, c)
	default:
		// No credentials configured; requests go out unauthenticated and
		// the service answers with 401.
		c.creds = anonymous{}
	}

	c.Records = &RecordsService{client: c}

	return c
}

// v2URL returns the v2 API base URL
func (c *Client) v2URL() string {
	return c.baseURL + "/v2"
}

// apiURL joins a path and optional query onto the versioned base URL.
func (c *Client) apiURL(path string, query url.Values) string {
	reqURL := c.v2URL() + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	return reqURL
}

// recordPath returns the resource path for a single record.
func recordPath(id string) string {
	return recordsPath + "/" + url.PathEscape(id)
}

// do executes one authenticated API call. A non-nil body is marshalled to
// JSON; a 2xx response is decoded into out when out is non-nil. Any other
// status becomes an *APIError carrying the raw response body. Transport
// failures are returned wrapped but otherwise unmodified.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	reqURL := c.apiURL(path, query)

	status, respBody, err := c.roundTrip(ctx, method, reqURL, payload)
	if err != nil {
		return err
	}

	// One forced refresh when the service stops accepting the current token.
	if status == http.StatusUnauthorized && c.creds.refreshable() {
		c.creds.invalidate()
		status, respBody, err = c.roundTrip(ctx, method, reqURL, payload)
		if err != nil {
			return err
		}
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return newAPIError(status, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// roundTrip performs a single request attempt: build, authorize, execute,
// read. The response body is always fully read and closed.
func (c *Client) roundTrip(ctx context.Context, method, reqURL string, payload []byte) (int, []byte, error) {
	var rawBody any
	if payload != nil {
		rawBody = payload
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, reqURL, rawBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.Must(uuid.NewV7()).String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	if err := c.creds.authorize(ctx, req); err != nil {
		return 0, nil, fmt.Errorf("failed to authorize request: %w", err)
	}

	c.logger.DebugContext(ctx, "Sending API request",
		"method", method,
		"url", reqURL,
		"request_id", requestID,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
