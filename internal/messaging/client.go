// Package messaging talks to the WhatsApp Cloud-style chat transport: text
// sends, media lookups and webhook payload parsing.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const (
	defaultBaseURL   = "https://graph.facebook.com/v21.0"
	defaultUserAgent = "clinic-concierge/0.1"
	maxMediaBytes    = 16 << 20
)

// Config controls how the transport client behaves.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	MaxRetries  int
	Backoff     time.Duration
	HTTPClient  *http.Client
	Logger      *logging.Logger
	UserAgent   string
}

// Client wraps the transport REST endpoints used by the concierge.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	userAgent  string
}

// Media describes a downloadable attachment.
type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("messaging: access token is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	delay := cfg.Backoff
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		token:      cfg.AccessToken,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    delay,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// SendText sends body to the recipient from the bot number identified by
// phoneNumberID and returns the provider message id.
func (c *Client) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	if strings.TrimSpace(phoneNumberID) == "" || strings.TrimSpace(to) == "" {
		return "", errors.New("messaging: sender and recipient required")
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("messaging: body required")
	}
	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": body, "preview_url": false},
	})
	if err != nil {
		return "", fmt.Errorf("messaging: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, c.baseURL+"/"+phoneNumberID+"/messages", payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("messaging: decode send response: %w", err)
	}
	if len(resp.Messages) == 0 {
		return "", nil
	}
	return resp.Messages[0].ID, nil
}

// ResolveMedia exchanges a media id for a short-lived download URL.
func (c *Client) ResolveMedia(ctx context.Context, mediaID string) (*Media, error) {
	if strings.TrimSpace(mediaID) == "" {
		return nil, errors.New("messaging: media id required")
	}
	data, err := c.invoke(ctx, http.MethodGet, c.baseURL+"/"+mediaID, nil)
	if err != nil {
		return nil, err
	}
	var media Media
	if err := json.Unmarshal(data, &media); err != nil {
		return nil, fmt.Errorf("messaging: decode media: %w", err)
	}
	if media.URL == "" {
		return nil, errors.New("messaging: media url missing")
	}
	return &media, nil
}

// Download fetches the bytes behind a media URL. The URL requires the same
// bearer token as the API.
func (c *Client) Download(ctx context.Context, mediaURL string) ([]byte, error) {
	data, err := c.invoke(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("messaging: media exceeds %d bytes", maxMediaBytes)
	}
	return data, nil
}

// FetchMedia resolves and downloads a media attachment.
func (c *Client) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	media, err := c.ResolveMedia(ctx, mediaID)
	if err != nil {
		return nil, "", err
	}
	data, err := c.Download(ctx, media.URL)
	if err != nil {
		return nil, "", err
	}
	return data, media.MimeType, nil
}

// invoke runs one API call, retrying transport failures, 429s and 5xx with
// exponential backoff.
func (c *Client) invoke(ctx context.Context, method, fullURL string, body []byte) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.backoff
	policy.MaxInterval = 16 * c.backoff

	attempt := 0
	return backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		data, retryable, err := c.do(ctx, method, fullURL, body)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if !retryable {
			return nil, backoff.Permanent(err)
		}
		if attempt <= c.maxRetries {
			c.logRetry(method, attempt, err)
		}
		return nil, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(c.maxRetries+1)))
}

func (c *Client) do(ctx context.Context, method, fullURL string, body []byte) ([]byte, bool, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, false, fmt.Errorf("messaging: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, shouldRetry(0, err), fmt.Errorf("messaging: http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, false, fmt.Errorf("messaging: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, false, nil
	}
	return nil, shouldRetry(resp.StatusCode, nil), decodeAPIError(resp.StatusCode, data)
}

func (c *Client) logRetry(method string, attempt int, err error) {
	c.logger.Warn("transport retry", "method", method, "attempt", attempt, "error", err)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// APIError is a non-2xx response from the transport.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message,omitempty"`
	Type       string `json:"type,omitempty"`
	Code       int    `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("messaging: %s (status=%d code=%d)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("messaging: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	parsed.Error.StatusCode = status
	return &parsed.Error
}
