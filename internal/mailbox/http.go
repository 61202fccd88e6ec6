package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"mailflow-go/internal/config"
	"mailflow-go/internal/model"
)

const (
	defaultBackoff = 500 * time.Millisecond
	maxBackoff     = 16 * time.Second
)

// HTTPClient talks to the upstream provider's paginated REST API.
// Transient errors (429/5xx) are retried with exponential backoff and
// jitter as long as the context deadline can absorb the sleep; once it
// cannot, the call fails with a RateLimitedError so the caller can
// checkpoint instead of blocking.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// NewHTTPClient creates a provider client. When token credentials are
// configured, requests carry an OAuth2 bearer token refreshed on demand.
func NewHTTPClient(cfg *config.MailboxConfig, maxRetries int) *HTTPClient {
	base := &http.Client{Timeout: 30 * time.Second}

	if cfg.RefreshToken != "" {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		}
		token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
		base = oauth2.NewClient(
			context.WithValue(context.Background(), oauth2.HTTPClient, base),
			oauthCfg.TokenSource(context.Background(), token),
		)
		base.Timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		httpClient: base,
		maxRetries: maxRetries,
	}
}

type listResponse struct {
	Records       []Message `json:"records"`
	NextPageToken string    `json:"nextPageToken"`
}

// ListMessages fetches one page of a folder
func (c *HTTPClient) ListMessages(ctx context.Context, folder model.Folder, limit int, pageToken string) (*Page, error) {
	q := url.Values{}
	q.Set("folder", string(folder))
	q.Set("limit", strconv.Itoa(limit))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	body, err := c.doWithRetry(ctx, c.baseURL+"/messages?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode message list: %w", err)
	}

	return &Page{Records: resp.Records, NextPageToken: resp.NextPageToken}, nil
}

// GetMessage fetches a single message by id
func (c *HTTPClient) GetMessage(ctx context.Context, id string) (*Message, error) {
	body, err := c.doWithRetry(ctx, c.baseURL+"/messages/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// Close closes the HTTP client
func (c *HTTPClient) Close() error {
	return nil
}

// doWithRetry performs a GET with bounded retries on transient errors
func (c *HTTPClient) doWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	backoff := defaultBackoff

	for attempt := 0; ; attempt++ {
		body, retryable, wait, err := c.doOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		if !retryable || attempt >= c.maxRetries {
			return nil, err
		}

		sleep := backoff
		if wait > 0 {
			// Retry-After overrides our own schedule
			sleep = wait
		}
		// jitter: 50-100% of the nominal delay
		sleep = sleep/2 + time.Duration(rand.Int63n(int64(sleep/2)+1))

		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < sleep {
			return nil, &RateLimitedError{Delay: sleep}
		}

		logrus.Warnf("Transient upstream error, retrying in %s: %v", sleep, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// doOnce performs a single request. It reports whether the failure is
// retryable and any Retry-After duration the provider demanded.
func (c *HTTPClient) doOnce(ctx context.Context, rawURL string) ([]byte, bool, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, 0, ctx.Err()
		}
		return nil, true, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, 0, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, 0, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, false, 0, ErrAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, parseRetryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("upstream rate limit (429)")
	case resp.StatusCode >= 500:
		return nil, true, 0, fmt.Errorf("upstream server error (%d)", resp.StatusCode)
	default:
		return nil, false, 0, fmt.Errorf("upstream error (%d): %s", resp.StatusCode, string(body))
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
