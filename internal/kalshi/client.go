// Package kalshi implements a client for a Kalshi-style bracket exchange:
// REST market data (series, events, markets, candlesticks) and the
// WebSocket ticker feed. Prices are quoted in cents and converted to
// probabilities in [0, 1] at the adapter boundary.
package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultBaseURL     = "https://api.elections.kalshi.com/trade-api/v2"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	// DefaultRateLimit is the basic-tier read budget (requests per second).
	DefaultRateLimit = 10
)

// Client is a REST client for the exchange's trade API. Public market-data
// endpoints work unsigned; attach a Signer for authenticated access.
type Client struct {
	baseURL     string
	client      *http.Client
	limiter     *rate.Limiter
	signer      *Signer
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithRateLimit sets the client-side request budget in requests per second.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithSigner attaches request signing for authenticated endpoints.
func WithSigner(s *Signer) ClientOption {
	return func(c *Client) {
		c.signer = s
	}
}

// NewClient creates a new exchange REST client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the exchange's JSON error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Message)
}

// get performs a GET with rate limiting, retries and exponential backoff.
// path must start with "/" and excludes the base URL; query may be nil.
func (c *Client) get(ctx context.Context, path string, query url.Values, result interface{}) error {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.signer != nil {
			if err := c.signer.SignRequest(req); err != nil {
				return fmt.Errorf("sign request: %w", err)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			// Client errors are not retried
			var ae apiError
			if json.Unmarshal(respBody, &ae) == nil && ae.Code != "" {
				return &ae
			}
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		if result != nil {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetEvents retrieves events for a series, newest first per the API.
func (c *Client) GetEvents(ctx context.Context, seriesTicker string) ([]Event, error) {
	query := url.Values{}
	query.Set("series_ticker", seriesTicker)

	var result struct {
		Events []Event `json:"events"`
	}
	if err := c.get(ctx, "/events", query, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// GetEvent retrieves one event together with its markets.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (*Event, []Market, error) {
	var result struct {
		Event   Event    `json:"event"`
		Markets []Market `json:"markets"`
	}
	if err := c.get(ctx, "/events/"+eventTicker, nil, &result); err != nil {
		return nil, nil, err
	}
	return &result.Event, result.Markets, nil
}

// GetMarkets retrieves the markets of an event.
func (c *Client) GetMarkets(ctx context.Context, eventTicker string) ([]Market, error) {
	query := url.Values{}
	query.Set("event_ticker", eventTicker)

	var result struct {
		Markets []Market `json:"markets"`
	}
	if err := c.get(ctx, "/markets", query, &result); err != nil {
		return nil, err
	}
	return result.Markets, nil
}

// GetMarket retrieves a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (*Market, error) {
	var result struct {
		Market Market `json:"market"`
	}
	if err := c.get(ctx, "/markets/"+ticker, nil, &result); err != nil {
		return nil, err
	}
	return &result.Market, nil
}

// GetCandlesticks retrieves a market's candlesticks with end-period
// timestamps in [startTs, endTs] (inclusive, Unix seconds), one candle per
// periodIntervalMinutes.
func (c *Client) GetCandlesticks(ctx context.Context, seriesTicker, marketTicker string, startTs, endTs int64, periodIntervalMinutes int) ([]Candlestick, error) {
	query := url.Values{}
	query.Set("start_ts", strconv.FormatInt(startTs, 10))
	query.Set("end_ts", strconv.FormatInt(endTs, 10))
	query.Set("period_interval", strconv.Itoa(periodIntervalMinutes))

	path := "/series/" + seriesTicker + "/markets/" + marketTicker + "/candlesticks"

	var result struct {
		Candlesticks []Candlestick `json:"candlesticks"`
	}
	if err := c.get(ctx, path, query, &result); err != nil {
		return nil, err
	}
	return result.Candlesticks, nil
}
