// Package fitbit talks to the Fitbit Web API: OAuth grants and the per-domain daily read endpoints.
package fitbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client issues Bearer-authenticated reads against the Fitbit Web API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithLogger overrides the logger used to report upstream failures.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient constructs a Client rooted at baseURL (e.g. https://api.fitbit.com).
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[fitbit] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activity fetches the daily activity summary for date.
func (c *Client) Activity(ctx context.Context, accessToken, date string) (*ActivityResponse, json.RawMessage, error) {
	var out ActivityResponse
	raw, err := c.getJSON(ctx, accessToken, fmt.Sprintf("/1/user/-/activities/date/%s.json", date), &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, raw, nil
}

// Sleep fetches the sleep logs that ended on date.
func (c *Client) Sleep(ctx context.Context, accessToken, date string) (*SleepResponse, json.RawMessage, error) {
	var out SleepResponse
	raw, err := c.getJSON(ctx, accessToken, fmt.Sprintf("/1.2/user/-/sleep/date/%s.json", date), &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, raw, nil
}

// HeartRate fetches the one-day heart rate summary for date.
func (c *Client) HeartRate(ctx context.Context, accessToken, date string) (*HeartRateResponse, json.RawMessage, error) {
	var out HeartRateResponse
	raw, err := c.getJSON(ctx, accessToken, fmt.Sprintf("/1/user/-/activities/heart/date/%s/1d.json", date), &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, raw, nil
}

// WeightLogs fetches weight log entries in the window ending on date, e.g. period "30d".
func (c *Client) WeightLogs(ctx context.Context, accessToken, date, period string) (*WeightResponse, json.RawMessage, error) {
	var out WeightResponse
	raw, err := c.getJSON(ctx, accessToken, fmt.Sprintf("/1/user/-/body/log/weight/date/%s/%s.json", date, period), &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, raw, nil
}

// CardioScore fetches the VO2max estimate for date.
func (c *Client) CardioScore(ctx context.Context, accessToken, date string) (*CardioScoreResponse, json.RawMessage, error) {
	var out CardioScoreResponse
	raw, err := c.getJSON(ctx, accessToken, fmt.Sprintf("/1/user/-/cardioscore/date/%s.json", date), &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, raw, nil
}

// SpO2 fetches the sleep-time SpO2 summary for date.
func (c *Client) SpO2(ctx context.Context, accessToken, date string) (*SpO2Response, json.RawMessage, error) {
	var out SpO2Response
	raw, err := c.getJSON(ctx, accessToken, fmt.Sprintf("/1/user/-/spo2/date/%s.json", date), &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, raw, nil
}

func (c *Client) getJSON(ctx context.Context, accessToken, path string, out interface{}) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fitbit request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fitbit read %s: %w", path, err)
	}

	if resp.StatusCode >= 300 {
		c.logger.Printf("GET %s returned %d", path, resp.StatusCode)
		return nil, &APIError{Status: resp.StatusCode, Path: path, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("fitbit decode %s: %w", path, err)
	}
	return json.RawMessage(body), nil
}

// APIError represents a non-successful Fitbit API response.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fitbit api error %d on %s: %s", e.Status, e.Path, e.Body)
}
