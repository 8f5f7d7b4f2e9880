// Package chat posts plain-text messages to an incoming-webhook chat channel.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

// Poster delivers one message and reports whether the channel accepted it.
type Poster interface {
	Post(ctx context.Context, text string) bool
}

// Webhook posts {"text": ...} to an incoming-webhook URL such as Slack's.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *log.Logger
}

// Option configures optional behaviour for the Webhook.
type Option func(*Webhook)

// WithLogger overrides the logger used to report delivery failures.
func WithLogger(logger *log.Logger) Option {
	return func(w *Webhook) {
		w.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(w *Webhook) {
		w.httpClient = httpClient
	}
}

// New returns a Webhook for url, or Noop when url is empty.
func New(url string, opts ...Option) Poster {
	if url == "" {
		return Noop{}
	}
	return NewWebhook(url, opts...)
}

// NewWebhook constructs a Webhook posting to url.
func NewWebhook(url string, opts ...Option) *Webhook {
	w := &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log.New(log.Writer(), "[chat] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Post sends text. Failures are logged and reported as false.
func (w *Webhook) Post(ctx context.Context, text string) bool {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		w.logger.Printf("encode message: %v", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Printf("build request: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Printf("post message: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		w.logger.Printf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return true
}

// Noop is the Poster used when no webhook is configured.
type Noop struct{}

// Post always reports false.
func (Noop) Post(context.Context, string) bool { return false }

// Configured reports whether p can deliver anything at all.
func Configured(p Poster) bool {
	switch p.(type) {
	case nil, Noop, *Noop:
		return false
	default:
		return true
	}
}
