package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// errPermanent marks a response that retrying cannot fix.
var errPermanent = errors.New("webhook: rejected")

// Webhook POSTs each outcome as JSON. Transport errors, 429 and 5xx
// responses are retried with doubling delays; other 4xx responses are not.
// The run ID is sent as Idempotency-Key so a receiver can drop replays.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a failed POST is repeated. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.retries = n }
}

// WithWebhookBackoff sets the delay before the first retry. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.delay = d }
}

func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		delay:   time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) SendOutcome(ctx context.Context, o Outcome) error {
	body, err := json.Marshal(envelope{Type: "outcome", Data: o})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	delay := w.delay
	for attempt := 0; ; attempt++ {
		err = w.post(ctx, o.RunID, body)
		if err == nil || errors.Is(err, errPermanent) {
			return err
		}
		if attempt == w.retries {
			return fmt.Errorf("webhook: giving up after %d attempts: %w", attempt+1, err)
		}
		w.logger.Warn("webhook: post failed, retrying",
			"run_id", o.RunID, "attempt", attempt+1, "in", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

func (w *Webhook) Close() error { return nil }

func (w *Webhook) post(ctx context.Context, runID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if runID != "" {
		req.Header.Set("Idempotency-Key", runID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}
