package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// webhookQueueSize is the bounded channel capacity for outbound entries.
const webhookQueueSize = 1024

// Webhook posts audit entries to an external HTTP endpoint. Entries are
// queued without blocking and sent by a background goroutine; a full queue
// drops the entry.
type Webhook struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration

	mu      sync.RWMutex
	closed  bool
	entries chan Entry
	wg      sync.WaitGroup
}

var _ Sink = (*Webhook)(nil)

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookClient replaces the default HTTP client (10s timeout).
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.client = c
	}
}

// WithWebhookLogger sets the logger for delivery failures.
func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		w.logger = logger
	}
}

// WithRetryDelay sets the pause before the single retry. Default: 1s.
func WithRetryDelay(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.retryDelay = d
	}
}

// NewWebhook starts a dispatcher posting to url. authHeader, when set, is a
// "Name: value" pair added to every request.
func NewWebhook(url, authHeader string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		retryDelay: time.Second,
		entries:    make(chan Entry, webhookQueueSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Record queues entry for delivery. It never blocks and drops entries
// after Close.
func (w *Webhook) Record(_ context.Context, entry Entry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit webhook queue full, dropping entry", "event", entry.Event)
	}
}

// Close stops accepting entries and waits for queued ones to be sent.
func (w *Webhook) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Webhook) loop() {
	defer w.wg.Done()
	for e := range w.entries {
		w.send(e)
	}
}

// send POSTs the entry, retrying once on a transport error or 5xx.
func (w *Webhook) send(e Entry) {
	body, err := json.Marshal(e)
	if err != nil {
		w.logger.Warn("audit webhook marshal failed", "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("audit webhook request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "pagelock-audit-webhook/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("audit webhook request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("audit webhook server error", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		default:
			w.logger.Warn("audit webhook rejected entry", "status", resp.StatusCode)
			return
		}
	}
}
