// Package notify hands notifications to the external delivery system.
// Delivery is best effort and never blocks or fails frame processing.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

const defaultSendTimeout = 5 * time.Second

// Dispatcher sends notifications in the background. Errors are logged and
// dropped.
type Dispatcher struct {
	n       Notifier
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(n Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{n: n, logger: logger, timeout: defaultSendTimeout}
}

func (d *Dispatcher) Fire(n types.Notification) {
	if d == nil || d.n == nil || len(n.UserIDs) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notifier panic", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.n.Notify(ctx, n); err != nil {
			d.logger.Warn("notification failed", "subject", n.Subject, "recipients", len(n.UserIDs), "err", err)
		}
	}()
}

// Wait blocks until every fired notification has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// WebhookNotifier POSTs each notification as JSON to URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Client: &http.Client{Timeout: defaultSendTimeout}}
}

type webhookPayload struct {
	UserIDs  []string          `json:"user_ids"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, n types.Notification) error {
	b, err := json.Marshal(webhookPayload(n))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes notifications to the log. Used when no webhook is set.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n types.Notification) error {
	l.Logger.Info("notification", "subject", n.Subject, "recipients", n.UserIDs, "meta", n.Metadata)
	return nil
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []types.Notification
}

func (r *Recorder) Notify(_ context.Context, n types.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *Recorder) Sent() []types.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Notification(nil), r.sent...)
}
