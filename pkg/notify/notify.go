// Package notify sends short text alerts to the operators' webhook. Alerts
// are best-effort: a failed delivery is logged and never propagates into the
// request path that raised it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/luoliAsyns/Gateway/pkg/order"
)

// Notifier delivers one text alert to the operators.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Webhook posts alerts to the configured ops endpoint, mentioning the
// configured users.
type Webhook struct {
	endpoint string
	users    []string
	service  string
	http     *http.Client
	log      *slog.Logger
}

func NewWebhook(endpoint string, users []string, service string, log *slog.Logger) *Webhook {
	return &Webhook{
		endpoint: endpoint,
		users:    users,
		service:  service,
		http:     &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

func (w *Webhook) Notify(ctx context.Context, text string) {
	if w.endpoint == "" {
		return
	}

	body, err := json.Marshal(map[string]any{
		"msgtype": "text",
		"text": map[string]any{
			"content":        fmt.Sprintf("[%s] %s", w.service, text),
			"mentioned_list": w.users,
		},
	})
	if err != nil {
		w.log.Error("notify: encode alert", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		w.log.Error("notify: build request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		w.log.Error("notify: deliver alert", "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		w.log.Error("notify: ops webhook rejected alert", "status", resp.Status)
	}
}

// OrderContext formats the order fields operators need to chase a failed
// trade by hand.
func OrderContext(platform order.Platform, tid, payment, shop, status string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "platform=%s tid=%s", platform, tid)
	if payment != "" {
		fmt.Fprintf(&b, " payment=%s", payment)
	}
	if shop != "" {
		fmt.Fprintf(&b, " shop=%s", shop)
	}
	if status != "" {
		fmt.Fprintf(&b, " status=%s", status)
	}
	return b.String()
}

// Noop discards alerts. Used in tests and when no endpoint is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string) {}
