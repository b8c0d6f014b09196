// Package upstream fetches fresh trade detail from the marketplace relays.
// Webhook payloads are thin; the authoritative item list, payment and seller
// identity come from these APIs.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/luoliAsyns/Gateway/pkg/order"
)

// ErrNoAccessToken means the relay credentials for the platform are not
// configured. Callers alert the operators; without a token every trade on
// that platform is unfetchable.
var ErrNoAccessToken = errors.New("upstream: no access token configured")

// Fetcher retrieves the full trade detail for one transaction id.
type Fetcher interface {
	TradeInfo(ctx context.Context, tid string) (*order.Trade, error)
}

// text tolerates upstream fields that arrive either as JSON strings or as
// bare numbers, depending on relay version.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = text(n.String())
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON issues one authorized relay call and decodes the response body.
func postJSON(ctx context.Context, hc *http.Client, url, token string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("upstream: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream: relay returned %s", resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("upstream: decode response: %w", err)
	}
	return nil
}
