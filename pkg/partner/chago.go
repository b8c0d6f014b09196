package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AccountSource provides the current partner login for outgoing calls.
type AccountSource interface {
	Load(ctx context.Context) (*Account, error)
}

// Client calls the chago ordering API with the cached account's token.
type Client struct {
	baseURL  string
	accounts AccountSource
	http     *http.Client
}

func NewClient(baseURL string, accounts AccountSource) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		accounts: accounts,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type chagoEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	account, err := c.accounts.Load(ctx)
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("partner: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("partner: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", account.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("partner: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env chagoEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("partner: decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("partner: %s %s: code %d: %s", method, path, env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("partner: decode data: %w", err)
		}
	}
	return nil
}

// Refund requests a compensating refund for the partner order. The returned
// string is the partner's human-readable result, recorded on the coupon.
func (c *Client) Refund(ctx context.Context, partnerOrderID string) (string, error) {
	var data struct {
		Result string `json:"result"`
	}
	body := map[string]string{"orderNo": partnerOrderID}
	if err := c.call(ctx, http.MethodPost, "/api/order/refund", nil, body, &data); err != nil {
		return "", fmt.Errorf("refund order %s: %w", partnerOrderID, err)
	}
	if data.Result == "" {
		data.Result = "refunded"
	}
	return data.Result, nil
}

// OrderInfo is the partner's view of one placed order.
type OrderInfo struct {
	OrderNo string `json:"orderNo"`
	Status  string `json:"status"`
	Payment string `json:"payAmount"`
	Branch  string `json:"shopName"`
}

func (c *Client) Order(ctx context.Context, orderNo string) (*OrderInfo, error) {
	q := url.Values{}
	q.Set("orderNo", orderNo)
	var info OrderInfo
	if err := c.call(ctx, http.MethodGet, "/api/order/detail", q, nil, &info); err != nil {
		return nil, fmt.Errorf("query order %s: %w", orderNo, err)
	}
	return &info, nil
}

// Region is one sales region in the partner's shop listing.
type Region struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Branch is one shop within a region.
type Branch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"cityName"`
}

func (c *Client) Regions(ctx context.Context) ([]Region, error) {
	var regions []Region
	if err := c.call(ctx, http.MethodGet, "/api/shop/regions", nil, nil, &regions); err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	return regions, nil
}

func (c *Client) Branches(ctx context.Context, regionID string) ([]Branch, error) {
	q := url.Values{}
	q.Set("regionId", regionID)
	var branches []Branch
	if err := c.call(ctx, http.MethodGet, "/api/shop/branches", q, nil, &branches); err != nil {
		return nil, fmt.Errorf("list branches in region %s: %w", regionID, err)
	}
	return branches, nil
}

// UserInfo returns the partner account profile, used by operators to check
// that the cached login still works.
func (c *Client) UserInfo(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := c.call(ctx, http.MethodGet, "/api/user/info", nil, nil, &info); err != nil {
		return nil, fmt.Errorf("query user info: %w", err)
	}
	return info, nil
}
