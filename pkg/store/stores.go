package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/luoliAsyns/Gateway/pkg/coupon"
	"github.com/luoliAsyns/Gateway/pkg/order"
)

// Orders reads and updates external orders held by the asyns service.
type Orders struct {
	c *Client
}

func NewOrders(c *Client) *Orders { return &Orders{c: c} }

func (s *Orders) Get(ctx context.Context, platform order.Platform, tid string) (*order.Order, error) {
	q := url.Values{}
	q.Set("from_platform", string(platform))
	q.Set("tid", tid)

	env, err := s.c.call(ctx, http.MethodGet, "/external-order", q, nil)
	if err != nil {
		return nil, err
	}
	switch env.Code {
	case codeSuccess:
	case codeNotFound:
		return nil, order.ErrNotFound
	default:
		return nil, fmt.Errorf("asyns get order %s/%s: %s", platform, tid, env.Msg)
	}

	var o order.Order
	if err := json.Unmarshal(env.Data, &o); err != nil {
		return nil, fmt.Errorf("asyns get order %s/%s: decode: %w", platform, tid, err)
	}
	return &o, nil
}

// MarkRefundReceived records the refund event against the stored order.
func (s *Orders) MarkRefundReceived(ctx context.Context, o *order.Order) error {
	body := map[string]any{
		"external_order": o,
		"event":          "refund-received",
	}
	env, err := s.c.call(ctx, http.MethodPost, "/external-order/update", nil, body)
	if err != nil {
		return err
	}
	if env.Code != codeSuccess {
		return fmt.Errorf("asyns update order %s/%s: %s", o.FromPlatform, o.Tid, env.Msg)
	}
	return nil
}

// Coupons reads and updates coupons held by the asyns service.
type Coupons struct {
	c *Client
}

func NewCoupons(c *Client) *Coupons { return &Coupons{c: c} }

func (s *Coupons) QueryByOrder(ctx context.Context, platform order.Platform, tid string) (*coupon.Coupon, error) {
	q := url.Values{}
	q.Set("from_platform", string(platform))
	q.Set("tid", tid)
	return s.query(ctx, q, string(platform)+"/"+tid)
}

// Query looks a coupon up by its code.
func (s *Coupons) Query(ctx context.Context, code string) (*coupon.Coupon, error) {
	q := url.Values{}
	q.Set("coupon", code)
	return s.query(ctx, q, code)
}

func (s *Coupons) query(ctx context.Context, q url.Values, what string) (*coupon.Coupon, error) {
	env, err := s.c.call(ctx, http.MethodGet, "/coupon", q, nil)
	if err != nil {
		return nil, err
	}
	switch env.Code {
	case codeSuccess:
	case codeNotFound:
		return nil, coupon.ErrNotFound
	default:
		return nil, fmt.Errorf("asyns query coupon %s: %s", what, env.Msg)
	}

	var c coupon.Coupon
	if err := json.Unmarshal(env.Data, &c); err != nil {
		return nil, fmt.Errorf("asyns query coupon %s: decode: %w", what, err)
	}
	return &c, nil
}

// Invalidate asks the service to invalidate a shipped coupon. The service
// rejects the transition when the coupon was consumed in the meantime; that
// surfaces as a coupon.ConflictError carrying the status it holds now.
func (s *Coupons) Invalidate(ctx context.Context, code string) error {
	body := map[string]any{"coupon": code}
	env, err := s.c.call(ctx, http.MethodPost, "/coupon/invalidate", nil, body)
	if err != nil {
		return err
	}
	switch env.Code {
	case codeSuccess:
		return nil
	case codeConflict:
		var current int
		if err := json.Unmarshal(env.Data, &current); err != nil {
			return fmt.Errorf("asyns invalidate coupon %s: conflict, unreadable status: %w", code, err)
		}
		return &coupon.ConflictError{Current: coupon.Status(current)}
	case codeNotFound:
		return coupon.ErrNotFound
	default:
		return fmt.Errorf("asyns invalidate coupon %s: %s", code, env.Msg)
	}
}

// Update writes the coupon back together with the event that changed it.
func (s *Coupons) Update(ctx context.Context, c *coupon.Coupon, ev coupon.Event) error {
	body := map[string]any{
		"coupon": c,
		"event":  string(ev),
	}
	env, err := s.c.call(ctx, http.MethodPost, "/coupon/update", nil, body)
	if err != nil {
		return err
	}
	if env.Code != codeSuccess {
		return fmt.Errorf("asyns update coupon %s: %s", c.Code, env.Msg)
	}
	return nil
}

// ConsumeInfo is one recorded redemption of a coupon at a partner outlet.
type ConsumeInfo struct {
	Coupon    string          `json:"coupon"`
	GoodsType string          `json:"goods_type"`
	Goods     json.RawMessage `json:"goods,omitempty"`
	Branch    string          `json:"branch,omitempty"`
	Remark    string          `json:"remark,omitempty"`
}

// ConsumeInfos reads past redemptions held by the asyns service.
type ConsumeInfos struct {
	c *Client
}

func NewConsumeInfos(c *Client) *ConsumeInfos { return &ConsumeInfos{c: c} }

// Query returns the stored redemption for the coupon and goods type, or
// coupon.ErrNotFound when the coupon was never redeemed.
func (s *ConsumeInfos) Query(ctx context.Context, goodsType, code string) (*ConsumeInfo, error) {
	q := url.Values{}
	q.Set("goods_type", goodsType)
	q.Set("coupon", code)

	env, err := s.c.call(ctx, http.MethodGet, "/consume-info", q, nil)
	if err != nil {
		return nil, err
	}
	switch env.Code {
	case codeSuccess:
	case codeNotFound:
		return nil, coupon.ErrNotFound
	default:
		return nil, fmt.Errorf("asyns query consume-info %s: %s", code, env.Msg)
	}

	var ci ConsumeInfo
	if err := json.Unmarshal(env.Data, &ci); err != nil {
		return nil, fmt.Errorf("asyns query consume-info %s: decode: %w", code, err)
	}
	return &ci, nil
}

// Users fronts the admin-user records held by the asyns service.
type Users struct {
	c *Client
}

func NewUsers(c *Client) *Users { return &Users{c: c} }

// Login checks the credentials. A wrong password is (false, nil), not an
// error; errors mean the check itself could not run.
func (s *Users) Login(ctx context.Context, username, password string) (bool, error) {
	body := map[string]any{"username": username, "password": password}
	env, err := s.c.call(ctx, http.MethodPost, "/user/login", nil, body)
	if err != nil {
		return false, err
	}
	switch env.Code {
	case codeSuccess:
		return true, nil
	case codeFail, codeNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("asyns login %s: %s", username, env.Msg)
	}
}

func (s *Users) ChangePassword(ctx context.Context, username, newPassword string) error {
	body := map[string]any{"username": username, "password": newPassword}
	env, err := s.c.call(ctx, http.MethodPost, "/user/change-password", nil, body)
	if err != nil {
		return err
	}
	if env.Code != codeSuccess {
		return fmt.Errorf("asyns change password %s: %s", username, env.Msg)
	}
	return nil
}

// Register creates a new admin user and returns the generated initial
// password.
func (s *Users) Register(ctx context.Context, username, phone string, gender int) (string, error) {
	body := map[string]any{
		"username": username,
		"phone":    phone,
		"gender":   strconv.Itoa(gender),
	}
	env, err := s.c.call(ctx, http.MethodPost, "/user/register", nil, body)
	if err != nil {
		return "", err
	}
	if env.Code != codeSuccess {
		return "", fmt.Errorf("asyns register %s: %s", username, env.Msg)
	}

	var pwd string
	if err := json.Unmarshal(env.Data, &pwd); err != nil {
		return "", fmt.Errorf("asyns register %s: decode: %w", username, err)
	}
	return pwd, nil
}
