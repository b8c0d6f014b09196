// Package partner talks to the chago tea-shop chain: compensating refunds,
// order lookups and the region/branch listings. Authentication rides on a
// captured app login that operators paste in; the account is cached in redis
// until it expires.
package partner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luoliAsyns/Gateway/pkg/webhook"
)

const (
	accountKey = "chago.token"
	accountTTL = 6 * time.Hour
)

// ErrNoAccount means no captured login is cached; partner calls cannot be
// authorized until operators submit a fresh one.
var ErrNoAccount = errors.New("partner: no chago account cached")

// Account is one captured chago app login.
type Account struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *Account) Expired() bool {
	return !a.ExpiresAt.IsZero() && time.Now().After(a.ExpiresAt)
}

// ParseCapturedLogin extracts the account from a captured login response.
// Captures arrive with capture-tool noise around the JSON, so the body runs
// through the same first-object extraction the webhooks use. The token's
// expiry is read from its JWT payload segment.
func ParseCapturedLogin(raw []byte) (*Account, error) {
	body, err := webhook.DecodeBody(raw)
	if err != nil {
		return nil, fmt.Errorf("partner: captured login: %w", err)
	}

	var capture struct {
		Data struct {
			Token  string      `json:"token"`
			UserID json.Number `json:"userId"`
			Phone  string      `json:"phone"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &capture); err != nil {
		return nil, fmt.Errorf("partner: captured login: %w", err)
	}
	if capture.Data.Token == "" {
		return nil, errors.New("partner: captured login has no token")
	}
	if capture.Data.Phone == "" {
		return nil, errors.New("partner: captured login has no phone")
	}

	exp, err := tokenExpiry(capture.Data.Token)
	if err != nil {
		return nil, err
	}
	return &Account{
		Token:     capture.Data.Token,
		UserID:    capture.Data.UserID.String(),
		Phone:     capture.Data.Phone,
		ExpiresAt: exp,
	}, nil
}

// tokenExpiry decodes the JWT payload segment and reads the exp claim. The
// token is not verified; only the partner's servers hold the signing key.
func tokenExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, errors.New("partner: token is not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("partner: decode token payload: %w", err)
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("partner: parse token payload: %w", err)
	}
	if claims.Exp == 0 {
		return time.Time{}, nil
	}
	return time.Unix(claims.Exp, 0), nil
}

// AccountCache keeps the captured account in redis so every instance shares
// one login.
type AccountCache struct {
	client redis.Cmdable
}

func NewAccountCache(client redis.Cmdable) *AccountCache {
	return &AccountCache{client: client}
}

// Save caches the account for six hours, shortened to the token expiry when
// that comes first.
func (c *AccountCache) Save(ctx context.Context, a *Account) error {
	ttl := accountTTL
	if !a.ExpiresAt.IsZero() {
		if until := time.Until(a.ExpiresAt); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return errors.New("partner: captured login already expired")
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("partner: encode account: %w", err)
	}
	if err := c.client.Set(ctx, accountKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("partner: cache account: %w", err)
	}
	return nil
}

func (c *AccountCache) Load(ctx context.Context) (*Account, error) {
	data, err := c.client.Get(ctx, accountKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("partner: load account: %w", err)
	}
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("partner: decode cached account: %w", err)
	}
	if a.Expired() {
		return nil, ErrNoAccount
	}
	return &a, nil
}
