package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/luoliAsyns/Gateway/pkg/config"
	"github.com/luoliAsyns/Gateway/pkg/order"
)

// GoofishClient fetches trade detail from the goofish relay. Goofish sellers
// are identified by numeric id, not nick, and the item list is flat.
type GoofishClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewGoofish(cfg config.PlatformConfig) *GoofishClient {
	return &GoofishClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		http:    newHTTPClient(),
	}
}

type goofishResponse struct {
	IsSuccess bool         `json:"IsSuccess"`
	ErrMsg    string       `json:"ErrMsg"`
	Data      goofishTrade `json:"Data"`
}

type goofishTrade struct {
	Tid      text          `json:"tid"`
	SellerID text          `json:"seller_id"`
	Payment  string        `json:"payment"`
	Status   string        `json:"status"`
	Items    []goofishItem `json:"items"`
}

type goofishItem struct {
	SkuID text   `json:"sku_id"`
	Title string `json:"title"`
	Price string `json:"price"`
	Num   int    `json:"num"`
}

func (c *GoofishClient) TradeInfo(ctx context.Context, tid string) (*order.Trade, error) {
	if c.token == "" {
		return nil, ErrNoAccessToken
	}

	var resp goofishResponse
	body := map[string]string{"tid": tid}
	if err := postJSON(ctx, c.http, c.baseURL+"/idle/Trade/TradeInfoGet", c.token, body, &resp); err != nil {
		return nil, fmt.Errorf("goofish trade %s: %w", tid, err)
	}
	if !resp.IsSuccess {
		return nil, fmt.Errorf("goofish trade %s: relay: %s", tid, resp.ErrMsg)
	}

	t := &order.Trade{
		FromPlatform: order.PlatformGoofish,
		Tid:          string(resp.Data.Tid),
		SellerID:     string(resp.Data.SellerID),
		Payment:      resp.Data.Payment,
		Status:       resp.Data.Status,
	}
	for _, it := range resp.Data.Items {
		t.Items = append(t.Items, order.Item{
			SkuID: string(it.SkuID),
			Title: it.Title,
			Price: it.Price,
			Num:   it.Num,
		})
	}
	return t, nil
}
