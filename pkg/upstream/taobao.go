package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/luoliAsyns/Gateway/pkg/config"
	"github.com/luoliAsyns/Gateway/pkg/order"
)

// TaobaoClient fetches trade detail through the Agiso relay.
type TaobaoClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewTaobao(cfg config.PlatformConfig) *TaobaoClient {
	return &TaobaoClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		http:    newHTTPClient(),
	}
}

// Relay wire shapes. The relay wraps the marketplace response and nests the
// line items one level deeper than the goofish relay does.
type taobaoResponse struct {
	IsSuccess bool        `json:"IsSuccess"`
	ErrMsg    string      `json:"ErrMsg"`
	Data      taobaoTrade `json:"Data"`
}

type taobaoTrade struct {
	Tid        text   `json:"tid"`
	Payment    string `json:"payment"`
	Status     string `json:"status"`
	SellerNick string `json:"seller_nick"`
	Orders     struct {
		Order []taobaoItem `json:"order"`
	} `json:"orders"`
}

type taobaoItem struct {
	SkuID text   `json:"sku_id"`
	Title string `json:"title"`
	Price string `json:"price"`
	Num   int    `json:"num"`
}

func (c *TaobaoClient) TradeInfo(ctx context.Context, tid string) (*order.Trade, error) {
	if c.token == "" {
		return nil, ErrNoAccessToken
	}

	var resp taobaoResponse
	body := map[string]string{"tid": tid}
	if err := postJSON(ctx, c.http, c.baseURL+"/alds/Trade/TradeFullinfoGet", c.token, body, &resp); err != nil {
		return nil, fmt.Errorf("taobao trade %s: %w", tid, err)
	}
	if !resp.IsSuccess {
		return nil, fmt.Errorf("taobao trade %s: relay: %s", tid, resp.ErrMsg)
	}

	t := &order.Trade{
		FromPlatform: order.PlatformTaobao,
		Tid:          string(resp.Data.Tid),
		SellerNick:   resp.Data.SellerNick,
		Payment:      resp.Data.Payment,
		Status:       resp.Data.Status,
	}
	for _, it := range resp.Data.Orders.Order {
		t.Items = append(t.Items, order.Item{
			SkuID: string(it.SkuID),
			Title: it.Title,
			Price: it.Price,
			Num:   it.Num,
		})
	}
	return t, nil
}
