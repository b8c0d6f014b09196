// Package order defines the canonical order shape produced by the gateway
// and the normalization from upstream trade payloads.
package order

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by stores when no order matches (platform, tid).
var ErrNotFound = errors.New("order not found")

// Platform identifies the upstream marketplace an order was placed on.
type Platform string

const (
	PlatformTaobao  Platform = "taobao"
	PlatformGoofish Platform = "goofish"
)

// TargetPartner is the fulfillment partner an order is routed to, resolved
// from the SKU mapping table.
type TargetPartner string

const (
	// TargetPartnerUnmapped is the sentinel for SKUs that are registered
	// but carry no usable partner mapping.
	TargetPartnerUnmapped TargetPartner = "unmapped"
	TargetPartnerChago    TargetPartner = "chago"
)

// ParseTargetPartner parses a mapping-table value, ignoring case and inner
// spaces. The second return is false when the value names no known partner.
func ParseTargetPartner(s string) (TargetPartner, bool) {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	switch TargetPartner(s) {
	case TargetPartnerChago:
		return TargetPartnerChago, true
	case TargetPartnerUnmapped:
		return TargetPartnerUnmapped, true
	}
	return TargetPartnerUnmapped, false
}

// Item is one raw line item as reported by the upstream platform. Amounts
// are decimal strings exactly as the platform sent them; the gateway never
// does arithmetic on them.
type Item struct {
	SkuID string `json:"sku_id"`
	Title string `json:"title"`
	Price string `json:"price"`
	Num   int    `json:"num"`
}

// Order is the canonical order published to the ingestion queue.
// (FromPlatform, Tid) uniquely identifies an order.
type Order struct {
	FromPlatform Platform      `json:"from_platform"`
	Tid          string        `json:"tid"`
	SellerID     string        `json:"seller_id"`
	SellerNick   string        `json:"seller_nick"`
	Payment      string        `json:"payment"`
	Status       string        `json:"status"`
	Target       TargetPartner `json:"target_partner"`
	Items        []Item        `json:"items"`
}

// Seller returns the stable seller identity: the numeric seller id when
// the platform provides one, otherwise the display nick. Goofish display
// names are user-editable, so the id wins there.
func (o *Order) Seller() string {
	if o.SellerID != "" {
		return o.SellerID
	}
	return o.SellerNick
}
