package webhook

import (
	"github.com/luoliAsyns/Gateway/pkg/order"
)

// EventCode is the numeric discriminator carried in the webhook query
// string (historically named "aopic" by the platform A relay). One value
// per {platform × action}.
type EventCode int

const (
	EventTaobaoTradePaid      EventCode = 1
	EventTaobaoRefundCreated  EventCode = 4
	EventGoofishTradePaid     EventCode = 11
	EventGoofishRefundCreated EventCode = 14
)

// Kind is the business action a webhook announces.
type Kind int

const (
	KindTradePaid Kind = iota + 1
	KindRefundCreated
)

// Payload is the tagged union of validated webhook payloads. Handlers
// switch on the concrete type; untyped maps never cross this boundary.
type Payload interface {
	Platform() order.Platform
	Kind() Kind
	TID() string
}

// TradePaid is a validated buyer-payment notification.
type TradePaid struct {
	FromPlatform order.Platform
	Tid          string
	SellerID     string
	SellerNick   string
	Payment      string
	Status       string
}

func (p *TradePaid) Platform() order.Platform { return p.FromPlatform }
func (p *TradePaid) Kind() Kind               { return KindTradePaid }
func (p *TradePaid) TID() string              { return p.Tid }

// Seller prefers the stable numeric id; nicks are mutable on both platforms.
func (p *TradePaid) Seller() string {
	if p.SellerID != "" {
		return p.SellerID
	}
	return p.SellerNick
}

// RefundCreated is a validated refund-creation notification.
type RefundCreated struct {
	FromPlatform order.Platform
	Tid          string
	RefundStatus string
	Payment      string
}

func (p *RefundCreated) Platform() order.Platform { return p.FromPlatform }
func (p *RefundCreated) Kind() Kind               { return KindRefundCreated }
func (p *RefundCreated) TID() string              { return p.Tid }
