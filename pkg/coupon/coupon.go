// Package coupon holds the redemption-coupon model and the refund
// reconciliation state machine. Coupon lifecycle is owned by the remote
// store; this package only reads statuses and requests transitions.
package coupon

import (
	"errors"
	"fmt"

	"github.com/luoliAsyns/Gateway/pkg/order"
)

// Status is the coupon lifecycle state as reported by the store.
type Status uint8

const (
	StatusGenerated Status = iota + 1
	StatusShipped
	StatusConsumed
	StatusInvalidated
)

func (s Status) String() string {
	switch s {
	case StatusGenerated:
		return "generated"
	case StatusShipped:
		return "shipped"
	case StatusConsumed:
		return "consumed"
	case StatusInvalidated:
		return "invalidated"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Event tags a coupon update with the business action that caused it.
type Event string

const (
	// EventPartnerRefund records a confirmed compensating refund at the
	// fulfillment partner.
	EventPartnerRefund Event = "partner-refund"
	// EventPartnerQuery records a partner-reported payment sync.
	EventPartnerQuery Event = "partner-query"
	// EventProxyRefund records a manual partner refund issued by an
	// operator on the coupon holder's behalf.
	EventProxyRefund Event = "proxy-refund"
)

// Coupon is one redemption code. Exactly one coupon exists per order.
type Coupon struct {
	Code           string         `json:"coupon"`
	FromPlatform   order.Platform `json:"external_order_from_platform"`
	Tid            string         `json:"external_order_tid"`
	Status         Status         `json:"status"`
	PartnerOrderID string         `json:"partner_order_id"`
	PartnerPayment string         `json:"partner_payment"`
}

// ErrNotFound is returned by stores when no coupon matches.
var ErrNotFound = errors.New("coupon not found")

// ConflictError reports a rejected status transition, typically because
// the coupon was consumed concurrently.
type ConflictError struct {
	Current Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transition rejected, coupon status is %s", e.Current)
}
