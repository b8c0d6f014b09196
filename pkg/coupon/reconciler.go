package coupon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/luoliAsyns/Gateway/pkg/metrics"
	"github.com/luoliAsyns/Gateway/pkg/order"
)

// OrderStore is the slice of the external order service the reconciler
// needs.
type OrderStore interface {
	Get(ctx context.Context, platform order.Platform, tid string) (*order.Order, error)
	// MarkRefundReceived records the refund on the order's lifecycle.
	MarkRefundReceived(ctx context.Context, o *order.Order) error
}

// CouponStore is the slice of the remote coupon service the reconciler
// needs.
type CouponStore interface {
	QueryByOrder(ctx context.Context, platform order.Platform, tid string) (*Coupon, error)
	// Invalidate asks the store to void a shipped coupon. A concurrent
	// consume surfaces as *ConflictError.
	Invalidate(ctx context.Context, code string) error
	Update(ctx context.Context, c *Coupon, ev Event) error
}

// PartnerRefunder issues the compensating refund at a fulfillment partner.
type PartnerRefunder interface {
	Refund(ctx context.Context, partnerOrderID string) (string, error)
}

// OutcomeCode classifies what the reconciler did.
type OutcomeCode int

const (
	// OutcomeIgnored: the refund belongs to an unrelated product in the
	// same shop; acknowledged as a no-op.
	OutcomeIgnored OutcomeCode = iota + 1
	// OutcomeInvalidated: the unredeemed coupon was voided.
	OutcomeInvalidated
	// OutcomePartnerRefunded: the coupon was already redeemed and the
	// partner confirmed the compensating refund.
	OutcomePartnerRefunded
	// OutcomePartnerRefundFailed: the compensating call failed; recorded,
	// not propagated.
	OutcomePartnerRefundFailed
	// OutcomeNotApplicable: the coupon is in a state with no compensating
	// action (for example already invalidated).
	OutcomeNotApplicable
)

// Outcome is the recorded result of one refund reconciliation.
type Outcome struct {
	Code         OutcomeCode
	CouponStatus Status
	Detail       string
}

// Reconciler applies the refund state machine. It performs a read-modify
// sequence against the external store without a cross-store transaction;
// a concurrent redemption between the order update and the coupon branch
// is an expected error path.
type Reconciler struct {
	orders    OrderStore
	coupons   CouponStore
	refunders map[order.TargetPartner]PartnerRefunder
	counters  metrics.Recorder
	log       *slog.Logger
}

func NewReconciler(
	orders OrderStore,
	coupons CouponStore,
	refunders map[order.TargetPartner]PartnerRefunder,
	counters metrics.Recorder,
	log *slog.Logger,
) *Reconciler {
	return &Reconciler{
		orders:    orders,
		coupons:   coupons,
		refunders: refunders,
		counters:  counters,
		log:       log,
	}
}

// HandleRefund processes one validated refund notification.
func (r *Reconciler) HandleRefund(ctx context.Context, platform order.Platform, tid string) (Outcome, error) {
	o, err := r.orders.Get(ctx, platform, tid)
	if errors.Is(err, order.ErrNotFound) {
		// Unrelated product sharing the webhook stream.
		r.log.Info("refund for unknown order ignored", "platform", platform, "tid", tid)
		return Outcome{Code: OutcomeIgnored}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load order %s/%s: %w", platform, tid, err)
	}

	if err := r.orders.MarkRefundReceived(ctx, o); err != nil {
		return Outcome{}, fmt.Errorf("mark refund received %s/%s: %w", platform, tid, err)
	}

	// Counted as soon as the order-level acknowledgment lands, so refund
	// volume is tracked even when the coupon branch fails afterwards.
	r.counters.Inc(ctx, metrics.CounterRefundsReceived)

	c, err := r.coupons.QueryByOrder(ctx, platform, tid)
	if err != nil {
		return Outcome{}, fmt.Errorf("load coupon for %s/%s: %w", platform, tid, err)
	}

	switch c.Status {
	case StatusShipped:
		if err := r.coupons.Invalidate(ctx, c.Code); err != nil {
			return Outcome{}, fmt.Errorf("invalidate coupon %s: %w", c.Code, err)
		}
		r.log.Info("coupon invalidated after refund", "coupon", c.Code, "tid", tid)
		return Outcome{Code: OutcomeInvalidated, CouponStatus: StatusInvalidated}, nil

	case StatusConsumed:
		return r.compensate(ctx, o, c), nil

	default:
		return Outcome{
			Code:         OutcomeNotApplicable,
			CouponStatus: c.Status,
			Detail:       fmt.Sprintf("not applicable, status %s", c.Status),
		}, nil
	}
}

// compensate calls the partner's refund API for an already-redeemed coupon.
// Failures here are recorded outcomes, never errors: the order-level refund
// acknowledgment already succeeded and must not be blocked.
func (r *Reconciler) compensate(ctx context.Context, o *order.Order, c *Coupon) Outcome {
	refunder, ok := r.refunders[o.Target]
	if !ok {
		r.log.Error("no fulfillment client for partner", "partner", o.Target, "coupon", c.Code)
		return Outcome{
			Code:         OutcomePartnerRefundFailed,
			CouponStatus: c.Status,
			Detail:       fmt.Sprintf("no fulfillment client for partner %s", o.Target),
		}
	}

	msg, err := refunder.Refund(ctx, c.PartnerOrderID)
	if err != nil {
		r.log.Error("partner refund failed", "coupon", c.Code,
			"partner_order_id", c.PartnerOrderID, "error", err)
		return Outcome{
			Code:         OutcomePartnerRefundFailed,
			CouponStatus: c.Status,
			Detail:       err.Error(),
		}
	}

	if err := r.coupons.Update(ctx, c, EventPartnerRefund); err != nil {
		// The partner already confirmed; losing the record is log-worthy
		// but the reconciliation still succeeded.
		r.log.Error("record partner refund failed", "coupon", c.Code, "error", err)
	}

	r.log.Info("partner refund confirmed", "coupon", c.Code,
		"partner_order_id", c.PartnerOrderID, "msg", msg)
	return Outcome{Code: OutcomePartnerRefunded, CouponStatus: c.Status, Detail: msg}
}
