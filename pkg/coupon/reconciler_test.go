package coupon_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/luoliAsyns/Gateway/pkg/coupon"
	"github.com/luoliAsyns/Gateway/pkg/metrics"
	"github.com/luoliAsyns/Gateway/pkg/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	order      *order.Order
	getErr     error
	markErr    error
	markCalls  int
	lastMarked *order.Order
}

func (f *fakeOrders) Get(_ context.Context, _ order.Platform, _ string) (*order.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.order, nil
}

func (f *fakeOrders) MarkRefundReceived(_ context.Context, o *order.Order) error {
	f.markCalls++
	f.lastMarked = o
	return f.markErr
}

type fakeCoupons struct {
	coupon          *coupon.Coupon
	queryErr        error
	invalidateErr   error
	invalidateCalls int
	updateErr       error
	updateCalls     int
	lastEvent       coupon.Event
}

func (f *fakeCoupons) QueryByOrder(_ context.Context, _ order.Platform, _ string) (*coupon.Coupon, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.coupon, nil
}

func (f *fakeCoupons) Invalidate(_ context.Context, _ string) error {
	f.invalidateCalls++
	return f.invalidateErr
}

func (f *fakeCoupons) Update(_ context.Context, _ *coupon.Coupon, ev coupon.Event) error {
	f.updateCalls++
	f.lastEvent = ev
	return f.updateErr
}

type fakeRefunder struct {
	msg   string
	err   error
	calls int
	last  string
}

func (f *fakeRefunder) Refund(_ context.Context, partnerOrderID string) (string, error) {
	f.calls++
	f.last = partnerOrderID
	if f.err != nil {
		return "", f.err
	}
	return f.msg, nil
}

type countingRecorder struct{ counts map[string]int }

func (c *countingRecorder) Inc(_ context.Context, name string) {
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[name]++
}

func newReconciler(orders *fakeOrders, coupons *fakeCoupons, refunder *fakeRefunder, rec metrics.Recorder) *coupon.Reconciler {
	refunders := map[order.TargetPartner]coupon.PartnerRefunder{}
	if refunder != nil {
		refunders[order.TargetPartnerChago] = refunder
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return coupon.NewReconciler(orders, coupons, refunders, rec, slog.Default())
}

func chagoOrder() *order.Order {
	return &order.Order{
		FromPlatform: order.PlatformTaobao,
		Tid:          "T1",
		Target:       order.TargetPartnerChago,
	}
}

func TestHandleRefund_UnknownOrderIsBenignNoOp(t *testing.T) {
	orders := &fakeOrders{getErr: order.ErrNotFound}
	coupons := &fakeCoupons{}
	rec := &countingRecorder{}

	out, err := newReconciler(orders, coupons, nil, rec).
		HandleRefund(context.Background(), order.PlatformTaobao, "T2")
	require.NoError(t, err)

	assert.Equal(t, coupon.OutcomeIgnored, out.Code)
	assert.Zero(t, orders.markCalls)
	assert.Zero(t, rec.counts[metrics.CounterRefundsReceived])
}

func TestHandleRefund_OrderUpdateFailureIsHard(t *testing.T) {
	orders := &fakeOrders{order: chagoOrder(), markErr: errors.New("store down")}
	rec := &countingRecorder{}

	_, err := newReconciler(orders, &fakeCoupons{}, nil, rec).
		HandleRefund(context.Background(), order.PlatformTaobao, "T1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark refund received")
	assert.Zero(t, rec.counts[metrics.CounterRefundsReceived])
}

func TestHandleRefund_ShippedCouponIsInvalidated(t *testing.T) {
	orders := &fakeOrders{order: chagoOrder()}
	coupons := &fakeCoupons{coupon: &coupon.Coupon{Code: "C1", Status: coupon.StatusShipped}}
	rec := &countingRecorder{}

	out, err := newReconciler(orders, coupons, nil, rec).
		HandleRefund(context.Background(), order.PlatformTaobao, "T1")
	require.NoError(t, err)

	assert.Equal(t, coupon.OutcomeInvalidated, out.Code)
	assert.Equal(t, coupon.StatusInvalidated, out.CouponStatus)
	assert.Equal(t, 1, orders.markCalls)
	assert.Equal(t, 1, coupons.invalidateCalls)
	assert.Equal(t, 1, rec.counts[metrics.CounterRefundsReceived])
}

// A concurrent redemption makes the store reject the invalidation; the
// rejection is surfaced as an error carrying the current status.
func TestHandleRefund_InvalidateConflictSurfaces(t *testing.T) {
	orders := &fakeOrders{order: chagoOrder()}
	coupons := &fakeCoupons{
		coupon:        &coupon.Coupon{Code: "C1", Status: coupon.StatusShipped},
		invalidateErr: &coupon.ConflictError{Current: coupon.StatusConsumed},
	}
	rec := &countingRecorder{}

	_, err := newReconciler(orders, coupons, nil, rec).
		HandleRefund(context.Background(), order.PlatformTaobao, "T1")
	require.Error(t, err)

	var conflict *coupon.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, coupon.StatusConsumed, conflict.Current)
	// The refund was still counted: the order update had already landed.
	assert.Equal(t, 1, rec.counts[metrics.CounterRefundsReceived])
}

func TestHandleRefund_ConsumedCouponTriggersExactlyOnePartnerRefund(t *testing.T) {
	orders := &fakeOrders{order: chagoOrder()}
	coupons := &fakeCoupons{coupon: &coupon.Coupon{
		Code:           "C1",
		Status:         coupon.StatusConsumed,
		PartnerOrderID: "CHA-889",
	}}
	refunder := &fakeRefunder{msg: "refund accepted"}

	out, err := newReconciler(orders, coupons, refunder, nil).
		HandleRefund(context.Background(), order.PlatformTaobao, "T1")
	require.NoError(t, err)

	assert.Equal(t, coupon.OutcomePartnerRefunded, out.Code)
	assert.Equal(t, "refund accepted", out.Detail)
	assert.Equal(t, 1, refunder.calls)
	assert.Equal(t, "CHA-889", refunder.last)
	// Status unchanged; the refund event was recorded instead.
	assert.Equal(t, coupon.StatusConsumed, out.CouponStatus)
	assert.Equal(t, 1, coupons.updateCalls)
	assert.Equal(t, coupon.EventPartnerRefund, coupons.lastEvent)
}

// Partner failures are recorded outcomes, not errors: the order-level
// acknowledgment must not be blocked by the partner being down.
func TestHandleRefund_PartnerFailureIsBestEffort(t *testing.T) {
	orders := &fakeOrders{order: chagoOrder()}
	coupons := &fakeCoupons{coupon: &coupon.Coupon{
		Code:           "C1",
		Status:         coupon.StatusConsumed,
		PartnerOrderID: "CHA-889",
	}}
	refunder := &fakeRefunder{err: errors.New("partner 502")}

	out, err := newReconciler(orders, coupons, refunder, nil).
		HandleRefund(context.Background(), order.PlatformTaobao, "T1")
	require.NoError(t, err)

	assert.Equal(t, coupon.OutcomePartnerRefundFailed, out.Code)
	assert.Contains(t, out.Detail, "partner 502")
	assert.Zero(t, coupons.updateCalls)
}

func TestHandleRefund_InvalidatedCouponIsNotApplicable(t *testing.T) {
	orders := &fakeOrders{order: chagoOrder()}
	coupons := &fakeCoupons{coupon: &coupon.Coupon{Code: "C1", Status: coupon.StatusInvalidated}}
	refunder := &fakeRefunder{}

	out, err := newReconciler(orders, coupons, refunder, nil).
		HandleRefund(context.Background(), order.PlatformTaobao, "T1")
	require.NoError(t, err)

	assert.Equal(t, coupon.OutcomeNotApplicable, out.Code)
	assert.Contains(t, out.Detail, "not applicable, status invalidated")
	assert.Zero(t, refunder.calls, "no compensating action for invalidated coupons")
	assert.Zero(t, coupons.invalidateCalls)
}

func TestHandleRefund_UnmappedPartnerIsRecordedFailure(t *testing.T) {
	o := chagoOrder()
	o.Target = order.TargetPartnerUnmapped
	orders := &fakeOrders{order: o}
	coupons := &fakeCoupons{coupon: &coupon.Coupon{Code: "C1", Status: coupon.StatusConsumed}}

	out, err := newReconciler(orders, coupons, nil, nil).
		HandleRefund(context.Background(), order.PlatformTaobao, "T1")
	require.NoError(t, err)

	assert.Equal(t, coupon.OutcomePartnerRefundFailed, out.Code)
	assert.Contains(t, out.Detail, "no fulfillment client")
}
