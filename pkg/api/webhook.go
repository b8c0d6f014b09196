package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/luoliAsyns/Gateway/pkg/coupon"
	"github.com/luoliAsyns/Gateway/pkg/metrics"
	"github.com/luoliAsyns/Gateway/pkg/mq"
	"github.com/luoliAsyns/Gateway/pkg/notify"
	"github.com/luoliAsyns/Gateway/pkg/order"
	"github.com/luoliAsyns/Gateway/pkg/upstream"
	"github.com/luoliAsyns/Gateway/pkg/webhook"
)

const maxWebhookBody = 1 << 20

// validateWebhook runs the shared intake steps: read the capped body, then
// the two-stage validation keyed by the aopic query parameter.
func (s *Server) validateWebhook(w http.ResponseWriter, r *http.Request) (webhook.Payload, bool) {
	code, err := strconv.Atoi(r.URL.Query().Get("aopic"))
	if err != nil {
		textFail(w, "unknown aopic")
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		textFail(w, "read body failed")
		return nil, false
	}

	payload, err := s.validator.Validate(webhook.EventCode(code), webhook.Request{
		Body:      body,
		Sign:      r.URL.Query().Get("sign"),
		Timestamp: r.URL.Query().Get("timestamp"),
	})
	if err != nil {
		s.log.Info("webhook rejected", "aopic", code, "reason", err,
			"request_id", requestIDFrom(r.Context()))
		textFail(w, err.Error())
		return nil, false
	}
	return payload, true
}

// handleCreate ingests a paid-trade webhook: dedup, fresh trade fetch,
// normalization and the durable publish, in that order. Any step that fails
// answers 400 so the relay retries; only a fully forwarded (or provably
// irrelevant) trade gets the 200.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, ok := s.validateWebhook(w, r)
	if !ok {
		return
	}
	paid, ok := payload.(*webhook.TradePaid)
	if !ok {
		textFail(w, "aopic is not a trade event")
		return
	}

	accepted, err := s.dedup.TryAccept(ctx, paid.Tid)
	if err != nil {
		s.log.Error("dedup check failed", "tid", paid.Tid, "error", err)
		textFail(w, "dedup unavailable")
		return
	}
	if !accepted {
		textFail(w, "duplicate")
		return
	}

	// A recorded tid promises the order was forwarded. Every failure from
	// here to the publish answers 400 so the relay retries; the reservation
	// must be given back or that retry is rejected as a duplicate.
	release := func() {
		if err := s.dedup.Release(ctx, paid.Tid); err != nil {
			s.log.Error("dedup release failed", "tid", paid.Tid, "error", err)
		}
	}

	fetcher, ok := s.fetchers[paid.FromPlatform]
	if !ok {
		release()
		textFail(w, "platform not configured")
		return
	}
	trade, err := fetcher.TradeInfo(ctx, paid.Tid)
	if err != nil {
		s.log.Error("trade fetch failed", "platform", paid.FromPlatform,
			"tid", paid.Tid, "error", err)
		msg := "trade fetch failed: " + notify.OrderContext(
			paid.FromPlatform, paid.Tid, paid.Payment, paid.Seller(), paid.Status)
		if errors.Is(err, upstream.ErrNoAccessToken) {
			msg = "no access token: " + msg
		}
		s.notifier.Notify(ctx, msg)
		release()
		textFail(w, "fetch trade info failed")
		return
	}

	orders, err := order.Normalize(ctx, trade, paid.Status, s.resolve)
	if err != nil {
		s.log.Error("normalize failed", "tid", paid.Tid, "error", err)
		release()
		textFail(w, "normalize failed")
		return
	}
	if len(orders) == 0 {
		// Nothing of ours in this trade; the shop sells other products too.
		textOK(w, "ok")
		return
	}

	for _, o := range orders {
		body, err := json.Marshal(o)
		if err != nil {
			s.log.Error("encode order failed", "tid", o.Tid, "error", err)
			release()
			textFail(w, "sent mq failed")
			return
		}
		if err := s.publisher.Publish(ctx, mq.RouteExternalOrderInserting, body); err != nil {
			s.log.Error("publish order failed", "tid", o.Tid, "error", err)
			release()
			textFail(w, "sent mq failed")
			return
		}
	}

	s.counters.Inc(ctx, metrics.CounterOrdersReceived)
	s.log.Info("order ingested", "platform", paid.FromPlatform, "tid", paid.Tid,
		"sub_orders", len(orders))
	textOK(w, "ok")
}

// handleRefund runs the refund state machine and maps the outcome onto the
// plain-text contract the relays expect.
func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, ok := s.validateWebhook(w, r)
	if !ok {
		return
	}
	refund, ok := payload.(*webhook.RefundCreated)
	if !ok {
		textFail(w, "aopic is not a refund event")
		return
	}

	outcome, err := s.reconciler.HandleRefund(ctx, refund.FromPlatform, refund.Tid)
	if err != nil {
		var conflict *coupon.ConflictError
		if errors.As(err, &conflict) {
			textFail(w, conflict.Error())
			return
		}
		s.log.Error("refund reconciliation failed", "platform", refund.FromPlatform,
			"tid", refund.Tid, "error", err)
		textFail(w, "refund handling failed")
		return
	}

	switch outcome.Code {
	case coupon.OutcomeIgnored, coupon.OutcomeInvalidated:
		textOK(w, "ok")
	case coupon.OutcomePartnerRefunded:
		textOK(w, "ok, partner refunded")
	case coupon.OutcomePartnerRefundFailed:
		// The order-level acknowledgment succeeded; the partner call is
		// compensating and retried by hand, so this stays a 200.
		textOK(w, "ok, partner refund failed: "+outcome.Detail)
	case coupon.OutcomeNotApplicable:
		textFail(w, outcome.Detail)
	default:
		textFail(w, fmt.Sprintf("unexpected outcome %d", outcome.Code))
	}
}
