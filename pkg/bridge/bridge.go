// Package bridge relays coupon-change notifications from the shared
// pub/sub channel to long-lived client connections. A subscription is a
// cancellable handle draining into a channel; the relay loop exits cleanly
// on cancellation instead of catching a thrown abort somewhere deep.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
)

// ChannelCouponChanged carries a bare coupon code per published change.
const ChannelCouponChanged = "coupon.changed"

// Subscription is one live pub/sub subscription. Close is idempotent and
// must be called exactly once per relay teardown.
type Subscription interface {
	// Messages yields payloads until the subscription closes.
	Messages() <-chan string
	Close() error
}

// Subscriber opens subscriptions on the change-notification channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Sink receives one "refresh" signal per relevant change. The HTTP layer
// adapts it onto an event-stream response with an immediate flush.
type Sink interface {
	Refresh() error
}

// Relay streams matching change events to sink until ctx is cancelled, the
// subscription ends, or the sink's connection dies. The subscription is
// always closed before returning; an abandoned connection must not leak one.
func Relay(ctx context.Context, subscriber Subscriber, channel string, coupons []string, sink Sink, log *slog.Logger) error {
	sub, err := subscriber.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	defer func() { _ = sub.Close() }()

	interest := make(map[string]struct{}, len(coupons))
	for _, c := range coupons {
		interest[c] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("stream client disconnected", "channel", channel)
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if _, hit := interest[msg]; !hit {
				continue
			}
			if err := sink.Refresh(); err != nil {
				log.Error("stream write failed", "channel", channel, "error", err)
				return nil
			}
			log.Info("order change pushed to stream", "coupon", msg)
		}
	}
}
