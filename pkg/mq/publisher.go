// Package mq hands accepted orders to the durable RabbitMQ queue. Messages
// are published persistent + mandatory with publisher confirms, so a broker
// disconnect surfaces to the HTTP caller instead of silently dropping the
// order; the upstream sender retries on non-2xx.
package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys, optionally environment-prefixed via the queue prefix.
const (
	RouteExternalOrderInserting = "external-order.inserting"
	RouteConsumeInfoInserting   = "consume-info.inserting"
)

// Publisher is the narrow interface handlers depend on.
type Publisher interface {
	Publish(ctx context.Context, route string, body []byte) error
}

// Queue implements Publisher on one AMQP channel in confirm mode.
type Queue struct {
	ch     *amqp.Channel
	prefix string
	log    *slog.Logger
}

// Connect dials the broker and opens a channel in confirm mode.
func Connect(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Properties: amqp.Table{
			"connection_name": "gateway",
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("enable confirms: %w", err)
	}
	return conn, ch, nil
}

func NewQueue(ch *amqp.Channel, prefix string, log *slog.Logger) *Queue {
	q := &Queue{ch: ch, prefix: prefix, log: log}

	// Mandatory publishes to a missing queue come back as basic.return;
	// log them, they mean a deployment forgot to declare the queue.
	returns := ch.NotifyReturn(make(chan amqp.Return, 8))
	go func() {
		for r := range returns {
			log.Error("message returned by broker",
				"routing_key", r.RoutingKey, "reply", r.ReplyText)
		}
	}()

	return q
}

// Route is the environment-prefixed routing key for a logical route.
func (q *Queue) Route(route string) string {
	return q.prefix + route
}

func (q *Queue) Publish(ctx context.Context, route string, body []byte) error {
	dc, err := q.ch.PublishWithDeferredConfirmWithContext(ctx,
		"", // default exchange
		q.Route(route),
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", q.Route(route), err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", q.Route(route), err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker nacked", q.Route(route))
	}
	return nil
}
