// Package metrics keeps the gateway's business counters in redis so every
// instance increments the same numbers. Counters are observability only;
// a failed increment is logged and never fails the request that caused it.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Counter names.
const (
	CounterOrdersReceived   = "orders_received"
	CounterRefundsReceived  = "refunds_received"
	CounterConsumesReceived = "consumes_received"
)

const (
	counterPrefix   = "counter."
	counterNamesKey = "counter.names"
)

// Recorder is the increment-only view handed to request paths.
type Recorder interface {
	Inc(ctx context.Context, name string)
}

// Counters implements Recorder on redis INCR plus a name registry set so
// the dump endpoint can enumerate without KEYS.
type Counters struct {
	client redis.Cmdable
	log    *slog.Logger
}

func NewCounters(client redis.Cmdable, log *slog.Logger) *Counters {
	return &Counters{client: client, log: log}
}

func (c *Counters) Inc(ctx context.Context, name string) {
	pipe := c.client.Pipeline()
	pipe.Incr(ctx, counterPrefix+name)
	pipe.SAdd(ctx, counterNamesKey, name)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Error("counter increment failed", "counter", name, "error", err)
	}
}

// Dump renders every known counter as "name value" lines, sorted by name.
func (c *Counters) Dump(ctx context.Context) (string, error) {
	names, err := c.client.SMembers(ctx, counterNamesKey).Result()
	if err != nil {
		return "", fmt.Errorf("list counters: %w", err)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		val, err := c.client.Get(ctx, counterPrefix+name).Result()
		if err == redis.Nil {
			val = "0"
		} else if err != nil {
			return "", fmt.Errorf("read counter %q: %w", name, err)
		}
		if _, err := strconv.ParseInt(val, 10, 64); err != nil {
			// Skip anything that is not a number; the registry set is
			// writable by older deployments.
			continue
		}
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(val)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Noop is a Recorder that records nothing, for tests.
type Noop struct{}

func (Noop) Inc(context.Context, string) {}
