// Package redisnotifier is a reference UINotifier adapter that publishes
// events over a Redis pub/sub channel. It is one concrete implementation
// of the notify.UINotifier seam; the orchestration core never imports
// this package directly.
package redisnotifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/masterctl/internal/notify"
	"github.com/yungbote/masterctl/internal/platform/envutil"
	"github.com/yungbote/masterctl/internal/platform/logger"
)

type Notifier struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func New(ctx context.Context, log *logger.Logger, addr, channel string) (*Notifier, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "masterctl-ui"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: envutil.Duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Notifier{
		log:     log.With("component", "RedisUINotifier"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

// Publish implements notify.UINotifier. Publish is fire-and-forget from
// the caller's perspective; a transport error is logged and swallowed so
// a flaky pub/sub link never blocks the orchestration core.
func (n *Notifier) Publish(event notify.Event) {
	if n == nil || n.rdb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		n.log.Warn("failed to marshal UI event", "error", err, "type", event.Type)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.log.Warn("failed to publish UI event", "error", err, "type", event.Type)
	}
}

// StartForwarder relays messages from the Redis channel to onMsg until
// ctx is cancelled. Used by an HTTP/SSE edge process subscribing to the
// same channel this Notifier publishes to.
func (n *Notifier) StartForwarder(ctx context.Context, onMsg func(notify.Event)) error {
	if n == nil || n.rdb == nil {
		return fmt.Errorf("redis notifier not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := n.rdb.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var event notify.Event
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					n.log.Warn("bad redis UI event payload", "error", err)
					continue
				}
				onMsg(event)
			}
		}
	}()

	return nil
}

func (n *Notifier) Close() error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Close()
}
