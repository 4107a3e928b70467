package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mindspace/group-meditation/internal/core/ports"
)

// Fanout implements ports.Fanout over a single Redis pub/sub channel. Every
// process receives every message and discards what it cannot deliver locally.
type Fanout struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

// NewFanout creates a Fanout publishing on channel.
func NewFanout(client *redis.Client, channel string, log zerolog.Logger) *Fanout {
	return &Fanout{client: client, channel: channel, log: log}
}

func (f *Fanout) Publish(ctx context.Context, msg ports.FanoutMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("fanout encode: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("fanout publish: %w", err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription, then consumes the
// channel on a background goroutine until ctx is done.
func (f *Fanout) Subscribe(ctx context.Context, handle func(ports.FanoutMessage)) error {
	sub := f.client.Subscribe(ctx, f.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("fanout subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg ports.FanoutMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					f.log.Warn().Err(err).Msg("dropping malformed fanout message")
					continue
				}
				handle(msg)
			}
		}
	}()
	return nil
}
