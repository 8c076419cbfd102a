package session

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"boardrelay/api/internal/codec"
)

const DefaultChannel = "board-changes"

// Change announces that a board's durable state moved. Categories lists the
// object kinds that changed; empty means all of them.
type Change struct {
	BoardID    string   `cbor:"board_id"`
	Categories []string `cbor:"categories,omitempty"`
	// Origin is the relay session that made the change, if any.
	Origin string `cbor:"origin,omitempty"`
}

// Bus fans board changes out to every relay through Redis pub/sub.
type Bus struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

func NewBus(client *redis.Client, channel string, log logrus.FieldLogger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{client: client, channel: channel, log: log}
}

func (b *Bus) Publish(ctx context.Context, change Change) error {
	data, err := codec.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe delivers changes to handle until ctx is cancelled. The returned
// channel is closed once the subscription is confirmed by Redis, so callers
// can publish without racing the subscribe.
func (b *Bus) Subscribe(ctx context.Context, handle func(Change)) (<-chan struct{}, <-chan error) {
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.run(ctx, ready, handle)
	}()
	return ready, done
}

func (b *Bus) run(ctx context.Context, ready chan<- struct{}, handle func(Change)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		close(ready)
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	close(ready)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				b.log.Error("session: change subscription closed")
				return fmt.Errorf("subscription %s closed", b.channel)
			}
			var change Change
			if err := codec.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.log.WithError(err).Warn("session: dropping malformed change")
				continue
			}
			handle(change)
		}
	}
}
