package access

import (
	"context"
	"runtime/debug"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bus fans cache invalidations out to every instance through a Redis
// channel. A nil client turns it into a no-op.
type Bus struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func NewBus(rdb *redis.Client, channel string, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{rdb: rdb, channel: channel, log: log}
}

// Publish announces that the allow-list changed.
func (b *Bus) Publish(ctx context.Context, reason string) error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Publish(ctx, b.channel, reason).Err()
}

// Subscribe calls onInvalidate for every announcement until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, onInvalidate func(reason string)) error {
	if b == nil || b.rdb == nil {
		return nil
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							b.log.Error("panic in stage access subscriber",
								zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
						}
					}()
					onInvalidate(msg.Payload)
				}()
			}
		}
	}()

	return nil
}
