package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pliu/bizdir/internal/models"
	"github.com/redis/go-redis/v9"
)

// Broker fans private messages out to every relay instance, including the
// publishing one.
type Broker interface {
	Publish(ctx context.Context, pm models.PrivateMessage) error
	Subscribe(ctx context.Context, handle func(models.PrivateMessage)) error
}

type RedisBroker struct {
	rdb     *redis.Client
	channel string
}

func NewRedisBroker(url, channel string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt), channel: channel}, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBroker) Publish(ctx context.Context, pm models.PrivateMessage) error {
	payload, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Subscribe blocks, calling handle for each message, until ctx is done.
func (b *RedisBroker) Subscribe(ctx context.Context, handle func(models.PrivateMessage)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var pm models.PrivateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &pm); err != nil {
				slog.Warn("dropping malformed broker message", slog.String("channel", msg.Channel))
				continue
			}
			handle(pm)
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
