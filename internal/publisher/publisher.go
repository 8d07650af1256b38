// Package publisher republishes persisted events on a redis pub/sub
// channel for downstream consumers. Delivery is fire-and-forget: the
// pipeline logs a failed publish and moves on.
package publisher

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/bcambel/kinesis2/internal/model"
)

type Publisher struct {
	rdb     *redis.Client
	channel string
}

func New(rdb *redis.Client, channel string) *Publisher {
	return &Publisher{
		rdb:     rdb,
		channel: channel,
	}
}

// Publish emits the canonical event (not its storage encoding) as JSON.
func (p *Publisher) Publish(ctx context.Context, e model.Event) error {
	const op = "publisher.Publish"

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
