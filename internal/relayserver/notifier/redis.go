package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/domrelay/domrelay/internal/relayserver/core"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/mqtt/topic"
)

var _ core.CommandNotifier = (*RedisNotifier)(nil)

// RedisNotifier publishes INSERT events on the device_{id} pub/sub channel.
type RedisNotifier struct {
	client redis.UniversalClient
}

func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Name() string { return "redis" }

func (n *RedisNotifier) Notify(ctx context.Context, cmd *v1.Command) error {
	payload, err := json.Marshal(v1.NewInsertEvent(*cmd))
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, topic.Channel(cmd.DeviceID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
