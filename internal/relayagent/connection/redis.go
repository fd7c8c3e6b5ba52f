package connection

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/domrelay/domrelay/internal/relayagent/credentials"
	"github.com/domrelay/domrelay/pkg/mqtt/topic"
)

var _ Subscriber = (*RedisSubscriber)(nil)

// RedisSubscriber listens on the device_{id} pub/sub channel.
type RedisSubscriber struct {
	client redis.UniversalClient
}

func NewRedisSubscriber(client redis.UniversalClient) *RedisSubscriber {
	return &RedisSubscriber{client: client}
}

func (s *RedisSubscriber) Name() string { return "redis" }

func (s *RedisSubscriber) Subscribe(ctx context.Context, deviceID string, _ credentials.Credentials, deliver func([]byte)) (Subscription, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ps := s.client.Subscribe(subCtx, topic.Channel(deviceID))

	// Receive waits for the subscribe confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &redisSubscription{
		ps:     ps,
		cancel: cancel,
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go sub.receive(subCtx, deliver)
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	errs   chan error
	done   chan struct{}
}

func (s *redisSubscription) receive(ctx context.Context, deliver func([]byte)) {
	defer close(s.done)
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.errs <- err
			}
			return
		}
		deliver([]byte(msg.Payload))
	}
}

func (s *redisSubscription) Err() <-chan error { return s.errs }

func (s *redisSubscription) Close(ctx context.Context) error {
	s.cancel()
	err := s.ps.Close()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
