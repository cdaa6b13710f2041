// Package redis backs the fanout relay with Redis Pub/Sub, letting several
// API instances share one room topic space.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/supportchat/internal/fanout"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

type Broker struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("fanout redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("fanout redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("fanout redis ping: %w", err)
	}
	return &Broker{cli: cli}, nil
}

func (b *Broker) Publish(ctx context.Context, roomID string, msg *model.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("fanout redis marshal: %w", err)
	}
	if err := b.cli.Publish(ctx, fanout.Topic(roomID), data).Err(); err != nil {
		return fmt.Errorf("fanout redis publish: %w", err)
	}
	return nil
}

type subscription struct {
	pubsub *redis.PubSub
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		if err := s.pubsub.Close(); err != nil {
			logger.Errorf("fanout redis unsubscribe: %v", err)
		}
	})
}

func (b *Broker) Subscribe(ctx context.Context, roomID string, fn fanout.Handler) (fanout.Subscription, error) {
	topic := fanout.Topic(roomID)
	pubsub := b.cli.Subscribe(ctx, topic)
	// Wait for the subscription to be established so that messages published
	// right after Subscribe returns are not silently missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if closeErr := pubsub.Close(); closeErr != nil {
			logger.Errorf("fanout redis close after failed subscribe: %v", closeErr)
		}
		return nil, fmt.Errorf("fanout redis subscribe %s: %w", topic, err)
	}

	go func() {
		for m := range pubsub.Channel() {
			var msg model.ChatMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logger.Errorf("fanout redis unmarshal topic=%s: %v", topic, err)
				continue
			}
			fn(&msg)
		}
	}()
	return &subscription{pubsub: pubsub}, nil
}

func (b *Broker) Close() error {
	return b.cli.Close()
}
