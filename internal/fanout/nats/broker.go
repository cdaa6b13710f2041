// Package nats backs the fanout relay with NATS core pub/sub. Room ids map
// to subjects under the "room." token (NATS uses '.' as the separator).
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/supportchat/internal/fanout"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

type Broker struct {
	nc *nats.Conn
}

func New(url string) (*Broker, error) {
	nc, err := nats.Connect(url, nats.Name("supportchat-fanout"))
	if err != nil {
		return nil, fmt.Errorf("fanout nats connect: %w", err)
	}
	return &Broker{nc: nc}, nil
}

func subject(roomID string) string {
	return "room." + roomID
}

func (b *Broker) Publish(ctx context.Context, roomID string, msg *model.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("fanout nats marshal: %w", err)
	}
	if err := b.nc.Publish(subject(roomID), data); err != nil {
		return fmt.Errorf("fanout nats publish: %w", err)
	}
	return nil
}

type subscription struct {
	sub  *nats.Subscription
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		if err := s.sub.Unsubscribe(); err != nil {
			logger.Errorf("fanout nats unsubscribe: %v", err)
		}
	})
}

func (b *Broker) Subscribe(ctx context.Context, roomID string, fn fanout.Handler) (fanout.Subscription, error) {
	subj := subject(roomID)
	sub, err := b.nc.Subscribe(subj, func(m *nats.Msg) {
		var msg model.ChatMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			logger.Errorf("fanout nats unmarshal subject=%s: %v", subj, err)
			return
		}
		fn(&msg)
	})
	if err != nil {
		return nil, fmt.Errorf("fanout nats subscribe %s: %w", subj, err)
	}
	return &subscription{sub: sub}, nil
}

func (b *Broker) Close() error {
	b.nc.Close()
	return nil
}
