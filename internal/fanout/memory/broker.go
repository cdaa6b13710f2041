// Package memory is the in-process fanout broker for -dev mode and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/supportchat/internal/fanout"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

const subBufferSize = 256

var errClosed = errors.New("fanout: broker closed")

type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

func New() *Broker {
	return &Broker{subs: make(map[string]map[*subscription]struct{})}
}

type subscription struct {
	broker *Broker
	topic  string
	ch     chan *model.ChatMessage
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		if set, ok := s.broker.subs[s.topic]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.broker.subs, s.topic)
			}
		}
		s.broker.mu.Unlock()
		close(s.done)
	})
}

func (b *Broker) Publish(ctx context.Context, roomID string, msg *model.ChatMessage) error {
	topic := fanout.Topic(roomID)
	b.mu.RLock()
	targets := make([]*subscription, 0, 4)
	for s := range b.subs[topic] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case <-s.done:
		case s.ch <- msg:
		default:
			// Subscriber queue full: drop for that subscriber, keep the rest.
			logger.Errorf("fanout: subscriber queue full, dropping message topic=%s", topic)
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, roomID string, fn fanout.Handler) (fanout.Subscription, error) {
	topic := fanout.Topic(roomID)
	s := &subscription{
		broker: b,
		topic:  topic,
		ch:     make(chan *model.ChatMessage, subBufferSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errClosed
	}
	if _, ok := b.subs[topic]; !ok {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][s] = struct{}{}
	b.mu.Unlock()

	// One goroutine per subscription keeps per-subscriber delivery ordered.
	go func() {
		for {
			select {
			case <-s.done:
				return
			case msg := <-s.ch:
				fn(msg)
			}
		}
	}()
	return s, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := make([]*subscription, 0, 16)
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.Unsubscribe()
	}
	return nil
}
