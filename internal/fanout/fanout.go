// Package fanout is the live delivery relay: a per-room topic that
// re-broadcasts every inserted message to the room's current subscribers.
// The relay owns no persistent state; history always comes from the message
// store, with live updates layered on top. Delivery is at-least-once and
// in insertion order per room; consumers de-duplicate by message id.
package fanout

import (
	"context"

	"github.com/supportchat/internal/model"
)

// Handler receives one delivered message. Handlers must not block: slow
// consumers are the broker's problem to shed, not the publisher's.
type Handler func(msg *model.ChatMessage)

// Subscription is a live attachment to one room topic.
type Subscription interface {
	// Unsubscribe detaches from the topic. Safe to call more than once.
	Unsubscribe()
}

// Broker is the publish/subscribe relay keyed by room id. Implementations:
// memory (in-process, dev and tests), redis (Pub/Sub), nats.
type Broker interface {
	Publish(ctx context.Context, roomID string, msg *model.ChatMessage) error
	Subscribe(ctx context.Context, roomID string, fn Handler) (Subscription, error)
	Close() error
}

// Topic names a room's channel deterministically from its id.
func Topic(roomID string) string {
	return "room:" + roomID
}
