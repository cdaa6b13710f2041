package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/supportchat/internal/fanout"
	"github.com/supportchat/internal/identity"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
	"github.com/supportchat/internal/service"
)

// Hub tracks connected viewers and their current room. Each room with at
// least one local viewer holds one broker subscription; delivered messages
// fan out to every viewer of that room. A client views one room at a time:
// subscribing to a new room drops the old one.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	viewers    map[string]map[*Client]struct{}
	clientRoom map[*Client]string
	brokerSubs map[string]fanout.Subscription
	total      int
	maxConns   int

	rooms  service.RoomStore
	authz  identity.Authorizer
	msgSvc *service.MessageService
	broker fanout.Broker

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(roomStore service.RoomStore, authz identity.Authorizer, msgSvc *service.MessageService, broker fanout.Broker, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		viewers:    make(map[string]map[*Client]struct{}),
		clientRoom: make(map[*Client]string),
		brokerSubs: make(map[string]fanout.Subscription),
		maxConns:   maxConns,
		rooms:      roomStore,
		authz:      authz,
		msgSvc:     msgSvc,
		broker:     broker,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect everything under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for c := range h.clients {
		allClients = append(allClients, c)
	}
	subs := make([]fanout.Subscription, 0, len(h.brokerSubs))
	for _, s := range h.brokerSubs {
		if s != nil {
			subs = append(subs, s)
		}
	}
	h.clients = make(map[*Client]struct{})
	h.viewers = make(map[string]map[*Client]struct{})
	h.clientRoom = make(map[*Client]string)
	h.brokerSubs = make(map[string]fanout.Subscription)
	h.total = 0
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.total--
	dropSub := h.leaveRoomLocked(c)
	h.mu.Unlock()

	if dropSub != nil {
		dropSub.Unsubscribe()
	}
	// Network I/O outside the lock.
	c.Close()
}

// leaveRoomLocked detaches c from its current room. Caller holds h.mu.
// Returns the broker subscription to drop when the room lost its last local
// viewer (the actual Unsubscribe is I/O and must happen outside the lock).
func (h *Hub) leaveRoomLocked(c *Client) fanout.Subscription {
	roomID, ok := h.clientRoom[c]
	if !ok {
		return nil
	}
	delete(h.clientRoom, c)
	set := h.viewers[roomID]
	delete(set, c)
	if len(set) > 0 {
		return nil
	}
	delete(h.viewers, roomID)
	sub := h.brokerSubs[roomID]
	delete(h.brokerSubs, roomID)
	return sub
}

// HandleMessage dispatches one incoming WebSocket event.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSubscribe:
		h.handleSubscribe(ctx, c, msg)
	case EventUnsubscribe:
		h.handleUnsubscribe(c)
	case EventSend:
		h.handleSend(ctx, c, msg)
	case EventRead:
		h.handleRead(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSubscribe", time.Now())()
	if msg.RoomID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "room_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	room, err := h.rooms.GetByID(ctx, msg.RoomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "room not found"})
			return
		}
		logger.Errorf("ws subscribe get room=%s user=%s: %v", msg.RoomID, c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "internal error"})
		return
	}
	if room.UserID != c.userID {
		isAdmin, err := h.authz.IsAdmin(ctx, c.userID)
		if err != nil {
			logger.Errorf("ws subscribe admin check user=%s: %v", c.userID, err)
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "internal error"})
			return
		}
		if !isAdmin {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "forbidden"})
			return
		}
	}

	h.mu.Lock()
	if cur, ok := h.clientRoom[c]; ok && cur == room.ID {
		h.mu.Unlock()
		h.sendToClient(c, OutgoingMessage{Type: EventSubscribed, Payload: SubscribedPayload{RoomID: room.ID}})
		return
	}
	dropSub := h.leaveRoomLocked(c)
	if _, ok := h.viewers[room.ID]; !ok {
		h.viewers[room.ID] = make(map[*Client]struct{})
	}
	h.viewers[room.ID][c] = struct{}{}
	h.clientRoom[c] = room.ID
	_, haveSub := h.brokerSubs[room.ID]
	if !haveSub {
		// Placeholder claims the topic so a concurrent subscriber does not
		// also dial the broker; replaced below outside the lock.
		h.brokerSubs[room.ID] = nil
	}
	h.mu.Unlock()

	if dropSub != nil {
		dropSub.Unsubscribe()
	}

	if !haveSub {
		roomID := room.ID
		sub, err := h.broker.Subscribe(context.Background(), roomID, func(m *model.ChatMessage) {
			h.deliver(m)
		})
		if err != nil {
			logger.Errorf("ws broker subscribe room=%s: %v", roomID, err)
			h.mu.Lock()
			delete(h.brokerSubs, roomID)
			h.mu.Unlock()
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "subscription failed"})
			return
		}
		h.mu.Lock()
		if _, still := h.viewers[roomID]; still {
			h.brokerSubs[roomID] = sub
			h.mu.Unlock()
		} else {
			// Everyone left while we were dialing.
			delete(h.brokerSubs, roomID)
			h.mu.Unlock()
			sub.Unsubscribe()
		}
	}

	h.sendToClient(c, OutgoingMessage{Type: EventSubscribed, Payload: SubscribedPayload{RoomID: room.ID}})
}

func (h *Hub) handleUnsubscribe(c *Client) {
	h.mu.Lock()
	dropSub := h.leaveRoomLocked(c)
	h.mu.Unlock()
	if dropSub != nil {
		dropSub.Unsubscribe()
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Delivery to subscribers (sender included) happens via the room topic.
	_, err := h.msgSvc.Send(ctx, msg.RoomID, c.userID, msg.Message)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrEmptyMessage):
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "message cannot be empty"})
	case errors.Is(err, service.ErrMissingID):
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "room_id required"})
	case errors.Is(err, service.ErrRoomClosed):
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "room is closed"})
	case errors.Is(err, repository.ErrNotFound):
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "room not found"})
	default:
		logger.Errorf("ws send room=%s user=%s: %v", msg.RoomID, c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to send message"})
	}
}

func (h *Hub) handleRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.RoomID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.msgSvc.MarkAsRead(ctx, msg.RoomID, c.userID); err != nil {
		logger.Errorf("ws mark read room=%s user=%s: %v", msg.RoomID, c.userID, err)
		return
	}

	out := OutgoingMessage{Type: EventMsgRead, Payload: ReadPayload{RoomID: msg.RoomID, UserID: c.userID}}
	for _, viewer := range h.roomClients(msg.RoomID) {
		if viewer != c {
			h.sendToClient(viewer, out)
		}
	}
}

// deliver pushes one fanout message to every local viewer of its room.
func (h *Hub) deliver(m *model.ChatMessage) {
	out := OutgoingMessage{Type: EventMessage, Payload: m}
	for _, c := range h.roomClients(m.ChatRoomID) {
		h.sendToClient(c, out)
	}
}

func (h *Hub) roomClients(roomID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.viewers[roomID]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	return targets
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close the slow client. It refetches
		// history on reconnect, so nothing is lost for it.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
