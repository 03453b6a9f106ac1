package chat

import (
	"sync"

	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/pkg/types"
)

// subscriberBuffer is how many messages a slow subscriber may lag before
// messages to it are dropped.
const subscriberBuffer = 64

// Subscription delivers new messages for one room.
type Subscription struct {
	C    <-chan types.ChatMessage
	room Room
	ch   chan types.ChatMessage
	hub  *Hub
	once sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub fans appended messages out to room subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[Room]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[Room]map[*Subscription]struct{})}
}

// Subscribe registers for new messages in room.
func (h *Hub) Subscribe(room Room) *Subscription {
	ch := make(chan types.ChatMessage, subscriberBuffer)
	sub := &Subscription{C: ch, room: room, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[room] == nil {
		h.subs[room] = make(map[*Subscription]struct{})
	}
	h.subs[room][sub] = struct{}{}
	return sub
}

// Publish delivers msg to every subscriber of its room without blocking.
func (h *Hub) Publish(msg types.ChatMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[Room(msg.Room)] {
		select {
		case sub.ch <- msg:
		default:
			logging.Warn("chat subscriber lagging, message dropped",
				logging.Component("chat"),
				"room", msg.Room,
				"message_id", msg.ID,
			)
		}
	}
}

// Subscribers counts live subscriptions in room.
func (h *Hub) Subscribers(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[room])
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.subs[s.room]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.room)
		}
	}
	close(s.ch)
}
