// Package events fans out settlement notifications to in-process subscribers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types
const (
	TypeMarketCreated = "market.created"
	TypeDeposit       = "market.deposit"
	TypeMinted        = "market.minted"
	TypeRedeemed      = "market.redeemed"
	TypeExpired       = "market.expired"
	TypeResolved      = "market.resolved"
	TypeClaimed       = "market.claimed"
	TypeLosingBurned  = "market.losing_burned"
)

// Event is a single notification
type Event struct {
	ID     uuid.UUID      `json:"id"`
	Type   string         `json:"type"`
	Market common.Address `json:"market"`
	Data   interface{}    `json:"data,omitempty"`
	At     time.Time      `json:"at"`
}

// New creates an event stamped with a fresh ID
func New(typ string, mkt common.Address, data interface{}) Event {
	return Event{
		ID:     uuid.New(),
		Type:   typ,
		Market: mkt,
		Data:   data,
		At:     time.Now().UTC(),
	}
}

// Marshal encodes the event as JSON
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Subscriber receives events on C until it is unsubscribed or dropped
type Subscriber struct {
	C    <-chan Event
	send chan Event
}

// Hub manages all subscribers
type Hub struct {
	subs       map[*Subscriber]bool
	broadcast  chan Event
	register   chan *Subscriber
	unregister chan *Subscriber
	mu         sync.RWMutex
	log        *zap.Logger
}

// NewHub creates a new hub. A nil logger is replaced with a no-op logger.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs:       make(map[*Subscriber]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		log:        log,
	}
}

// Run dispatches events until ctx is done. Events already queued are
// delivered before all subscriber channels are closed.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.drain()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subs[sub] = true
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			h.log.Warn("dropping slow subscriber", zap.String("event", ev.Type))
			close(sub.send)
			delete(h.subs, sub)
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case ev := <-h.broadcast:
			h.deliver(ev)
		default:
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		close(sub.send)
		delete(h.subs, sub)
	}
}

// Subscribe registers a subscriber with the given buffer size. Run must be
// active or ctx must be cancellable.
func (h *Hub) Subscribe(ctx context.Context, buffer int) (*Subscriber, error) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	sub := &Subscriber{C: ch, send: ch}

	select {
	case h.register <- sub:
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes sub and closes its channel
func (h *Hub) Unsubscribe(ctx context.Context, sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-ctx.Done():
	}
}

// Publish queues an event for delivery. It never blocks; a full queue drops the event.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("broadcast queue full, dropping event",
			zap.String("event", ev.Type),
			zap.String("market", ev.Market.Hex()))
	}
}

// SubscriberCount returns the number of registered subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
