// Package bridge pushes chat state to surfaces running outside the process
// and takes their read, open and send commands.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"ShopChat/entity"
	"ShopChat/internal/composer"
	"ShopChat/internal/lib/sl"
	"ShopChat/internal/lib/validate"
	"ShopChat/internal/store"
)

const commandTimeout = 10 * time.Second

// ClientMessageHandler handles commands sent by surface clients.
type ClientMessageHandler interface {
	OpenConversation(ctx context.Context, conv entity.ID) error
	MarkRead(ctx context.Context, ids []entity.ID) error
	MarkConversationRead(ctx context.Context, conv entity.ID) error
	Send(ctx context.Context, text string) (composer.Delivery, error)
}

// Event is one push to surface clients.
type Event struct {
	Type string      `json:"type"` // "conversations", "messages", "seen", "active", "badge"
	Data interface{} `json:"data"`
}

const EventBadge = "badge"

type Hub struct {
	clients    map[*surface]bool
	broadcast  chan *Event
	register   chan *surface
	unregister chan *surface
	done       chan struct{}
	mu         sync.RWMutex
	handler    ClientMessageHandler
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*surface]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *surface),
		unregister: make(chan *surface),
		done:       make(chan struct{}),
		log:        log.With(sl.Module("bridge.hub")),
	}
}

func (h *Hub) SetHandler(handler ClientMessageHandler) {
	h.handler = handler
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.With(slog.String("surface", client.id), slog.String("user", client.username)).Debug("surface attached")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.With(sl.Err(err)).Warn("encode bridge event")
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// slow surface
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) attach(c *surface) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *surface) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Clients returns the number of attached surfaces.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues ev without blocking the caller. Events are dropped while
// the queue is full.
func (h *Hub) Publish(ev *Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.With(slog.String("type", ev.Type)).Warn("bridge queue full, event dropped")
	}
}

// BroadcastChange forwards a store change. It is a store.Subscribe handler.
func (h *Hub) BroadcastChange(c store.Change) {
	h.Publish(&Event{Type: string(c.Kind), Data: c})
}

// BroadcastBadge forwards the badge count. It is a badge.Subscribe handler.
func (h *Hub) BroadcastBadge(count int) {
	h.Publish(&Event{Type: EventBadge, Data: map[string]int{"count": count}})
}

type clientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type openData struct {
	ConversationID entity.ID `json:"conversation_id" validate:"required"`
}

type markReadData struct {
	ConversationID entity.ID   `json:"conversation_id" validate:"required_without=MessageIDs"`
	MessageIDs     []entity.ID `json:"message_ids" validate:"required_without=ConversationID"`
}

type sendData struct {
	Content string `json:"content" validate:"required"`
}

// HandleClientMessage parses and dispatches a command from a surface.
func (h *Hub) HandleClientMessage(username string, raw []byte) {
	if h.handler == nil {
		return
	}
	log := h.log.With(slog.String("user", username))

	var event clientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		log.With(sl.Err(err)).Warn("failed to parse client ws message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	log = log.With(slog.String("type", event.Type))
	var err error
	switch event.Type {
	case "open":
		var data openData
		if err = decode(event.Data, &data); err == nil {
			err = h.handler.OpenConversation(ctx, data.ConversationID)
		}
	case "mark_read":
		var data markReadData
		if err = decode(event.Data, &data); err == nil {
			if len(data.MessageIDs) > 0 {
				err = h.handler.MarkRead(ctx, data.MessageIDs)
			} else {
				err = h.handler.MarkConversationRead(ctx, data.ConversationID)
			}
		}
	case "send":
		var data sendData
		if err = decode(event.Data, &data); err == nil {
			var delivery composer.Delivery
			delivery, err = h.handler.Send(ctx, data.Content)
			log = log.With(slog.String("delivery", string(delivery)))
		}
	default:
		log.Debug("unknown client command ignored")
		return
	}
	if err != nil {
		log.With(sl.Err(err)).Warn("client command failed")
		return
	}
	log.Debug("client command handled")
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return err
	}
	return validate.Struct(v)
}
