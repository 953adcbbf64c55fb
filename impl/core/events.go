package core

import (
	"ShopChat/entity"
	"ShopChat/internal/bus"
	"ShopChat/internal/lib/sl"
	"ShopChat/internal/ws"
	"context"
	"log/slog"
)

// onActiveMessage handles chat_message on the open conversation's channel.
// Frames bound to a conversation that is no longer open are dropped.
func (c *Core) onActiveMessage(ev ws.Event) {
	frame, ok := ev.Frame.(ws.ChatMessage)
	if !ok {
		return
	}
	if !c.store.IsActive(ev.Channel.Conversation()) {
		c.log.With(slog.String("channel", ev.Channel.String())).Debug("stale conversation event dropped")
		return
	}
	c.ingest(frame.Message)
}

// onBackgroundMessage handles chat_message on the customer's badge listener
// and new_message on the agent inbox.
func (c *Core) onBackgroundMessage(ev ws.Event) {
	var msg entity.Message
	switch f := ev.Frame.(type) {
	case ws.ChatMessage:
		msg = f.Message
	case ws.NewMessage:
		msg = f.Message
	default:
		return
	}
	if c.ingest(msg) && msg.SenderIsCounterparty && !msg.Read && !c.store.IsActive(msg.ConversationID) {
		c.badge.Counterparty()
	}
}

// ingest appends m and, when it lands in the open conversation from the
// counter-party, acknowledges it right away.
func (c *Core) ingest(m entity.Message) bool {
	if !c.store.AppendMessage(m) {
		return false
	}
	c.archiveAll([]entity.Message{m})

	if m.SenderIsCounterparty && !m.Read && c.store.IsActive(m.ConversationID) {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if _, err := c.receipts.Acknowledge(ctx, c.active, m.ConversationID, []entity.ID{m.ID}); err != nil {
			c.log.With(slog.String("message_id", m.ID.String()), sl.Err(err)).Warn("auto read receipt")
		}
	}
	return true
}

func (c *Core) onMessagesRead(ev ws.Event) {
	frame, ok := ev.Frame.(ws.MessagesRead)
	if !ok {
		return
	}
	c.store.MarkRead(frame.MessageIDs)
	c.badge.MessagesRead()
}

func (c *Core) onConversationUpdated(ev ws.Event) {
	frame, ok := ev.Frame.(ws.ConversationUpdated)
	if !ok {
		return
	}
	if !c.store.PatchConversation(frame.Patch) {
		c.log.With(slog.String("conversation", frame.Patch.ID.String())).Debug("patch for unknown conversation ignored")
	}
}

func (c *Core) onDisconnected(ev ws.Event) {
	if !ev.Final {
		return
	}
	c.log.With(
		slog.String("channel", ev.Channel.String()),
		slog.Int("code", ev.Code),
	).Warn("chat channel unavailable")
}

func (c *Core) onAuthChanged(s bus.Signal) {
	if s.Authenticated {
		c.log.Info("credential set, starting chat")
		c.resume()
		return
	}
	c.active.Disconnect()
	c.background.Disconnect()
	c.log.Info("credential cleared, channels closed")
}

func (c *Core) archiveAll(list []entity.Message) {
	if c.archive == nil || len(list) == 0 {
		return
	}
	c.archiveRun.Add(1)
	go func() {
		defer c.archiveRun.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		for _, m := range list {
			if err := c.archive.SaveMessage(ctx, m); err != nil {
				c.log.With(slog.String("message_id", m.ID.String()), sl.Err(err)).Warn("archive message")
				return
			}
		}
	}()
}

// archived is the cold-start fallback when the backend cannot list messages.
func (c *Core) archived(ctx context.Context, conv entity.ID) ([]entity.Message, error) {
	if c.archive == nil {
		return nil, errNoArchive
	}
	return c.archive.ListMessages(ctx, conv, archiveLimit)
}
