package core

import (
	"ShopChat/entity"
	"ShopChat/internal/bus"
	"ShopChat/internal/chatapi"
	"ShopChat/internal/composer"
	"ShopChat/internal/lib/sl"
	"ShopChat/internal/ws"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

var (
	ErrNoConversation = errors.New("no conversation is open")
	errNoArchive      = errors.New("no transcript archive")
)

func isUnauthenticated(err error) bool {
	return errors.Is(err, chatapi.ErrUnauthenticated) || chatapi.StatusOf(err) == http.StatusUnauthorized
}

// OpenPanel opens the chat panel. The badge clears at once. A customer lands
// in their latest open conversation, created on first use; an agent picks a
// conversation from the inbox afterwards.
func (c *Core) OpenPanel(ctx context.Context) (entity.ID, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.panelOpen = true
	c.badge.Open()

	if c.role.IsAgent() {
		active := c.store.Active()
		c.emit(bus.TopicChatOpened, active)
		return active, nil
	}

	conv, err := c.ensureConversation(ctx)
	if err != nil {
		c.log.With(sl.Err(err)).Error("open chat panel")
		return "", err
	}
	c.background.Disconnect()
	if err = c.openConversation(ctx, conv); err != nil {
		return conv, err
	}
	c.emit(bus.TopicChatOpened, conv)
	return conv, nil
}

// ClosePanel flushes receipts for the open conversation, closes its channel
// and hands unread tracking back to the background listener.
func (c *Core) ClosePanel(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	conv := c.store.Active()
	c.leave(ctx, conv)
	c.store.ClearActive()

	c.panelOpen = false
	c.badge.Close()
	c.emit(bus.TopicChatClosed, conv)
	c.connectBackground(conv)
}

// OpenConversation switches the active conversation. The previous channel
// binding is fully torn down before the new one is made.
func (c *Core) OpenConversation(ctx context.Context, conv entity.ID) error {
	if conv.IsZero() {
		return ErrNoConversation
	}
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.openConversation(ctx, conv)
}

// openConversation must be called with lifecycle held.
func (c *Core) openConversation(ctx context.Context, conv entity.ID) error {
	log := c.log.With(slog.String("conversation", conv.String()))

	prev := c.store.Active()
	if prev != conv {
		c.leave(ctx, prev)
	}

	pending := 0
	if row, ok := c.store.Conversation(conv); ok {
		pending = row.UnreadCount
	}
	c.store.SetActive(conv)

	if err := c.active.EnsureConnected(ws.ConversationChannel(conv)); err != nil {
		log.With(sl.Err(err)).Warn("conversation channel not started")
	}

	list, err := c.gateway.ListMessages(ctx, conv)
	if err != nil {
		log.With(sl.Err(err)).Warn("load messages")
		archived, archErr := c.archived(ctx, conv)
		if archErr != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		list = archived
	} else {
		c.archiveAll(list)
	}
	c.store.ReplaceMessages(conv, list)

	if _, err = c.receipts.MarkOpened(ctx, c.active, conv, pending); err != nil {
		log.With(sl.Err(err)).Warn("mark opened conversation read")
	}
	log.Info("conversation opened")
	return nil
}

// leave flushes the final receipt for conv and closes its channel. Must be
// called with lifecycle held.
func (c *Core) leave(ctx context.Context, conv entity.ID) {
	if conv.IsZero() {
		return
	}
	c.receipts.Flush(ctx, c.active, conv)
	c.active.Disconnect()
}

// ensureConversation reuses the newest open conversation or creates one.
func (c *Core) ensureConversation(ctx context.Context) (entity.ID, error) {
	if conv, ok := c.store.Latest(entity.StatusOpen); ok {
		return conv.ID, nil
	}
	created, err := c.gateway.CreateConversation(ctx)
	if err != nil {
		return "", err
	}
	c.store.UpsertConversation(*created)
	c.log.With(slog.String("conversation", created.ID.String())).Info("conversation created")
	return created.ID, nil
}

// Send delivers text to the open conversation.
func (c *Core) Send(ctx context.Context, text string) (composer.Delivery, error) {
	conv := c.store.Active()
	if conv.IsZero() {
		return composer.DeliveryNone, ErrNoConversation
	}
	return c.composer.Send(ctx, c.active, conv, text)
}

// Refresh refetches the conversation list, and the open conversation's
// messages if any. This is the only list-wide refetch.
func (c *Core) Refresh(ctx context.Context) error {
	list, err := c.gateway.ListConversations(ctx)
	if err != nil {
		return err
	}
	c.store.SetConversations(list)

	if conv := c.store.Active(); !conv.IsZero() {
		msgs, err := c.gateway.ListMessages(ctx, conv)
		if err != nil {
			return err
		}
		c.store.ReplaceMessages(conv, msgs)
	}
	return nil
}

// MarkRead is the explicit receipt for the given ids.
func (c *Core) MarkRead(ctx context.Context, ids []entity.ID) error {
	return c.receipts.MarkMessages(ctx, ids)
}

// MarkConversationRead acknowledges everything unread in conv.
func (c *Core) MarkConversationRead(ctx context.Context, conv entity.ID) error {
	if conv.IsZero() {
		conv = c.store.Active()
	}
	if conv.IsZero() {
		return ErrNoConversation
	}
	ids := c.store.UnreadIDs(conv)
	switch {
	case len(ids) > 0 && c.store.IsActive(conv):
		_, err := c.receipts.Acknowledge(ctx, c.active, conv, ids)
		return err
	case len(ids) > 0:
		return c.receipts.MarkMessages(ctx, ids)
	}
	if err := c.gateway.MarkConversationRead(ctx, conv); err != nil {
		return err
	}
	c.store.MarkConversationRead(conv)
	return nil
}

// Conversations lists rows matching query, newest first.
func (c *Core) Conversations(query string) []entity.Conversation {
	all := c.store.Conversations()
	out := make([]entity.Conversation, 0, len(all))
	for i := range all {
		if all[i].Matches(query) {
			out = append(out, all[i])
		}
	}
	return out
}

func (c *Core) Messages(conv entity.ID) []entity.Message {
	return c.store.Messages(conv)
}

func (c *Core) BadgeCount() int {
	return c.badge.Count()
}

func (c *Core) PanelOpen() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.panelOpen
}

// LastSeen is the newest own message in conv the counter-party has read.
func (c *Core) LastSeen(conv entity.ID) (entity.ID, bool) {
	return c.store.LastSeenOutbound(conv)
}

// Active is the conversation open in the panel, empty if none.
func (c *Core) Active() entity.ID {
	return c.store.Active()
}
