package chatapi

import (
	"ShopChat/entity"
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type createConversationRequest struct {
	Status string `json:"status"`
}

type sendMessageRequest struct {
	Conversation entity.ID `json:"conversation"`
	Content      string    `json:"content"`
	MessageType  string    `json:"message_type"`
}

type markReadRequest struct {
	MessageIDs []entity.ID `json:"message_ids"`
}

type markConversationReadRequest struct {
	ConversationID entity.ID `json:"conversation_id"`
}

type unreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

func (c *Client) CreateConversation(ctx context.Context) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/chat/conversations",
		body:   createConversationRequest{Status: entity.StatusOpen},
		out:    &conv,
	})
	if err != nil {
		return nil, err
	}
	if conv.ID.IsZero() {
		return nil, fmt.Errorf("create conversation: response without id")
	}
	return &conv, nil
}

// ListConversations returns the customer's own conversations, or the whole
// inbox for an agent.
func (c *Client) ListConversations(ctx context.Context) ([]entity.Conversation, error) {
	path := "/chat/conversations"
	if c.role.IsAgent() {
		path = "/chat/inbox"
	}
	var out list[entity.Conversation]
	if err := c.do(ctx, call{method: http.MethodGet, path: path, out: &out, retry: true}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, conv entity.ID) ([]entity.Message, error) {
	var out list[entity.WireMessage]
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/chat/messages",
		query:  url.Values{"conversation": {conv.String()}},
		out:    &out,
		retry:  true,
	})
	if err != nil {
		return nil, err
	}
	return entity.Messages(out, c.role, conv), nil
}

// SendMessage persists a message and returns it. Only used when the channel
// is unavailable.
func (c *Client) SendMessage(ctx context.Context, conv entity.ID, content string) (*entity.Message, error) {
	var wire entity.WireMessage
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/chat/messages",
		body:   sendMessageRequest{Conversation: conv, Content: content, MessageType: "text"},
		out:    &wire,
	})
	if err != nil {
		return nil, err
	}
	if wire.ID.IsZero() {
		return nil, fmt.Errorf("send message: response without id")
	}
	msg := wire.Message(c.role)
	if msg.ConversationID.IsZero() {
		msg.ConversationID = conv
	}
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, ids []entity.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "/chat/messages/mark-read",
		body:   markReadRequest{MessageIDs: ids},
	})
}

func (c *Client) MarkConversationRead(ctx context.Context, conv entity.ID) error {
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "/chat/messages/mark_read",
		body:   markConversationReadRequest{ConversationID: conv},
	})
}

// UnreadCount is the global unread total for the current principal.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out unreadCountResponse
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/chat/messages/unread_count",
		out:    &out,
		retry:  true,
	})
	if err != nil {
		return 0, err
	}
	if out.UnreadCount < 0 {
		return 0, nil
	}
	return out.UnreadCount, nil
}
