package chat

import (
	"ShopChat/entity"
	"ShopChat/internal/composer"
	"context"
)

type Core interface {
	Conversations(query string) []entity.Conversation
	Messages(conv entity.ID) []entity.Message
	LastSeen(conv entity.ID) (entity.ID, bool)
	OpenConversation(ctx context.Context, conv entity.ID) error
	MarkConversationRead(ctx context.Context, conv entity.ID) error
	Send(ctx context.Context, text string) (composer.Delivery, error)
	OpenPanel(ctx context.Context) (entity.ID, error)
	ClosePanel(ctx context.Context)
	PanelOpen() bool
	Refresh(ctx context.Context) error
	BadgeCount() int
}
