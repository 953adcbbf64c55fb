package bus

import "ShopChat/entity"

// Topics for the application signal bus shared by the floating button, the
// chat panel and the auth session.
const (
	TopicChatOpened   = "chat:opened"
	TopicChatClosed   = "chat:closed"
	TopicBadgeCleared = "chat:badge-cleared"
	TopicAuthChanged  = "auth:changed"
)

type Signal struct {
	Topic          string
	ConversationID entity.ID
	Authenticated  bool
}

// Emit publishes s on its own topic.
func Emit(b *Bus[Signal], s Signal) {
	if b == nil {
		return
	}
	b.Publish(s.Topic, s)
}
