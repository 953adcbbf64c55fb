package ws

import (
	"ShopChat/entity"
	"net/url"
)

// ChannelKey names the scope a Connection binds to: one conversation, or the
// global admin inbox.
type ChannelKey struct {
	conversation entity.ID
	inbox        bool
}

func ConversationChannel(id entity.ID) ChannelKey {
	return ChannelKey{conversation: id}
}

func InboxChannel() ChannelKey {
	return ChannelKey{inbox: true}
}

func (k ChannelKey) IsZero() bool {
	return !k.inbox && k.conversation.IsZero()
}

func (k ChannelKey) IsInbox() bool {
	return k.inbox
}

// Conversation is empty for the inbox scope.
func (k ChannelKey) Conversation() entity.ID {
	return k.conversation
}

func (k ChannelKey) Path() string {
	if k.inbox {
		return "/ws/admin/inbox"
	}
	return "/ws/chat/" + url.PathEscape(k.conversation.String())
}

func (k ChannelKey) String() string {
	if k.inbox {
		return "inbox"
	}
	if k.conversation.IsZero() {
		return "none"
	}
	return "conversation:" + k.conversation.String()
}
