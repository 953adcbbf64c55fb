package ws

import (
	"testing"
	"time"

	"ShopChat/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOutbound(t *testing.T) {
	data, err := Encode(SendChatMessage{Content: "Hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat_message","message":"Hello"}`, string(data))

	data, err = Encode(MarkRead{MessageIDs: entity.IDs("5", "abc")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mark_read","message_ids":[5,"abc"]}`, string(data))

	_, err = Encode(MarkRead{})
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = Encode(MessagesRead{MessageIDs: entity.IDs("1")})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeChatMessage(t *testing.T) {
	raw := `{"type":"chat_message","message":{"id":1001,"content":"Hello","sender_is_counterparty":false,"conversation_id":42,"created_at":"2026-10-14T10:00:00Z"}}`

	f, err := Decode([]byte(raw), entity.CustomerRole, ConversationChannel("42"))
	require.NoError(t, err)

	msg, ok := f.(ChatMessage)
	require.True(t, ok)
	assert.Equal(t, entity.ID("1001"), msg.Message.ID)
	assert.Equal(t, entity.ID("42"), msg.Message.ConversationID)
	assert.Equal(t, "Hello", msg.Message.Content)
	assert.False(t, msg.Message.SenderIsCounterparty)
	assert.True(t, msg.Message.CreatedAt.Equal(time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)))
}

func TestDecodeResolvesStaffFlag(t *testing.T) {
	raw := []byte(`{"type":"chat_message","message":{"id":"m1","content":"hi","is_sender_staff":true}}`)

	f, err := Decode(raw, entity.CustomerRole, ConversationChannel("7"))
	require.NoError(t, err)
	msg := f.(ChatMessage).Message
	assert.True(t, msg.SenderIsCounterparty)
	assert.Equal(t, entity.ID("7"), msg.ConversationID)

	f, err = Decode(raw, entity.AgentRole, ConversationChannel("7"))
	require.NoError(t, err)
	assert.False(t, f.(ChatMessage).Message.SenderIsCounterparty)
}

func TestDecodeNewMessage(t *testing.T) {
	f, err := Decode([]byte(`{"type":"new_message","message":{"id":9,"conversation":3,"content":"x","is_sender_staff":false}}`),
		entity.AgentRole, InboxChannel())
	require.NoError(t, err)
	msg := f.(NewMessage).Message
	assert.Equal(t, entity.ID("3"), msg.ConversationID)
	assert.True(t, msg.SenderIsCounterparty)

	_, err = Decode([]byte(`{"type":"new_message","message":{"id":9,"content":"x"}}`), entity.AgentRole, InboxChannel())
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeMessagesRead(t *testing.T) {
	f, err := Decode([]byte(`{"type":"messages_read","message_ids":[1,"2"]}`), entity.CustomerRole, ConversationChannel("1"))
	require.NoError(t, err)
	assert.Equal(t, entity.IDs("1", "2"), f.(MessagesRead).MessageIDs)

	_, err = Decode([]byte(`{"type":"messages_read","message_ids":[]}`), entity.CustomerRole, ConversationChannel("1"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeConversationUpdated(t *testing.T) {
	f, err := Decode([]byte(`{"type":"conversation_updated","conversation":{"id":5,"status":"closed","unread_count":2}}`),
		entity.AgentRole, InboxChannel())
	require.NoError(t, err)
	patch := f.(ConversationUpdated).Patch
	assert.Equal(t, entity.ID("5"), patch.ID)
	require.NotNil(t, patch.Status)
	assert.Equal(t, "closed", *patch.Status)
	require.NotNil(t, patch.UnreadCount)
	assert.Equal(t, 2, *patch.UnreadCount)

	f, err = Decode([]byte(`{"type":"conversation_updated","conversation_id":6,"status":"open"}`), entity.AgentRole, InboxChannel())
	require.NoError(t, err)
	assert.Equal(t, entity.ID("6"), f.(ConversationUpdated).Patch.ID)

	_, err = Decode([]byte(`{"type":"conversation_updated","conversation":{"id":5,"unread_count":-1}}`), entity.AgentRole, InboxChannel())
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"type":`,
		"missing type":    `{"message":{"id":1}}`,
		"unknown type":    `{"type":"typing"}`,
		"string message":  `{"type":"chat_message","message":"Hello"}`,
		"missing message": `{"type":"chat_message"}`,
		"missing id":      `{"type":"chat_message","message":{"content":"Hello"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw), entity.CustomerRole, ConversationChannel("1"))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestChannelKey(t *testing.T) {
	assert.True(t, ChannelKey{}.IsZero())
	assert.Equal(t, "/ws/chat/42", ConversationChannel("42").Path())
	assert.Equal(t, "/ws/admin/inbox", InboxChannel().Path())
	assert.Equal(t, "conversation:42", ConversationChannel("42").String())
	assert.True(t, InboxChannel().IsInbox())
	assert.Empty(t, InboxChannel().Conversation())
	assert.Equal(t, ConversationChannel("1"), ConversationChannel("1"))
}
