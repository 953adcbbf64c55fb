package ws

import (
	"ShopChat/entity"
	"ShopChat/internal/lib/validate"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type FrameType string

const (
	TypeChatMessage         FrameType = "chat_message"
	TypeMarkRead            FrameType = "mark_read"
	TypeMessagesRead        FrameType = "messages_read"
	TypeNewMessage          FrameType = "new_message"
	TypeConversationUpdated FrameType = "conversation_updated"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the closed set of frame kinds carried by the channel.
type Frame interface {
	Type() FrameType
}

// SendChatMessage is the outbound chat_message frame.
type SendChatMessage struct {
	Content string
}

// MarkRead is the outbound read receipt for explicit message ids.
type MarkRead struct {
	MessageIDs []entity.ID
}

// ChatMessage is an inbound message on a conversation channel.
type ChatMessage struct {
	Message entity.Message
}

// MessagesRead confirms the listed ids are read. It is delivered to every
// party of the conversation, the sender included.
type MessagesRead struct {
	MessageIDs []entity.ID
}

// NewMessage is the admin inbox notification for a message in any conversation.
type NewMessage struct {
	Message entity.Message
}

// ConversationUpdated patches one inbox row.
type ConversationUpdated struct {
	Patch entity.ConversationPatch
}

func (SendChatMessage) Type() FrameType     { return TypeChatMessage }
func (MarkRead) Type() FrameType            { return TypeMarkRead }
func (ChatMessage) Type() FrameType         { return TypeChatMessage }
func (MessagesRead) Type() FrameType        { return TypeMessagesRead }
func (NewMessage) Type() FrameType          { return TypeNewMessage }
func (ConversationUpdated) Type() FrameType { return TypeConversationUpdated }

type outboundChat struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}

type outboundMarkRead struct {
	Type       FrameType   `json:"type"`
	MessageIDs []entity.ID `json:"message_ids"`
}

// Encode serializes an outbound frame.
func Encode(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case SendChatMessage:
		return json.Marshal(outboundChat{Type: TypeChatMessage, Message: v.Content})
	case MarkRead:
		if len(v.MessageIDs) == 0 {
			return nil, fmt.Errorf("%w: mark_read without ids", ErrMalformedFrame)
		}
		return json.Marshal(outboundMarkRead{Type: TypeMarkRead, MessageIDs: v.MessageIDs})
	}
	return nil, fmt.Errorf("%w: %T is not an outbound frame", ErrMalformedFrame, f)
}

type envelope struct {
	Type         FrameType       `json:"type"`
	Message      json.RawMessage `json:"message"`
	MessageIDs   []entity.ID     `json:"message_ids"`
	Conversation json.RawMessage `json:"conversation"`
}

type readFrame struct {
	MessageIDs []entity.ID `json:"message_ids" validate:"required,min=1,dive,required"`
}

// Decode parses and validates an inbound frame received on the channel bound
// to key, resolving the counterparty bit for viewer.
func Decode(raw []byte, viewer entity.Role, key ChannelKey) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case TypeChatMessage, TypeNewMessage:
		msg, err := decodeMessage(env.Message, viewer)
		if err != nil {
			return nil, err
		}
		if msg.ConversationID.IsZero() {
			msg.ConversationID = key.Conversation()
		}
		if env.Type == TypeNewMessage {
			if msg.ConversationID.IsZero() {
				return nil, fmt.Errorf("%w: new_message without conversation_id", ErrMalformedFrame)
			}
			return NewMessage{Message: msg}, nil
		}
		if msg.ConversationID.IsZero() {
			return nil, fmt.Errorf("%w: chat_message without conversation_id", ErrMalformedFrame)
		}
		return ChatMessage{Message: msg}, nil

	case TypeMessagesRead:
		f := readFrame{MessageIDs: env.MessageIDs}
		if err := validate.Struct(f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return MessagesRead{MessageIDs: f.MessageIDs}, nil

	case TypeConversationUpdated:
		patch, err := decodePatch(env.Conversation, raw)
		if err != nil {
			return nil, err
		}
		return ConversationUpdated{Patch: patch}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, env.Type)
}

func decodeMessage(raw json.RawMessage, viewer entity.Role) (entity.Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return entity.Message{}, fmt.Errorf("%w: message is not an object", ErrMalformedFrame)
	}
	var wire entity.WireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return entity.Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := validate.Struct(wire); err != nil {
		return entity.Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return wire.Message(viewer), nil
}

// decodePatch accepts {"conversation": {...}} and, from older backends, the
// patch fields at the top level next to conversation_id.
func decodePatch(nested json.RawMessage, raw []byte) (entity.ConversationPatch, error) {
	var patch entity.ConversationPatch
	if len(bytes.TrimSpace(nested)) > 0 {
		if err := json.Unmarshal(nested, &patch); err != nil {
			return patch, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	} else {
		var flat struct {
			entity.ConversationPatch
			ConversationID entity.ID `json:"conversation_id"`
		}
		if err := json.Unmarshal(raw, &flat); err != nil {
			return patch, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		patch = flat.ConversationPatch
		if patch.ID.IsZero() {
			patch.ID = flat.ConversationID
		}
	}
	if err := validate.Struct(patch); err != nil {
		return patch, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return patch, nil
}
