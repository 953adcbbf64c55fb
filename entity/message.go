package entity

import "time"

// Message is a single chat message as held by the client.
type Message struct {
	ID                   ID        `json:"id" bson:"_id"`
	ConversationID       ID        `json:"conversation_id" bson:"conversation_id"`
	Content              string    `json:"content" bson:"content"`
	SenderIsCounterparty bool      `json:"sender_is_counterparty" bson:"sender_is_counterparty"`
	CreatedAt            time.Time `json:"created_at" bson:"created_at"`
	Read                 bool      `json:"is_read" bson:"read"`
}

// WireMessage is the message shape the backend sends over REST and the
// realtime channel. The counterparty bit arrives either already resolved for
// the viewer or as is_sender_staff, which needs the viewer role.
type WireMessage struct {
	ID                   ID        `json:"id" validate:"required"`
	ConversationID       ID        `json:"conversation_id"`
	Conversation         ID        `json:"conversation"`
	Content              string    `json:"content"`
	SenderIsCounterparty *bool     `json:"sender_is_counterparty,omitempty"`
	IsSenderStaff        *bool     `json:"is_sender_staff,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	IsRead               bool      `json:"is_read"`
}

// Message resolves the wire form for the given viewer.
func (w WireMessage) Message(viewer Role) Message {
	conv := w.ConversationID
	if conv.IsZero() {
		conv = w.Conversation
	}
	var counterparty bool
	switch {
	case w.SenderIsCounterparty != nil:
		counterparty = *w.SenderIsCounterparty
	case w.IsSenderStaff != nil:
		// staff messages are the counterparty for a customer and the own side for an agent
		counterparty = *w.IsSenderStaff != viewer.IsAgent()
	}
	return Message{
		ID:                   w.ID,
		ConversationID:       conv,
		Content:              w.Content,
		SenderIsCounterparty: counterparty,
		CreatedAt:            w.CreatedAt,
		Read:                 w.IsRead,
	}
}

// Messages resolves a list, filling a missing conversation id with fallback.
func Messages(wire []WireMessage, viewer Role, fallback ID) []Message {
	out := make([]Message, 0, len(wire))
	for _, w := range wire {
		m := w.Message(viewer)
		if m.ConversationID.IsZero() {
			m.ConversationID = fallback
		}
		out = append(out, m)
	}
	return out
}
