package entity

import (
	"strings"
	"time"
	"unicode"
)

// Conversation statuses known to the client. The backend may send others; the
// status is carried as an opaque string.
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusPending = "pending"
)

// Preview is the denormalized last message shown in conversation lists.
type Preview struct {
	Content string `json:"content" bson:"content"`
}

// Conversation is a thread between one customer and the support side.
type Conversation struct {
	ID            ID        `json:"id" bson:"_id" validate:"required"`
	CustomerName  string    `json:"customer_name" bson:"customer_name"`
	CustomerEmail string    `json:"customer_email" bson:"customer_email"`
	Status        string    `json:"status" bson:"status"`
	AssignedTo    *ID       `json:"assigned_to,omitempty" bson:"assigned_to,omitempty"`
	LastMessage   *Preview  `json:"last_message,omitempty" bson:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at" bson:"last_message_at"`
	UnreadCount   int       `json:"unread_count" bson:"unread_count"`
}

// ConversationPatch is a partial update delivered by conversation_updated.
// Nil fields are left untouched.
type ConversationPatch struct {
	ID            ID         `json:"id" validate:"required"`
	Status        *string    `json:"status,omitempty"`
	AssignedTo    *ID        `json:"assigned_to,omitempty"`
	LastMessage   *Preview   `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   *int       `json:"unread_count,omitempty" validate:"omitempty,min=0"`
}

// DisplayName is the customer's name, falling back to the email.
func (c *Conversation) DisplayName() string {
	if name := strings.TrimSpace(c.CustomerName); name != "" {
		return name
	}
	if email := strings.TrimSpace(c.CustomerEmail); email != "" {
		return email
	}
	return "Customer #" + c.ID.String()
}

// Initials returns up to two letters for the avatar.
func (c *Conversation) Initials() string {
	source := strings.TrimSpace(c.CustomerName)
	if source == "" {
		source, _, _ = strings.Cut(strings.TrimSpace(c.CustomerEmail), "@")
	}
	var out []rune
	for _, word := range strings.FieldsFunc(source, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '_' || r == '-'
	}) {
		out = append(out, unicode.ToUpper([]rune(word)[0]))
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}

// Matches reports whether the participant name or email contains query,
// case-insensitively. An empty query matches everything.
func (c *Conversation) Matches(query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.CustomerName), query) ||
		strings.Contains(strings.ToLower(c.CustomerEmail), query)
}

// Apply merges a patch into the conversation. A preview older than the one
// already held is ignored so a late patch cannot roll the row back.
func (c *Conversation) Apply(p ConversationPatch) {
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.AssignedTo != nil {
		assigned := *p.AssignedTo
		c.AssignedTo = &assigned
	}
	if p.LastMessageAt != nil && !p.LastMessageAt.Before(c.LastMessageAt) {
		c.LastMessageAt = *p.LastMessageAt
		if p.LastMessage != nil {
			c.LastMessage = &Preview{Content: p.LastMessage.Content}
		}
	} else if p.LastMessageAt == nil && p.LastMessage != nil {
		c.LastMessage = &Preview{Content: p.LastMessage.Content}
	}
	if p.UnreadCount != nil && *p.UnreadCount >= 0 {
		c.UnreadCount = *p.UnreadCount
	}
}
