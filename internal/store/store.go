// Package store holds the client-side chat state: conversations, their
// message lists and unread counters. Connection events and REST snapshots are
// merged here and nowhere else.
package store

import (
	"ShopChat/entity"
	"ShopChat/internal/bus"
	"ShopChat/internal/lib/sl"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type ChangeKind string

const (
	ChangeConversations ChangeKind = "conversations"
	ChangeMessages      ChangeKind = "messages"
	ChangeSeen          ChangeKind = "seen"
	ChangeActive        ChangeKind = "active"
)

// Change tells subscribers what to re-read. ConversationID is empty for
// list-wide changes.
type Change struct {
	Kind           ChangeKind `json:"kind"`
	ConversationID entity.ID  `json:"conversation_id,omitempty"`
}

type Store struct {
	mu            sync.RWMutex
	conversations map[entity.ID]*entity.Conversation
	messages      map[entity.ID][]entity.Message
	owner         map[entity.ID]entity.ID // message id -> conversation id
	counted       map[entity.ID]struct{}  // unread messages reflected in a row's unread_count
	loaded        map[entity.ID]bool      // conversations with a full message snapshot
	snapshotAt    map[entity.ID]time.Time // last_message_at as last reported by a row snapshot
	seen          map[entity.ID]struct{}
	active        entity.ID

	changes *bus.Bus[Change]
	log     *slog.Logger
}

func New(log *slog.Logger) *Store {
	return &Store{
		conversations: make(map[entity.ID]*entity.Conversation),
		messages:      make(map[entity.ID][]entity.Message),
		owner:         make(map[entity.ID]entity.ID),
		counted:       make(map[entity.ID]struct{}),
		loaded:        make(map[entity.ID]bool),
		snapshotAt:    make(map[entity.ID]time.Time),
		seen:          make(map[entity.ID]struct{}),
		changes:       bus.New[Change](log),
		log:           log.With(sl.Module("store")),
	}
}

// Subscribe registers h for every change and returns the unsubscribe.
func (s *Store) Subscribe(h func(Change)) func() {
	return s.changes.Subscribe(bus.All, h)
}

func (s *Store) publish(changes ...Change) {
	for _, c := range changes {
		s.changes.Publish(string(c.Kind), c)
	}
}

// SetConversations applies a list snapshot. A row that already holds a newer
// preview than the snapshot keeps it, rows missing from the snapshot are
// dropped unless active, and the active row always reads 0 unread.
func (s *Store) SetConversations(list []entity.Conversation) {
	s.mu.Lock()
	next := make(map[entity.ID]*entity.Conversation, len(list))
	for _, c := range list {
		if c.ID.IsZero() {
			continue
		}
		row := s.merged(c)
		if row.UnreadCount < 0 {
			row.UnreadCount = 0
		}
		next[c.ID] = row
	}
	if !s.active.IsZero() {
		if _, ok := next[s.active]; !ok {
			if cur, ok := s.conversations[s.active]; ok {
				next[s.active] = cur
			}
		}
		if row, ok := next[s.active]; ok {
			row.UnreadCount = 0
		}
	}
	s.conversations = next
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeConversations})
}

// UpsertConversation inserts or replaces one row with the same stale guard as
// SetConversations.
func (s *Store) UpsertConversation(c entity.Conversation) {
	if c.ID.IsZero() {
		return
	}
	s.mu.Lock()
	row := s.merged(c)
	if row.UnreadCount < 0 || c.ID == s.active {
		row.UnreadCount = 0
	}
	s.conversations[c.ID] = row
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeConversations, ConversationID: c.ID})
}

// merged resolves an incoming row against the held one. A held row with a
// newer preview wins; otherwise the snapshot's counters are taken and its
// last_message_at is remembered so late deltas it already counted are not
// counted twice. Must be called with mu held.
func (s *Store) merged(c entity.Conversation) *entity.Conversation {
	row := clone(c)
	if cur, ok := s.conversations[c.ID]; ok && cur.LastMessageAt.After(c.LastMessageAt) {
		row.LastMessage = clonePreview(cur.LastMessage)
		row.LastMessageAt = cur.LastMessageAt
		row.UnreadCount = cur.UnreadCount
		return row
	}
	s.snapshotAt[c.ID] = c.LastMessageAt
	return row
}

// PatchConversation applies a partial update to a known row. It reports false
// when the row is not held.
func (s *Store) PatchConversation(p entity.ConversationPatch) bool {
	s.mu.Lock()
	row, ok := s.conversations[p.ID]
	if ok {
		row.Apply(p)
		if p.ID == s.active {
			row.UnreadCount = 0
		}
	}
	s.mu.Unlock()

	if ok {
		s.publish(Change{Kind: ChangeConversations, ConversationID: p.ID})
	}
	return ok
}

// SetActive marks id as the open conversation and resets its unread count.
func (s *Store) SetActive(id entity.ID) {
	s.mu.Lock()
	s.active = id
	if row, ok := s.conversations[id]; ok {
		row.UnreadCount = 0
	}
	s.mu.Unlock()

	s.publish(
		Change{Kind: ChangeActive, ConversationID: id},
		Change{Kind: ChangeConversations, ConversationID: id},
	)
}

func (s *Store) ClearActive() {
	s.mu.Lock()
	prev := s.active
	s.active = ""
	s.mu.Unlock()

	if !prev.IsZero() {
		s.publish(Change{Kind: ChangeActive, ConversationID: prev})
	}
}

// ReplaceMessages merges a REST snapshot into the conversation's list.
// Messages delivered by the channel that the snapshot does not carry yet are
// kept, and a read flag once set is never cleared.
func (s *Store) ReplaceMessages(conv entity.ID, list []entity.Message) {
	if conv.IsZero() {
		return
	}
	s.mu.Lock()
	byID := make(map[entity.ID]int, len(list))
	merged := make([]entity.Message, 0, len(list)+len(s.messages[conv]))
	for _, m := range list {
		if m.ID.IsZero() {
			continue
		}
		if m.ConversationID.IsZero() {
			m.ConversationID = conv
		}
		if i, dup := byID[m.ID]; dup {
			merged[i].Read = merged[i].Read || m.Read
			continue
		}
		byID[m.ID] = len(merged)
		merged = append(merged, m)
		if m.SenderIsCounterparty && !m.Read {
			s.counted[m.ID] = struct{}{}
		}
	}
	for _, m := range s.messages[conv] {
		if i, ok := byID[m.ID]; ok {
			merged[i].Read = merged[i].Read || m.Read
			continue
		}
		byID[m.ID] = len(merged)
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})

	for _, m := range merged {
		s.owner[m.ID] = conv
		if m.Read {
			delete(s.counted, m.ID)
			if !m.SenderIsCounterparty {
				s.seen[m.ID] = struct{}{}
			}
		}
	}
	s.messages[conv] = merged
	s.loaded[conv] = true
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeMessages, ConversationID: conv})
}

// AppendMessage adds one channel-delivered message unless its id is already
// held. The row preview moves forward only, and a counter-party message in a
// conversation that is not open bumps unread_count once per id.
func (s *Store) AppendMessage(m entity.Message) bool {
	if m.ID.IsZero() || m.ConversationID.IsZero() {
		return false
	}
	s.mu.Lock()
	if _, dup := s.owner[m.ID]; dup {
		s.mu.Unlock()
		s.log.With(slog.String("message_id", m.ID.String())).Debug("duplicate message dropped")
		return false
	}
	conv := m.ConversationID
	s.owner[m.ID] = conv

	list := append(s.messages[conv], m)
	if n := len(list); n > 1 && list[n-1].CreatedAt.Before(list[n-2].CreatedAt) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		})
	}
	s.messages[conv] = list

	row, ok := s.conversations[conv]
	if !ok {
		row = &entity.Conversation{ID: conv, Status: entity.StatusOpen}
		s.conversations[conv] = row
	}
	if !m.CreatedAt.Before(row.LastMessageAt) {
		row.LastMessage = &entity.Preview{Content: m.Content}
		row.LastMessageAt = m.CreatedAt
	}
	if m.SenderIsCounterparty && !m.Read && conv != s.active {
		if _, already := s.counted[m.ID]; !already {
			s.counted[m.ID] = struct{}{}
			if !s.snapshotCovers(conv, m) {
				row.UnreadCount++
			}
		}
	}
	s.mu.Unlock()

	s.publish(
		Change{Kind: ChangeMessages, ConversationID: conv},
		Change{Kind: ChangeConversations, ConversationID: conv},
	)
	return true
}

// snapshotCovers reports whether the last row snapshot for conv was taken at
// or after m, so its unread_count already includes m. Must be called with mu
// held.
func (s *Store) snapshotCovers(conv entity.ID, m entity.Message) bool {
	if s.loaded[conv] {
		return false
	}
	at, ok := s.snapshotAt[conv]
	return ok && !at.IsZero() && !m.CreatedAt.After(at)
}

// MarkRead records ids as read. Every id joins the seen set, held messages get
// their read flag, and the owning rows lose one unread per counted message,
// reaching 0 once no unread counter-party message is left.
func (s *Store) MarkRead(ids []entity.ID) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	touched := make(map[entity.ID]struct{})
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		s.seen[id] = struct{}{}
		conv, ok := s.owner[id]
		if !ok {
			continue
		}
		list := s.messages[conv]
		for i := range list {
			if list[i].ID != id || list[i].Read {
				continue
			}
			list[i].Read = true
			touched[conv] = struct{}{}
			if _, counted := s.counted[id]; counted {
				delete(s.counted, id)
				if row, ok := s.conversations[conv]; ok && row.UnreadCount > 0 {
					row.UnreadCount--
				}
			}
		}
	}
	for conv := range touched {
		s.settle(conv)
	}
	s.mu.Unlock()

	changes := []Change{{Kind: ChangeSeen}}
	for conv := range touched {
		changes = append(changes,
			Change{Kind: ChangeMessages, ConversationID: conv},
			Change{Kind: ChangeConversations, ConversationID: conv},
		)
	}
	s.publish(changes...)
}

// MarkConversationRead applies a successful conversation-scoped receipt: every
// counter-party message held for conv is read and the row drops to 0.
func (s *Store) MarkConversationRead(conv entity.ID) {
	s.mu.Lock()
	list := s.messages[conv]
	for i := range list {
		if list[i].SenderIsCounterparty && !list[i].Read {
			list[i].Read = true
			delete(s.counted, list[i].ID)
		}
	}
	if row, ok := s.conversations[conv]; ok {
		row.UnreadCount = 0
	}
	s.mu.Unlock()

	s.publish(
		Change{Kind: ChangeMessages, ConversationID: conv},
		Change{Kind: ChangeConversations, ConversationID: conv},
	)
}

// ResetUnread zeroes the row counter without touching message flags.
func (s *Store) ResetUnread(conv entity.ID) {
	s.mu.Lock()
	row, ok := s.conversations[conv]
	changed := ok && row.UnreadCount != 0
	if changed {
		row.UnreadCount = 0
	}
	s.mu.Unlock()

	if changed {
		s.publish(Change{Kind: ChangeConversations, ConversationID: conv})
	}
}

// settle must be called with mu held.
func (s *Store) settle(conv entity.ID) {
	row, ok := s.conversations[conv]
	if !ok || !s.loaded[conv] {
		return
	}
	for _, m := range s.messages[conv] {
		if m.SenderIsCounterparty && !m.Read {
			return
		}
	}
	row.UnreadCount = 0
}

// Conversations returns the rows newest first.
func (s *Store) Conversations() []entity.Conversation {
	s.mu.RLock()
	out := make([]entity.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *clone(*c))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Conversation(id entity.ID) (entity.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return entity.Conversation{}, false
	}
	return *clone(*c), true
}

func (s *Store) HasConversation(id entity.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[id]
	return ok
}

// Latest returns the newest row with the given status, or the newest row at
// all when status is empty.
func (s *Store) Latest(status string) (entity.Conversation, bool) {
	for _, c := range s.Conversations() {
		if status == "" || c.Status == status {
			return c, true
		}
	}
	return entity.Conversation{}, false
}

func (s *Store) Messages(conv entity.ID) []entity.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entity.Message(nil), s.messages[conv]...)
}

func (s *Store) Active() entity.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Store) IsActive(conv entity.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !conv.IsZero() && s.active == conv
}

func (s *Store) Seen(id entity.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// LastSeenOutbound is the newest own message in conv the counter-party has read.
func (s *Store) LastSeenOutbound(conv entity.ID) (entity.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conv]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].SenderIsCounterparty {
			continue
		}
		if _, ok := s.seen[list[i].ID]; ok {
			return list[i].ID, true
		}
	}
	return "", false
}

// UnreadIDs lists the held counter-party messages of conv not yet read.
func (s *Store) UnreadIDs(conv entity.ID) []entity.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []entity.ID
	for _, m := range s.messages[conv] {
		if m.SenderIsCounterparty && !m.Read {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	return total
}

func clone(c entity.Conversation) *entity.Conversation {
	out := c
	if c.AssignedTo != nil {
		assigned := *c.AssignedTo
		out.AssignedTo = &assigned
	}
	out.LastMessage = clonePreview(c.LastMessage)
	return &out
}

func clonePreview(p *entity.Preview) *entity.Preview {
	if p == nil {
		return nil
	}
	return &entity.Preview{Content: p.Content}
}
