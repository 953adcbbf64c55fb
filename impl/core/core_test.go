package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ShopChat/entity"
	"ShopChat/internal/badge"
	"ShopChat/internal/bus"
	"ShopChat/internal/chatapi"
	"ShopChat/internal/composer"
	"ShopChat/internal/lib/logger"
	"ShopChat/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu          sync.Mutex
	events      *bus.Bus[ws.Event]
	autoConnect bool
	connected   bool
	key         ws.ChannelKey
	ops         []string
	sent        []ws.Frame
}

func newFakeChannel(autoConnect bool) *fakeChannel {
	return &fakeChannel{events: bus.New[ws.Event](nil), autoConnect: autoConnect}
}

func (f *fakeChannel) Connect(key ws.ChannelKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.key = key
	f.connected = f.autoConnect
	f.ops = append(f.ops, "connect:"+key.String())
	return nil
}

func (f *fakeChannel) EnsureConnected(key ws.ChannelKey) error {
	f.mu.Lock()
	same := f.key == key && f.connected
	f.mu.Unlock()
	if same {
		return nil
	}
	return f.Connect(key)
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.ops = append(f.ops, "disconnect")
	}
	f.connected = false
}

func (f *fakeChannel) Send(frame ws.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ws.ErrNotConnected
	}
	f.sent = append(f.sent, frame)
	f.ops = append(f.ops, "send:"+string(frame.Type()))
	return nil
}

func (f *fakeChannel) On(name ws.EventName, h func(ws.Event)) func() {
	return f.events.Subscribe(string(name), h)
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) WaitConnected(context.Context, time.Duration) bool {
	return f.IsConnected()
}

func (f *fakeChannel) Key() ws.ChannelKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key
}

func (f *fakeChannel) deliver(key ws.ChannelKey, frame ws.Frame) {
	name := ws.EventName(frame.Type())
	f.events.Publish(string(name), ws.Event{Name: name, Channel: key, Frame: frame})
}

func (f *fakeChannel) sentFrames() []ws.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ws.Frame(nil), f.sent...)
}

func (f *fakeChannel) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

type fakeGateway struct {
	mu            sync.Mutex
	conversations []entity.Conversation
	listErr       error
	messages      map[entity.ID][]entity.Message
	messagesErr   error
	created       *entity.Conversation
	sends         []string
	markRead      [][]entity.ID
	convRead      []entity.ID
}

func (g *fakeGateway) CreateConversation(context.Context) (*entity.Conversation, error) {
	if g.created == nil {
		return nil, errors.New("create disabled")
	}
	return g.created, nil
}

func (g *fakeGateway) ListConversations(context.Context) ([]entity.Conversation, error) {
	return g.conversations, g.listErr
}

func (g *fakeGateway) ListMessages(_ context.Context, conv entity.ID) ([]entity.Message, error) {
	if g.messagesErr != nil {
		return nil, g.messagesErr
	}
	return g.messages[conv], nil
}

func (g *fakeGateway) SendMessage(_ context.Context, conv entity.ID, content string) (*entity.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, content)
	return &entity.Message{ID: "rest-1", ConversationID: conv, Content: content}, nil
}

func (g *fakeGateway) MarkRead(_ context.Context, ids []entity.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markRead = append(g.markRead, ids)
	return nil
}

func (g *fakeGateway) MarkConversationRead(_ context.Context, conv entity.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.convRead = append(g.convRead, conv)
	return nil
}

func (g *fakeGateway) UnreadCount(context.Context) (int, error) {
	return 0, nil
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []entity.Message
	list  []entity.Message
}

func (a *fakeArchive) SaveMessage(_ context.Context, m entity.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, m)
	return nil
}

func (a *fakeArchive) ListMessages(context.Context, entity.ID, int) ([]entity.Message, error) {
	return a.list, nil
}

type harness struct {
	core       *Core
	gateway    *fakeGateway
	active     *fakeChannel
	background *fakeChannel
	signals    *bus.Bus[bus.Signal]
}

func newHarness(t *testing.T, role entity.Role, gw *fakeGateway) *harness {
	t.Helper()
	if gw.messages == nil {
		gw.messages = make(map[entity.ID][]entity.Message)
	}
	h := &harness{
		core:       New(role, logger.Discard()),
		gateway:    gw,
		active:     newFakeChannel(true),
		background: newFakeChannel(true),
		signals:    bus.New[bus.Signal](logger.Discard()),
	}
	h.core.SetGateway(gw)
	h.core.SetSignals(h.signals)
	h.core.SetChannels(h.active, h.background)
	h.core.SetBadge(badge.New(5*time.Second, logger.Discard()), 0)
	h.core.SetReadyTimeout(20 * time.Millisecond)
	require.NoError(t, h.core.Init())
	t.Cleanup(h.core.Stop)
	return h
}

func chat(id, conv string, counterparty bool) ws.ChatMessage {
	return ws.ChatMessage{Message: entity.Message{
		ID:                   entity.ID(id),
		ConversationID:       entity.ID(conv),
		Content:              "text " + id,
		SenderIsCounterparty: counterparty,
		CreatedAt:            time.Now(),
	}}
}

func TestCustomerSendsHello(t *testing.T) {
	gw := &fakeGateway{created: &entity.Conversation{ID: "42", Status: entity.StatusOpen}}
	h := newHarness(t, entity.CustomerRole, gw)
	ctx := context.Background()

	require.NoError(t, h.core.Start(ctx))
	conv, err := h.core.OpenPanel(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.ID("42"), conv)
	assert.Equal(t, ws.ConversationChannel("42"), h.active.Key())

	d, err := h.core.Send(ctx, "Hello")
	require.NoError(t, err)
	assert.Equal(t, composer.DeliveryChannel, d)
	assert.Equal(t, []ws.Frame{ws.SendChatMessage{Content: "Hello"}}, h.active.sentFrames())
	assert.Empty(t, gw.sends)

	echo := chat("1001", "42", false)
	h.active.deliver(ws.ConversationChannel("42"), echo)
	h.active.deliver(ws.ConversationChannel("42"), echo)

	list := h.core.Messages("42")
	require.Len(t, list, 1)
	assert.Equal(t, entity.ID("1001"), list[0].ID)
	assert.False(t, list[0].SenderIsCounterparty)
}

func TestAgentMessageWhilePanelClosed(t *testing.T) {
	agentMsg := chat("7", "42", true)
	gw := &fakeGateway{
		conversations: []entity.Conversation{{ID: "42", Status: entity.StatusOpen}},
		messages:      map[entity.ID][]entity.Message{"42": {agentMsg.Message}},
	}
	h := newHarness(t, entity.CustomerRole, gw)
	ctx := context.Background()

	require.NoError(t, h.core.Start(ctx))
	assert.Equal(t, ws.ConversationChannel("42"), h.background.Key())
	assert.Equal(t, 0, h.core.BadgeCount())

	h.background.deliver(ws.ConversationChannel("42"), agentMsg)
	assert.Equal(t, 1, h.core.BadgeCount())

	_, err := h.core.OpenPanel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, h.core.BadgeCount())
	assert.False(t, h.background.IsConnected())
	assert.Contains(t, h.active.sentFrames(), ws.Frame(ws.MarkRead{MessageIDs: entity.IDs("7")}))

	row, _ := h.core.Store().Conversation("42")
	assert.Equal(t, 0, row.UnreadCount)
}

func TestOpenConversationFallsBackToRESTReceipt(t *testing.T) {
	gw := &fakeGateway{
		conversations: []entity.Conversation{{ID: "5", UnreadCount: 2}},
		messages: map[entity.ID][]entity.Message{"5": {
			chat("a", "5", true).Message,
			chat("b", "5", true).Message,
		}},
	}
	h := newHarness(t, entity.AgentRole, gw)
	h.active.autoConnect = false

	require.NoError(t, h.core.OpenConversation(context.Background(), "5"))
	assert.Empty(t, h.active.sentFrames())
	assert.Equal(t, entity.IDs("5"), gw.convRead)
	assert.Empty(t, h.core.Store().UnreadIDs("5"))
}

func TestSwitchTearsDownBeforeConnect(t *testing.T) {
	gw := &fakeGateway{
		conversations: []entity.Conversation{{ID: "1"}, {ID: "2"}},
		messages:      map[entity.ID][]entity.Message{"1": {chat("a", "1", true).Message}},
	}
	h := newHarness(t, entity.AgentRole, gw)
	ctx := context.Background()

	require.NoError(t, h.core.OpenConversation(ctx, "1"))
	require.NoError(t, h.core.OpenConversation(ctx, "2"))

	assert.Equal(t, []string{
		"connect:conversation:1",
		"send:mark_read",
		"send:mark_read",
		"disconnect",
		"connect:conversation:2",
	}, h.active.history())

	h.active.deliver(ws.ConversationChannel("1"), chat("late", "1", true))
	assert.Len(t, h.core.Messages("1"), 1)
	assert.Equal(t, entity.ID("2"), h.core.Store().Active())
}

func TestInboundCounterpartyIsAcknowledged(t *testing.T) {
	gw := &fakeGateway{conversations: []entity.Conversation{{ID: "3"}}}
	h := newHarness(t, entity.AgentRole, gw)
	require.NoError(t, h.core.OpenConversation(context.Background(), "3"))

	h.active.deliver(ws.ConversationChannel("3"), chat("m1", "3", true))
	h.active.deliver(ws.ConversationChannel("3"), chat("m2", "3", false))

	assert.Equal(t, []ws.Frame{ws.MarkRead{MessageIDs: entity.IDs("m1")}}, h.active.sentFrames())
}

func TestInboxUpdatesRowsWithoutRefetch(t *testing.T) {
	gw := &fakeGateway{conversations: []entity.Conversation{{ID: "1"}, {ID: "2"}}}
	h := newHarness(t, entity.AgentRole, gw)
	ctx := context.Background()
	require.NoError(t, h.core.Start(ctx))
	assert.Equal(t, ws.InboxChannel(), h.background.Key())

	gw.conversations = nil
	h.background.deliver(ws.InboxChannel(), ws.NewMessage{Message: chat("x", "2", true).Message})
	closed := entity.StatusClosed
	h.background.deliver(ws.InboxChannel(), ws.ConversationUpdated{Patch: entity.ConversationPatch{ID: "1", Status: &closed}})

	rows := h.core.Conversations("")
	require.Len(t, rows, 2)
	assert.Equal(t, entity.ID("2"), rows[0].ID)
	assert.Equal(t, 1, rows[0].UnreadCount)
	assert.Equal(t, "text x", rows[0].LastMessage.Content)
	assert.Equal(t, entity.StatusClosed, rows[1].Status)
	assert.Equal(t, 1, h.core.BadgeCount())
}

func TestMessagesReadConvergesOnce(t *testing.T) {
	gw := &fakeGateway{
		conversations: []entity.Conversation{{ID: "42"}},
		messages:      map[entity.ID][]entity.Message{"42": {chat("9", "42", true).Message}},
	}
	h := newHarness(t, entity.CustomerRole, gw)
	ctx := context.Background()
	require.NoError(t, h.core.OpenConversation(ctx, "42"))

	require.NoError(t, h.core.MarkRead(ctx, entity.IDs("9")))
	require.NoError(t, h.core.MarkRead(ctx, entity.IDs("9")))
	h.active.deliver(ws.ConversationChannel("42"), ws.MessagesRead{MessageIDs: entity.IDs("9")})

	list := h.core.Messages("42")
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)
	assert.Equal(t, 0, h.core.BadgeCount())
	assert.True(t, h.core.Store().Seen("9"))
}

func TestClosePanelFlushesAndRebindsBackground(t *testing.T) {
	gw := &fakeGateway{conversations: []entity.Conversation{{ID: "42", Status: entity.StatusOpen}}}
	h := newHarness(t, entity.CustomerRole, gw)
	ctx := context.Background()
	require.NoError(t, h.core.Start(ctx))
	_, err := h.core.OpenPanel(ctx)
	require.NoError(t, err)
	assert.False(t, h.background.IsConnected())

	h.active.deliver(ws.ConversationChannel("42"), chat("m", "42", true))
	h.core.ClosePanel(ctx)

	assert.Equal(t, []string{
		"connect:conversation:42",
		"send:mark_read",
		"send:mark_read",
		"disconnect",
	}, h.active.history())
	assert.True(t, h.background.IsConnected())
	assert.Equal(t, ws.ConversationChannel("42"), h.background.Key())
	assert.True(t, h.core.Store().Active().IsZero())
	assert.False(t, h.core.PanelOpen())
	assert.Equal(t, 0, h.core.BadgeCount())
}

func TestSendFallsBackWhenChannelDown(t *testing.T) {
	gw := &fakeGateway{conversations: []entity.Conversation{{ID: "42", Status: entity.StatusOpen}}}
	h := newHarness(t, entity.CustomerRole, gw)
	h.active.autoConnect = false
	ctx := context.Background()
	require.NoError(t, h.core.OpenConversation(ctx, "42"))

	d, err := h.core.Send(ctx, "Hello")
	require.NoError(t, err)
	assert.Equal(t, composer.DeliveryREST, d)
	assert.Equal(t, []string{"Hello"}, gw.sends)
	assert.Empty(t, h.active.sentFrames())
	assert.Len(t, h.core.Messages("42"), 1)
}

func TestAnonymousStart(t *testing.T) {
	gw := &fakeGateway{listErr: chatapi.ErrUnauthenticated}
	h := newHarness(t, entity.CustomerRole, gw)

	require.NoError(t, h.core.Start(context.Background()))
	assert.Empty(t, h.background.history())
}

func TestLoginAfterAnonymousStart(t *testing.T) {
	gw := &fakeGateway{listErr: chatapi.ErrUnauthenticated}
	h := newHarness(t, entity.CustomerRole, gw)
	require.NoError(t, h.core.Start(context.Background()))
	require.Empty(t, h.background.history())

	gw.listErr = nil
	gw.conversations = []entity.Conversation{{ID: "42"}}
	bus.Emit(h.signals, bus.Signal{Topic: bus.TopicAuthChanged, Authenticated: true})

	assert.Eventually(t, func() bool {
		return h.background.Key() == ws.ConversationChannel("42")
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, h.core.Conversations(""), 1)
}

func TestLoginBeforeStartIsIgnored(t *testing.T) {
	gw := &fakeGateway{conversations: []entity.Conversation{{ID: "42"}}}
	h := newHarness(t, entity.CustomerRole, gw)

	bus.Emit(h.signals, bus.Signal{Topic: bus.TopicAuthChanged, Authenticated: true})
	h.core.Stop()
	assert.Empty(t, h.background.history())
	assert.Empty(t, h.core.Conversations(""))
}

func TestBackgroundPrefersOpenConversation(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{conversations: []entity.Conversation{
		{ID: "1", Status: entity.StatusOpen, LastMessageAt: now.Add(-time.Hour)},
		{ID: "2", Status: entity.StatusClosed, LastMessageAt: now},
	}}
	h := newHarness(t, entity.CustomerRole, gw)
	require.NoError(t, h.core.Start(context.Background()))
	assert.Equal(t, ws.ConversationChannel("1"), h.background.Key())
}

func TestBackgroundFallsBackToLatestClosed(t *testing.T) {
	gw := &fakeGateway{conversations: []entity.Conversation{{ID: "9", Status: entity.StatusClosed}}}
	h := newHarness(t, entity.CustomerRole, gw)
	require.NoError(t, h.core.Start(context.Background()))
	assert.Equal(t, ws.ConversationChannel("9"), h.background.Key())
}

func TestArchiveFallbackOnColdStart(t *testing.T) {
	gw := &fakeGateway{
		conversations: []entity.Conversation{{ID: "42"}},
		messagesErr:   &chatapi.Error{Status: 503, Message: "down"},
	}
	h := newHarness(t, entity.CustomerRole, gw)
	h.core.SetArchive(&fakeArchive{list: []entity.Message{chat("old", "42", false).Message}})

	require.NoError(t, h.core.OpenConversation(context.Background(), "42"))
	assert.Len(t, h.core.Messages("42"), 1)

	h.core.SetArchive(nil)
	assert.EqualError(t, h.core.OpenConversation(context.Background(), "43"), "load messages: down")
}

func TestAuthenticateByToken(t *testing.T) {
	c := New(entity.CustomerRole, logger.Discard())
	_, err := c.AuthenticateByToken("x")
	assert.Error(t, err)

	c.SetAuthKey("local-key")
	_, err = c.AuthenticateByToken("wrong")
	assert.Error(t, err)

	user, err := c.AuthenticateByToken("local-key")
	require.NoError(t, err)
	assert.Equal(t, "local", user.Username)
}
