package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ShopChat/entity"
	"ShopChat/internal/lib/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) Token() (string, bool) {
	return string(s), s != ""
}

type serverConn struct {
	conn     *websocket.Conn
	path     string
	token    string
	received chan []byte
}

type testServer struct {
	*httptest.Server
	conns chan *serverConn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *serverConn, 8)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{
			conn:     conn,
			path:     r.URL.Path,
			token:    r.URL.Query().Get("token"),
			received: make(chan []byte, 16),
		}
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					close(sc.received)
					return
				}
				sc.received <- data
			}
		}()
		ts.conns <- sc
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-ts.conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("no connection reached the server")
		return nil
	}
}

func newTestConnection(baseURL string, attempts int, delay time.Duration) *Connection {
	return NewConnection(Options{
		BaseURL:              baseURL,
		Role:                 entity.CustomerRole,
		MaxReconnectAttempts: attempts,
		ReconnectDelay:       delay,
		PingPeriod:           time.Second,
	}, staticTokens("tok"), logger.Discard())
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func record(c *Connection, names ...EventName) *recorder {
	r := &recorder{ch: make(chan Event, 32)}
	for _, name := range names {
		c.On(name, func(ev Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			r.ch <- ev
		})
	}
	return r
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (r *recorder) count(name EventName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func TestConnectReceivesFrames(t *testing.T) {
	srv := newTestServer(t)
	conn := newTestConnection(srv.wsURL(), 1, 50*time.Millisecond)
	defer conn.Disconnect()
	rec := record(conn, EventChatMessage)

	require.NoError(t, conn.Connect(ConversationChannel("42")))
	require.True(t, conn.WaitConnected(context.Background(), 2*time.Second))
	sc := srv.accept(t)
	assert.Equal(t, "/ws/chat/42", sc.path)
	assert.Equal(t, "tok", sc.token)

	require.NoError(t, sc.conn.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"chat_message","message":{"id":1001,"content":"Hello","sender_is_counterparty":false,"conversation_id":42,"created_at":"2026-10-14T10:00:00Z"}}`,
	)))

	ev := rec.next(t)
	msg, ok := ev.Frame.(ChatMessage)
	require.True(t, ok)
	assert.Equal(t, entity.ID("1001"), msg.Message.ID)
	assert.Equal(t, entity.ID("42"), msg.Message.ConversationID)
	assert.False(t, msg.Message.SenderIsCounterparty)
	assert.Equal(t, ConversationChannel("42"), ev.Channel)
}

func TestSendEncodesFrame(t *testing.T) {
	srv := newTestServer(t)
	conn := newTestConnection(srv.wsURL(), 1, 50*time.Millisecond)
	defer conn.Disconnect()

	require.NoError(t, conn.Connect(ConversationChannel("42")))
	require.True(t, conn.WaitConnected(context.Background(), 2*time.Second))
	sc := srv.accept(t)

	require.NoError(t, conn.Send(SendChatMessage{Content: "Hello"}))
	select {
	case data := <-sc.received:
		assert.JSONEq(t, `{"type":"chat_message","message":"Hello"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	conn := newTestConnection("ws://127.0.0.1:1", 1, time.Second)
	assert.ErrorIs(t, conn.Send(SendChatMessage{Content: "Hello"}), ErrNotConnected)
	assert.False(t, conn.IsConnected())
}

func TestConnectRequiresKeyAndCredential(t *testing.T) {
	conn := newTestConnection("ws://127.0.0.1:1", 1, time.Second)
	assert.ErrorIs(t, conn.Connect(ChannelKey{}), ErrInvalidChannel)

	anonymous := NewConnection(Options{BaseURL: "ws://127.0.0.1:1"}, staticTokens(""), logger.Discard())
	assert.ErrorIs(t, anonymous.Connect(InboxChannel()), ErrNoCredential)
	assert.Equal(t, StateDisconnected, anonymous.State())
}

func TestDisconnectFlushesAndDoesNotReconnect(t *testing.T) {
	srv := newTestServer(t)
	conn := newTestConnection(srv.wsURL(), 3, 20*time.Millisecond)
	rec := record(conn, EventDisconnected, EventReconnecting)

	require.NoError(t, conn.Connect(ConversationChannel("42")))
	require.True(t, conn.WaitConnected(context.Background(), 2*time.Second))
	sc := srv.accept(t)

	require.NoError(t, conn.Send(MarkRead{MessageIDs: entity.IDs("7")}))
	conn.Disconnect()

	ev := rec.next(t)
	assert.Equal(t, EventDisconnected, ev.Name)
	assert.Equal(t, websocket.CloseNormalClosure, ev.Code)

	select {
	case data := <-sc.received:
		assert.JSONEq(t, `{"type":"mark_read","message_ids":[7]}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("queued frame was not flushed before close")
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, rec.count(EventReconnecting))
	assert.Equal(t, StateDisconnected, conn.State())
	select {
	case <-srv.conns:
		t.Fatal("connection reconnected after an intentional disconnect")
	default:
	}
}

func TestAbnormalCloseReconnects(t *testing.T) {
	srv := newTestServer(t)
	conn := newTestConnection(srv.wsURL(), 3, 20*time.Millisecond)
	defer conn.Disconnect()
	rec := record(conn, EventConnected, EventReconnecting)

	require.NoError(t, conn.Connect(InboxChannel()))
	assert.Equal(t, EventConnected, rec.next(t).Name)
	first := srv.accept(t)
	assert.Equal(t, "/ws/admin/inbox", first.path)

	_ = first.conn.Close()

	ev := rec.next(t)
	assert.Equal(t, EventReconnecting, ev.Name)
	assert.Equal(t, 1, ev.Attempt)
	assert.Equal(t, EventConnected, rec.next(t).Name)
	srv.accept(t)
	assert.True(t, conn.IsConnected())
}

func TestServerNormalCloseIsFinal(t *testing.T) {
	srv := newTestServer(t)
	conn := newTestConnection(srv.wsURL(), 3, 20*time.Millisecond)
	rec := record(conn, EventDisconnected, EventReconnecting)

	require.NoError(t, conn.Connect(ConversationChannel("9")))
	require.True(t, conn.WaitConnected(context.Background(), 2*time.Second))
	sc := srv.accept(t)

	require.NoError(t, sc.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	ev := rec.next(t)
	assert.Equal(t, EventDisconnected, ev.Name)
	assert.Equal(t, websocket.CloseNormalClosure, ev.Code)
	assert.False(t, ev.Final)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, rec.count(EventReconnecting))
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestReconnectAttemptsAreCapped(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	conn := newTestConnection(url, 2, 10*time.Millisecond)
	rec := record(conn, EventReconnecting, EventDisconnected)

	require.NoError(t, conn.Connect(ConversationChannel("1")))

	first := rec.next(t)
	assert.Equal(t, EventReconnecting, first.Name)
	assert.Equal(t, 1, first.Attempt)
	second := rec.next(t)
	assert.Equal(t, EventReconnecting, second.Name)
	assert.Equal(t, 2, second.Attempt)

	final := rec.next(t)
	assert.Equal(t, EventDisconnected, final.Name)
	assert.True(t, final.Final)
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestWaitConnectedTimesOut(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	conn := newTestConnection(url, 10, time.Second)
	defer conn.Disconnect()
	require.NoError(t, conn.Connect(ConversationChannel("1")))

	start := time.Now()
	assert.False(t, conn.WaitConnected(context.Background(), 100*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, conn.Listeners(EventConnected))
}

func TestMalformedFrameIsDropped(t *testing.T) {
	srv := newTestServer(t)
	conn := newTestConnection(srv.wsURL(), 1, 50*time.Millisecond)
	defer conn.Disconnect()
	rec := record(conn, EventChatMessage, EventMessagesRead)

	require.NoError(t, conn.Connect(ConversationChannel("42")))
	require.True(t, conn.WaitConnected(context.Background(), 2*time.Second))
	sc := srv.accept(t)

	require.NoError(t, sc.conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, sc.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_message","message":{"content":"no id"}}`)))
	require.NoError(t, sc.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"messages_read","message_ids":[5,6]}`)))

	ev := rec.next(t)
	read, ok := ev.Frame.(MessagesRead)
	require.True(t, ok)
	assert.Equal(t, entity.IDs("5", "6"), read.MessageIDs)
	assert.True(t, conn.IsConnected())
}

func TestConnectClosesPriorChannel(t *testing.T) {
	srv := newTestServer(t)
	conn := newTestConnection(srv.wsURL(), 1, 50*time.Millisecond)
	defer conn.Disconnect()

	require.NoError(t, conn.Connect(ConversationChannel("1")))
	require.True(t, conn.WaitConnected(context.Background(), 2*time.Second))
	first := srv.accept(t)

	require.NoError(t, conn.Connect(ConversationChannel("2")))
	require.True(t, conn.WaitConnected(context.Background(), 2*time.Second))
	second := srv.accept(t)

	assert.Equal(t, "/ws/chat/2", second.path)
	assert.Equal(t, ConversationChannel("2"), conn.Key())
	select {
	case _, open := <-first.received:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("prior channel was not closed")
	}
}

func TestEnsureConnectedKeepsBinding(t *testing.T) {
	srv := newTestServer(t)
	conn := newTestConnection(srv.wsURL(), 1, 50*time.Millisecond)
	defer conn.Disconnect()

	require.NoError(t, conn.EnsureConnected(ConversationChannel("1")))
	require.True(t, conn.WaitConnected(context.Background(), 2*time.Second))
	srv.accept(t)

	require.NoError(t, conn.EnsureConnected(ConversationChannel("1")))
	select {
	case <-srv.conns:
		t.Fatal("EnsureConnected redialed an open channel")
	case <-time.After(100 * time.Millisecond):
	}
}
