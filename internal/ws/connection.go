package ws

import (
	"ShopChat/entity"
	"ShopChat/internal/bus"
	"ShopChat/internal/lib/sl"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
	sendBufferSize = 64

	defaultPingPeriod           = 30 * time.Second
	defaultReconnectDelay       = 3 * time.Second
	defaultMaxReconnectAttempts = 5
)

var (
	ErrNotConnected   = errors.New("channel is not connected")
	ErrInvalidChannel = errors.New("invalid channel key")
	ErrNoCredential   = errors.New("no credential for channel")
	ErrSendBufferFull = errors.New("channel send buffer is full")
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

type EventName string

const (
	EventConnected           EventName = "connected"
	EventDisconnected        EventName = "disconnected"
	EventReconnecting        EventName = "reconnecting"
	EventChatMessage                   = EventName(TypeChatMessage)
	EventMessagesRead                  = EventName(TypeMessagesRead)
	EventNewMessage                    = EventName(TypeNewMessage)
	EventConversationUpdated           = EventName(TypeConversationUpdated)
)

// Event is what a Connection hands to its listeners. Frame is set for frame
// events; Code and Final describe a disconnect; Attempt numbers a reconnect.
type Event struct {
	Name    EventName
	Channel ChannelKey
	Frame   Frame
	Code    int
	Attempt int
	Final   bool
}

// TokenSource supplies the bearer credential appended to the channel URL.
type TokenSource interface {
	Token() (string, bool)
}

type Options struct {
	BaseURL              string
	Role                 entity.Role
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	PingPeriod           time.Duration
	Dialer               *websocket.Dialer
}

type session struct {
	conn     *websocket.Conn
	send     chan []byte
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func (s *session) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Connection is a client for one realtime channel at a time. It never
// touches shared state; listeners receive events and apply them.
//
// Listeners run on the connection's read goroutine in frame order and should
// not block. They may call Connect, Disconnect and Send.
type Connection struct {
	id     string
	opts   Options
	tokens TokenSource
	events *bus.Bus[Event]
	log    *slog.Logger

	lifecycle sync.Mutex

	mu     sync.Mutex
	gen    uint64
	state  State
	key    ChannelKey
	sess   *session
	cancel context.CancelFunc
}

func NewConnection(opts Options, tokens TokenSource, log *slog.Logger) *Connection {
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	id := uuid.NewString()
	return &Connection{
		id:     id,
		opts:   opts,
		tokens: tokens,
		events: bus.New[Event](log),
		log:    log.With(sl.Module("ws.connection"), slog.String("conn_id", id)),
		state:  StateDisconnected,
	}
}

// Connect binds the connection to key, closing any channel opened before.
// It returns once the dial is started; listen for EventConnected or use
// WaitConnected.
func (c *Connection) Connect(key ChannelKey) error {
	if key.IsZero() {
		return ErrInvalidChannel
	}
	if _, ok := c.token(); !ok {
		return ErrNoCredential
	}

	c.lifecycle.Lock()
	prevKey, hadPrev := c.teardown()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.key = key
	c.state = StateConnecting
	c.cancel = cancel
	c.mu.Unlock()
	c.lifecycle.Unlock()

	if hadPrev {
		c.events.Publish(string(EventDisconnected), Event{
			Name:    EventDisconnected,
			Channel: prevKey,
			Code:    websocket.CloseNormalClosure,
		})
	}

	c.log.With(slog.String("channel", key.String())).Debug("connecting")
	go c.run(ctx, key, gen)
	return nil
}

// EnsureConnected connects to key unless the connection is already bound to
// it and not disconnected.
func (c *Connection) EnsureConnected(key ChannelKey) error {
	c.mu.Lock()
	same := c.key == key && c.state != StateDisconnected
	c.mu.Unlock()
	if same {
		return nil
	}
	return c.Connect(key)
}

// Disconnect closes the channel with a normal closure. Queued frames are
// flushed first. It never triggers a reconnect.
func (c *Connection) Disconnect() {
	c.lifecycle.Lock()
	key, was := c.teardown()
	c.lifecycle.Unlock()

	if !was {
		return
	}
	c.log.With(slog.String("channel", key.String())).Info("channel closed")
	c.events.Publish(string(EventDisconnected), Event{
		Name:    EventDisconnected,
		Channel: key,
		Code:    websocket.CloseNormalClosure,
	})
}

func (c *Connection) teardown() (ChannelKey, bool) {
	c.mu.Lock()
	cancel, sess, key := c.cancel, c.sess, c.key
	was := c.state != StateDisconnected
	c.gen++
	c.cancel = nil
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.stop()
		select {
		case <-sess.done:
		case <-time.After(writeWait):
		}
		_ = sess.conn.Close()
	}
	return key, was
}

// Send queues an outbound frame. Callers own the fallback when it returns
// ErrNotConnected.
func (c *Connection) Send(f Frame) error {
	data, err := Encode(f)
	if err != nil {
		c.log.With(sl.Err(err)).Error("encode frame")
		return err
	}

	c.mu.Lock()
	sess := c.sess
	connected := c.state == StateConnected && sess != nil
	key := c.key
	c.mu.Unlock()

	if !connected {
		c.log.With(
			slog.String("type", string(f.Type())),
			slog.String("channel", key.String()),
		).Error("send on closed channel")
		return ErrNotConnected
	}

	select {
	case sess.send <- data:
		return nil
	default:
		c.log.With(slog.String("type", string(f.Type()))).Error("send buffer full")
		return ErrSendBufferFull
	}
}

// On subscribes h to name and returns the matching unsubscribe.
func (c *Connection) On(name EventName, h func(Event)) func() {
	return c.events.Subscribe(string(name), h)
}

// Listeners reports how many handlers are subscribed to name.
func (c *Connection) Listeners(name EventName) int {
	return c.events.Count(string(name))
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.sess != nil
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Key is the channel the connection is, or was last, bound to.
func (c *Connection) Key() ChannelKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// WaitConnected resolves on EventConnected or after timeout, whichever comes
// first, and removes its listener either way.
func (c *Connection) WaitConnected(ctx context.Context, timeout time.Duration) bool {
	if c.IsConnected() {
		return true
	}

	ready := make(chan struct{}, 1)
	off := c.On(EventConnected, func(Event) {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	defer off()

	if c.IsConnected() {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return true
	case <-timer.C:
		return c.IsConnected()
	case <-ctx.Done():
		return false
	}
}

func (c *Connection) token() (string, bool) {
	if c.tokens == nil {
		return "", false
	}
	return c.tokens.Token()
}

func (c *Connection) run(ctx context.Context, key ChannelKey, gen uint64) {
	log := c.log.With(slog.String("channel", key.String()))
	dropped := false
	for {
		conn, err := c.dial(ctx, key, gen, dropped)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.With(sl.Err(err)).Warn("channel unavailable")
			c.finish(gen, key, websocket.CloseAbnormalClosure, true)
			return
		}

		code := c.serve(conn, key, gen)
		if ctx.Err() != nil {
			return
		}
		if code == websocket.CloseNormalClosure {
			log.Info("channel closed by server")
			c.finish(gen, key, code, false)
			return
		}
		log.With(slog.Int("code", code)).Warn("channel closed abnormally")
		dropped = true
	}
}

// dial makes the first attempt immediately unless the channel just dropped,
// then retries with a fixed delay until the attempt cap is reached.
func (c *Connection) dial(ctx context.Context, key ChannelKey, gen uint64, dropped bool) (*websocket.Conn, error) {
	var lastErr error
	if !dropped {
		conn, err := c.dialOnce(ctx, key)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.With(slog.String("channel", key.String()), sl.Err(err)).Warn("channel connect failed")
		lastErr = err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.ReconnectDelay), uint64(c.opts.MaxReconnectAttempts)),
		ctx,
	)
	for attempt := 1; ; attempt++ {
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%d reconnect attempts exhausted: %w", attempt-1, lastErr)
		}
		if !c.transition(gen, StateReconnecting) {
			return nil, context.Canceled
		}
		c.emit(gen, Event{Name: EventReconnecting, Channel: key, Attempt: attempt})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		conn, err := c.dialOnce(ctx, key)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.With(
			slog.String("channel", key.String()),
			slog.Int("attempt", attempt),
			sl.Err(err),
		).Warn("channel reconnect failed")
		lastErr = err
	}
}

func (c *Connection) dialOnce(ctx context.Context, key ChannelKey) (*websocket.Conn, error) {
	token, ok := c.token()
	if !ok {
		return nil, ErrNoCredential
	}
	u, err := url.Parse(c.opts.BaseURL + key.Path())
	if err != nil {
		return nil, fmt.Errorf("channel url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", key, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", key, err)
	}
	return conn, nil
}

// serve runs one established socket until it closes and returns the close code.
func (c *Connection) serve(conn *websocket.Conn, key ChannelKey, gen uint64) int {
	sess := &session{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return websocket.CloseNormalClosure
	}
	c.sess = sess
	c.state = StateConnected
	c.mu.Unlock()

	c.log.With(slog.String("channel", key.String())).Info("channel connected")
	c.emit(gen, Event{Name: EventConnected, Channel: key})

	readDone := make(chan struct{})
	go c.writePump(sess, readDone)
	code := c.readPump(conn, key, gen)
	close(readDone)

	c.mu.Lock()
	if c.gen == gen && c.sess == sess {
		c.sess = nil
		if code == websocket.CloseNormalClosure {
			c.state = StateDisconnected
		} else {
			c.state = StateReconnecting
		}
	}
	c.mu.Unlock()
	_ = conn.Close()
	return code
}

// readPump decodes frames in transport order. Malformed frames are dropped.
func (c *Connection) readPump(conn *websocket.Conn, key ChannelKey, gen uint64) int {
	pongWait := 2 * c.opts.PingPeriod
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return closeCode(err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := Decode(raw, c.opts.Role, key)
		if err != nil {
			c.log.With(slog.String("channel", key.String()), sl.Err(err)).Warn("dropping frame")
			continue
		}
		c.emit(gen, Event{Name: EventName(frame.Type()), Channel: key, Frame: frame})
	}
}

// writePump is the only writer on the socket.
func (c *Connection) writePump(sess *session, readDone <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		close(sess.done)
	}()

	write := func(messageType int, data []byte) error {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return sess.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case msg := <-sess.send:
			if err := write(websocket.TextMessage, msg); err != nil {
				c.log.With(sl.Err(err)).Warn("write frame")
				return
			}

		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sess.quit:
			drain(sess.send, func(msg []byte) error { return write(websocket.TextMessage, msg) })
			_ = sess.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
				time.Now().Add(writeWait),
			)
			return

		case <-readDone:
			return
		}
	}
}

func drain(send <-chan []byte, write func([]byte) error) {
	for {
		select {
		case msg := <-send:
			if err := write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) emit(gen uint64, ev Event) {
	c.mu.Lock()
	current := c.gen == gen
	c.mu.Unlock()
	if !current {
		return
	}
	c.events.Publish(string(ev.Name), ev)
}

func (c *Connection) transition(gen uint64, state State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.state = state
	return true
}

func (c *Connection) finish(gen uint64, key ChannelKey, code int, final bool) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.cancel = nil
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.events.Publish(string(EventDisconnected), Event{
		Name:    EventDisconnected,
		Channel: key,
		Code:    code,
		Final:   final,
	})
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
