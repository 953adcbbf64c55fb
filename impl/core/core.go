package core

import (
	"ShopChat/entity"
	"ShopChat/internal/badge"
	"ShopChat/internal/bus"
	"ShopChat/internal/composer"
	"ShopChat/internal/lib/sl"
	"ShopChat/internal/receipt"
	"ShopChat/internal/store"
	"ShopChat/internal/ws"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Gateway interface {
	CreateConversation(ctx context.Context) (*entity.Conversation, error)
	ListConversations(ctx context.Context) ([]entity.Conversation, error)
	ListMessages(ctx context.Context, conv entity.ID) ([]entity.Message, error)
	SendMessage(ctx context.Context, conv entity.ID, content string) (*entity.Message, error)
	MarkRead(ctx context.Context, ids []entity.ID) error
	MarkConversationRead(ctx context.Context, conv entity.ID) error
	UnreadCount(ctx context.Context) (int, error)
}

// Channel is one realtime connection owned by the core.
type Channel interface {
	Connect(key ws.ChannelKey) error
	EnsureConnected(key ws.ChannelKey) error
	Disconnect()
	Send(f ws.Frame) error
	On(name ws.EventName, h func(ws.Event)) func()
	IsConnected() bool
	WaitConnected(ctx context.Context, timeout time.Duration) bool
	Key() ws.ChannelKey
}

// Archive keeps a local transcript copy. It is optional.
type Archive interface {
	SaveMessage(ctx context.Context, m entity.Message) error
	ListMessages(ctx context.Context, conv entity.ID, limit int) ([]entity.Message, error)
}

const (
	defaultReadyTimeout = 800 * time.Millisecond
	backgroundTimeout   = 10 * time.Second
	archiveLimit        = 200
)

type Core struct {
	role       entity.Role
	store      *store.Store
	gateway    Gateway
	active     Channel
	background Channel
	badge      *badge.Badge
	poller     *badge.Poller
	receipts   *receipt.Protocol
	composer   *composer.Composer
	archive    Archive
	signals    *bus.Bus[bus.Signal]

	readyTimeout time.Duration
	pollInterval time.Duration
	authKey      string

	// lifecycle serializes panel and conversation switches
	lifecycle  sync.Mutex
	panelOpen  bool
	started    bool
	stopPoll   context.CancelFunc
	offs       []func()
	archiveRun sync.WaitGroup
	resumeRun  sync.WaitGroup

	log *slog.Logger
}

func New(role entity.Role, log *slog.Logger) *Core {
	return &Core{
		role:         role,
		store:        store.New(log),
		readyTimeout: defaultReadyTimeout,
		log:          log.With(sl.Module("core"), slog.String("role", string(role))),
	}
}

func (c *Core) SetGateway(gateway Gateway) {
	c.gateway = gateway
}

// SetChannels injects the connection for the open conversation and the one
// listening in the background while the panel is closed.
func (c *Core) SetChannels(active, background Channel) {
	c.active = active
	c.background = background
}

// SetBadge injects the unread badge. A zero pollInterval disables REST polling.
func (c *Core) SetBadge(b *badge.Badge, pollInterval time.Duration) {
	c.badge = b
	c.pollInterval = pollInterval
}

func (c *Core) SetArchive(archive Archive) {
	c.archive = archive
}

func (c *Core) SetSignals(signals *bus.Bus[bus.Signal]) {
	c.signals = signals
}

func (c *Core) SetReadyTimeout(d time.Duration) {
	if d > 0 {
		c.readyTimeout = d
	}
}

func (c *Core) SetAuthKey(key string) {
	c.authKey = key
}

func (c *Core) Store() *store.Store {
	return c.store
}

func (c *Core) Role() entity.Role {
	return c.role
}

// Init wires the collaborators together and subscribes the event handlers.
// It must run once, after the Set calls and before Start.
func (c *Core) Init() error {
	if c.gateway == nil {
		return fmt.Errorf("gateway not set")
	}
	if c.active == nil || c.background == nil {
		return fmt.Errorf("channels not set")
	}
	if c.badge == nil {
		c.badge = badge.New(5*time.Second, c.log)
	}
	c.badge.SetSignals(c.signals)

	c.receipts = receipt.New(c.gateway, c.store, c.readyTimeout, c.log)
	c.composer = composer.New(c.gateway, c.store, c.readyTimeout, c.log)
	c.poller = badge.NewPoller(c.gateway, c.badge, c.pollInterval, c.log)

	c.offs = append(c.offs,
		c.active.On(ws.EventChatMessage, c.onActiveMessage),
		c.active.On(ws.EventMessagesRead, c.onMessagesRead),
		c.active.On(ws.EventDisconnected, c.onDisconnected),
		c.background.On(ws.EventChatMessage, c.onBackgroundMessage),
		c.background.On(ws.EventNewMessage, c.onBackgroundMessage),
		c.background.On(ws.EventConversationUpdated, c.onConversationUpdated),
		c.background.On(ws.EventMessagesRead, c.onMessagesRead),
		c.background.On(ws.EventDisconnected, c.onDisconnected),
	)
	if c.signals != nil {
		c.offs = append(c.offs, c.signals.Subscribe(bus.TopicAuthChanged, c.onAuthChanged))
	}

	c.log.Debug("core initialized")
	return nil
}

// Start loads the conversation list, binds the background channel and starts
// badge polling. A missing credential leaves chat in the anonymous state and
// is not an error: the same sequence runs again when a credential arrives.
func (c *Core) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	c.started = true
	c.lifecycle.Unlock()

	c.bringUp(ctx)
	return nil
}

func (c *Core) bringUp(ctx context.Context) {
	list, err := c.gateway.ListConversations(ctx)
	if err != nil {
		if isUnauthenticated(err) {
			c.log.Info("no credential, chat disabled")
			return
		}
		c.log.With(sl.Err(err)).Warn("load conversations")
	} else {
		c.store.SetConversations(list)
	}

	c.lifecycle.Lock()
	if !c.started {
		c.lifecycle.Unlock()
		return
	}
	// an open customer panel owns the conversation channel
	if c.role.IsAgent() || !c.panelOpen {
		c.connectBackground("")
	}
	if c.stopPoll == nil && c.pollInterval > 0 {
		pollCtx, cancel := context.WithCancel(context.Background())
		c.stopPoll = cancel
		go c.poller.Run(pollCtx)
	}
	c.lifecycle.Unlock()

	c.log.With(slog.Int("conversations", len(list))).Info("chat started")
}

// resume reruns the start sequence after a login. It is a no-op before Start
// and after Stop.
func (c *Core) resume() {
	c.lifecycle.Lock()
	started := c.started
	if started {
		c.resumeRun.Add(1)
	}
	c.lifecycle.Unlock()
	if !started {
		return
	}

	go func() {
		defer c.resumeRun.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		c.bringUp(ctx)
	}()
}

// Stop closes both channels and stops polling.
func (c *Core) Stop() {
	c.lifecycle.Lock()
	c.started = false
	c.lifecycle.Unlock()
	c.resumeRun.Wait()

	c.lifecycle.Lock()
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
	c.active.Disconnect()
	c.background.Disconnect()
	c.lifecycle.Unlock()

	for _, off := range c.offs {
		off()
	}
	c.offs = nil
	c.archiveRun.Wait()
	c.log.Info("chat stopped")
}

// connectBackground binds the listener used while the panel is closed: the
// admin inbox for an agent, the latest conversation for a customer. Must be
// called with lifecycle held.
func (c *Core) connectBackground(conv entity.ID) {
	if c.role.IsAgent() {
		if err := c.background.EnsureConnected(ws.InboxChannel()); err != nil {
			c.log.With(sl.Err(err)).Debug("inbox listener not started")
		}
		return
	}
	if conv.IsZero() {
		latest, ok := c.store.Latest(entity.StatusOpen)
		if !ok {
			if latest, ok = c.store.Latest(""); !ok {
				return
			}
		}
		conv = latest.ID
	}
	if err := c.background.EnsureConnected(ws.ConversationChannel(conv)); err != nil {
		c.log.With(sl.Err(err)).Debug("badge listener not started")
	}
}

func (c *Core) emit(topic string, conv entity.ID) {
	bus.Emit(c.signals, bus.Signal{Topic: topic, ConversationID: conv})
}
