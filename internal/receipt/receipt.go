// Package receipt signals that messages were read, over the realtime channel
// when it is open and over REST otherwise.
package receipt

import (
	"ShopChat/entity"
	"ShopChat/internal/lib/sl"
	"ShopChat/internal/store"
	"ShopChat/internal/ws"
	"context"
	"log/slog"
	"time"
)

// Path is the route a receipt took.
type Path string

const (
	PathNone    Path = "none"
	PathChannel Path = "channel"
	PathREST    Path = "rest"
)

type Channel interface {
	IsConnected() bool
	Send(f ws.Frame) error
	WaitConnected(ctx context.Context, timeout time.Duration) bool
}

type Gateway interface {
	MarkRead(ctx context.Context, ids []entity.ID) error
	MarkConversationRead(ctx context.Context, conv entity.ID) error
}

type Protocol struct {
	gateway      Gateway
	store        *store.Store
	readyTimeout time.Duration
	log          *slog.Logger
}

func New(gateway Gateway, st *store.Store, readyTimeout time.Duration, log *slog.Logger) *Protocol {
	return &Protocol{
		gateway:      gateway,
		store:        st,
		readyTimeout: readyTimeout,
		log:          log.With(sl.Module("receipt")),
	}
}

// Acknowledge sends a receipt for ids in conv. A channel receipt is
// confirmed later by messages_read; a REST receipt is applied to the store on
// success. The receipt is never dropped when the channel is down.
func (p *Protocol) Acknowledge(ctx context.Context, ch Channel, conv entity.ID, ids []entity.ID) (Path, error) {
	if conv.IsZero() || len(ids) == 0 {
		return PathNone, nil
	}
	log := p.log.With(
		slog.String("conversation", conv.String()),
		slog.Int("count", len(ids)),
	)

	if ch != nil && ch.IsConnected() {
		if err := ch.Send(ws.MarkRead{MessageIDs: ids}); err == nil {
			log.Debug("receipt sent on channel")
			return PathChannel, nil
		}
	}

	if err := p.gateway.MarkConversationRead(ctx, conv); err != nil {
		log.With(sl.Err(err)).Warn("receipt fallback failed")
		return PathREST, err
	}
	p.store.MarkConversationRead(conv)
	log.Debug("receipt sent over rest")
	return PathREST, nil
}

// MarkOpened acknowledges every unread counter-party message of a freshly
// opened conversation. It waits a bounded time for the channel first.
// pending is the row's unread count before it was opened; when no unread
// message is held but pending is positive a conversation-scoped receipt is
// still sent so the server count drops too.
func (p *Protocol) MarkOpened(ctx context.Context, ch Channel, conv entity.ID, pending int) (Path, error) {
	if conv.IsZero() {
		return PathNone, nil
	}
	if ch != nil && !ch.IsConnected() {
		ch.WaitConnected(ctx, p.readyTimeout)
	}

	ids := p.store.UnreadIDs(conv)
	if len(ids) > 0 {
		return p.Acknowledge(ctx, ch, conv, ids)
	}
	if pending <= 0 {
		return PathNone, nil
	}
	if err := p.gateway.MarkConversationRead(ctx, conv); err != nil {
		p.log.With(slog.String("conversation", conv.String()), sl.Err(err)).Warn("open receipt failed")
		return PathREST, err
	}
	p.store.MarkConversationRead(conv)
	return PathREST, nil
}

// Flush is the best-effort final receipt sent before a channel is closed on
// conversation switch or panel close. Failures are only logged.
func (p *Protocol) Flush(ctx context.Context, ch Channel, conv entity.ID) {
	ids := p.store.UnreadIDs(conv)
	if len(ids) == 0 {
		return
	}
	if _, err := p.Acknowledge(ctx, ch, conv, ids); err != nil {
		p.log.With(slog.String("conversation", conv.String()), sl.Err(err)).Warn("final receipt flush failed")
	}
}

// MarkMessages is the explicit, id-list receipt. Marking an id that is
// already read is not an error.
func (p *Protocol) MarkMessages(ctx context.Context, ids []entity.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.gateway.MarkRead(ctx, ids); err != nil {
		return err
	}
	p.store.MarkRead(ids)
	return nil
}
