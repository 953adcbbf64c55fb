// Package composer delivers outbound chat messages. The realtime channel is
// preferred; REST is used only when the channel cannot take the frame.
package composer

import (
	"ShopChat/entity"
	"ShopChat/internal/lib/sl"
	"ShopChat/internal/ws"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

type Delivery string

const (
	DeliveryNone    Delivery = "none"
	DeliveryChannel Delivery = "channel"
	DeliveryREST    Delivery = "rest"
)

type Channel interface {
	IsConnected() bool
	EnsureConnected(key ws.ChannelKey) error
	WaitConnected(ctx context.Context, timeout time.Duration) bool
	Send(f ws.Frame) error
}

type Gateway interface {
	SendMessage(ctx context.Context, conv entity.ID, content string) (*entity.Message, error)
}

// Sink receives a message persisted over REST, since no channel echo will
// bring it in.
type Sink interface {
	AppendMessage(m entity.Message) bool
}

type Composer struct {
	gateway      Gateway
	sink         Sink
	readyTimeout time.Duration
	log          *slog.Logger
}

func New(gateway Gateway, sink Sink, readyTimeout time.Duration, log *slog.Logger) *Composer {
	return &Composer{
		gateway:      gateway,
		sink:         sink,
		readyTimeout: readyTimeout,
		log:          log.With(sl.Module("composer")),
	}
}

// Send delivers text to conv over exactly one path. The channel path is
// fire-and-forget: the message shows up when the server echoes it. An error
// is returned only for a failed REST send.
func (c *Composer) Send(ctx context.Context, ch Channel, conv entity.ID, text string) (Delivery, error) {
	text = strings.TrimSpace(text)
	if text == "" || conv.IsZero() {
		return DeliveryNone, nil
	}
	log := c.log.With(slog.String("conversation", conv.String()))

	if ch != nil {
		if !ch.IsConnected() {
			if err := ch.EnsureConnected(ws.ConversationChannel(conv)); err != nil {
				log.With(sl.Err(err)).Debug("channel connect not started")
			} else {
				ch.WaitConnected(ctx, c.readyTimeout)
			}
		}
		if ch.IsConnected() {
			err := ch.Send(ws.SendChatMessage{Content: text})
			if err == nil {
				return DeliveryChannel, nil
			}
			if !errors.Is(err, ws.ErrNotConnected) && !errors.Is(err, ws.ErrSendBufferFull) {
				return DeliveryNone, err
			}
			log.With(sl.Err(err)).Warn("channel send refused, using rest")
		}
	}

	msg, err := c.gateway.SendMessage(ctx, conv, text)
	if err != nil {
		log.With(sl.Err(err)).Error("send message")
		return DeliveryREST, err
	}
	if c.sink != nil {
		c.sink.AppendMessage(*msg)
	}
	return DeliveryREST, nil
}
