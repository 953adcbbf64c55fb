package badge

import (
	"ShopChat/internal/lib/sl"
	"context"
	"errors"
	"log/slog"
	"time"
)

type UnreadSource interface {
	UnreadCount(ctx context.Context) (int, error)
}

// Poller is the redundancy net behind the background channel.
type Poller struct {
	source   UnreadSource
	badge    *Badge
	interval time.Duration
	log      *slog.Logger
}

func NewPoller(source UnreadSource, badge *Badge, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		source:   source,
		badge:    badge,
		interval: interval,
		log:      log.With(sl.Module("badge.poller")),
	}
}

// Run polls once immediately, then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce fetches and applies the unread total. Failures are logged and the
// badge is left as is.
func (p *Poller) PollOnce(ctx context.Context) {
	n, err := p.source.UnreadCount(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.With(sl.Err(err)).Warn("unread poll failed")
		}
		return
	}
	p.badge.ApplyPoll(n)
}
