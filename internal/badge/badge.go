// Package badge keeps the floating button's unread counter. Three sources
// feed it: a background channel while the panel is closed, periodic REST
// polls, and local clears on open or read.
package badge

import (
	"ShopChat/internal/bus"
	"ShopChat/internal/lib/sl"
	"log/slog"
	"sync"
	"time"
)

// Reconcile decides what a REST poll is worth. Within grace of the last
// local clear the server may not have seen the receipts yet, so the poll is
// overridden to 0. Outside the window the poll is authoritative.
func Reconcile(polled int, clearedAt, now time.Time, grace time.Duration) int {
	if polled < 0 {
		return 0
	}
	if !clearedAt.IsZero() && now.Sub(clearedAt) < grace {
		return 0
	}
	return polled
}

const topicCount = "badge:count"

type Badge struct {
	mu        sync.Mutex
	count     int
	open      bool
	clearedAt time.Time
	grace     time.Duration
	now       func() time.Time

	changes *bus.Bus[int]
	signals *bus.Bus[bus.Signal]
	log     *slog.Logger
}

func New(grace time.Duration, log *slog.Logger) *Badge {
	return &Badge{
		grace:   grace,
		now:     time.Now,
		changes: bus.New[int](log),
		log:     log.With(sl.Module("badge")),
	}
}

func (b *Badge) SetClock(now func() time.Time) {
	b.now = now
}

// SetSignals makes local clears announce chat:badge-cleared on s.
func (b *Badge) SetSignals(s *bus.Bus[bus.Signal]) {
	b.signals = s
}

// Subscribe calls h with the new count on every change.
func (b *Badge) Subscribe(h func(int)) func() {
	return b.changes.Subscribe(topicCount, h)
}

func (b *Badge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Badge) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Open is the panel-opened lifecycle signal. The badge clears at once.
func (b *Badge) Open() {
	b.mu.Lock()
	b.open = true
	b.mu.Unlock()
	b.Clear()
}

// Close is the panel-closed signal, sent after the close-time flush. The
// clear starts a fresh grace window.
func (b *Badge) Close() {
	b.mu.Lock()
	b.open = false
	b.mu.Unlock()
	b.Clear()
}

// Clear zeroes the counter locally and starts the grace window.
func (b *Badge) Clear() {
	b.mu.Lock()
	b.clearedAt = b.now()
	changed := b.set(0)
	b.mu.Unlock()

	if changed {
		b.changes.Publish(topicCount, 0)
	}
	bus.Emit(b.signals, bus.Signal{Topic: bus.TopicBadgeCleared})
}

// Counterparty counts one inbound counter-party message from the background
// channel. It is ignored while the panel is open.
func (b *Badge) Counterparty() {
	b.mu.Lock()
	if b.open {
		b.mu.Unlock()
		return
	}
	b.count++
	n := b.count
	b.mu.Unlock()

	b.changes.Publish(topicCount, n)
}

// MessagesRead resets the counter on a messages_read event from either
// party. It does not open a grace window.
func (b *Badge) MessagesRead() {
	b.mu.Lock()
	changed := b.set(0)
	b.mu.Unlock()

	if changed {
		b.changes.Publish(topicCount, 0)
	}
}

// ApplyPoll folds a REST unread count in and returns the value kept.
func (b *Badge) ApplyPoll(polled int) int {
	b.mu.Lock()
	value := Reconcile(polled, b.clearedAt, b.now(), b.grace)
	if value != polled {
		b.log.With(
			slog.Int("polled", polled),
			slog.Duration("since_clear", b.now().Sub(b.clearedAt)),
		).Debug("poll within grace window ignored")
	}
	changed := b.set(value)
	b.mu.Unlock()

	if changed {
		b.changes.Publish(topicCount, value)
	}
	return value
}

// set must be called with mu held.
func (b *Badge) set(n int) bool {
	if b.count == n {
		return false
	}
	b.count = n
	return true
}
