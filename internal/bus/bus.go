// Package bus is a typed publish/subscribe emitter. Surfaces, the store and
// the realtime connection share it instead of ambient global signals.
package bus

import (
	"ShopChat/internal/lib/sl"
	"fmt"
	"log/slog"
	"sync"
)

// All receives every published value regardless of topic.
const All = "*"

type Handler[T any] func(T)

type subscriber[T any] struct {
	id uint64
	h  Handler[T]
}

type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber[T]
	log    *slog.Logger
}

func New[T any](log *slog.Logger) *Bus[T] {
	b := &Bus[T]{
		subs: make(map[string][]subscriber[T]),
	}
	if log != nil {
		b.log = log.With(sl.Module("bus"))
	}
	return b
}

// Subscribe registers h for topic and returns a function removing it. The
// returned function is safe to call more than once.
func (b *Bus[T]) Subscribe(topic string, h Handler[T]) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber[T]{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus[T]) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish calls the topic subscribers, then the All subscribers, in
// subscription order on the caller's goroutine. A panicking handler is
// logged and does not stop delivery to the rest.
func (b *Bus[T]) Publish(topic string, v T) {
	b.mu.RLock()
	handlers := make([]subscriber[T], 0, len(b.subs[topic])+len(b.subs[All]))
	handlers = append(handlers, b.subs[topic]...)
	if topic != All {
		handlers = append(handlers, b.subs[All]...)
	}
	b.mu.RUnlock()

	for _, s := range handlers {
		b.call(topic, s.h, v)
	}
}

func (b *Bus[T]) call(topic string, h Handler[T], v T) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.With(
				slog.String("topic", topic),
				sl.Err(fmt.Errorf("%v", r)),
			).Error("subscriber panic")
		}
	}()
	h(v)
}

// Count returns the number of subscribers on topic.
func (b *Bus[T]) Count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
