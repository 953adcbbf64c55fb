package bus

import (
	"testing"

	"ShopChat/internal/lib/logger"

	"github.com/stretchr/testify/assert"
)

func TestPublishOrderAndAll(t *testing.T) {
	b := New[int](nil)
	var got []string
	b.Subscribe("a", func(v int) { got = append(got, "a1") })
	b.Subscribe(All, func(v int) { got = append(got, "all") })
	b.Subscribe("a", func(v int) { got = append(got, "a2") })
	b.Subscribe("b", func(v int) { got = append(got, "b") })

	b.Publish("a", 1)

	assert.Equal(t, []string{"a1", "a2", "all"}, got)
}

func TestUnsubscribe(t *testing.T) {
	b := New[int](nil)
	calls := 0
	off := b.Subscribe("a", func(int) { calls++ })
	assert.Equal(t, 1, b.Count("a"))

	off()
	off()
	b.Publish("a", 1)

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, b.Count("a"))
}

func TestPanicDoesNotStopOthers(t *testing.T) {
	b := New[string](logger.Discard())
	var got []string
	b.Subscribe("x", func(string) { panic("faulty subscriber") })
	b.Subscribe("x", func(v string) { got = append(got, v) })

	assert.NotPanics(t, func() { b.Publish("x", "hello") })
	assert.Equal(t, []string{"hello"}, got)
}

func TestEmitNilBus(t *testing.T) {
	assert.NotPanics(t, func() { Emit(nil, Signal{Topic: TopicChatOpened}) })
}
