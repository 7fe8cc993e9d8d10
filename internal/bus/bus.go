// Package bus is a synchronous in-process publish/subscribe hub. Handlers run
// on the publisher's goroutine in subscription order and must not block.
package bus

import "sync"

// Event is anything with a stable topic name.
type Event interface {
	Topic() string
}

type Handle int

type listener struct {
	handle Handle
	topic  string // empty: every topic
	fn     func(Event)
}

type Bus struct {
	mu        sync.RWMutex
	listeners []listener
	next      Handle
}

func New() *Bus { return &Bus{} }

// SubscribeAll registers fn for every event.
func (b *Bus) SubscribeAll(fn func(Event)) Handle {
	return b.add("", fn)
}

// SubscribeTopic registers fn for events whose Topic() equals topic.
func (b *Bus) SubscribeTopic(topic string, fn func(Event)) Handle {
	if topic == "" {
		return -1
	}
	return b.add(topic, fn)
}

func (b *Bus) add(topic string, fn func(Event)) Handle {
	if fn == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	h := b.next
	b.listeners = append(b.listeners, listener{handle: h, topic: topic, fn: fn})
	return h
}

func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.handle == h {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every matching listener before returning.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	topic := ev.Topic()
	b.mu.RLock()
	ls := b.listeners
	b.mu.RUnlock()
	for _, l := range ls {
		if l.topic == "" || l.topic == topic {
			l.fn(ev)
		}
	}
}

// Subscribe registers a handler typed on the concrete event type T. The topic
// is taken from T's zero value.
func Subscribe[T Event](b *Bus, fn func(T)) Handle {
	var zero T
	return b.SubscribeTopic(zero.Topic(), func(ev Event) {
		if v, ok := ev.(T); ok {
			fn(v)
		}
	})
}
