package status

import (
	"context"
	"sync"
)

// Broadcaster fans values out to in-process subscribers such as WebSocket
// streams. Slow subscribers lose intermediate values; the latest value is
// always delivered.
type Broadcaster struct {
	mu      sync.Mutex
	current Value
	nextID  int
	subs    map[int]chan Value
}

var _ Sink = (*Broadcaster)(nil)

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Value)}
}

// Emit records v and offers it to every subscriber.
func (b *Broadcaster) Emit(_ context.Context, v Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = v
	for _, ch := range b.subs {
		offer(ch, v)
	}
	return nil
}

// Current returns the last value emitted.
func (b *Broadcaster) Current() Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe returns a channel primed with the current value (if any) and a
// cancel func that removes and closes it.
func (b *Broadcaster) Subscribe() (<-chan Value, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Value, 1)
	if b.current != "" {
		ch <- b.current
	}
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// offer replaces any undelivered value in ch with v.
func offer(ch chan Value, v Value) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
