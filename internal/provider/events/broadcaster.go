// Package events fans session change notifications out to listeners, both
// inside one process and, through valkey, across processes.
package events

import (
	"sync"

	"github.com/streamcompare/authsync/internal/provider"
)

// Broadcaster delivers events to every current subscriber in the order they
// were published. Callbacks run on the publishing goroutine.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]func(provider.Event)
	order  []uint64

	// pubMu serialises Publish so that subscribers see one total order.
	pubMu sync.Mutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]func(provider.Event))}
}

// Subscribe registers fn. Unsubscribe may be called any number of times.
func (b *Broadcaster) Subscribe(fn func(provider.Event)) provider.Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return provider.SubscriptionFunc(func() {
		once.Do(func() { b.remove(id) })
	})
}

// Publish delivers e to the subscribers registered at call time.
func (b *Broadcaster) Publish(e provider.Event) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	for _, fn := range b.snapshot() {
		fn(e)
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) snapshot() []func(provider.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fns := make([]func(provider.Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	return fns
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
