package realtime

import (
	"sync"
)

// Handler receives insert events. It runs on the publisher's goroutine and
// must not block.
type Handler func(InsertEvent)

// Broker fans insert events out to every live subscription.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscriber
}

type subscriber struct {
	table   string
	handler Handler
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]subscriber)}
}

// Subscribe registers handler for inserts into table.
func (b *Broker) Subscribe(table string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscriber{table: table, handler: handler}
	return &Subscription{broker: b, id: id}
}

// Publish delivers evt to the subscribers of its table.
func (b *Broker) Publish(evt InsertEvent) int {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.table == evt.Table {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
	return len(handlers)
}

// Len reports the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription is released exactly once; further Close calls are no-ops.
type Subscription struct {
	broker *Broker
	id     uint64
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s.id)
	})
}
