package audit

import "sync"

// Bus fans out audit events to in-process subscribers in real time.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan *Event]chan *Event
}

// NewBus creates a new audit event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[<-chan *Event]chan *Event)}
}

// Subscribe registers a new listener and returns a receive-only channel.
// The caller must call Unsubscribe when done.
func (b *Bus) Subscribe() <-chan *Event {
	ch := make(chan *Event, 64)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan *Event) {
	b.mu.Lock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
// Slow consumers that can't keep up will miss events.
func (b *Bus) Publish(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
