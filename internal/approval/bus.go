package approval

import "sync"

// EventType marks a lifecycle transition on the bus.
type EventType string

const (
	EventPending  EventType = "pending"
	EventResolved EventType = "resolved"
)

// Event announces an approval exchange to observers (dashboards, tests).
type Event struct {
	Type     EventType
	Request  *Request
	Response *Response
}

// Bus fans approval lifecycle events out to subscribers. Publishing never
// blocks; a subscriber that falls behind drops events.
type Bus struct {
	mu   sync.Mutex
	subs map[chan *Event]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan *Event]struct{})}
}

// Subscribe registers a new subscriber with a buffered channel.
func (b *Bus) Subscribe() chan *Event {
	ch := make(chan *Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
