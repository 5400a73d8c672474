package queue

import (
	"sync"
	"time"
)

// EventType names a queue change.
type EventType string

const (
	EventEnqueued      EventType = "enqueued"
	EventStatusChanged EventType = "status_changed"
	EventCleared       EventType = "cleared"
	EventClearedSynced EventType = "cleared_synced"
)

// Event describes one committed queue change.
type Event struct {
	Type     EventType
	Record   *Record
	Previous Status
	Removed  int
	At       time.Time
}

type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish never blocks; a subscriber whose buffer is full misses the event.
func (b *broker) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
