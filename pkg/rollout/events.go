package rollout

import (
	"sync"
	"time"

	"router-fleet/pkg/model"
)

// defaultBusBuffer bounds each subscriber's queue.
const defaultBusBuffer = 64

// Bus fans progress events out to listeners. Publishing never blocks: a full
// subscriber queue drops its oldest event instead of stalling the rollout.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan model.ProgressEvent
	nextID int
	buffer int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: map[int]chan model.ProgressEvent{}, buffer: defaultBusBuffer}
}

// Subscribe returns an event channel and a cancel func that releases it.
func (b *Bus) Subscribe() (<-chan model.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan model.ProgressEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers to every subscriber, dropping the oldest buffered event
// when a queue is full.
func (b *Bus) Publish(e model.ProgressEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Close tears the bus down; further publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
