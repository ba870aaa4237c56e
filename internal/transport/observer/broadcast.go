package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"somnia.ai/internal/protocol"
	"somnia.ai/internal/sim/events"
)

// Broadcaster fans feed events out to connected observers. Publish runs on the
// tick goroutine and never blocks; slow observers lose events.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]chan []byte

	dropped atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[string]chan []byte{}}
}

func (b *Broadcaster) Publish(e events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subs) == 0 {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	msg, err := json.Marshal(protocol.EventMsg{Type: protocol.TypeEvent, ProtocolVersion: protocol.Version, Event: raw})
	if err != nil {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) Observers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

func (b *Broadcaster) join(id string, ch chan []byte) {
	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()
}

func (b *Broadcaster) leave(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

var _ events.Subscriber = (*Broadcaster)(nil)
