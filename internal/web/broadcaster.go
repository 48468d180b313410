package web

import (
	"sync"

	"tecctl/internal/tec"
)

// Broadcaster fans controller samples out to stream listeners. It keeps the
// latest sample of every instance so a new subscriber starts with a full
// picture. Slow subscribers drop samples rather than stall the control loop.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan tec.Status
	nextID int
	last   map[string]tec.Status
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan tec.Status),
		last: make(map[string]tec.Status),
	}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan tec.Status) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan tec.Status, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	for _, st := range b.last {
		select {
		case ch <- st:
		default:
		}
	}
	b.mu.Unlock()
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Observe implements tec.Observer.
func (b *Broadcaster) Observe(st tec.Status) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.last[st.Name] = st
	for _, ch := range b.subs {
		select {
		case ch <- st:
		default:
		}
	}
	b.mu.Unlock()
}
