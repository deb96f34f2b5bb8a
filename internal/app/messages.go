package app

import (
	"sync"

	"github.com/ayusman/mudra/internal/accumulator"
)

// messageHub outlives sessions so subscribers keep one channel across them.
// Each subscriber holds at most the newest snapshot.
type messageHub struct {
	mu     sync.Mutex
	subs   map[chan accumulator.State]struct{}
	closed bool
}

func newMessageHub() *messageHub {
	return &messageHub{subs: make(map[chan accumulator.State]struct{})}
}

func (h *messageHub) subscribe() (<-chan accumulator.State, func()) {
	ch := make(chan accumulator.State, 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *messageHub) publish(st accumulator.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		// Replace the stale snapshot.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func (h *messageHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
