package api

import (
	"sync"

	"checkin/internal/scan"
)

// Hub fans session snapshots out to stream subscribers. It keeps only the
// newest snapshot by Seq; subscribers are woken and read it with Latest, so a
// slow subscriber skips intermediate states but never misses the last one.
type Hub struct {
	mu     sync.Mutex
	latest scan.Snapshot
	seen   bool
	subs   map[chan struct{}]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan struct{}]struct{})}
}

// Subscribe registers a subscriber. The channel receives a wake-up after
// every accepted snapshot and is closed on unsubscribe or when the hub closes.
func (h *Hub) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
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

// Publish records s unless a newer snapshot has already been seen.
func (h *Hub) Publish(s scan.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || (h.seen && s.Seq <= h.latest.Seq) {
		return
	}
	h.latest = s
	h.seen = true
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Latest returns the newest published snapshot.
func (h *Hub) Latest() (scan.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.seen
}

// Close ends every subscription. Latest stays readable.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
