// Package notify delivers in-process message arrival signals. Storage stays
// pull-based; the hub only tells listeners that something landed on a
// channel so they know to fetch.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
)

// defaultSignalBufferSize is the buffer size for signal channels. Sized to
// absorb typical bursts while keeping memory low. Listeners that cannot
// keep up have signals dropped (non-blocking send).
const defaultSignalBufferSize = 16

// Signal tells a listener that one message landed on one channel.
type Signal struct {
	Channel   string
	MessageID uint64
	Type      string
}

// Filter restricts which signals a listener receives. Channels are glob
// patterns ("mail.*"); empty means all. Types are exact matches; empty
// means all.
type Filter struct {
	Channels []string
	Types    []string
}

// listener is a single subscription to the hub.
type listener struct {
	id       uint64
	channels []glob.Glob
	types    []string
	ch       chan Signal
	closed   atomic.Bool
}

func (l *listener) matches(sig Signal) bool {
	if len(l.channels) > 0 {
		ok := false
		for _, g := range l.channels {
			if g.Match(sig.Channel) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(l.types) > 0 {
		for _, t := range l.types {
			if t == sig.Type {
				return true
			}
		}
		return false
	}
	return true
}

func (l *listener) close() {
	if l.closed.CompareAndSwap(false, true) {
		close(l.ch)
	}
}

// Hub is a thread-safe fan-out point for arrival signals.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]*listener
	nextID    atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		listeners: make(map[uint64]*listener),
	}
}

// Signal fans the signal out to all matching listeners, non-blocking.
func (h *Hub) Signal(sig Signal) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, l := range h.listeners {
		if !l.matches(sig) {
			continue
		}
		// Non-blocking send, drop if the buffer is full.
		select {
		case l.ch <- sig:
		default:
		}
	}
}

// Subscribe registers a listener and returns its signal channel and an
// idempotent cancel function. Fails when a channel pattern does not
// compile.
func (h *Hub) Subscribe(filter Filter) (<-chan Signal, func(), error) {
	globs := make([]glob.Glob, 0, len(filter.Channels))
	for _, pattern := range filter.Channels {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, nil, err
		}
		globs = append(globs, g)
	}

	l := &listener{
		id:       h.nextID.Add(1),
		channels: globs,
		types:    filter.Types,
		ch:       make(chan Signal, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.listeners[l.id] = l
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(l.id)
	}
	return l.ch, cancel, nil
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	l, ok := h.listeners[id]
	if ok {
		delete(h.listeners, id)
	}
	h.mu.Unlock()

	if ok {
		l.close()
	}
}
