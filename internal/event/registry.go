// Package event bridges radio-interrupt-origin events to application code.
// Producers set bits, the single consumer reads-and-clears them, and an
// optional handler is dispatched the moment a triggering bit is posted.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Mask is a bitmask of radio events. The numeric values are a wire
// contract shared with application code.
type Mask uint32

const (
	RxPacket Mask = 1 << 0
	TxPacket Mask = 1 << 1
	TxFailed Mask = 1 << 2
)

// Handler receives the mask of newly posted events. It runs on the
// producer's goroutine, which services the radio: it must not block and
// must not call back into blocking socket operations.
type Handler func(Mask)

// Registry accumulates events from interrupt-origin producers and hands
// them to consumers. Producers only ever set bits; Events is the sole
// operation that clears them.
type Registry struct {
	bits atomic.Uint32

	mu          sync.Mutex
	trigger     Mask
	handler     Handler
	subscribers map[chan Mask]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subscribers: make(map[chan Mask]struct{}),
	}
}

// Post merges m into the pending mask, wakes subscribers and dispatches
// the registered handler if any bit of m is in its trigger mask.
func (r *Registry) Post(m Mask) {
	if m == 0 {
		return
	}

	for {
		old := r.bits.Load()
		if r.bits.CompareAndSwap(old, old|uint32(m)) {
			break
		}
	}

	r.mu.Lock()
	handler := r.handler
	trigger := r.trigger
	for ch := range r.subscribers {
		select {
		case ch <- m:
		default:
			// Subscriber is behind; it re-checks state after waking
			// so a dropped notification is harmless.
		}
	}
	r.mu.Unlock()

	if handler != nil && trigger&m != 0 {
		handler(m)
	}

	log.Trace().Uint32("mask", uint32(m)).Msg("radio event posted")
}

// Events atomically returns the accumulated mask and clears it. A second
// call with no intervening Post returns 0.
func (r *Registry) Events() Mask {
	return Mask(r.bits.Swap(0))
}

// Pending returns the accumulated mask without clearing it.
func (r *Registry) Pending() Mask {
	return Mask(r.bits.Load())
}

// SetHandler registers handler for any event in trigger, replacing a
// previous registration. A nil handler deregisters.
func (r *Registry) SetHandler(trigger Mask, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trigger = trigger
	r.handler = handler
}

// Subscribe returns a channel that receives the mask of every Post, and
// a cancel function that must be called when done. Used by blocking
// socket calls to suspend until an event or timeout.
func (r *Registry) Subscribe() (<-chan Mask, func()) {
	ch := make(chan Mask, 16)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.subscribers, ch)
		r.mu.Unlock()
	}
	return ch, cancel
}
