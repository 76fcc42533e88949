// Package ringchan provides a bounded channel whose producers never block:
// when the buffer is full the oldest queued value is discarded.
//
//	events := ringchan.New[Event](64)
//	events.Send(ev)            // never blocks
//	for ev := range events.C() {
//	    handle(ev)
//	}
package ringchan

import (
	"sync"
	"sync/atomic"
)

// Channel is a bounded overwrite-oldest queue exposed as a receive channel.
type Channel[T any] struct {
	ch     chan T
	sendMu sync.Mutex
	closed atomic.Bool

	written     atomic.Int64
	overwritten atomic.Int64
}

// Stats is a point-in-time view of channel counters.
type Stats struct {
	Written     int64
	Overwritten int64
	Queued      int
}

// New creates a Channel with the given capacity.
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Channel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (c *Channel[T]) C() <-chan T {
	return c.ch
}

// Send enqueues v, discarding the oldest value if the buffer is full.
// Reports whether a value was discarded. Sending after Close is a no-op.
func (c *Channel[T]) Send(v T) (dropped bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed.Load() {
		return false
	}

	for {
		select {
		case c.ch <- v:
			c.written.Add(1)
			return dropped
		default:
		}

		// Buffer full: consumers may drain concurrently, so only count an
		// overwrite when we actually removed something.
		select {
		case <-c.ch:
			c.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend enqueues v only if there is room.
func (c *Channel[T]) TrySend(v T) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed.Load() {
		return false
	}
	select {
	case c.ch <- v:
		c.written.Add(1)
		return true
	default:
		return false
	}
}

// Len returns the number of queued values.
func (c *Channel[T]) Len() int { return len(c.ch) }

// Cap returns the buffer capacity.
func (c *Channel[T]) Cap() int { return cap(c.ch) }

// Close closes the channel. It is safe to call more than once.
func (c *Channel[T]) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed.CompareAndSwap(false, true) {
		close(c.ch)
	}
}

// Stats returns the current counters.
func (c *Channel[T]) Stats() Stats {
	return Stats{
		Written:     c.written.Load(),
		Overwritten: c.overwritten.Load(),
		Queued:      len(c.ch),
	}
}
