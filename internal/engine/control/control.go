// Package control implements the per-task Pause/Resume/Cancel broadcast
// signal, grounded on original_source's tokio::sync::broadcast-based
// DownloadControl channel (src-tauri/src/lib.rs) and spec.md §9's note to
// model it as "a per-task broadcast ... receiver is cloned per worker".
package control

import "sync"

// Signal is a control message sent to a running worker.
type Signal int

const (
	Pause Signal = iota
	Resume
	Cancel
)

// Channel is a one-sender, clonable-receiver broadcast of Signal values.
// The registry owns the sender half; workers (including each chunk worker
// in the range-parallel path) hold a subscription obtained via Subscribe.
type Channel struct {
	mu   sync.Mutex
	subs []chan Signal
}

// New returns an empty control channel with no subscribers yet.
func New() *Channel {
	return &Channel{}
}

// Subscribe returns a new receive-only channel that will observe every
// future Send. Buffered so Send never blocks on a slow or absent reader.
func (c *Channel) Subscribe() <-chan Signal {
	ch := make(chan Signal, 4)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Send broadcasts sig to every current subscriber, non-blocking: a
// subscriber whose buffer is already full (meaning it isn't polling) does
// not receive sig at all; only the signals already queued in its buffer
// are seen by its later polls.
func (c *Channel) Send(sig Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- sig:
		default:
		}
	}
}

// Poll performs the non-blocking check spec.md §4.4/§5 requires between
// chunk reads: it never parks the caller.
func Poll(ch <-chan Signal) (Signal, bool) {
	select {
	case sig := <-ch:
		return sig, true
	default:
		return 0, false
	}
}
