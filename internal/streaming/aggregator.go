// Package streaming implements the two concerns that run inside a
// streaming chat turn: adaptive batching of content deltas to a slow
// consumer, and reassembly of tool-call fragments keyed by their
// positional index.
package streaming

import "sync"

// Batcher decouples a fast producer of text deltas from a consumer that
// may be slower: every appended byte is delivered exactly once and in
// arrival order, but the number of consumer invocations adapts to how
// quickly the consumer drains rather than firing once per delta.
//
// The producer never blocks on the consumer beyond a constant-time
// buffer-append critical section: Append tries a non-blocking acquire of
// the delivery mutex and, if it loses the race, simply returns — the
// delivery already in flight will pick up the newly appended bytes on its
// next pass.
type Batcher struct {
	deliver func(chunk string) error

	bufMu sync.Mutex
	buf   []byte

	deliveryMu sync.Mutex
}

// NewBatcher builds a Batcher that calls deliver with whatever text has
// accumulated since the last delivery. deliver must not be nil.
func NewBatcher(deliver func(chunk string) error) *Batcher {
	return &Batcher{deliver: deliver}
}

// Append adds delta to the shared buffer and, if no delivery is currently
// in flight, spawns one to drain the buffer. Append itself never blocks on
// the consumer.
func (b *Batcher) Append(delta string) error {
	if delta == "" {
		return nil
	}
	b.bufMu.Lock()
	b.buf = append(b.buf, delta...)
	b.bufMu.Unlock()

	if !b.deliveryMu.TryLock() {
		// A delivery is already in flight; it will observe these bytes
		// when it next drains the buffer.
		return nil
	}

	go func() {
		defer b.deliveryMu.Unlock()
		// Loop: more bytes may have been appended while this delivery's
		// goroutine was being scheduled, or while deliver was running.
		for {
			chunk := b.drain()
			if chunk == "" {
				return
			}
			if err := b.deliver(chunk); err != nil {
				return
			}
		}
	}()
	return nil
}

// drain atomically swaps out and returns the accumulated buffer.
func (b *Batcher) drain() string {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	if len(b.buf) == 0 {
		return ""
	}
	chunk := string(b.buf)
	b.buf = b.buf[:0]
	return chunk
}

// Flush performs a final, blocking delivery of whatever bytes remain. It
// must be called once the producer has no more deltas to append —
// including on error paths, so that already-observed bytes are not lost.
func (b *Batcher) Flush() error {
	b.deliveryMu.Lock()
	defer b.deliveryMu.Unlock()
	chunk := b.drain()
	if chunk == "" {
		return nil
	}
	return b.deliver(chunk)
}
