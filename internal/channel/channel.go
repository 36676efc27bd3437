// Package channel provides the bounded hand-off queues used between the
// acquisition loop, the publisher and each websocket subscriber.
package channel

import (
	"sync"
	"sync/atomic"
)

// Policy selects what Offer does when the queue is full.
type Policy int

const (
	// DropNewest rejects the incoming value and keeps the queued ones.
	DropNewest Policy = iota
	// DropOldest evicts the head of the queue to make room.
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// Channel is a bounded queue with a single consumer.
type Channel[T any] interface {
	// Offer never blocks. It reports false when a value was lost, either
	// the offered one (DropNewest) or an evicted one (DropOldest).
	Offer(T) bool
	Receive() <-chan T
	Len() int
	Cap() int
	Dropped() uint64
	Close()
}

// Bounded is the buffered-chan implementation of Channel.
type Bounded[T any] struct {
	ch      chan T
	policy  Policy
	evictMu sync.Mutex
	dropped atomic.Uint64
}

// NewBounded creates a queue holding at most size values (minimum 1).
func NewBounded[T any](size int, policy Policy) *Bounded[T] {
	if size < 1 {
		size = 1
	}
	return &Bounded[T]{ch: make(chan T, size), policy: policy}
}

func (b *Bounded[T]) Offer(v T) bool {
	select {
	case b.ch <- v:
		return true
	default:
	}
	if b.policy == DropNewest {
		b.dropped.Add(1)
		return false
	}

	// serialize evictions so two producers can't both drain one slot
	b.evictMu.Lock()
	defer b.evictMu.Unlock()
	for {
		select {
		case b.ch <- v:
			return false
		default:
		}
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Receive returns the receive-only side for the consumer.
func (b *Bounded[T]) Receive() <-chan T {
	return b.ch
}

// Len returns the number of queued values.
func (b *Bounded[T]) Len() int {
	return len(b.ch)
}

// Cap returns the queue capacity.
func (b *Bounded[T]) Cap() int {
	return cap(b.ch)
}

// Dropped returns how many values were lost to the policy.
func (b *Bounded[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the channel. Offer must not be called afterwards.
func (b *Bounded[T]) Close() {
	close(b.ch)
}
