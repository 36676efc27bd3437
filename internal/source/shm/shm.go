// Package shm opens named read-only shared-memory segments published by
// racing simulators.
package shm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no segment with the requested name exists.
var ErrNotFound = errors.New("shared memory segment not found")

// Region is a read-only view of a mapped segment.
type Region interface {
	// Bytes returns the mapped memory. The slice is only valid until Close.
	Bytes() []byte
	Close() error
}

// Mapper opens a named segment. Adapters take a Mapper so tests can hand
// them in-memory buffers.
type Mapper func(name string) (Region, error)

// Open is the platform Mapper.
func Open(name string) (Region, error) {
	r, err := openSegment(name)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", name, err)
	}
	return r, nil
}

// Buffer is an in-process Region backed by a byte slice.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewBuffer wraps data as a Region.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	return b.data
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// StaticMapper returns a Mapper that serves fixed buffers by name. Names
// missing from the map yield ErrNotFound.
func StaticMapper(segments map[string][]byte) Mapper {
	return func(name string) (Region, error) {
		data, ok := segments[name]
		if !ok {
			return nil, fmt.Errorf("open segment %s: %w", name, ErrNotFound)
		}
		return NewBuffer(data), nil
	}
}
