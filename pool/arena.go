// Package pool implements the shared byte-buffer arena that backs every
// request and response payload.
//
// Buffers are grouped into fixed-capacity size classes. Each class keeps its
// free buffers in a buffered channel, which gives a goroutine-safe FIFO with
// non-blocking get/put via select/default:
//
//	Get(n) ──► smallest class with cap >= n ──► free list hit?  ──► reuse
//	                                              └─ miss ──► make([]byte, cap)
//	Release ──► free list has room? ──► push back, otherwise let GC take it
//
// Requests larger than the biggest class are allocated directly and are not
// returned to the arena.
package pool

import (
	"sync/atomic"
)

// Default size classes: 512B, 4KiB, 64KiB, 1MiB.
var defaultClasses = []int{512, 4 << 10, 64 << 10, 1 << 20}

// DefaultFreeListSize is the number of idle buffers kept per size class.
const DefaultFreeListSize = 256

// Arena hands out fixed-capacity buffers from per-class free lists.
// It is safe for concurrent use.
type Arena struct {
	classes []sizeClass

	hits     atomic.Int64
	misses   atomic.Int64
	returns  atomic.Int64
	unpooled atomic.Int64
}

type sizeClass struct {
	size int
	free chan []byte
}

// Stats is a snapshot of arena counters.
type Stats struct {
	Hits     int64 // Get served from a free list
	Misses   int64 // Get had to allocate a pooled-class buffer
	Returns  int64 // Release pushed the buffer back onto a free list
	Unpooled int64 // Get larger than the biggest class
}

// NewArena creates an arena with the given size classes (ascending) and
// free-list depth per class. Nil classes selects the defaults.
func NewArena(classes []int, freeListSize int) *Arena {
	if len(classes) == 0 {
		classes = defaultClasses
	}
	if freeListSize <= 0 {
		freeListSize = DefaultFreeListSize
	}
	a := &Arena{classes: make([]sizeClass, len(classes))}
	for i, size := range classes {
		a.classes[i] = sizeClass{size: size, free: make(chan []byte, freeListSize)}
	}
	return a
}

// Get rents a buffer of length n. The caller owns the returned handle and
// must call Release exactly once when done; further Releases are no-ops.
func (a *Arena) Get(n int) *Buffer {
	if n < 0 {
		n = 0
	}
	idx := a.classFor(n)
	if idx < 0 {
		a.unpooled.Add(1)
		return &Buffer{b: make([]byte, n)}
	}

	c := &a.classes[idx]
	var b []byte
	select {
	case b = <-c.free:
		a.hits.Add(1)
	default:
		a.misses.Add(1)
		b = make([]byte, c.size)
	}
	return &Buffer{b: b[:n], arena: a, class: idx}
}

// Stats returns a snapshot of the arena counters.
func (a *Arena) Stats() Stats {
	return Stats{
		Hits:     a.hits.Load(),
		Misses:   a.misses.Load(),
		Returns:  a.returns.Load(),
		Unpooled: a.unpooled.Load(),
	}
}

func (a *Arena) classFor(n int) int {
	for i := range a.classes {
		if n <= a.classes[i].size {
			return i
		}
	}
	return -1
}

func (a *Arena) put(class int, b []byte) {
	c := &a.classes[class]
	select {
	case c.free <- b[:cap(b)]:
		a.returns.Add(1)
	default:
		// free list is full, drop it
	}
}

// Buffer is a rented slice. Ownership moves with the handle: whoever holds it
// last calls Release.
type Buffer struct {
	b        []byte
	arena    *Arena
	class    int
	released atomic.Bool
}

// Bytes returns the usable bytes. The slice must not be retained after
// Release.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.b
}

// Len returns the usable length.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.b)
}

// Release returns the buffer to its arena. Safe to call more than once and
// on a nil handle.
func (b *Buffer) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	if b.arena != nil {
		b.arena.put(b.class, b.b)
	}
	b.b = nil
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	return b != nil && b.released.Load()
}

// Default is the process-wide arena.
var Default = NewArena(nil, DefaultFreeListSize)

// Get rents a buffer of length n from the default arena.
func Get(n int) *Buffer {
	return Default.Get(n)
}

// Copy rents a buffer from the default arena and copies p into it.
func Copy(p []byte) *Buffer {
	buf := Default.Get(len(p))
	copy(buf.b, p)
	return buf
}
