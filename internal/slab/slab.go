// Package slab implements a fixed-capacity object pool with
// reference-counted handles, grounded in
// original_source/sensor/include/memory.hpp's preallocated block stack
// (there: a std::stack<T*> guarded by a pthread_mutex_t, returning a
// std::tr1::shared_ptr<T> whose custom deallocator pushes the block
// back onto the stack when the last reference drops). Go has no
// destructor-driven refcounting, so the stack's automatic free-on-last-
// shared_ptr is modeled explicitly with a Handle[T] that callers must
// Release.
package slab

import "sync"

// Pool is a fixed-capacity preallocated pool of *T values, generalizing
// Memory<T> from the original implementation.
type Pool[T any] struct {
	mu       sync.Mutex
	free     []*T
	capacity int
	inUse    int
}

// NewPool preallocates capacity elements and pushes them onto the free stack.
func NewPool[T any](capacity int) *Pool[T] {
	p := &Pool[T]{
		free:     make([]*T, 0, capacity),
		capacity: capacity,
	}
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, new(T))
	}
	return p
}

// Handle is a reference-counted borrow of one pool element. The zero
// value is not usable; obtain one from Pool.Allocate.
type Handle[T any] struct {
	pool  *Pool[T]
	value *T
	refs  *int32
}

// Allocate pops a block off the free stack and returns a Handle with a
// single reference, or ok=false if the pool is exhausted -- the caller
// (an analyzer's session-creation path) must treat this as "no session
// available" rather than retry indefinitely.
func (p *Pool[T]) Allocate() (Handle[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return Handle[T]{}, false
	}

	v := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse++

	var zero T
	*v = zero

	refs := int32(1)
	return Handle[T]{pool: p, value: v, refs: &refs}, true
}

// Value returns the borrowed element. Valid only while the handle
// holds at least one reference.
func (h Handle[T]) Value() *T { return h.value }

// Valid reports whether the handle still refers to a live allocation.
func (h Handle[T]) Valid() bool { return h.value != nil }

// Retain increments the reference count and returns the same handle,
// used when a session table bucket hands out a second owner (e.g. the
// sweep goroutine and the packet-dispatch goroutine both holding a
// session concurrently).
func (h Handle[T]) Retain() Handle[T] {
	if h.refs != nil {
		p := h.pool
		p.mu.Lock()
		*h.refs++
		p.mu.Unlock()
	}
	return h
}

// Release decrements the reference count and, when it reaches zero,
// returns the block to the pool's free stack. Release is idempotent
// only for the single call that observes the zero transition; callers
// must not call Release more times than they called Allocate/Retain.
func (h Handle[T]) Release() {
	if h.refs == nil {
		return
	}
	p := h.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	*h.refs--
	if *h.refs == 0 {
		p.free = append(p.free, h.value)
		p.inUse--
	}
}

// Size returns the number of blocks currently allocated out of the pool.
func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity returns the pool's fixed block count.
func (p *Pool[T]) Capacity() int {
	return p.capacity
}
