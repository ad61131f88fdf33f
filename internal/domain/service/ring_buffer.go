package service

import "sync"

// RingBuffer is a fixed-capacity, newest-first buffer with a unique key per element.
// Pushing past capacity evicts the oldest element.
type RingBuffer[K comparable, T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int // slot of the newest element
	size  int
	keyOf func(T) K
	index map[K]T
}

func NewRingBuffer[K comparable, T any](capacity int, keyOf func(T) K) *RingBuffer[K, T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[K, T]{
		buf:   make([]T, capacity),
		head:  capacity - 1,
		keyOf: keyOf,
		index: make(map[K]T, capacity),
	}
}

// Push inserts item at the front. If an element with the same key is already
// buffered, nothing changes and the buffered element is returned with false.
func (r *RingBuffer[K, T]) Push(item T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.keyOf(item)
	if existing, ok := r.index[key]; ok {
		return existing, false
	}
	r.pushLocked(item, key)
	return item, true
}

func (r *RingBuffer[K, T]) pushLocked(item T, key K) {
	r.head = (r.head + 1) % len(r.buf)
	if r.size == len(r.buf) {
		delete(r.index, r.keyOf(r.buf[r.head]))
	} else {
		r.size++
	}
	r.buf[r.head] = item
	r.index[key] = item
}

func (r *RingBuffer[K, T]) at(i int) T {
	n := len(r.buf)
	return r.buf[((r.head-i)%n+n)%n]
}

// Get returns up to limit elements newest first. A limit <= 0 returns everything.
func (r *RingBuffer[K, T]) Get(limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.at(i)
	}
	return out
}

// Filter returns up to limit matching elements newest first.
func (r *RingBuffer[K, T]) Filter(match func(T) bool, limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0)
	for i := 0; i < r.size; i++ {
		item := r.at(i)
		if !match(item) {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Find looks an element up by key.
func (r *RingBuffer[K, T]) Find(key K) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.index[key]
	return item, ok
}

// Contains reports whether key is buffered.
func (r *RingBuffer[K, T]) Contains(key K) bool {
	_, ok := r.Find(key)
	return ok
}

// Remove deletes the elements with the given keys and reports how many were present.
func (r *RingBuffer[K, T]) Remove(keys ...K) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	drop := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := r.index[k]; ok {
			drop[k] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	kept := make([]T, 0, r.size-len(drop))
	for i := r.size - 1; i >= 0; i-- {
		item := r.at(i)
		if _, ok := drop[r.keyOf(item)]; !ok {
			kept = append(kept, item)
		}
	}
	r.resetLocked()
	for _, item := range kept {
		r.pushLocked(item, r.keyOf(item))
	}
	return len(drop)
}

// Clear empties the buffer.
func (r *RingBuffer[K, T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *RingBuffer[K, T]) resetLocked() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = len(r.buf) - 1
	r.size = 0
	r.index = make(map[K]T, len(r.buf))
}

func (r *RingBuffer[K, T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *RingBuffer[K, T]) Cap() int { return len(r.buf) }
