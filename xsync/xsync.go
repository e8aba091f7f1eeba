// Copyright The glink Authors
// SPDX-License-Identifier: Apache-2.0

// Package xsync provides thin wrappers around locking primitives that tie
// locks to the data they protect.
package xsync // import "github.com/glink-ld/glink/xsync"

import (
	"sync"
	"sync/atomic"
)

// Once is a lock that ensures that some data is initialized exactly once.
//
// Does not need explicit construction: simply do Once[MyType]{}.
type Once[T any] struct {
	done atomic.Bool
	mu   sync.Mutex
	data T
}

// GetOrInit the data protected by this lock.
//
// If the init function fails, the error is returned and the data is still
// considered to be uninitialized. The init function will then be called again
// on the next GetOrInit call. Only one goroutine will ever call init at the
// same time.
func (l *Once[T]) GetOrInit(init func() (T, error)) (*T, error) {
	if !l.done.Load() {
		// Outlined slow-path to allow inlining of the fast-path.
		return l.initSlow(init)
	}
	return &l.data, nil
}

func (l *Once[T]) initSlow(init func() (T, error)) (*T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Contending call might have initialized while we waited for the lock.
	if l.done.Load() {
		return &l.data, nil
	}

	var err error
	l.data, err = init()
	if err != nil {
		return nil, err
	}

	l.done.Store(true)
	return &l.data, err
}

// Get the previously initialized value.
//
// If the Once is not yet initialized, nil is returned.
func (l *Once[T]) Get() *T {
	if !l.done.Load() {
		return nil
	}
	return &l.data
}

// RWMutex is a thin wrapper around sync.RWMutex that hides away the data it
// protects to ensure it is not accidentally accessed without actually holding
// the lock.
//
// The pointers returned from the lock methods must not leak out of the scope
// of the function that took the lock; the unlock methods invalidate the
// caller's pointer to make violations crash early in tests.
type RWMutex[T any] struct {
	guarded T
	mutex   sync.RWMutex
}

// NewRWMutex creates a new read-write mutex guarding the given data.
func NewRWMutex[T any](guarded T) RWMutex[T] {
	return RWMutex[T]{
		guarded: guarded,
	}
}

// RLock locks the mutex for reading, returning a pointer to the protected
// data. The caller must not write through the returned pointer.
func (mtx *RWMutex[T]) RLock() *T {
	mtx.mutex.RLock()
	return &mtx.guarded
}

// RUnlock unlocks the mutex after previously being locked by RLock. Pass a
// reference to the pointer returned from RLock to ensure it is invalidated.
func (mtx *RWMutex[T]) RUnlock(ref **T) {
	*ref = nil
	mtx.mutex.RUnlock()
}

// WLock locks the mutex for writing, returning a pointer to the protected
// data.
func (mtx *RWMutex[T]) WLock() *T {
	mtx.mutex.Lock()
	return &mtx.guarded
}

// WUnlock unlocks the mutex after previously being locked by WLock. Pass a
// reference to the pointer returned from WLock to ensure it is invalidated.
func (mtx *RWMutex[T]) WUnlock(ref **T) {
	*ref = nil
	mtx.mutex.Unlock()
}
