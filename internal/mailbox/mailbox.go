// Package mailbox provides a single-slot, overwrite-on-publish hand-off
// between a fast producer and a slower consumer.
//
// A Mailbox never queues. Every Publish replaces the slot, so a reader that
// falls behind only ever sees the newest value; intermediate values are
// dropped and counted.
package mailbox

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by waiters once the mailbox has been closed.
	ErrClosed = errors.New("mailbox closed")
	// ErrTimeout is returned by WaitNextTimeout when no newer value arrived in time.
	ErrTimeout = errors.New("mailbox wait timed out")
)

// Mailbox is a single-slot container guarded by one mutex/condition pair.
// The zero value is not usable; call New.
type Mailbox[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	value    T
	id       uint64
	hasValue bool
	closed   bool

	// published but never observed by a waiter
	drops      uint64
	observedID uint64
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish overwrites the slot and wakes every waiter. It never blocks on a
// reader. Publishing after Close is a no-op.
func (m *Mailbox[T]) Publish(v T, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.hasValue && m.id > m.observedID {
		m.drops++
	}
	m.value = v
	m.id = id
	m.hasValue = true
	m.cond.Broadcast()
}

// WaitNext blocks until the slot holds an id strictly greater than last and
// returns the value current at wake time. Several publishes may have landed
// in between; only the latest is returned.
func (m *Mailbox[T]) WaitNext(last uint64) (T, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.closed && !m.newer(last) {
		m.cond.Wait()
	}
	return m.take(last)
}

// WaitNextTimeout is WaitNext bounded by d. It returns ErrTimeout when no
// newer value was published before the deadline.
func (m *Mailbox[T]) WaitNextTimeout(last uint64, d time.Duration) (T, uint64, error) {
	deadline := time.Now().Add(d)
	timer := time.AfterFunc(d, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.closed && !m.newer(last) {
		if !time.Now().Before(deadline) {
			var zero T
			return zero, last, ErrTimeout
		}
		m.cond.Wait()
	}
	return m.take(last)
}

// TrySnapshot returns the current slot without blocking.
func (m *Mailbox[T]) TrySnapshot() (T, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.id, m.hasValue
}

// Close wakes all waiters; they return ErrClosed.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}

// Drops reports how many published values were overwritten before any
// waiter observed them.
func (m *Mailbox[T]) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

func (m *Mailbox[T]) newer(last uint64) bool {
	return m.hasValue && m.id > last
}

// take must be called with mu held.
func (m *Mailbox[T]) take(last uint64) (T, uint64, error) {
	if m.closed {
		var zero T
		return zero, last, ErrClosed
	}
	if m.id > m.observedID {
		m.observedID = m.id
	}
	return m.value, m.id, nil
}
