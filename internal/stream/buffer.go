// Package stream serves the latest captured frame over HTTP as a single
// JPEG snapshot or a multipart MJPEG stream.
package stream

import (
	"sync"
	"time"
)

// Snapshot is one captured JPEG frame.
type Snapshot struct {
	ID         uint64
	JPEG       []byte
	CapturedAt time.Time
}

// SnapshotBuffer holds the most recent frame for HTTP readers. It has its
// own lock so streaming clients never contend with the pipeline mailboxes.
type SnapshotBuffer struct {
	mu      sync.RWMutex
	cur     Snapshot
	has     bool
	changed chan struct{}
	done    chan struct{}
	closed  bool
}

// NewSnapshotBuffer returns an empty buffer.
func NewSnapshotBuffer() *SnapshotBuffer {
	return &SnapshotBuffer{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Publish stores a frame and wakes streaming clients.
func (b *SnapshotBuffer) Publish(id uint64, jpeg []byte, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.cur = Snapshot{ID: id, JPEG: jpeg, CapturedAt: at}
	b.has = true
	close(b.changed)
	b.changed = make(chan struct{})
}

// Latest returns the current frame without blocking.
func (b *SnapshotBuffer) Latest() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cur, b.has
}

// Changed returns a channel closed on the next Publish.
func (b *SnapshotBuffer) Changed() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.changed
}

// Done is closed by Close.
func (b *SnapshotBuffer) Done() <-chan struct{} {
	return b.done
}

// Close tells streaming clients to finish their multipart bodies.
func (b *SnapshotBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}
