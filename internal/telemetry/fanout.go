package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink delivers one encoded event. Implementations are best-effort.
type Sink interface {
	Name() string
	Send(payload []byte) error
}

type subscription struct {
	sink    Sink
	ch      chan []byte
	dropped atomic.Uint64
}

// Fanout hands each event to every sink without ever blocking the caller.
// A slow sink loses events instead of delaying the pipeline.
type Fanout struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewFanout returns an empty Fanout.
func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{logger: logger.With("component", "telemetry")}
}

// Add registers a sink with its own delivery goroutine and buffer.
func (f *Fanout) Add(sink Sink, buffer int) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscription{sink: sink, ch: make(chan []byte, buffer)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.subs = append(f.subs, sub)

	f.wg.Add(1)
	go f.deliver(sub)
}

func (f *Fanout) deliver(sub *subscription) {
	defer f.wg.Done()
	for payload := range sub.ch {
		if err := sub.sink.Send(payload); err != nil {
			f.logger.Warn("telemetry send failed", "sink", sub.sink.Name(), "error", err)
		}
	}
}

// Publish encodes ev once and queues it to every sink.
func (f *Fanout) Publish(ev Event) {
	payload, err := ev.Marshal()
	if err != nil {
		f.logger.Warn("failed to encode telemetry event", "frame_id", ev.FrameID, "error", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, sub := range f.subs {
		select {
		case sub.ch <- payload:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Dropped returns per-sink counts of events lost to full buffers.
func (f *Fanout) Dropped() map[string]uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]uint64, len(f.subs))
	for _, sub := range f.subs {
		out[sub.sink.Name()] += sub.dropped.Load()
	}
	return out
}

// Close stops accepting events and waits for queued payloads to drain.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, sub := range f.subs {
		close(sub.ch)
	}
	f.mu.Unlock()

	f.wg.Wait()
}
