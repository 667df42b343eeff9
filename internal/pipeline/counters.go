package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counters are the pipeline's monotonic counts. Stages bump them lock-free;
// readers sample a consistent set under a short-held lock.
type Counters struct {
	captured   atomic.Uint64
	processed  atomic.Uint64
	inferences atomic.Uint64
	inferNanos atomic.Int64

	start time.Time

	mu   sync.Mutex
	base Sample
}

// Sample is a point-in-time reading of every counter.
type Sample struct {
	At         time.Time
	Captured   uint64
	Processed  uint64
	Inferences uint64
	InferNanos int64
}

// Rates are per-second figures derived from two samples.
type Rates struct {
	Interval        time.Duration
	CaptureFPS      float64
	LoopFPS         float64
	DetFPS          float64
	MeanInferenceMs float64
}

func NewCounters(start time.Time) *Counters {
	return &Counters{start: start, base: Sample{At: start}}
}

func (c *Counters) AddCaptured() { c.captured.Add(1) }

func (c *Counters) AddProcessed() { c.processed.Add(1) }

// AddInference counts one inference and its engine latency.
func (c *Counters) AddInference(d time.Duration) {
	c.inferNanos.Add(int64(d))
	c.inferences.Add(1)
}

// Start returns the time the counters were created.
func (c *Counters) Start() time.Time { return c.start }

// Sample reads every counter.
func (c *Counters) Sample(now time.Time) Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(now)
}

// read must be called with mu held.
func (c *Counters) read(now time.Time) Sample {
	return Sample{
		At:         now,
		Captured:   c.captured.Load(),
		Processed:  c.processed.Load(),
		Inferences: c.inferences.Load(),
		InferNanos: c.inferNanos.Load(),
	}
}

// Cumulative returns processed and inference rates since start.
func (c *Counters) Cumulative(now time.Time) (loopFPS, detFPS float64) {
	secs := now.Sub(c.start).Seconds()
	if secs <= 0 {
		return 0, 0
	}
	return float64(c.processed.Load()) / secs, float64(c.inferences.Load()) / secs
}

// Window returns the rates since the previous Window call (or start) and
// makes now the new window base.
func (c *Counters) Window(now time.Time) Rates {
	c.mu.Lock()
	cur := c.read(now)
	prev := c.base
	c.base = cur
	c.mu.Unlock()

	return rates(prev, cur)
}

func rates(prev, cur Sample) Rates {
	r := Rates{Interval: cur.At.Sub(prev.At)}
	secs := r.Interval.Seconds()
	if secs <= 0 {
		return r
	}
	r.CaptureFPS = float64(cur.Captured-prev.Captured) / secs
	r.LoopFPS = float64(cur.Processed-prev.Processed) / secs
	n := cur.Inferences - prev.Inferences
	r.DetFPS = float64(n) / secs
	if n > 0 {
		r.MeanInferenceMs = float64(cur.InferNanos-prev.InferNanos) / float64(n) / float64(time.Millisecond)
	}
	return r
}
