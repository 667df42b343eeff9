// Package perf records per-frame stage timestamps.
//
// The worker opens one record per processed frame with Begin, stamps the
// stages that actually ran, and closes it with Commit. Stages that did not
// run keep a zero timestamp so every row has the same width.
package perf

import (
	"sync"
	"time"
)

// Stage identifies one timestamp column.
type Stage int

const (
	StageCamera Stage = iota
	StagePreprocess
	StageDetectStart
	StageDetectEnd
	StageDecision
	// StageAudio (t_aud) marks the person decision that makes the frame
	// alert-eligible. It is stamped on every person frame; whether the
	// throttle then plays audio is decided downstream and not recorded here.
	StageAudio
	numStages
)

// Header is the CSV column list.
var Header = []string{"frame_id", "t_cam", "t_pp", "t_det_s", "t_det_e", "t_dec", "t_aud", "ran_infer"}

// Record is one frame's row. Stamps are seconds since the recorder epoch.
type Record struct {
	FrameID  uint64
	Stamps   [numStages]float64
	RanInfer bool
}

// Sink receives per-frame stage marks.
type Sink interface {
	Begin(frameID uint64)
	Mark(stage Stage)
	MarkAt(stage Stage, t time.Time)
	SetRanInfer(ran bool)
	Commit() error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Begin(uint64)            {}
func (Nop) Mark(Stage)              {}
func (Nop) MarkAt(Stage, time.Time) {}
func (Nop) SetRanInfer(bool)        {}
func (Nop) Commit() error           { return nil }
func (Nop) Close() error            { return nil }

// Clock converts wall instants to monotonic seconds since an epoch.
type Clock struct {
	epoch time.Time
}

// NewClock starts a clock at now.
func NewClock() Clock {
	return Clock{epoch: time.Now()}
}

// Seconds returns t relative to the epoch using the monotonic reading.
func (c Clock) Seconds(t time.Time) float64 {
	return t.Sub(c.epoch).Seconds()
}

// recorder holds the in-progress record shared by concrete sinks.
type recorder struct {
	mu    sync.Mutex
	clock Clock
	now   func() time.Time
	cur   Record
}

func (r *recorder) Begin(frameID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = Record{FrameID: frameID}
}

func (r *recorder) Mark(stage Stage) {
	r.MarkAt(stage, r.now())
}

func (r *recorder) MarkAt(stage Stage, t time.Time) {
	if stage < 0 || stage >= numStages {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur.Stamps[stage] = r.clock.Seconds(t)
}

func (r *recorder) SetRanInfer(ran bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur.RanInfer = ran
}

func (r *recorder) snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}
