package pipeline

import (
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
)

// DetectionMode selects the inference cadence policy.
type DetectionMode string

const (
	// DetectionModeEveryN runs inference on every Nth consumed frame.
	DetectionModeEveryN DetectionMode = "every_n"
	// DetectionModeContinuous runs inference on every consumed frame,
	// optionally rate-limited by a minimum interval.
	DetectionModeContinuous DetectionMode = "continuous"
	// DetectionModeScheduled runs inference at fixed time intervals.
	DetectionModeScheduled DetectionMode = "scheduled"
)

// Frame is one captured image. It is immutable once published.
type Frame struct {
	ID         uint64
	JPEG       []byte
	CapturedAt time.Time
}

// DetectionResult is the worker's decision for one consumed frame.
// When RanInfer is false, Boxes is the previous inference's slice reused
// verbatim; consumers must treat it as read-only.
type DetectionResult struct {
	FrameID     uint64
	Boxes       []detection.BoundingBox
	Person      bool
	CompletedAt time.Time
	RanInfer    bool
	InferenceMs float64
}

// DetectionStrategy decides whether a consumed frame is sent to the engine.
// Only the worker goroutine calls it.
type DetectionStrategy interface {
	Name() string

	// ShouldDetect is called with the 1-based count of consumed frames.
	ShouldDetect(consumed uint64) bool

	OnDetectionComplete()

	// Reset clears timing state; the worker calls it when a run starts.
	Reset()
}
