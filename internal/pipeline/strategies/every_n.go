package strategies

import (
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/pipeline"
)

// EveryNStrategy triggers detection on every Nth consumed frame, counting
// from 1. N=1 detects on every frame.
type EveryNStrategy struct {
	n uint64
}

// NewEveryNStrategy creates a frame-count cadence strategy
func NewEveryNStrategy(n int) *EveryNStrategy {
	if n < 1 {
		n = 1
	}
	return &EveryNStrategy{n: uint64(n)}
}

func (s *EveryNStrategy) Name() string {
	return string(pipeline.DetectionModeEveryN)
}

func (s *EveryNStrategy) ShouldDetect(consumed uint64) bool {
	return consumed%s.n == 0
}

func (s *EveryNStrategy) OnDetectionComplete() {}

// Reset is a no-op; the worker owns the consumed-frame count.
func (s *EveryNStrategy) Reset() {}
