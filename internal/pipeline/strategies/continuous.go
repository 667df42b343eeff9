package strategies

import (
	"sync"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/pipeline"
)

// ContinuousStrategy triggers detection on every frame
// Optionally rate-limits to avoid overwhelming the detector
type ContinuousStrategy struct {
	minInterval   time.Duration
	lastDetection time.Time
	now           func() time.Time
	mu            sync.Mutex
}

// NewContinuousStrategy creates a continuous detection strategy
// minInterval can be 0 to process every frame, or a duration to rate-limit
func NewContinuousStrategy(minInterval time.Duration) *ContinuousStrategy {
	return &ContinuousStrategy{
		minInterval: minInterval,
		now:         time.Now,
	}
}

func (s *ContinuousStrategy) Name() string {
	return string(pipeline.DetectionModeContinuous)
}

func (s *ContinuousStrategy) ShouldDetect(uint64) bool {
	if s.minInterval == 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastDetection) >= s.minInterval
}

func (s *ContinuousStrategy) OnDetectionComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDetection = s.now()
}

func (s *ContinuousStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDetection = time.Time{}
}
