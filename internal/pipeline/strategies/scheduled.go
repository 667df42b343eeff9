package strategies

import (
	"sync"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/pipeline"
)

const defaultScheduleInterval = 5 * time.Second

// ScheduledStrategy triggers detection at fixed time intervals
type ScheduledStrategy struct {
	interval      time.Duration
	lastDetection time.Time
	now           func() time.Time
	mu            sync.Mutex
}

// NewScheduledStrategy creates a scheduled detection strategy
func NewScheduledStrategy(interval time.Duration) *ScheduledStrategy {
	if interval <= 0 {
		interval = defaultScheduleInterval
	}
	return &ScheduledStrategy{
		interval: interval,
		now:      time.Now,
	}
}

func (s *ScheduledStrategy) Name() string {
	return string(pipeline.DetectionModeScheduled)
}

func (s *ScheduledStrategy) ShouldDetect(uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastDetection) >= s.interval
}

func (s *ScheduledStrategy) OnDetectionComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDetection = s.now()
}

func (s *ScheduledStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDetection = time.Time{}
}

// SetInterval updates the detection interval
func (s *ScheduledStrategy) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
}
