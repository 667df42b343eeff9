package strategies

import (
	"fmt"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/pipeline"
)

// Config selects a strategy. Every applies to every_n, MinInterval to
// continuous and Interval to scheduled.
type Config struct {
	Mode        pipeline.DetectionMode
	Every       int
	MinInterval time.Duration
	Interval    time.Duration
}

// Create creates a detection strategy. An empty mode means every_n.
func Create(cfg Config) (pipeline.DetectionStrategy, error) {
	switch cfg.Mode {
	case "", pipeline.DetectionModeEveryN:
		return NewEveryNStrategy(cfg.Every), nil

	case pipeline.DetectionModeContinuous:
		return NewContinuousStrategy(cfg.MinInterval), nil

	case pipeline.DetectionModeScheduled:
		return NewScheduledStrategy(cfg.Interval), nil

	default:
		return nil, fmt.Errorf("unknown detection mode: %s", cfg.Mode)
	}
}
