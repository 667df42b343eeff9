package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/capture"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/mailbox"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/observe"
)

// SnapshotPublisher receives every captured frame for streaming.
type SnapshotPublisher interface {
	Publish(id uint64, jpeg []byte, at time.Time)
}

// CaptureStage is the free-running producer. It assigns frame ids and never
// waits on the rest of the pipeline.
type CaptureStage struct {
	reader    capture.Reader
	frames    *mailbox.Mailbox[Frame]
	snapshots SnapshotPublisher
	counters  *Counters
	metrics   *observe.Metrics
	logger    *slog.Logger
	now       func() time.Time

	nextID atomic.Uint64
}

// Run reads until ctx is cancelled or the source fails. A failure is fatal
// for the pipeline.
func (c *CaptureStage) Run(ctx context.Context) error {
	c.logger.Info("capture started")
	err := c.reader.Read(ctx, func(jpeg []byte) { c.emit(ctx, jpeg) })
	c.logger.Info("capture stopped", "frames", c.nextID.Load())
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

func (c *CaptureStage) emit(ctx context.Context, jpeg []byte) {
	id := c.nextID.Add(1)
	at := c.now()

	c.frames.Publish(Frame{ID: id, JPEG: jpeg, CapturedAt: at}, id)
	if c.snapshots != nil {
		c.snapshots.Publish(id, jpeg, at)
	}
	c.counters.AddCaptured()
	c.metrics.RecordCapture(ctx)
}
