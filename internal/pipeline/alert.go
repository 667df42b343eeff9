package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/alert"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/database"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/mailbox"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/observe"
)

// AlertRecorder stores fired alerts.
type AlertRecorder interface {
	RecordAlert(ctx context.Context, a *database.AlertRecord) error
}

// BoxSink receives the latest boxes for drawing.
type BoxSink interface {
	SetBoxes(boxes []detection.BoundingBox)
}

// AlertNotifier pushes fired alerts to an external channel. It must not block.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, a *database.AlertRecord)
}

// AlertStage consumes detection results, drives the throttled alert and
// logs periodic summaries even when no results arrive.
type AlertStage struct {
	results      *mailbox.Mailbox[DetectionResult]
	frameDrops   func() uint64
	throttle     *alert.Throttle
	journal      AlertRecorder
	notifiers    []AlertNotifier
	overlay      BoxSink
	counters     *Counters
	metrics      *observe.Metrics
	logger       *slog.Logger
	runID        string
	summaryEvery time.Duration
	personClass  int
	personMin    float32
	now          func() time.Time

	alerts atomic.Uint64

	mu   sync.RWMutex
	last *DetectionResult
}

// Run handles results until the result mailbox is closed.
func (a *AlertStage) Run(ctx context.Context) error {
	var lastID uint64
	next := a.now().Add(a.summaryEvery)

	for {
		wait := next.Sub(a.now())
		if wait < 0 {
			wait = 0
		}
		res, id, err := a.results.WaitNextTimeout(lastID, wait)
		switch {
		case errors.Is(err, mailbox.ErrClosed):
			a.summarize(ctx)
			return nil
		case err == nil:
			lastID = id
			a.handle(ctx, res)
		}

		if now := a.now(); !now.Before(next) {
			a.summarize(ctx)
			next = now.Add(a.summaryEvery)
		}
	}
}

func (a *AlertStage) handle(ctx context.Context, res DetectionResult) {
	a.mu.Lock()
	a.last = &res
	a.mu.Unlock()

	if a.overlay != nil {
		a.overlay.SetBoxes(res.Boxes)
	}
	if !a.throttle.Fire(res.Person) {
		return
	}

	a.alerts.Add(1)
	a.metrics.RecordAlert(ctx)
	a.logger.Info("person alert", "frame_id", res.FrameID, "boxes", len(res.Boxes))

	if a.journal == nil && len(a.notifiers) == 0 {
		return
	}
	rec := a.record(res)
	if a.journal != nil {
		if err := a.journal.RecordAlert(ctx, rec); err != nil {
			a.logger.Warn("failed to journal alert", "frame_id", res.FrameID, "error", err)
		}
	}
	for _, n := range a.notifiers {
		n.NotifyAlert(ctx, rec)
	}
}

func (a *AlertStage) record(res DetectionResult) *database.AlertRecord {
	rec := &database.AlertRecord{
		ID:          uuid.NewString(),
		RunID:       a.runID,
		FrameID:     res.FrameID,
		FiredAt:     res.CompletedAt,
		InferenceMs: res.InferenceMs,
	}
	for _, b := range res.Boxes {
		if b.Category != a.personClass || b.Score < a.personMin {
			continue
		}
		rec.Persons++
		if s := float64(b.Score); s > rec.TopScore {
			rec.TopScore = s
		}
		rec.Boxes = append(rec.Boxes, database.BoxRecord{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2, Score: float64(b.Score)})
	}
	return rec
}

func (a *AlertStage) summarize(ctx context.Context) {
	r := a.counters.Window(a.now())
	var drops uint64
	if a.frameDrops != nil {
		drops = a.frameDrops()
	}
	a.metrics.RecordRates(ctx, r.CaptureFPS, r.LoopFPS, r.DetFPS, drops)
	a.logger.Info("pipeline summary",
		"capture_fps", round2(r.CaptureFPS),
		"loop_fps", round2(r.LoopFPS),
		"det_fps", round2(r.DetFPS),
		"mean_inference_ms", round2(r.MeanInferenceMs),
		"frame_drops", drops,
		"alerts", a.alerts.Load(),
	)
}

// Alerts returns the number of alerts fired.
func (a *AlertStage) Alerts() uint64 { return a.alerts.Load() }

// Last returns the most recent result seen by the stage.
func (a *AlertStage) Last() (DetectionResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return DetectionResult{}, false
	}
	return *a.last, true
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
