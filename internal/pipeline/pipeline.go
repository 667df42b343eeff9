// Package pipeline runs the three-stage perception loop: a free-running
// capture producer, a single detection worker and an alert/telemetry
// consumer, joined by two latest-wins mailboxes.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/alert"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/capture"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/engine"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/mailbox"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/observe"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/perf"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/preprocess"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/telemetry"
)

const defaultSummaryInterval = 5 * time.Second

// Options wires a Pipeline. Reader, Engine, Decoder, Converter, Strategy
// and Throttle are required; everything else may be nil.
type Options struct {
	Reader    capture.Reader
	Engine    engine.Engine
	Decoder   *detection.Decoder
	Converter *preprocess.Converter
	Strategy  DetectionStrategy
	Throttle  *alert.Throttle

	Perf      perf.Sink
	Events    EventPublisher
	Snapshots SnapshotPublisher
	Overlay   BoxSink
	Journal   AlertRecorder
	Notifiers []AlertNotifier
	Metrics   *observe.Metrics
	Logger    *slog.Logger

	Worker          WorkerConfig
	SummaryInterval time.Duration
}

// Pipeline is the context object shared by the stages of one run.
type Pipeline struct {
	runID     string
	startedAt time.Time

	frames   *mailbox.Mailbox[Frame]
	results  *mailbox.Mailbox[DetectionResult]
	counters *Counters

	capture *CaptureStage
	worker  *Worker
	alerts  *AlertStage

	logger  *slog.Logger
	running atomic.Bool
}

// Stats is a point-in-time view for the HTTP API.
type Stats struct {
	RunID           string           `json:"run_id"`
	Running         bool             `json:"running"`
	StartedAt       time.Time        `json:"started_at"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
	FramesCaptured  uint64           `json:"frames_captured"`
	FramesProcessed uint64           `json:"frames_processed"`
	Inferences      uint64           `json:"inferences"`
	Alerts          uint64           `json:"alerts"`
	FrameDrops      uint64           `json:"frame_drops"`
	LoopFPS         float64          `json:"loop_fps"`
	DetFPS          float64          `json:"det_fps"`
	Last            *LastResultStats `json:"last_result,omitempty"`
}

// LastResultStats summarizes the newest detection result.
type LastResultStats struct {
	FrameID     uint64                  `json:"frame_id"`
	Person      bool                    `json:"person"`
	RanInfer    bool                    `json:"ran_infer"`
	Boxes       []detection.BoundingBox `json:"boxes"`
	CompletedAt time.Time               `json:"completed_at"`
}

// New builds a pipeline and its stages.
func New(opts Options) (*Pipeline, error) {
	var errs []error
	if opts.Reader == nil {
		errs = append(errs, errors.New("pipeline: capture reader is required"))
	}
	if opts.Engine == nil {
		errs = append(errs, errors.New("pipeline: engine is required"))
	}
	if opts.Decoder == nil {
		errs = append(errs, errors.New("pipeline: decoder is required"))
	}
	if opts.Converter == nil {
		errs = append(errs, errors.New("pipeline: converter is required"))
	}
	if opts.Strategy == nil {
		errs = append(errs, errors.New("pipeline: detection strategy is required"))
	}
	if opts.Throttle == nil {
		errs = append(errs, errors.New("pipeline: alert throttle is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if opts.Perf == nil {
		opts.Perf = perf.Nop{}
	}
	if opts.Events == nil {
		opts.Events = discardEvents{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SummaryInterval <= 0 {
		opts.SummaryInterval = defaultSummaryInterval
	}

	now := time.Now
	p := &Pipeline{
		runID:     uuid.NewString(),
		startedAt: now(),
		frames:    mailbox.New[Frame](),
		results:   mailbox.New[DetectionResult](),
		logger:    opts.Logger,
	}
	p.counters = NewCounters(p.startedAt)

	p.capture = &CaptureStage{
		reader:    opts.Reader,
		frames:    p.frames,
		snapshots: opts.Snapshots,
		counters:  p.counters,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "capture"),
		now:       now,
	}
	p.worker = &Worker{
		frames:    p.frames,
		results:   p.results,
		engine:    opts.Engine,
		decoder:   opts.Decoder,
		converter: opts.Converter,
		strategy:  opts.Strategy,
		perf:      opts.Perf,
		counters:  p.counters,
		events:    opts.Events,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "detector"),
		cfg:       opts.Worker,
		now:       now,
	}
	p.alerts = &AlertStage{
		results:      p.results,
		frameDrops:   p.frames.Drops,
		throttle:     opts.Throttle,
		journal:      opts.Journal,
		notifiers:    opts.Notifiers,
		overlay:      opts.Overlay,
		counters:     p.counters,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With("component", "alert"),
		runID:        p.runID,
		summaryEvery: opts.SummaryInterval,
		personClass:  opts.Worker.PersonClass,
		personMin:    opts.Worker.PersonMinScore,
		now:          now,
	}
	return p, nil
}

// Run blocks until ctx is cancelled or a stage fails. Stages exit in
// capture, detect, alert order; a capture failure is returned. A Pipeline
// runs once.
func (p *Pipeline) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	p.logger.Info("pipeline starting", "run_id", p.runID)

	g, gctx := errgroup.WithContext(ctx)
	stopped := make(chan struct{})

	// Closing both mailboxes releases any stage blocked in a wait.
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-stopped:
		}
		p.frames.Close()
		p.results.Close()
		return nil
	})
	g.Go(func() error {
		defer p.frames.Close()
		return p.capture.Run(gctx)
	})
	g.Go(func() error {
		defer p.results.Close()
		return p.worker.Run(gctx)
	})
	g.Go(func() error {
		defer close(stopped)
		return p.alerts.Run(gctx)
	})

	err := g.Wait()
	p.logger.Info("pipeline stopped", "run_id", p.runID, "error", err)
	return err
}

func (p *Pipeline) RunID() string { return p.runID }

func (p *Pipeline) StartedAt() time.Time { return p.startedAt }

// Running reports whether Run is active.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Healthy is a readiness check: it fails once the pipeline has stopped.
func (p *Pipeline) Healthy(context.Context) error {
	if !p.Running() {
		return errors.New("pipeline not running")
	}
	return nil
}

// Stats samples the counters and the newest result.
func (p *Pipeline) Stats() Stats {
	now := time.Now()
	s := p.counters.Sample(now)
	loop, det := p.counters.Cumulative(now)
	st := Stats{
		RunID:           p.runID,
		Running:         p.Running(),
		StartedAt:       p.startedAt,
		UptimeSeconds:   now.Sub(p.startedAt).Seconds(),
		FramesCaptured:  s.Captured,
		FramesProcessed: s.Processed,
		Inferences:      s.Inferences,
		Alerts:          p.alerts.Alerts(),
		FrameDrops:      p.frames.Drops(),
		LoopFPS:         round2(loop),
		DetFPS:          round2(det),
	}
	if last, ok := p.alerts.Last(); ok {
		st.Last = &LastResultStats{
			FrameID:     last.FrameID,
			Person:      last.Person,
			RanInfer:    last.RanInfer,
			Boxes:       last.Boxes,
			CompletedAt: last.CompletedAt,
		}
	}
	return st
}

type discardEvents struct{}

func (discardEvents) Publish(telemetry.Event) {}
