package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/engine"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/mailbox"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/observe"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/perf"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/preprocess"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/telemetry"
)

var errUndecodableFrame = errors.New("frame could not be decoded")

// EventPublisher receives one telemetry event per processed frame.
type EventPublisher interface {
	Publish(ev telemetry.Event)
}

// WorkerConfig holds the per-frame decision parameters.
type WorkerConfig struct {
	ScoreThreshold float32
	PersonClass    int
	PersonMinScore float32
	// StalePersonAfter clears the person flag on reused results once this
	// many consecutive frames have reused the same inference. Zero never
	// clears it.
	StalePersonAfter int
}

// Worker is the single detection consumer. It owns the engine handle, so at
// most one inference is in flight.
type Worker struct {
	frames    *mailbox.Mailbox[Frame]
	results   *mailbox.Mailbox[DetectionResult]
	engine    engine.Engine
	decoder   *detection.Decoder
	converter *preprocess.Converter
	strategy  DetectionStrategy
	perf      perf.Sink
	counters  *Counters
	events    EventPublisher
	metrics   *observe.Metrics
	logger    *slog.Logger
	cfg       WorkerConfig
	now       func() time.Time

	consumed   uint64
	lastBoxes  []detection.BoundingBox
	lastPerson bool
	reused     int
}

// Run consumes frames until the frame mailbox is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.strategy.Reset()
	w.logger.Info("detection worker started", "strategy", w.strategy.Name())
	defer w.logger.Info("detection worker stopped", "consumed", w.consumed)

	var lastID uint64
	for ctx.Err() == nil {
		frame, id, err := w.frames.WaitNext(lastID)
		if errors.Is(err, mailbox.ErrClosed) {
			return nil
		}
		lastID = id
		w.process(ctx, frame)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, frame Frame) {
	start := w.now()
	w.perf.Begin(frame.ID)
	w.perf.MarkAt(perf.StageCamera, frame.CapturedAt)

	img, tensor := w.preprocess(frame)
	ppDone := w.now()
	w.perf.MarkAt(perf.StagePreprocess, ppDone)
	w.metrics.RecordStage(ctx, "preprocess", ppDone.Sub(start))

	w.consumed++
	var res DetectionResult
	if w.strategy.ShouldDetect(w.consumed) {
		res = w.infer(ctx, img, tensor)
		w.strategy.OnDetectionComplete()
	} else {
		res = w.reuse()
	}
	res.FrameID = frame.ID
	res.CompletedAt = w.now()

	w.perf.SetRanInfer(res.RanInfer)
	w.perf.MarkAt(perf.StageDecision, res.CompletedAt)
	w.results.Publish(res, frame.ID)
	// t_aud: handed to the alert stage as a person frame, before throttling.
	if res.Person {
		w.perf.MarkAt(perf.StageAudio, w.now())
	}

	w.counters.AddProcessed()
	loopFPS, detFPS := w.counters.Cumulative(res.CompletedAt)
	w.events.Publish(telemetry.NewEvent(frame.ID, res.CompletedAt, loopFPS, detFPS, res.Person, res.Boxes, w.cfg.PersonClass))

	if err := w.perf.Commit(); err != nil {
		w.logger.Warn("perf commit failed", "frame_id", frame.ID, "error", err)
	}
	w.metrics.RecordFrame(ctx, res.RanInfer, w.now().Sub(start))
	w.logger.Debug("frame processed", "frame_id", frame.ID, "ran_infer", res.RanInfer, "boxes", len(res.Boxes), "person", res.Person)
}

// preprocess decodes and converts every consumed frame. A frame that does
// not decode yields a nil image and tensor.
func (w *Worker) preprocess(frame Frame) (image.Image, *preprocess.Tensor) {
	img, err := preprocess.DecodeJPEG(frame.JPEG)
	if err != nil {
		w.logger.Warn("dropping undecodable frame", "frame_id", frame.ID, "error", err)
		return nil, nil
	}
	return img, w.converter.Convert(img)
}

// infer runs the engine and decoder. Any failure is "no boxes this frame".
func (w *Worker) infer(ctx context.Context, img image.Image, tensor *preprocess.Tensor) DetectionResult {
	detStart := w.now()
	w.perf.MarkAt(perf.StageDetectStart, detStart)

	boxes, err := w.detect(ctx, img, tensor)

	detEnd := w.now()
	w.perf.MarkAt(perf.StageDetectEnd, detEnd)
	elapsed := detEnd.Sub(detStart)
	w.counters.AddInference(elapsed)
	w.metrics.RecordInference(ctx, err != nil)
	w.metrics.RecordStage(ctx, "inference", elapsed)

	if err != nil {
		w.logger.Warn("inference failed, treating as no detections", "error", err)
		boxes = nil
	}

	person := detection.HasClass(boxes, w.cfg.PersonClass, w.cfg.PersonMinScore)
	w.lastBoxes = boxes
	w.lastPerson = person
	w.reused = 0

	return DetectionResult{
		Boxes:       boxes,
		Person:      person,
		RanInfer:    true,
		InferenceMs: float64(elapsed.Microseconds()) / 1000,
	}
}

func (w *Worker) detect(ctx context.Context, img image.Image, tensor *preprocess.Tensor) ([]detection.BoundingBox, error) {
	if img == nil || tensor == nil {
		return nil, errUndecodableFrame
	}
	outputs, err := w.engine.Infer(ctx, tensor)
	if err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	b := img.Bounds()
	scaleW, scaleH := w.decoder.ScaleFor(b.Dx(), b.Dy())
	boxes, err := w.decoder.Decode(outputs, scaleW, scaleH, w.cfg.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to decode outputs: %w", err)
	}
	return boxes, nil
}

// reuse carries the last classification forward unchanged, except that a
// stale person flag expires after StalePersonAfter reuses.
func (w *Worker) reuse() DetectionResult {
	w.reused++
	person := w.lastPerson
	if w.cfg.StalePersonAfter > 0 && w.reused >= w.cfg.StalePersonAfter {
		person = false
	}
	return DetectionResult{Boxes: w.lastBoxes, Person: person}
}
