// Package observe holds the OpenTelemetry instruments for the detection
// pipeline and the Prometheus bridge that exposes them on /metrics.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts"

// Metrics holds the pipeline instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	FramesCaptured  metric.Int64Counter
	FramesProcessed metric.Int64Counter
	Inferences      metric.Int64Counter
	InferenceErrors metric.Int64Counter
	Alerts          metric.Int64Counter

	// Attribute "stage": preprocess, inference, frame.
	StageDuration metric.Float64Histogram

	LoopFPS      metric.Float64Gauge
	DetectionFPS metric.Float64Gauge
	CaptureFPS   metric.Float64Gauge
	MailboxDrops metric.Int64Gauge
}

var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("persondetect.frames.captured",
		metric.WithDescription("Frames produced by the capture source."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("persondetect.frames.processed",
		metric.WithDescription("Frames consumed by the detection worker, by ran_infer."),
	); err != nil {
		return nil, err
	}
	if met.Inferences, err = m.Int64Counter("persondetect.inferences",
		metric.WithDescription("Inference engine invocations."),
	); err != nil {
		return nil, err
	}
	if met.InferenceErrors, err = m.Int64Counter("persondetect.inference.errors",
		metric.WithDescription("Frames whose inference or decode failed."),
	); err != nil {
		return nil, err
	}
	if met.Alerts, err = m.Int64Counter("persondetect.alerts",
		metric.WithDescription("Audio alerts fired after throttling."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("persondetect.stage.duration",
		metric.WithDescription("Per-frame stage latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LoopFPS, err = m.Float64Gauge("persondetect.loop.fps",
		metric.WithDescription("Processed frames per second over the last summary window."),
	); err != nil {
		return nil, err
	}
	if met.DetectionFPS, err = m.Float64Gauge("persondetect.detection.fps",
		metric.WithDescription("Inferences per second over the last summary window."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFPS, err = m.Float64Gauge("persondetect.capture.fps",
		metric.WithDescription("Captured frames per second over the last summary window."),
	); err != nil {
		return nil, err
	}
	if met.MailboxDrops, err = m.Int64Gauge("persondetect.mailbox.drops",
		metric.WithDescription("Frames overwritten before the worker consumed them."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) RecordCapture(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesCaptured.Add(ctx, 1)
}

// RecordFrame records one processed frame.
func (m *Metrics) RecordFrame(ctx context.Context, ranInfer bool, total time.Duration) {
	if m == nil {
		return
	}
	m.FramesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ran_infer", ranInfer)))
	m.StageDuration.Record(ctx, total.Seconds(), metric.WithAttributes(attribute.String("stage", "frame")))
}

func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordInference counts one engine call and whether it failed.
func (m *Metrics) RecordInference(ctx context.Context, failed bool) {
	if m == nil {
		return
	}
	m.Inferences.Add(ctx, 1)
	if failed {
		m.InferenceErrors.Add(ctx, 1)
	}
}

func (m *Metrics) RecordAlert(ctx context.Context) {
	if m == nil {
		return
	}
	m.Alerts.Add(ctx, 1)
}

// RecordRates publishes the windowed rates from a summary.
func (m *Metrics) RecordRates(ctx context.Context, captureFPS, loopFPS, detFPS float64, drops uint64) {
	if m == nil {
		return
	}
	m.CaptureFPS.Record(ctx, captureFPS)
	m.LoopFPS.Record(ctx, loopFPS)
	m.DetectionFPS.Record(ctx, detFPS)
	m.MailboxDrops.Record(ctx, int64(drops))
}
