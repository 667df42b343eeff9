package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/alert"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/perf"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/preprocess"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func runAsync(p *Pipeline, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return done
}

func TestRunFiresOneAlertAndStops(t *testing.T) {
	var fired atomic.Int32
	throttle := alert.NewThrottle(time.Hour, func() { fired.Add(1) })
	reader := &scriptedReader{frames: repeat(testJPEG(t), 6), gap: 5 * time.Millisecond}
	journal := &memJournal{}
	notifier := &memNotifier{}

	eng := &fakeEngine{outputs: alwaysPerson}
	p, err := New(Options{
		Reader:    reader,
		Engine:    eng,
		Decoder:   tinyDecoder(t),
		Converter: preprocess.NewConverter(4, 4),
		Strategy:  everyN(1),
		Throttle:  throttle,
		Journal:   journal,
		Notifiers: []AlertNotifier{notifier},
		Logger:    discardLogger(),
		Worker:    defaultWorkerConfig,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(p, ctx)

	waitFor(t, "alert", func() bool { return p.Stats().Alerts == 1 })
	waitFor(t, "all frames captured", func() bool { return p.Stats().FramesCaptured == 6 })
	if !p.Running() {
		t.Error("Running() = false during run")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if p.Running() {
		t.Error("Running() = true after Run returned")
	}
	if n := p.Stats().Alerts; n != 1 {
		t.Errorf("alerts = %d, want 1 inside the cooldown", n)
	}
	waitFor(t, "alert action", func() bool { return fired.Load() == 1 })
	if journal.count() != 1 {
		t.Fatalf("journal has %d alerts, want 1", journal.count())
	}
	rec := journal.records[0]
	if rec.RunID != p.RunID() || rec.Persons != 1 || len(rec.Boxes) != 1 {
		t.Errorf("journal record = %+v", rec)
	}
	if notifier.count() != 1 || notifier.records[0] != rec {
		t.Errorf("notifier got %d alerts, want the journaled record", notifier.count())
	}
	if last := p.Stats().Last; last == nil || !last.Person {
		t.Errorf("last result = %+v", last)
	}
}

func TestRunReturnsCaptureFailure(t *testing.T) {
	boom := errors.New("device busy")
	rig := newRig(t, &scriptedReader{err: boom}, 3, alwaysPerson, defaultWorkerConfig, nil)

	select {
	case err := <-runAsync(rig.p, context.Background()):
		if !errors.Is(err, boom) {
			t.Fatalf("Run() = %v, want %v", err, boom)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stages did not unwind after capture failure")
	}
}

func TestRunStopsWithWorkerBlockedOnEmptyMailbox(t *testing.T) {
	rig := newRig(t, &scriptedReader{}, 3, alwaysPerson, defaultWorkerConfig, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(rig.p, ctx)

	waitFor(t, "pipeline start", rig.p.Running)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run blocked after cancel with no frames")
	}
	if err := rig.p.Healthy(context.Background()); err == nil {
		t.Error("Healthy() passed on a stopped pipeline")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New(Options{}) succeeded")
	}
}

func TestAlertRecordCountsPersonsOnly(t *testing.T) {
	a := &AlertStage{runID: "r", personClass: 0, personMin: 0.5}
	rec := a.record(DetectionResult{
		FrameID: 7,
		Boxes: []detection.BoundingBox{
			{X1: 0, Y1: 0, X2: 10, Y2: 10, Category: 0, Score: 0.9},
			{X1: 5, Y1: 5, X2: 20, Y2: 20, Category: 0, Score: 0.4},
			{X1: 1, Y1: 1, X2: 3, Y2: 3, Category: 2, Score: 0.95},
		},
	})
	if rec.Persons != 1 || len(rec.Boxes) != 1 {
		t.Errorf("record = %+v", rec)
	}
	if rec.TopScore < 0.89 || rec.TopScore > 0.91 {
		t.Errorf("top score = %v", rec.TopScore)
	}
	if rec.ID == "" || rec.RunID != "r" || rec.FrameID != 7 {
		t.Errorf("record identity = %+v", rec)
	}
}

type resetCounter struct {
	everyN
	resets atomic.Int32
}

func (r *resetCounter) Reset() { r.resets.Add(1) }

func TestRunResetsStrategy(t *testing.T) {
	rig := newRig(t, &scriptedReader{}, 1, alwaysPerson, defaultWorkerConfig, nil)
	strategy := &resetCounter{everyN: 1}
	rig.p.worker.strategy = strategy

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(rig.p, ctx)
	waitFor(t, "strategy reset", func() bool { return strategy.resets.Load() == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
}

func TestAudioStampRecordsPersonDecisionNotPlayback(t *testing.T) {
	var fired atomic.Int32
	throttle := alert.NewThrottle(time.Hour, func() { fired.Add(1) })
	reader := &scriptedReader{frames: repeat(testJPEG(t), 4), gap: 20 * time.Millisecond}
	rig := newRig(t, reader, 1, alwaysPerson, defaultWorkerConfig, throttle)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(rig.p, ctx)
	waitFor(t, "frames captured", func() bool { return rig.p.Stats().FramesCaptured == 4 })
	waitFor(t, "alert", func() bool { return rig.p.Stats().Alerts == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if n := rig.p.Stats().Alerts; n != 1 {
		t.Fatalf("alerts = %d, want 1 inside the cooldown", n)
	}
	// the worker may skip an overwritten frame; every consumed one has a row
	if n := len(rig.perf.rows); n < 2 || uint64(n) != rig.p.Stats().FramesProcessed {
		t.Fatalf("rows = %d, processed = %d", n, rig.p.Stats().FramesProcessed)
	}
	for i, row := range rig.perf.rows {
		if row.Stamps[perf.StageAudio] == 0 {
			t.Errorf("row %d: person frame without t_aud", i)
		}
	}
}
