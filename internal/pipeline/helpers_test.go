package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/alert"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/database"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/perf"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/preprocess"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// everyN mirrors the frame-count cadence without importing strategies.
type everyN uint64

func (n everyN) Name() string                      { return "every_n" }
func (n everyN) ShouldDetect(consumed uint64) bool { return consumed%uint64(n) == 0 }
func (everyN) OnDetectionComplete()                {}
func (everyN) Reset()                              {}

// tinyDecoder: 4x4 input, one 2x2 output, one anchor, two classes.
func tinyDecoder(t *testing.T) *detection.Decoder {
	t.Helper()
	d, err := detection.NewDecoder(detection.DecoderConfig{
		InputWidth:  4,
		InputHeight: 4,
		NumOutput:   1,
		NumAnchor:   1,
		NumCategory: 2,
		Anchors:     []float32{2, 2},
		NMSThresh:   0.25,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// personTensor decodes to one category-0 box with score 0.72 at
// [2,0,4,2] in input space.
func personTensor() []detection.RawTensor {
	raw := detection.RawTensor{Height: 2, Width: 2, Channels: 7, Data: make([]float32, 2*2*7)}
	cell := raw.Data[(0*2+1)*7:]
	cell[0], cell[1], cell[2], cell[3] = 0.5, 0.5, 0.5, 0.5
	cell[4] = 0.8
	cell[5], cell[6] = 0.9, 0.1
	return []detection.RawTensor{raw}
}

func emptyTensor() []detection.RawTensor {
	return []detection.RawTensor{{Height: 2, Width: 2, Channels: 7, Data: make([]float32, 2*2*7)}}
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	outputs func(call int) ([]detection.RawTensor, error)
}

func (e *fakeEngine) Infer(context.Context, *preprocess.Tensor) ([]detection.RawTensor, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	return e.outputs(call)
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func alwaysPerson(int) ([]detection.RawTensor, error) { return personTensor(), nil }

// testJPEG is an 8x8 frame, so decoded boxes scale by 2.
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 120, B: 150, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// memPerf keeps committed rows in memory.
type memPerf struct {
	mu    sync.Mutex
	epoch time.Time
	cur   perf.Record
	rows  []perf.Record
}

func newMemPerf() *memPerf { return &memPerf{epoch: time.Now().Add(-time.Second)} }

func (m *memPerf) Begin(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = perf.Record{FrameID: id}
}

func (m *memPerf) Mark(s perf.Stage) { m.MarkAt(s, time.Now()) }

func (m *memPerf) MarkAt(s perf.Stage, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur.Stamps[s] = at.Sub(m.epoch).Seconds()
}

func (m *memPerf) SetRanInfer(ran bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur.RanInfer = ran
}

func (m *memPerf) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, m.cur)
	return nil
}

func (m *memPerf) Close() error { return nil }

type memEvents struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (m *memEvents) Publish(ev telemetry.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

type memJournal struct {
	mu      sync.Mutex
	records []*database.AlertRecord
}

func (m *memJournal) RecordAlert(_ context.Context, a *database.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, a)
	return nil
}

func (m *memJournal) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memNotifier struct {
	memJournal
}

func (m *memNotifier) NotifyAlert(ctx context.Context, a *database.AlertRecord) {
	_ = m.RecordAlert(ctx, a)
}

// scriptedReader emits frames then waits for cancellation, or fails with err.
type scriptedReader struct {
	frames [][]byte
	gap    time.Duration
	err    error
}

func (r *scriptedReader) Read(ctx context.Context, emit func([]byte)) error {
	if r.err != nil {
		return r.err
	}
	for _, f := range r.frames {
		emit(f)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.gap):
		}
	}
	<-ctx.Done()
	return nil
}

var errEngineDown = errors.New("engine down")

type testRig struct {
	p      *Pipeline
	engine *fakeEngine
	perf   *memPerf
	events *memEvents
}

func newRig(t *testing.T, reader *scriptedReader, n int, outputs func(int) ([]detection.RawTensor, error), wcfg WorkerConfig, throttle *alert.Throttle) *testRig {
	t.Helper()
	if throttle == nil {
		throttle = alert.NewThrottle(time.Hour, nil)
	}
	eng := &fakeEngine{outputs: outputs}
	pf := newMemPerf()
	ev := &memEvents{}
	p, err := New(Options{
		Reader:    reader,
		Engine:    eng,
		Decoder:   tinyDecoder(t),
		Converter: preprocess.NewConverter(4, 4),
		Strategy:  everyN(n),
		Throttle:  throttle,
		Perf:      pf,
		Events:    ev,
		Logger:    discardLogger(),
		Worker:    wcfg,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testRig{p: p, engine: eng, perf: pf, events: ev}
}

var defaultWorkerConfig = WorkerConfig{ScoreThreshold: 0.3, PersonClass: 0, PersonMinScore: 0.5}

// feed pushes frames 1..n through the worker synchronously and returns the
// published results.
func (r *testRig) feed(t *testing.T, jpegs ...[]byte) []DetectionResult {
	t.Helper()
	var out []DetectionResult
	for i, j := range jpegs {
		id := uint64(i + 1)
		r.p.worker.process(context.Background(), Frame{ID: id, JPEG: j, CapturedAt: time.Now()})
		res, got, ok := r.p.results.TrySnapshot()
		if !ok || got != id {
			t.Fatalf("frame %d: result mailbox holds id %d (ok=%v)", id, got, ok)
		}
		out = append(out, res)
	}
	return out
}

func repeat(b []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
