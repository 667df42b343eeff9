package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestCountersAccumulate(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInference(ctx, false)
	m.RecordInference(ctx, true)
	m.RecordAlert(ctx)

	got := findMetric(t, reader, "persondetect.inferences")
	if got == nil {
		t.Fatal("inferences metric not found")
	}
	sum, ok := got.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("inferences data = %T", got.Data)
	}
	if v := sum.DataPoints[0].Value; v != 2 {
		t.Errorf("inferences = %d, want 2", v)
	}

	errs := findMetric(t, reader, "persondetect.inference.errors")
	if errs == nil || errs.Data.(metricdata.Sum[int64]).DataPoints[0].Value != 1 {
		t.Error("inference errors not recorded once")
	}
}

func TestStageHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordStage(context.Background(), "inference", 30*time.Millisecond)

	got := findMetric(t, reader, "persondetect.stage.duration")
	if got == nil {
		t.Fatal("stage duration metric not found")
	}
	hist := got.Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("histogram count = %d, want 1", hist.DataPoints[0].Count)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAlert(context.Background())
	m.RecordFrame(context.Background(), true, time.Millisecond)
	m.RecordRates(context.Background(), 1, 2, 3, 4)
}

func TestProviderHandler(t *testing.T) {
	p, err := InitProvider()
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.MeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	m.RecordAlert(context.Background())

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "persondetect_alerts") {
		t.Errorf("exposition missing alerts counter:\n%s", body)
	}
}
