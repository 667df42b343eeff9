package perf

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestCSVRecorderRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf_log.csv")
	clock := NewClock()

	rec, err := OpenCSV(path, clock)
	if err != nil {
		t.Fatalf("OpenCSV() error = %v", err)
	}

	base := time.Now()
	rec.Begin(3)
	rec.MarkAt(StageCamera, base)
	rec.MarkAt(StagePreprocess, base.Add(1*time.Millisecond))
	rec.MarkAt(StageDetectStart, base.Add(2*time.Millisecond))
	rec.MarkAt(StageDetectEnd, base.Add(30*time.Millisecond))
	rec.MarkAt(StageDecision, base.Add(31*time.Millisecond))
	rec.SetRanInfer(true)
	if err := rec.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// skipped inference: detect stamps stay zero
	rec.Begin(4)
	rec.MarkAt(StageCamera, base.Add(40*time.Millisecond))
	rec.MarkAt(StagePreprocess, base.Add(41*time.Millisecond))
	rec.MarkAt(StageDecision, base.Add(42*time.Millisecond))
	if err := rec.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// rows are flushed before Close
	rows := readRows(t, path)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for i, row := range rows {
		if len(row) != 8 {
			t.Fatalf("row %d has %d fields, want 8: %v", i, len(row), row)
		}
	}
	if rows[0][0] != "frame_id" || rows[0][7] != "ran_infer" {
		t.Errorf("header = %v", rows[0])
	}

	ran := rows[1]
	if ran[0] != "3" || ran[7] != "1" {
		t.Errorf("row 1 = %v", ran)
	}
	prev := 0.0
	for col := 1; col <= 5; col++ {
		v, err := strconv.ParseFloat(ran[col], 64)
		if err != nil {
			t.Fatalf("column %d: %v", col, err)
		}
		if v < prev {
			t.Errorf("column %d = %v decreased from %v", col, v, prev)
		}
		prev = v
	}
	if ran[6] != "0.000000" {
		t.Errorf("t_aud = %q, want zero for no alert", ran[6])
	}

	skipped := rows[2]
	if skipped[0] != "4" || skipped[7] != "0" {
		t.Errorf("row 2 = %v", skipped)
	}
	if skipped[3] != "0.000000" || skipped[4] != "0.000000" {
		t.Errorf("skipped detect stamps = %q,%q, want zero", skipped[3], skipped[4])
	}
}

func TestCSVRecorderHeaderOnlyWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.csv")

	for run := 0; run < 2; run++ {
		rec, err := OpenCSV(path, NewClock())
		if err != nil {
			t.Fatalf("OpenCSV() error = %v", err)
		}
		rec.Begin(uint64(run + 1))
		rec.Mark(StageCamera)
		if err := rec.Commit(); err != nil {
			t.Fatal(err)
		}
		if err := rec.Close(); err != nil {
			t.Fatal(err)
		}
	}

	rows := readRows(t, path)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2 appended rows", len(rows))
	}
	if rows[1][0] != "1" || rows[2][0] != "2" {
		t.Errorf("rows = %v", rows)
	}
}

func TestMarkOverwritesWithinRecord(t *testing.T) {
	clock := NewClock()
	r := &recorder{clock: clock, now: time.Now}

	first := time.Now()
	r.Begin(1)
	r.MarkAt(StagePreprocess, first)
	r.MarkAt(StagePreprocess, first.Add(time.Second))

	got := r.snapshot().Stamps[StagePreprocess]
	want := clock.Seconds(first.Add(time.Second))
	if got != want {
		t.Errorf("stamp = %v, want last mark %v", got, want)
	}

	r.Begin(2)
	if s := r.snapshot().Stamps[StagePreprocess]; s != 0 {
		t.Errorf("Begin did not reset stamps: %v", s)
	}
}

func TestNopSink(t *testing.T) {
	var s Sink = Nop{}
	s.Begin(1)
	s.Mark(StageCamera)
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}
}
