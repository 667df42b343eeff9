package perf

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// CSVRecorder appends one row per committed frame and flushes after every row.
type CSVRecorder struct {
	recorder

	wmu  sync.Mutex
	file *os.File
	w    *csv.Writer
}

// OpenCSV opens path for appending, writing the header only when the file is
// empty.
func OpenCSV(path string, clock Clock) (*CSVRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open perf log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat perf log: %w", err)
	}

	r := &CSVRecorder{
		recorder: recorder{clock: clock, now: time.Now},
		file:     f,
		w:        csv.NewWriter(f),
	}
	if info.Size() == 0 {
		if err := r.writeRow(Header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

// Commit appends the current record.
func (r *CSVRecorder) Commit() error {
	return r.writeRow(formatRecord(r.snapshot()))
}

// Close flushes and closes the file.
func (r *CSVRecorder) Close() error {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to flush perf log: %w", err)
	}
	return r.file.Close()
}

func (r *CSVRecorder) writeRow(row []string) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("failed to write perf row: %w", err)
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("failed to flush perf row: %w", err)
	}
	return nil
}

func formatRecord(rec Record) []string {
	row := make([]string, 0, len(Header))
	row = append(row, strconv.FormatUint(rec.FrameID, 10))
	for _, s := range rec.Stamps {
		row = append(row, strconv.FormatFloat(s, 'f', 6, 64))
	}
	ran := "0"
	if rec.RanInfer {
		ran = "1"
	}
	return append(row, ran)
}
