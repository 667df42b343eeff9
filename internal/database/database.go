package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database is the SQLite alert journal.
type Database struct {
	db *sql.DB
}

// AlertRecord is one fired audio alert.
type AlertRecord struct {
	ID          string
	RunID       string
	FrameID     uint64
	FiredAt     time.Time
	Persons     int
	TopScore    float64
	Boxes       []BoxRecord
	InferenceMs float64
}

// BoxRecord is a person box stored with an alert.
type BoxRecord struct {
	X1    int     `json:"x1"`
	Y1    int     `json:"y1"`
	X2    int     `json:"x2"`
	Y2    int     `json:"y2"`
	Score float64 `json:"score"`
}

// RunRecord is one pipeline lifetime.
type RunRecord struct {
	ID         string
	Source     string
	Engine     string
	StartedAt  time.Time
	StoppedAt  *time.Time
	Frames     uint64
	Inferences uint64
	Alerts     uint64
}

// New opens (or creates) the journal at dbPath.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between the alert goroutine and API reads.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate creates the journal tables.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			engine TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME,
			frames INTEGER DEFAULT 0,
			inferences INTEGER DEFAULT 0,
			alerts INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			frame_id INTEGER NOT NULL,
			fired_at DATETIME NOT NULL,
			persons INTEGER NOT NULL,
			top_score REAL,
			boxes TEXT,
			inference_ms REAL,
			FOREIGN KEY (run_id) REFERENCES runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(fired_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// StartRun inserts a run row.
func (d *Database) StartRun(ctx context.Context, run *RunRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, engine, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, run.Engine, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (d *Database) FinishRun(ctx context.Context, id string, stoppedAt time.Time, frames, inferences, alerts uint64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE runs SET stopped_at = ?, frames = ?, inferences = ?, alerts = ? WHERE id = ?`,
		stoppedAt.UTC(), frames, inferences, alerts, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil, nil when absent.
func (d *Database) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var (
		run     RunRecord
		stopped sql.NullTime
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, source, engine, started_at, stopped_at, frames, inferences, alerts FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Source, &run.Engine, &run.StartedAt, &stopped, &run.Frames, &run.Inferences, &run.Alerts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if stopped.Valid {
		run.StoppedAt = &stopped.Time
	}
	return &run, nil
}

// RecordAlert saves a fired alert.
func (d *Database) RecordAlert(ctx context.Context, a *AlertRecord) error {
	boxes, err := json.Marshal(a.Boxes)
	if err != nil {
		return fmt.Errorf("failed to marshal boxes: %w", err)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO alerts (id, run_id, frame_id, fired_at, persons, top_score, boxes, inference_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.FrameID, a.FiredAt.UTC(), a.Persons, a.TopScore, string(boxes), a.InferenceMs)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// ListAlerts returns the newest alerts first, optionally only those fired
// at or after since.
func (d *Database) ListAlerts(ctx context.Context, since *time.Time, limit int) ([]*AlertRecord, error) {
	query := `SELECT id, run_id, frame_id, fired_at, persons, top_score, boxes, inference_ms FROM alerts`
	args := []any{}

	if since != nil {
		query += " WHERE fired_at >= ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY fired_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*AlertRecord{}
	for rows.Next() {
		var (
			a     AlertRecord
			boxes string
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.FrameID, &a.FiredAt, &a.Persons, &a.TopScore, &boxes, &a.InferenceMs); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if boxes != "" {
			if err := json.Unmarshal([]byte(boxes), &a.Boxes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal boxes: %w", err)
			}
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// CountAlerts returns the number of alerts recorded for a run.
func (d *Database) CountAlerts(ctx context.Context, runID string) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// DeleteOldAlerts removes alerts fired before the given time.
func (d *Database) DeleteOldAlerts(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM alerts WHERE fired_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old alerts: %w", err)
	}
	return result.RowsAffected()
}
