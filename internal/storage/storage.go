// Package storage provides SQLite-backed persistence for segment reports,
// detector checkpoints, and emitted detections.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/chodetect/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db            *sql.DB
	maxReports    int
	maxDetections int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/chodetect/data.db.
func New(maxReports, maxDetections int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "chodetect", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxReports: maxReports, maxDetections: maxDetections}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS segment_reports (
			id              TEXT PRIMARY KEY,
			run_id          TEXT NOT NULL,
			segment         INTEGER NOT NULL,
			stopped_at      REAL NOT NULL,
			count           INTEGER NOT NULL,
			tp_detected     INTEGER NOT NULL,
			tp_confirmed    INTEGER NOT NULL,
			fn              INTEGER NOT NULL,
			fp_detected     INTEGER NOT NULL,
			fp_confirmed    INTEGER NOT NULL,
			delay           REAL NOT NULL,
			confirm_delay   REAL NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS segment_state (
			segment_id      INTEGER PRIMARY KEY,
			initialized     INTEGER NOT NULL DEFAULT 0,
			prev_value      REAL NOT NULL DEFAULT 0,
			prev_time       REAL NOT NULL DEFAULT 0,
			activation      TEXT NOT NULL DEFAULT '[]',
			descending      TEXT NOT NULL DEFAULT '[]',
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			segment         INTEGER NOT NULL,
			time            REAL NOT NULL,
			signal          TEXT NOT NULL,
			level           REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created_at ON segment_reports(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_run ON segment_reports(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_segment ON detections(segment, time)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport stores a segment report under runID, assigning a new ID when the
// report has none, and drops the oldest reports beyond the cap.
func (s *Storage) SaveReport(runID string, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	st := report.Stats
	_, err = tx.Exec(`
		INSERT INTO segment_reports
			(id, run_id, segment, stopped_at, count, tp_detected, tp_confirmed, fn,
			 fp_detected, fp_confirmed, delay, confirm_delay, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		report.ID, runID, int64(report.Segment), report.StoppedAt,
		st.Count, st.TruePositiveDetected, st.TruePositiveConfirmed, st.FalseNegative,
		st.FalsePositiveDetected, st.FalsePositiveConfirmed,
		st.CumulativeDelay, st.CumulativeConfirmDelay,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	if err := rotateReports(tx, s.maxReports); err != nil {
		return err
	}
	return tx.Commit()
}

// GetReports returns the reports of runID, or of every run when runID is
// empty, oldest first.
func (s *Storage) GetReports(runID string) ([]models.Report, error) {
	rows, err := s.db.Query(`
		SELECT id, segment, stopped_at, count, tp_detected, tp_confirmed, fn,
		       fp_detected, fp_confirmed, delay, confirm_delay
		FROM segment_reports
		WHERE ? = '' OR run_id = ?
		ORDER BY created_at, rowid`, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []models.Report{}
	for rows.Next() {
		var id string
		var segment int64
		var stoppedAt float64
		var st models.StatisticsData
		err := rows.Scan(
			&id, &segment, &stoppedAt,
			&st.Count, &st.TruePositiveDetected, &st.TruePositiveConfirmed, &st.FalseNegative,
			&st.FalsePositiveDetected, &st.FalsePositiveConfirmed,
			&st.CumulativeDelay, &st.CumulativeConfirmDelay,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		r := models.NewReport(models.SegmentID(segment), stoppedAt, st)
		r.ID = id
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// RotateReports keeps at most maxReports newest reports and maxDetections
// newest detections.
func (s *Storage) RotateReports() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := rotateReports(tx, s.maxReports); err != nil {
		return err
	}
	if err := rotateDetections(tx, s.maxDetections); err != nil {
		return err
	}
	return tx.Commit()
}

func rotateReports(tx *sql.Tx, limit int) error {
	_, err := tx.Exec(`
		DELETE FROM segment_reports WHERE id NOT IN (
			SELECT id FROM segment_reports ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, limit)
	if err != nil {
		return fmt.Errorf("failed to rotate reports: %w", err)
	}
	return nil
}

func rotateDetections(tx *sql.Tx, limit int) error {
	_, err := tx.Exec(`
		DELETE FROM detections WHERE id NOT IN (
			SELECT id FROM detections ORDER BY id DESC LIMIT ?
		)`, limit)
	if err != nil {
		return fmt.Errorf("failed to rotate detections: %w", err)
	}
	return nil
}

// SaveState replaces the stored checkpoint with snaps.
func (s *Storage) SaveState(snaps []models.SegmentSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM segment_state`); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}

	now := time.Now().UnixNano()
	for _, snap := range snaps {
		activationJSON, err := json.Marshal(nonNil(snap.Activation))
		if err != nil {
			return fmt.Errorf("failed to marshal activation history: %w", err)
		}
		descendingJSON, err := json.Marshal(nonNil(snap.Descending))
		if err != nil {
			return fmt.Errorf("failed to marshal descending history: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO segment_state
				(segment_id, initialized, prev_value, prev_time, activation, descending, updated_at)
			VALUES (?,?,?,?,?,?,?)`,
			int64(snap.SegmentID), boolToInt(snap.Initialized), snap.PrevValue, snap.PrevTime,
			string(activationJSON), string(descendingJSON), now,
		)
		if err != nil {
			return fmt.Errorf("failed to save state of segment %d: %w", snap.SegmentID, err)
		}
	}
	return tx.Commit()
}

// LoadAllStates returns the stored checkpoint ordered by segment.
func (s *Storage) LoadAllStates() ([]models.SegmentSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT segment_id, initialized, prev_value, prev_time, activation, descending
		FROM segment_state ORDER BY segment_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	snaps := []models.SegmentSnapshot{}
	for rows.Next() {
		var snap models.SegmentSnapshot
		var segment int64
		var initialized int
		var activationJSON, descendingJSON string

		err := rows.Scan(&segment, &initialized, &snap.PrevValue, &snap.PrevTime, &activationJSON, &descendingJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		if err := json.Unmarshal([]byte(activationJSON), &snap.Activation); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activation history: %w", err)
		}
		if err := json.Unmarshal([]byte(descendingJSON), &snap.Descending); err != nil {
			return nil, fmt.Errorf("failed to unmarshal descending history: %w", err)
		}
		snap.SegmentID = models.SegmentID(segment)
		snap.Initialized = initialized != 0
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// DeleteState removes the checkpoint of one segment.
func (s *Storage) DeleteState(segment models.SegmentID) error {
	if _, err := s.db.Exec(`DELETE FROM segment_state WHERE segment_id = ?`, int64(segment)); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// RecordDetection appends a detection level event to the log.
func (s *Storage) RecordDetection(ev models.Event) error {
	_, err := s.db.Exec(`INSERT INTO detections (segment, time, signal, level) VALUES (?,?,?,?)`,
		int64(ev.Segment), ev.Time, string(ev.Signal), ev.Level)
	if err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}
	return nil
}

// GetDetections returns the logged detections of a segment in time order.
func (s *Storage) GetDetections(segment models.SegmentID) ([]models.Event, error) {
	rows, err := s.db.Query(`
		SELECT segment, time, signal, level FROM detections
		WHERE segment = ? ORDER BY time, id`, int64(segment))
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var seg int64
		var signal string
		ev := models.Event{Kind: models.KindLevel}
		if err := rows.Scan(&seg, &ev.Time, &signal, &ev.Level); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		ev.Segment = models.SegmentID(seg)
		ev.Signal = models.SignalID(signal)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nonNil(values []float64) []float64 {
	if values == nil {
		return []float64{}
	}
	return values
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
