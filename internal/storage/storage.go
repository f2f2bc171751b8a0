// Package storage provides SQLite-backed persistence for baselines, snapshots, and signals.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/sitwatch/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/sitwatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "sitwatch", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
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
		`CREATE TABLE IF NOT EXISTS baselines (
			metric_key      TEXT PRIMARY KEY,
			mean            REAL NOT NULL DEFAULT 0,
			m2              REAL NOT NULL DEFAULT 0,
			sample_count    INTEGER NOT NULL DEFAULT 0,
			last_updated    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			ts              INTEGER PRIMARY KEY,
			body            TEXT NOT NULL,
			saved_at        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL,
			kind            TEXT NOT NULL,
			confidence      REAL NOT NULL,
			body            TEXT NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_kind ON signals(kind)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ─── Baselines ───────────────────────────────────────────────────────────────

func (s *Storage) SaveBaseline(b *models.Baseline) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO baselines
			(metric_key, mean, m2, sample_count, last_updated)
		VALUES (?,?,?,?,?)`,
		string(b.Key), b.Mean, b.M2, b.SampleCount, b.LastUpdated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

// LoadBaseline returns nil, nil when no baseline exists for key.
func (s *Storage) LoadBaseline(key models.MetricKey) (*models.Baseline, error) {
	row := s.db.QueryRow(`SELECT `+baselineCols+` FROM baselines WHERE metric_key = ?`, string(key))
	b, err := scanBaseline(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}
	return b, nil
}

func (s *Storage) LoadAllBaselines() (map[models.MetricKey]*models.Baseline, error) {
	rows, err := s.db.Query(`SELECT ` + baselineCols + ` FROM baselines`)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	baselines := make(map[models.MetricKey]*models.Baseline)
	for rows.Next() {
		b, err := scanBaseline(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		baselines[b.Key] = b
	}
	return baselines, rows.Err()
}

const baselineCols = `metric_key, mean, m2, sample_count, last_updated`

func scanBaseline(scan func(...any) error) (*models.Baseline, error) {
	var b models.Baseline
	var key string
	var lastUpdatedNano int64
	if err := scan(&key, &b.Mean, &b.M2, &b.SampleCount, &lastUpdatedNano); err != nil {
		return nil, err
	}
	b.Key = models.MetricKey(key)
	b.LastUpdated = time.Unix(0, lastUpdatedNano)
	return &b, nil
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

// SaveSnapshot stores snap keyed by its timestamp in milliseconds; an existing
// snapshot with the same key is replaced.
func (s *Storage) SaveSnapshot(snap *models.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO snapshots (ts, body, saved_at) VALUES (?,?,?)`,
		snap.Timestamp.UnixMilli(), string(body), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *Storage) GetSnapshot(ts time.Time) (*models.Snapshot, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM snapshots WHERE ts = ?`, ts.UnixMilli()).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", ts.Format(time.RFC3339), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns snapshot timestamps in ascending order.
func (s *Storage) ListSnapshots() ([]time.Time, error) {
	rows, err := s.db.Query(`SELECT ts FROM snapshots ORDER BY ts ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	timestamps := []time.Time{}
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot timestamp: %w", err)
		}
		timestamps = append(timestamps, time.UnixMilli(ms).UTC())
	}
	return timestamps, rows.Err()
}

// DeleteSnapshotsBefore removes every snapshot older than cutoff.
func (s *Storage) DeleteSnapshotsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ─── Signals ─────────────────────────────────────────────────────────────────

// AppendSignals writes signals in order inside one transaction.
func (s *Storage) AppendSignals(signals []models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO signals (id, kind, confidence, body, created_at) VALUES (?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare signal insert: %w", err)
	}
	defer stmt.Close()

	for i := range signals {
		sig := &signals[i]
		body, err := json.Marshal(sig)
		if err != nil {
			return fmt.Errorf("failed to marshal signal %s: %w", sig.ID, err)
		}
		if _, err := stmt.Exec(sig.ID, string(sig.Kind), sig.Confidence, string(body), sig.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert signal: %w", err)
		}
	}
	return tx.Commit()
}

// ListSignals returns the most recent limit signals in append order.
// A non-positive limit returns the whole log.
func (s *Storage) ListSignals(limit int) ([]models.Signal, error) {
	query := `SELECT body FROM signals ORDER BY seq ASC`
	var args []any
	if limit > 0 {
		query = `SELECT body FROM (SELECT seq, body FROM signals ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	signals := []models.Signal{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		var sig models.Signal
		if err := json.Unmarshal([]byte(body), &sig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func (s *Storage) CountSignals() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM signals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return n, nil
}
