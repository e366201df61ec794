// Package storage provides the SQLite-backed journal of critical notifications.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/idswatch/internal/models"
)

// Storage wraps a SQLite database holding the cue journal.
type Storage struct {
	db         *sql.DB
	maxRecords int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/idswatch/journal.db.
func New(maxRecords int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "idswatch", "journal.db")
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
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxRecords: maxRecords}
	if err := s.createTables(); err != nil {
		_ = db.Close()
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
		`CREATE TABLE IF NOT EXISTS cue_journal (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			score       REAL,
			alert_time  TEXT,
			sent_at     INTEGER NOT NULL,
			sinks       TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cue_journal_sent_at ON cue_journal(sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cue_journal_source ON cue_journal(source, sent_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record journals a dispatched notification and trims the journal to the
// newest maxRecords rows. A missing ID is generated.
func (s *Storage) Record(rec *models.CueRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid cue record: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	sinksJSON, err := json.Marshal(rec.Sinks)
	if err != nil {
		return fmt.Errorf("failed to marshal sinks: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var score sql.NullFloat64
	if rec.Score != nil {
		score = sql.NullFloat64{Float64: *rec.Score, Valid: true}
	}
	_, err = tx.Exec(`
		INSERT INTO cue_journal (id, source, score, alert_time, sent_at, sinks)
		VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.Source, score, rec.AlertTime, rec.SentAt.UnixNano(), string(sinksJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cue record: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM cue_journal WHERE id NOT IN (
			SELECT id FROM cue_journal ORDER BY sent_at DESC LIMIT ?
		)`, s.maxRecords); err != nil {
		return fmt.Errorf("failed to enforce journal cap: %w", err)
	}

	return tx.Commit()
}

// LastSent returns when a notification for source was last dispatched.
func (s *Storage) LastSent(source string) (time.Time, bool, error) {
	var sentAtNano int64
	err := s.db.QueryRow(`
		SELECT sent_at FROM cue_journal WHERE source = ?
		ORDER BY sent_at DESC LIMIT 1`, source).Scan(&sentAtNano)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last sent: %w", err)
	}
	return time.Unix(0, sentAtNano), true, nil
}

// Recent returns up to k records, newest first.
func (s *Storage) Recent(k int) ([]models.CueRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, source, score, alert_time, sent_at, sinks
		FROM cue_journal ORDER BY sent_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query cue journal: %w", err)
	}
	defer rows.Close()

	records := []models.CueRecord{}
	for rows.Next() {
		var rec models.CueRecord
		var score sql.NullFloat64
		var alertTime sql.NullString
		var sentAtNano int64
		var sinksJSON string

		if err := rows.Scan(&rec.ID, &rec.Source, &score, &alertTime, &sentAtNano, &sinksJSON); err != nil {
			return nil, fmt.Errorf("failed to scan cue record: %w", err)
		}
		if score.Valid {
			v := score.Float64
			rec.Score = &v
		}
		rec.AlertTime = alertTime.String
		rec.SentAt = time.Unix(0, sentAtNano)
		if err := json.Unmarshal([]byte(sinksJSON), &rec.Sinks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sinks: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of journaled records.
func (s *Storage) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cue_journal`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cue records: %w", err)
	}
	return n, nil
}

func (s *Storage) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM cue_journal`); err != nil {
		return fmt.Errorf("failed to clear cue journal: %w", err)
	}
	return nil
}
