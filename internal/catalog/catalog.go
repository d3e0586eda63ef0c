// Package catalog keeps an SQLite index of the recordings the recorder wrote.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned when a session is added twice.
var ErrDuplicate = errors.New("catalog: recording already exists")

// Entry is one cataloged recording
type Entry struct {
	ID            int64         `json:"id"`
	SessionID     string        `json:"session_id"`
	StartedAt     time.Time     `json:"started_at"`
	Elapsed       time.Duration `json:"elapsed"`
	Samples       int           `json:"samples"`
	MeasuredRate  int           `json:"measured_rate"`
	EffectiveRate int           `json:"effective_rate"`
	OutputRate    int           `json:"output_rate"`
	RawPath       string        `json:"raw_path,omitempty"`
	EnhancedPath  string        `json:"enhanced_path"`
	Peak          int           `json:"peak"`
	RMS           float64       `json:"rms"`
	DominantHz    float64       `json:"dominant_hz"`
	Packets       uint64        `json:"packets"`
	Dropped       uint64        `json:"dropped"`
	Malformed     uint64        `json:"malformed"`
	Degraded      bool          `json:"degraded"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Catalog is an SQLite-backed recordings index
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog at path
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening catalog: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the database
func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func createTables(db *sql.DB) error {
	createRecordingsTable := `
    CREATE TABLE IF NOT EXISTS recordings (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL UNIQUE,
        started_at INTEGER NOT NULL,
        elapsed_ms INTEGER NOT NULL,
        samples INTEGER NOT NULL,
        measured_rate INTEGER NOT NULL,
        effective_rate INTEGER NOT NULL,
        output_rate INTEGER NOT NULL,
        raw_path TEXT,
        enhanced_path TEXT NOT NULL,
        peak INTEGER NOT NULL,
        rms REAL NOT NULL,
        dominant_hz REAL NOT NULL,
        packets INTEGER NOT NULL,
        dropped INTEGER NOT NULL,
        malformed INTEGER NOT NULL,
        degraded INTEGER NOT NULL,
        created_at INTEGER NOT NULL
    );
    `

	if _, err := db.Exec(createRecordingsTable); err != nil {
		return fmt.Errorf("error creating recordings table: %w", err)
	}
	return nil
}

// Add inserts e and returns its row id. CreatedAt is set when zero.
func (c *Catalog) Add(ctx context.Context, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	result, err := c.db.ExecContext(ctx, `
		INSERT INTO recordings (
			session_id, started_at, elapsed_ms, samples, measured_rate, effective_rate, output_rate,
			raw_path, enhanced_path, peak, rms, dominant_hz, packets, dropped, malformed, degraded, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.StartedAt.UnixMilli(), e.Elapsed.Milliseconds(), e.Samples, e.MeasuredRate, e.EffectiveRate, e.OutputRate,
		e.RawPath, e.EnhancedPath, e.Peak, e.RMS, e.DominantHz, int64(e.Packets), int64(e.Dropped), int64(e.Malformed), e.Degraded, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return 0, fmt.Errorf("%w: %s", ErrDuplicate, e.SessionID)
		}
		return 0, fmt.Errorf("error adding recording: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error getting recording ID: %w", err)
	}
	return id, nil
}

const selectColumns = `SELECT id, session_id, started_at, elapsed_ms, samples, measured_rate, effective_rate, output_rate,
	raw_path, enhanced_path, peak, rms, dominant_hz, packets, dropped, malformed, degraded, created_at FROM recordings`

// List returns the most recent recordings first. limit <= 0 returns all.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	query := selectColumns + " ORDER BY started_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying recordings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading recordings: %w", err)
	}
	return entries, nil
}

// Get looks a recording up by session id
func (c *Catalog) Get(ctx context.Context, sessionID string) (Entry, bool, error) {
	row := c.db.QueryRowContext(ctx, selectColumns+" WHERE session_id = ?", sessionID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                    Entry
		startedAt, createdAt int64
		elapsedMs            int64
		rawPath              sql.NullString
		packets, dropped     int64
		malformed            int64
	)
	err := s.Scan(&e.ID, &e.SessionID, &startedAt, &elapsedMs, &e.Samples, &e.MeasuredRate, &e.EffectiveRate, &e.OutputRate,
		&rawPath, &e.EnhancedPath, &e.Peak, &e.RMS, &e.DominantHz, &packets, &dropped, &malformed, &e.Degraded, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("error scanning recording: %w", err)
	}
	e.StartedAt = time.UnixMilli(startedAt)
	e.CreatedAt = time.UnixMilli(createdAt)
	e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	e.RawPath = rawPath.String
	e.Packets = uint64(packets)
	e.Dropped = uint64(dropped)
	e.Malformed = uint64(malformed)
	return e, nil
}
