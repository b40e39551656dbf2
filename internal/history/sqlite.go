package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db   *sql.DB
	mu   sync.Mutex
	keep int
}

// OpenSQLite opens (creating if needed) the journal at path. Use ":memory:"
// for an in-memory journal. When keep > 0 only the newest keep entries are
// retained.
func OpenSQLite(path string, keep int) (*SQLiteJournal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	j := &SQLiteJournal{db: db, keep: keep}
	if err := j.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command TEXT NOT NULL,
		outcome TEXT NOT NULL,
		image TEXT,
		run_id TEXT,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_operations_started_at ON operations(started_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends e and prunes old entries.
func (j *SQLiteJournal) Record(ctx context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var metadataJSON []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadataJSON, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO operations (command, outcome, image, run_id, duration_ms, error, started_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Command, e.Outcome, e.Image, e.RunID, e.Duration.Milliseconds(), e.Error, e.StartedAt.UnixMilli(), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	if j.keep > 0 {
		_, err = j.db.ExecContext(ctx,
			`DELETE FROM operations WHERE id NOT IN (SELECT id FROM operations ORDER BY id DESC LIMIT ?)`,
			j.keep,
		)
		if err != nil {
			return fmt.Errorf("prune operations: %w", err)
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, command, outcome, image, run_id, duration_ms, error, started_at, metadata
		 FROM operations ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e            Entry
			image, runID sql.NullString
			errText      sql.NullString
			durationMS   int64
			startedMS    int64
			metadataJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Command, &e.Outcome, &image, &runID, &durationMS, &errText, &startedMS, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		e.Image = image.String
		e.RunID = runID.String
		e.Error = errText.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.StartedAt = time.UnixMilli(startedMS)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
