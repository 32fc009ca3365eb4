package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteJournal implements Journal using an embedded SQLite database.
type SQLiteJournal struct {
	db        *sql.DB
	mu        sync.Mutex // serializes writes (SQLite is single-writer)
	retention time.Duration
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewSQLiteJournal opens or creates dataDir/journal.db and runs schema
// migrations. With a positive retention, records older than that are pruned
// in the background.
func NewSQLiteJournal(dataDir string, retention time.Duration) (*SQLiteJournal, error) {
	dbPath := filepath.Join(dataDir, "journal.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Single connection for writes to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	j := &SQLiteJournal{
		db:        db,
		retention: retention,
		closeCh:   make(chan struct{}),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite: %w", err)
	}

	if retention > 0 {
		go j.cleanupLoop()
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS frames (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			session   TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL,
			name      TEXT NOT NULL,
			body      TEXT NOT NULL DEFAULT '',
			at        DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_at ON frames(at)`,
	}
	for _, m := range migrations {
		if _, err := j.db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	// Close frames were added after the first schema.
	j.addColumnIfNotExists("frames", "reason", "TEXT NOT NULL DEFAULT ''")
	return nil
}

// addColumnIfNotExists adds a column, ignoring SQLite's "duplicate column
// name" error for databases that already have it.
func (j *SQLiteJournal) addColumnIfNotExists(table, column, colType string) {
	_, err := j.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, colType))
	if err != nil && !strings.Contains(err.Error(), "duplicate column") {
		slog.Warn("journal migration", "table", table, "column", column, "err", err)
	}
}

func (j *SQLiteJournal) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-j.closeCh:
			return
		case <-ticker.C:
			if n, err := j.Prune(context.Background(), time.Now().Add(-j.retention)); err != nil {
				slog.Warn("journal prune failed", "err", err)
			} else if n > 0 {
				slog.Debug("journal pruned", "records", n)
			}
		}
	}
}

func (j *SQLiteJournal) Append(ctx context.Context, r Record) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx,
		`INSERT INTO frames (session, direction, name, body, reason, at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Session, r.Direction, r.Name, r.Body, r.Reason, r.At.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("appending frame: %w", err)
	}
	return res.LastInsertId()
}

func (j *SQLiteJournal) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session, direction, name, body, reason, at FROM (
			SELECT * FROM frames ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("listing frames: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Session, &r.Direction, &r.Name, &r.Body, &r.Reason, &r.At); err != nil {
			return nil, fmt.Errorf("scanning frame: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx, `DELETE FROM frames WHERE at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning frames: %w", err)
	}
	return res.RowsAffected()
}

func (j *SQLiteJournal) Close() error {
	j.closeOnce.Do(func() { close(j.closeCh) })
	return j.db.Close()
}
