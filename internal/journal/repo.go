package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a journal entry.
type Kind string

// Entry kinds.
const (
	KindPrevented Kind = "prevented"
	KindCleanup   Kind = "cleanup"
)

// Entry is one row of the journal.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	SyncKey   string    `json:"sync_key,omitempty"`
	Path      string    `json:"path,omitempty"`
	Target    string    `json:"target,omitempty"`
	Deleted   int       `json:"deleted,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Failures  []string  `json:"failures,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Record inserts e, assigning an ID and timestamp when missing.
func (db *DB) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	detail := ""
	if len(e.Failures) > 0 {
		b, _ := json.Marshal(e.Failures)
		detail = string(b)
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO entries (id, kind, sync_key, path, target, deleted, failed, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Kind), e.SyncKey, e.Path, e.Target, e.Deleted, e.Failed, detail, e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: record: %w", err)
	}
	return e, nil
}

// RecordPrevented logs a creation of attempted that was redirected to existing.
func (db *DB) RecordPrevented(ctx context.Context, syncKey, attempted, existing string) error {
	_, err := db.Record(ctx, Entry{Kind: KindPrevented, SyncKey: syncKey, Path: attempted, Target: existing})
	return err
}

// RecordCleanup logs a bulk duplicate cleanup run.
func (db *DB) RecordCleanup(ctx context.Context, deleted int, failures []string) error {
	_, err := db.Record(ctx, Entry{Kind: KindCleanup, Deleted: deleted, Failed: len(failures), Failures: failures})
	return err
}

// List returns the newest entries first. An empty kind matches every kind.
func (db *DB) List(ctx context.Context, kind Kind, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, kind, sync_key, path, target, deleted, failed, detail, created_at FROM entries`
	args := []any{}
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var k, detail string
		if err := rows.Scan(&e.ID, &k, &e.SyncKey, &e.Path, &e.Target, &e.Deleted, &e.Failed, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = Kind(k)
		if detail != "" {
			_ = json.Unmarshal([]byte(detail), &e.Failures)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of entries of kind; an empty kind counts all.
func (db *DB) Count(ctx context.Context, kind Kind) (int, error) {
	var n int
	var err error
	if kind == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT count(*) FROM entries`).Scan(&n)
	} else {
		err = db.conn.QueryRowContext(ctx, `SELECT count(*) FROM entries WHERE kind = ?`, string(kind)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}
