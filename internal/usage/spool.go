package usage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/strataops/strata/internal/model"
)

// Spool is a local sqlite queue of ledger rows that failed to reach
// Postgres. Rows are stored as JSON; ordering is insertion order.
type Spool struct {
	db *sql.DB
}

// OpenSpool opens (or creates) the spool database at path. ":memory:"
// works for tests.
func OpenSpool(path string) (*Spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open spool: %w", err)
	}
	// One writer at a time keeps sqlite happy under concurrent Record calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL,
			queued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: create spool table: %w", err)
	}

	return &Spool{db: db}, nil
}

// Enqueue appends one entry to the spool.
func (s *Spool) Enqueue(e model.UsageEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("usage: marshal spooled entry: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO pending_entries (payload) VALUES (?)`, string(payload)); err != nil {
		return fmt.Errorf("usage: enqueue: %w", err)
	}
	return nil
}

// Dequeue returns up to limit oldest entries with their spool IDs. Entries
// stay in the spool until Delete confirms replay.
func (s *Spool) Dequeue(limit int) ([]model.UsageEntry, []int64, error) {
	rows, err := s.db.Query(
		`SELECT id, payload FROM pending_entries ORDER BY id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("usage: dequeue: %w", err)
	}
	defer rows.Close()

	var entries []model.UsageEntry
	var ids []int64
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, nil, fmt.Errorf("usage: scan spooled entry: %w", err)
		}
		var e model.UsageEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, nil, fmt.Errorf("usage: unmarshal spooled entry %d: %w", id, err)
		}
		entries = append(entries, e)
		ids = append(ids, id)
	}
	return entries, ids, rows.Err()
}

// Delete removes one replayed entry.
func (s *Spool) Delete(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM pending_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("usage: delete spooled entry %d: %w", id, err)
	}
	return nil
}

// Len returns the number of pending entries.
func (s *Spool) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("usage: count spool: %w", err)
	}
	return n, nil
}

// Close closes the spool database.
func (s *Spool) Close() error {
	return s.db.Close()
}
