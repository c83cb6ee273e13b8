package dispatch

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Decision records, for one dispatched event, which handlers were
// evaluated, which matched, and the final permit watermark: a
// Decision/auditLog/Explain pattern retargeted from "which model was
// routed to" to "which handler ran" (SPEC_FULL §3.5).
type Decision struct {
	EventID           string    `json:"event_id"`
	Timestamp         time.Time `json:"timestamp"`
	Channel           string    `json:"channel"`
	HandlersEvaluated []string  `json:"handlers_evaluated"`
	HandlersMatched   []string  `json:"handlers_matched"`
	FinalPermit       int       `json:"final_permit"`
}

// AuditLog is a fixed-capacity ring buffer of recent dispatch decisions,
// optionally mirrored to a sqlite file for post-mortem debugging — a
// diagnostics log, not persisted conversation state (SPEC_FULL §4).
type AuditLog struct {
	mu       sync.RWMutex
	capacity int
	entries  []Decision
	db       *sql.DB
}

// NewAuditLog builds an in-memory-only audit log with the given ring
// buffer capacity.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = 512
	}
	return &AuditLog{capacity: capacity}
}

// OpenSQLiteMirror opens (creating if absent) a sqlite database at path
// for the dispatch-decision mirror, using the pure-Go modernc.org/sqlite
// driver.
func OpenSQLiteMirror(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dispatch: open sqlite audit mirror: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS dispatch_decisions (
		event_id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		channel TEXT NOT NULL,
		handlers_evaluated TEXT NOT NULL,
		handlers_matched TEXT NOT NULL,
		final_permit INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("dispatch: create audit schema: %w", err)
	}
	return db, nil
}

// WithSQLite attaches a sqlite mirror opened via OpenSQLiteMirror. Every
// subsequent Record also inserts a row. Returns a for chaining.
func (a *AuditLog) WithSQLite(db *sql.DB) *AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.db = db
	return a
}

// Record appends a decision, trimming the oldest entry once capacity is
// reached, and mirrors it to sqlite if configured.
func (a *AuditLog) Record(d Decision) {
	a.mu.Lock()
	if len(a.entries) >= a.capacity {
		a.entries = a.entries[1:]
	}
	a.entries = append(a.entries, d)
	db := a.db
	a.mu.Unlock()

	if db != nil {
		evaluated, _ := json.Marshal(d.HandlersEvaluated)
		matched, _ := json.Marshal(d.HandlersMatched)
		_, _ = db.Exec(
			`INSERT OR REPLACE INTO dispatch_decisions
			 (event_id, ts, channel, handlers_evaluated, handlers_matched, final_permit)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			d.EventID, d.Timestamp.Unix(), d.Channel, string(evaluated), string(matched), d.FinalPermit,
		)
	}
}

// Recent returns up to limit of the most recent decisions (all of them
// if limit<=0 or exceeds the buffer size).
func (a *AuditLog) Recent(limit int) []Decision {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if limit <= 0 || limit > len(a.entries) {
		limit = len(a.entries)
	}
	start := len(a.entries) - limit
	out := make([]Decision, limit)
	copy(out, a.entries[start:])
	return out
}

// Explain returns the decision recorded for eventID, most recent first,
// or nil if not found in the in-memory ring buffer.
func (a *AuditLog) Explain(eventID string) *Decision {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].EventID == eventID {
			d := a.entries[i]
			return &d
		}
	}
	return nil
}
