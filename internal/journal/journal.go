// Package journal keeps a local SQLite record of everything ptyctl typed
// into remote sessions.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/opensandbox/ptyctl/internal/termtext"
	"github.com/opensandbox/ptyctl/pkg/client"
	"github.com/opensandbox/ptyctl/pkg/types"
)

// outputTail is the number of output characters stored per command.
const outputTail = 2000

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS commands (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    command TEXT NOT NULL,
    marker TEXT,
    outcome TEXT NOT NULL,
    exit_code INTEGER,
    attempts INTEGER,
    duration_ms INTEGER,
    output_tail TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS transfers (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    remote_path TEXT NOT NULL,
    size INTEGER,
    chunks INTEGER,
    compressed INTEGER DEFAULT 0,
    sha256 TEXT,
    state TEXT NOT NULL,
    error TEXT,
    duration_ms INTEGER,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    payload TEXT,
    exported INTEGER DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_unexported ON events(exported) WHERE exported = 0;
`

// Command outcomes.
const (
	OutcomeSent     = "sent"
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
)

// Journal manages the operator journal database.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// OutcomeOf maps a command error to a journal outcome.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case client.KindOf(err) == client.KindRemoteTimeout:
		return OutcomeTimeout
	case client.KindOf(err) == client.KindMarkerNotFound:
		return OutcomeNotFound
	default:
		return OutcomeFailed
	}
}

// LogSend records keystrokes sent without waiting for completion.
func (j *Journal) LogSend(sessionID, command string) (string, error) {
	id := uuid.New().String()
	_, err := j.db.Exec(
		`INSERT INTO commands (id, session_id, command, outcome) VALUES (?, ?, ?, ?)`,
		id, sessionID, command, OutcomeSent)
	if err != nil {
		return "", fmt.Errorf("failed to log send: %w", err)
	}
	return id, j.LogEvent("send", map[string]interface{}{
		"command_id": id,
		"session_id": sessionID,
	})
}

// LogCommand records an executed command and its outcome.
func (j *Journal) LogCommand(command string, res *types.CommandResult, outcome string) error {
	if res.CommandID == "" {
		res.CommandID = uuid.New().String()
	}
	_, err := j.db.Exec(
		`INSERT INTO commands (id, session_id, command, marker, outcome, exit_code, attempts, duration_ms, output_tail) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.CommandID, res.SessionID, command, res.Marker, outcome, res.ExitCode, res.Attempts,
		res.Duration.Milliseconds(), termtext.Tail(res.Output, outputTail))
	if err != nil {
		return fmt.Errorf("failed to log command: %w", err)
	}

	return j.LogEvent("command", map[string]interface{}{
		"command_id":  res.CommandID,
		"session_id":  res.SessionID,
		"outcome":     outcome,
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

// LogTransfer records a payload transfer. errMsg is empty on success.
func (j *Journal) LogTransfer(sessionID string, t *client.Transfer, errMsg string) error {
	id := uuid.New().String()
	_, err := j.db.Exec(
		`INSERT INTO transfers (id, session_id, remote_path, size, chunks, compressed, sha256, state, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, t.RemotePath, t.Size, t.Chunks, t.Compressed, t.SHA256, t.State.String(), errMsg, t.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to log transfer: %w", err)
	}

	return j.LogEvent("transfer", map[string]interface{}{
		"transfer_id": id,
		"session_id":  sessionID,
		"remote_path": t.RemotePath,
		"state":       t.State.String(),
	})
}

// LogEvent records a generic event.
func (j *Journal) LogEvent(eventType string, payload interface{}) error {
	data, _ := json.Marshal(payload)
	_, err := j.db.Exec(`INSERT INTO events (type, payload) VALUES (?, ?)`, eventType, string(data))
	return err
}

// CommandEntry is one row of the commands table.
type CommandEntry struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionId"`
	Command    string `json:"command"`
	Marker     string `json:"marker,omitempty"`
	Outcome    string `json:"outcome"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"durationMs"`
	OutputTail string `json:"outputTail,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// RecentCommands returns the newest commands first.
func (j *Journal) RecentCommands(limit int) ([]CommandEntry, error) {
	rows, err := j.db.Query(
		`SELECT id, session_id, command, COALESCE(marker, ''), outcome, exit_code, COALESCE(attempts, 0),
		        COALESCE(duration_ms, 0), COALESCE(output_tail, ''), created_at
		 FROM commands ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CommandEntry
	for rows.Next() {
		var e CommandEntry
		var exit sql.NullInt64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Command, &e.Marker, &e.Outcome, &exit,
			&e.Attempts, &e.DurationMs, &e.OutputTail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if exit.Valid {
			code := int(exit.Int64)
			e.ExitCode = &code
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TransferEntry is one row of the transfers table.
type TransferEntry struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionId"`
	RemotePath string `json:"remotePath"`
	Size       int    `json:"size"`
	Chunks     int    `json:"chunks"`
	Compressed bool   `json:"compressed"`
	SHA256     string `json:"sha256"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// RecentTransfers returns the newest transfers first.
func (j *Journal) RecentTransfers(limit int) ([]TransferEntry, error) {
	rows, err := j.db.Query(
		`SELECT id, session_id, remote_path, COALESCE(size, 0), COALESCE(chunks, 0), compressed,
		        COALESCE(sha256, ''), state, COALESCE(error, ''), created_at
		 FROM transfers ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TransferEntry
	for rows.Next() {
		var e TransferEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.RemotePath, &e.Size, &e.Chunks, &e.Compressed,
			&e.SHA256, &e.State, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Event represents an event not yet exported to the report archive.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"createdAt"`
}

// UnexportedEvents returns events that haven't been exported yet.
func (j *Journal) UnexportedEvents(limit int) ([]Event, error) {
	rows, err := j.db.Query(
		`SELECT id, type, payload, created_at FROM events WHERE exported = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventsExported marks the given event IDs as exported.
func (j *Journal) MarkEventsExported(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE events SET exported = 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
