package seed

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AuditTag starts the line a remote audit script prints its report on.
const AuditTag = "AUDIT_RESULT "

// TableInfo is one row of the table inventory.
type TableInfo struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
}

// IndexInfo names an index and its table.
type IndexInfo struct {
	Name  string `json:"name"`
	Table string `json:"table"`
}

// AuditReport describes the health of an application database.
type AuditReport struct {
	Integrity     string      `json:"integrity"`
	FKViolations  int         `json:"fkViolations"`
	JournalMode   string      `json:"journalMode"`
	ForeignKeysOn bool        `json:"foreignKeysOn"`
	Tables        []TableInfo `json:"tables"`
	EmptyTables   []string    `json:"emptyTables"`
	Indexes       []IndexInfo `json:"indexes"`
	Good          []string    `json:"good"`
	Gaps          []string    `json:"gaps"`
}

// OK reports whether the audit found no gaps.
func (r *AuditReport) OK() bool { return len(r.Gaps) == 0 }

// skipTable filters SQLite internals and knex migration bookkeeping.
func skipTable(name string) bool {
	return strings.HasPrefix(name, "sqlite_") || strings.HasPrefix(name, "knex_")
}

// Audit inspects db and summarises integrity, table inventory and indexes.
func Audit(ctx context.Context, db *sql.DB) (*AuditReport, error) {
	r := &AuditReport{}

	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&r.Integrity); err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}

	fk, err := db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, fmt.Errorf("foreign key check: %w", err)
	}
	for fk.Next() {
		r.FKViolations++
	}
	fk.Close()

	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&r.JournalMode); err != nil {
		return nil, fmt.Errorf("journal mode: %w", err)
	}
	var fkOn int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fkOn); err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	r.ForeignKeysOn = fkOn == 1

	names, err := queryStrings(ctx, db, "SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if skipTable(name) {
			continue
		}
		n, err := countRows(ctx, db, name)
		if err != nil {
			return nil, err
		}
		r.Tables = append(r.Tables, TableInfo{Name: name, Rows: n})
		if n == 0 {
			r.EmptyTables = append(r.EmptyTables, name)
		}
	}

	rows, err := db.QueryContext(ctx, "SELECT name, tbl_name FROM sqlite_master WHERE type='index' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var idx IndexInfo
		if err := rows.Scan(&idx.Name, &idx.Table); err != nil {
			return nil, err
		}
		r.Indexes = append(r.Indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.assess()
	return r, nil
}

// assess fills Good and Gaps from the collected facts.
func (r *AuditReport) assess() {
	r.Good, r.Gaps = nil, nil
	if r.Integrity == "ok" {
		r.Good = append(r.Good, "Database integrity: OK")
	} else {
		r.Gaps = append(r.Gaps, "Database integrity: "+r.Integrity)
	}
	if r.FKViolations > 0 {
		r.Gaps = append(r.Gaps, fmt.Sprintf("%d foreign key violations", r.FKViolations))
	}
	if strings.EqualFold(r.JournalMode, "wal") {
		r.Good = append(r.Good, "WAL journal mode: enabled")
	} else {
		r.Gaps = append(r.Gaps, fmt.Sprintf("Not using WAL mode (currently: %s)", r.JournalMode))
	}
	if r.ForeignKeysOn {
		r.Good = append(r.Good, "Foreign key enforcement: ON")
	} else {
		r.Gaps = append(r.Gaps, "Foreign keys not enforced (PRAGMA foreign_keys = OFF)")
	}
	populated := len(r.Tables) - len(r.EmptyTables)
	r.Good = append(r.Good, fmt.Sprintf("%d of %d tables populated", populated, len(r.Tables)))
}

// ParseAudit extracts an AuditReport from the output of a rendered audit
// script and assesses it the same way Audit does.
func ParseAudit(output string) (*AuditReport, error) {
	var r AuditReport
	if err := ParseTagged(output, AuditTag, &r); err != nil {
		return nil, err
	}
	r.assess()
	return &r, nil
}

func queryStrings(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
