// Package seed applies fixed datasets to the application's SQLite database,
// either directly or by rendering a Python script that runs on the remote
// machine, and audits the database afterwards.
package seed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// ResultTag starts the line a remote seed script prints its result on.
const ResultTag = "SEED_RESULT "

// Result summarises one seed run.
type Result struct {
	Dataset  string         `json:"dataset"`
	Updated  int            `json:"updated"`
	Skipped  []string       `json:"skipped,omitempty"` // statements whose table is missing
	Inserted map[string]int `json:"inserted"`
	Counts   map[string]int `json:"counts"` // -1 for a missing table
}

// ApplyOptions controls Apply.
type ApplyOptions struct {
	// CreateTables runs each table's DDL first. Used for scratch databases.
	CreateTables bool
}

// OpenDB opens a SQLite database file.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return db, nil
}

// Apply runs the dataset in a single transaction. Rows are inserted with
// INSERT OR IGNORE, so applying a dataset twice changes nothing the second time.
func Apply(ctx context.Context, db *sql.DB, ds Dataset, opts ApplyOptions) (*Result, error) {
	res := &Result{
		Dataset:  ds.Name,
		Inserted: make(map[string]int),
		Counts:   make(map[string]int),
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if opts.CreateTables {
		for _, t := range ds.Tables {
			if t.DDL == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, t.DDL); err != nil {
				return nil, fmt.Errorf("create %s: %w", t.Table, err)
			}
		}
	}

	for _, st := range ds.Statements {
		if st.Table != "" {
			ok, err := tableExists(ctx, tx, st.Table)
			if err != nil {
				return nil, err
			}
			if !ok {
				res.Skipped = append(res.Skipped, st.SQL)
				continue
			}
		}
		r, err := tx.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return nil, fmt.Errorf("exec %q: %w", st.SQL, err)
		}
		n, _ := r.RowsAffected()
		res.Updated += int(n)
	}

	for _, t := range ds.Tables {
		if len(t.Rows) == 0 {
			continue
		}
		stmt, err := tx.PrepareContext(ctx, InsertSQL(t))
		if err != nil {
			return nil, fmt.Errorf("prepare insert into %s: %w", t.Table, err)
		}
		for _, row := range t.Rows {
			r, err := stmt.ExecContext(ctx, row...)
			if err != nil {
				stmt.Close()
				return nil, fmt.Errorf("insert into %s: %w", t.Table, err)
			}
			n, _ := r.RowsAffected()
			res.Inserted[t.Table] += int(n)
		}
		stmt.Close()
	}

	for _, name := range ds.CountTables {
		n, err := countRows(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		res.Counts[name] = n
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// InsertSQL returns the INSERT OR IGNORE statement for a table seed.
func InsertSQL(t TableSeed) string {
	marks := strings.TrimSuffix(strings.Repeat("?,", len(t.Columns)), ",")
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", t.Table, strings.Join(t.Columns, ", "), marks)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func tableExists(ctx context.Context, q querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	return n > 0, err
}

// countRows returns -1 when the table does not exist.
func countRows(ctx context.Context, q querier, name string) (int, error) {
	ok, err := tableExists(ctx, q, name)
	if err != nil || !ok {
		return -1, err
	}
	var n int
	if err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM [%s]", name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return n, nil
}

// ParseTagged decodes the JSON printed after the last occurrence of tag in
// terminal output. Line breaks inside the JSON are removed first because
// some consoles hard-wrap long lines.
func ParseTagged(output, tag string, v interface{}) error {
	i := strings.LastIndex(output, tag)
	if i < 0 {
		return fmt.Errorf("no %q line in output", strings.TrimSpace(tag))
	}
	rest := strings.NewReplacer("\r", "", "\n", "").Replace(output[i+len(tag):])
	if err := json.NewDecoder(strings.NewReader(rest)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", strings.TrimSpace(tag), err)
	}
	return nil
}

// ParseResult extracts a Result from the output of a rendered seed script.
func ParseResult(output string) (*Result, error) {
	var res Result
	if err := ParseTagged(output, ResultTag, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
