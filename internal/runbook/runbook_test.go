package runbook

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensandbox/ptyctl/internal/devbridge"
	"github.com/opensandbox/ptyctl/internal/journal"
	"github.com/opensandbox/ptyctl/internal/seed"
	"github.com/opensandbox/ptyctl/pkg/client"
	"github.com/opensandbox/ptyctl/pkg/payload"
	"github.com/opensandbox/ptyctl/pkg/types"
)

const testToken = "test-token"

type testEnv struct {
	emu     *devbridge.Emulator
	client  *client.Client
	session string
	runner  *Runner
	journal *journal.Journal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	emu := devbridge.NewEmulator()
	srv := devbridge.New(emu, testToken)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.CloseAll()
		ts.Close()
	})

	c := client.NewClient(ts.URL, testToken, client.WithDialect(payload.POSIX{}), client.WithRateLimit(0, 0))
	sess, err := c.CreateSession(context.Background(), types.SessionCreateRequest{MachineID: devbridge.DefaultMachineID})
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open() error: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	return &testEnv{
		emu:     emu,
		client:  c,
		session: sess.ID,
		journal: j,
		runner: &Runner{
			Client:     c,
			SessionID:  sess.ID,
			Wait:       client.WaitOptions{PollInterval: 10 * time.Millisecond, MaxAttempts: 300, Backoff: 1},
			ChunkDelay: time.Millisecond,
			Journal:    j,
		},
	}
}

func mustParse(t *testing.T, doc string) *Document {
	t.Helper()
	d, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return d
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
apiVersion: ptyctl/v1
kind: Runbook
spec:
  steps:
    - name: x
      type: exec
      comand: echo hi
`))
	if err == nil || !strings.Contains(err.Error(), "comand") {
		t.Errorf("expected unknown field error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		step string
		want string
	}{
		{"missing name", "type: exec\n      command: x", "name is required"},
		{"missing command", "name: a\n      type: exec", "command is required"},
		{"bad type", "name: a\n      type: ssh", "unsupported type"},
		{"sleep without duration", "name: a\n      type: sleep", "duration is required"},
		{"upload source and content", "name: a\n      type: upload\n      dest: /x\n      source: f\n      content: c", "exactly one"},
		{"unknown dataset", "name: a\n      type: seed\n      dataset: nope\n      database: db", "unknown dataset"},
		{"env without values", "name: a\n      type: env\n      dest: .env", "set or secretArn"},
		{"verify without url", "name: a\n      type: verify", "baseURL is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte("spec:\n  steps:\n    - " + tt.step + "\n"))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := Parse([]byte("apiVersion: v2\nspec:\n  steps:\n    - name: a\n      type: wait\n")); err == nil {
		t.Error("expected apiVersion error")
	}
	if _, err := Parse([]byte("spec:\n  steps: []\n")); err == nil {
		t.Error("expected error for empty runbook")
	}
}

func TestPlan(t *testing.T) {
	d := mustParse(t, `
metadata:
  name: restart
spec:
  steps:
    - name: kill port
      type: exec
      command: npx kill-port 5003
    - name: settle
      type: sleep
      duration: 15s
    - name: fix env
      type: env
      dest: .env
      set:
        PORT: "5003"
        NODE_ENV: development
`)
	var buf bytes.Buffer
	Plan(&buf, d)
	want := "1. kill port (exec)\n   command: npx kill-port 5003\n" +
		"2. settle (sleep)\n   duration: 15s\n" +
		"3. fix env (env)\n   dest: .env\n   keys: NODE_ENV, PORT\n"
	if buf.String() != want {
		t.Errorf("expected\n%s\ngot\n%s", want, buf.String())
	}
}

func TestRunExecAndUpload(t *testing.T) {
	env := newTestEnv(t)
	d := mustParse(t, `
metadata:
  name: basics
spec:
  steps:
    - name: greet
      type: exec
      command: echo hello
    - name: write config
      type: upload
      dest: /app/config.txt
      content: "mode=prod"
    - name: show config
      type: exec
      command: cat /app/config.txt
    - name: settle
      type: wait
`)
	rep, err := env.runner.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !rep.Success || len(rep.Steps) != 4 {
		t.Fatalf("expected 4 successful steps, got %+v", rep)
	}
	if rep.Steps[0].Output != "hello" {
		t.Errorf("expected hello, got %q", rep.Steps[0].Output)
	}
	if rep.Steps[2].Output != "mode=prod" {
		t.Errorf("expected uploaded content, got %q", rep.Steps[2].Output)
	}
	if got, _ := env.emu.ReadFile("/app/config.txt"); string(got) != "mode=prod" {
		t.Errorf("unexpected remote file %q", got)
	}

	cmds, err := env.journal.RecentCommands(10)
	if err != nil {
		t.Fatalf("RecentCommands() error: %v", err)
	}
	if len(cmds) != 2 {
		t.Errorf("expected 2 journaled commands, got %d", len(cmds))
	}
	transfers, err := env.journal.RecentTransfers(10)
	if err != nil {
		t.Fatalf("RecentTransfers() error: %v", err)
	}
	if len(transfers) != 1 || transfers[0].State != "verified" {
		t.Errorf("expected one verified transfer, got %+v", transfers)
	}
}

func TestRunStopsOnFailure(t *testing.T) {
	env := newTestEnv(t)
	d := mustParse(t, `
spec:
  steps:
    - name: allowed to fail
      type: exec
      command: "false"
      continueOnError: true
    - name: expected failure
      type: exec
      command: "false"
      expectExit: 1
    - name: real failure
      type: exec
      command: nosuchcmd
    - name: never runs
      type: exec
      command: echo unreachable
`)
	rep, err := env.runner.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if rep.Success {
		t.Fatal("expected runbook to fail")
	}
	if len(rep.Steps) != 3 {
		t.Fatalf("expected 3 recorded steps, got %d", len(rep.Steps))
	}
	if rep.Steps[0].Success || rep.Steps[0].ExitCode != 1 {
		t.Errorf("expected first step to fail with 1, got %+v", rep.Steps[0])
	}
	if !rep.Steps[1].Success {
		t.Errorf("expected expectExit to accept 1, got %+v", rep.Steps[1])
	}
	if rep.Steps[2].ExitCode != 127 || !strings.Contains(rep.Steps[2].Error, "expected 0") {
		t.Errorf("expected exit 127 failure, got %+v", rep.Steps[2])
	}
}

// pythonOnScratchDB emulates the remote interpreter by applying the seed or
// audit locally to db, then printing the tagged line the script would print.
func pythonOnScratchDB(emu *devbridge.Emulator, db *sql.DB) devbridge.CommandFunc {
	return func(ctx context.Context, args []string, stdin []byte, stderr *bytes.Buffer) ([]byte, int) {
		script, ok := emu.ReadFile(args[0])
		if !ok {
			stderr.WriteString("python3: can't open file\n")
			return nil, 2
		}
		var tag string
		var v interface{}
		var err error
		if strings.Contains(string(script), "SEED_RESULT") {
			ds, _ := seed.Lookup("knowledge")
			tag = seed.ResultTag
			v, err = seed.Apply(ctx, db, ds, seed.ApplyOptions{CreateTables: true})
		} else {
			tag = seed.AuditTag
			v, err = seed.Audit(ctx, db)
		}
		if err != nil {
			stderr.WriteString(err.Error() + "\n")
			return nil, 1
		}
		b, _ := json.Marshal(v)
		return []byte(tag + string(b) + "\n"), 0
	}
}

func TestRunSeedAndAudit(t *testing.T) {
	env := newTestEnv(t)
	db, err := seed.OpenDB(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("OpenDB() error: %v", err)
	}
	defer db.Close()
	env.emu.Handle("python3", pythonOnScratchDB(env.emu, db))

	d := mustParse(t, `
spec:
  steps:
    - name: seed knowledge
      type: seed
      dataset: knowledge
      database: /app/data/app.db
    - name: seed again
      type: seed
      dataset: knowledge
      database: /app/data/app.db
    - name: audit
      type: audit
      database: /app/data/app.db
`)
	rep, err := env.runner.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !rep.Success {
		t.Fatalf("expected success, got %+v", rep.Steps)
	}

	first := rep.Steps[0].Details.(*seed.Result)
	second := rep.Steps[1].Details.(*seed.Result)
	if first.Inserted["knowledge_items"] != 10 || second.Inserted["knowledge_items"] != 0 {
		t.Errorf("expected 10 then 0 inserts, got %d and %d",
			first.Inserted["knowledge_items"], second.Inserted["knowledge_items"])
	}
	if second.Counts["knowledge_items"] != 10 {
		t.Errorf("expected 10 rows, got %d", second.Counts["knowledge_items"])
	}

	audit := rep.Steps[2].Details.(*seed.AuditReport)
	if audit.Integrity != "ok" || len(audit.Tables) != 1 {
		t.Errorf("unexpected audit %+v", audit)
	}
	if _, ok := env.emu.ReadFile("ptyctl-audit.py"); ok {
		t.Error("expected audit script to be removed")
	}
}

func TestRunStrictAuditFails(t *testing.T) {
	env := newTestEnv(t)
	db, err := seed.OpenDB(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("OpenDB() error: %v", err)
	}
	defer db.Close()
	env.emu.Handle("python3", pythonOnScratchDB(env.emu, db))

	rep, err := env.runner.Run(context.Background(), mustParse(t, `
spec:
  steps:
    - name: audit
      type: audit
      database: app.db
      strict: true
`))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if rep.Success || !strings.Contains(rep.Steps[0].Error, "gaps") {
		t.Errorf("expected strict audit to fail on gaps, got %+v", rep.Steps[0])
	}
}

func TestRunEnv(t *testing.T) {
	env := newTestEnv(t)
	env.emu.WriteFile("/app/.env", []byte("# backend\nPORT=3000\nGEMINI_API_KEY=keep\n"))
	env.runner.Secrets = func(ctx context.Context, arn string) (map[string]string, error) {
		return map[string]string{"ANTHROPIC_API_KEY": "sk-test", "UNUSED": "x"}, nil
	}

	rep, err := env.runner.Run(context.Background(), mustParse(t, `
spec:
  steps:
    - name: fix env
      type: env
      dest: /app/.env
      set:
        PORT: "5003"
        NODE_ENV: development
      secretArn: arn:aws:secretsmanager:us-east-1:123:secret:app
      secretKeys: [ANTHROPIC_API_KEY]
    - name: missing file
      type: env
      dest: /app/other.env
      set:
        PORT: "1"
`))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	got, _ := env.emu.ReadFile("/app/.env")
	want := "# backend\nPORT=5003\nGEMINI_API_KEY=keep\nANTHROPIC_API_KEY=sk-test\nNODE_ENV=development\n"
	if string(got) != want {
		t.Errorf("expected\n%q\ngot\n%q", want, got)
	}
	if len(rep.Steps) != 2 || rep.Steps[1].Success {
		t.Errorf("expected missing file without create to fail, got %+v", rep.Steps)
	}
}

func TestRunEnvCreate(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.runner.Run(context.Background(), mustParse(t, `
spec:
  steps:
    - name: new env
      type: env
      dest: /app/.env
      create: true
      set:
        PORT: "5003"
`))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !rep.Success {
		t.Fatalf("expected success, got %+v", rep.Steps)
	}
	if got, _ := env.emu.ReadFile("/app/.env"); string(got) != "PORT=5003\n" {
		t.Errorf("unexpected file %q", got)
	}
}

func TestRunEnvCreateKeepsFileWhenReadFails(t *testing.T) {
	env := newTestEnv(t)
	original := "# backend\nPORT=3000\nDATABASE_URL=sqlite:./data/app.db\n"
	env.emu.WriteFile("/app/.env", []byte(original))
	// the dump hangs past the wait budget, so the file is unreadable but present
	env.emu.Handle("base64", func(ctx context.Context, args []string, stdin []byte, stderr *bytes.Buffer) ([]byte, int) {
		if len(args) > 0 {
			fmt.Fprintln(stderr, "base64: unexpected decode")
			return nil, 1
		}
		select {
		case <-ctx.Done():
		case <-time.After(500 * time.Millisecond):
		}
		return nil, 0
	})
	env.runner.Wait = client.WaitOptions{PollInterval: 10 * time.Millisecond, MaxAttempts: 15, Backoff: 1}

	rep, err := env.runner.Run(context.Background(), mustParse(t, `
spec:
  steps:
    - name: fix env
      type: env
      dest: /app/.env
      create: true
      set:
        PORT: "5003"
`))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if rep.Success || len(rep.Steps) != 1 {
		t.Fatalf("expected the env step to fail, got %+v", rep.Steps)
	}
	if !strings.Contains(rep.Steps[0].Error, "read /app/.env") {
		t.Errorf("expected a read error, got %q", rep.Steps[0].Error)
	}
	if got, _ := env.emu.ReadFile("/app/.env"); string(got) != original {
		t.Errorf("expected .env to stay intact, got %q", got)
	}
}

func TestRunVerify(t *testing.T) {
	env := newTestEnv(t)
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer app.Close()

	d := mustParse(t, `
spec:
  steps:
    - name: smoke
      type: verify
      baseURL: `+app.URL+`
      paths: [/api/health, /api/knowledge, /api/broken]
`)
	rep, err := env.runner.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	step := rep.Steps[0]
	if step.Success || step.Error != "1 of 3 endpoints failed" {
		t.Errorf("expected one failed endpoint, got %+v", step)
	}
	if !strings.Contains(step.Output, "FAIL /api/broken 500") {
		t.Errorf("unexpected output %q", step.Output)
	}
}

func TestRunCreatesSessionOnMachine(t *testing.T) {
	env := newTestEnv(t)
	env.runner.SessionID = ""
	rep, err := env.runner.Run(context.Background(), mustParse(t, `
spec:
  machine: local
  steps:
    - name: greet
      type: exec
      command: echo hi
`))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if rep.SessionID == "" || rep.SessionID == env.session {
		t.Errorf("expected a new session, got %q", rep.SessionID)
	}

	d := mustParse(t, "spec:\n  steps:\n    - name: a\n      type: wait\n")
	if _, err := env.runner.Run(context.Background(), d); err == nil {
		t.Error("expected error without session or machine")
	}
}

func TestStepTimeout(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.runner.Run(context.Background(), mustParse(t, `
spec:
  steps:
    - name: nap
      type: sleep
      duration: 1h
      timeout: 20ms
`))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if rep.Success || rep.Steps[0].Error != "context deadline exceeded" {
		t.Errorf("expected deadline error, got %+v", rep.Steps[0])
	}
}

func TestReportWrite(t *testing.T) {
	rep := &Report{Runbook: "x", Success: true, Steps: []StepRun{{Name: "a", Type: "wait", Success: true}}}
	path := filepath.Join(t.TempDir(), "reports", "x.json")
	if err := rep.Write(path); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
}
