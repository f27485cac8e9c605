package journal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensandbox/ptyctl/pkg/client"
	"github.com/opensandbox/ptyctl/pkg/types"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestLogCommand(t *testing.T) {
	j := openTest(t)

	res := &types.CommandResult{
		CommandID: "cmd-1",
		SessionID: "sess-1",
		Marker:    "PTYCTL_a_b",
		ExitCode:  2,
		Output:    "some output",
		Attempts:  3,
		Duration:  1500 * time.Millisecond,
	}
	if err := j.LogCommand("npm run build", res, OutcomeOK); err != nil {
		t.Fatalf("LogCommand() error: %v", err)
	}
	if _, err := j.LogSend("sess-1", "cd C:\\app"); err != nil {
		t.Fatalf("LogSend() error: %v", err)
	}

	entries, err := j.RecentCommands(10)
	if err != nil {
		t.Fatalf("RecentCommands() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	sent, cmd := entries[0], entries[1]
	if sent.Outcome != OutcomeSent || sent.ExitCode != nil {
		t.Errorf("expected a sent entry without exit code, got %+v", sent)
	}
	if cmd.ID != "cmd-1" || cmd.ExitCode == nil || *cmd.ExitCode != 2 || cmd.DurationMs != 1500 {
		t.Errorf("unexpected command entry %+v", cmd)
	}
}

func TestLogTransfer(t *testing.T) {
	j := openTest(t)

	tr := &client.Transfer{RemotePath: "C:\\tmp\\seed.py", Size: 1024, Chunks: 2, SHA256: "abc", State: client.TransferVerified}
	if err := j.LogTransfer("sess-1", tr, ""); err != nil {
		t.Fatalf("LogTransfer() error: %v", err)
	}

	entries, err := j.RecentTransfers(5)
	if err != nil {
		t.Fatalf("RecentTransfers() error: %v", err)
	}
	if len(entries) != 1 || entries[0].State != "verified" || entries[0].Size != 1024 {
		t.Errorf("unexpected transfers %+v", entries)
	}
}

func TestEventsExport(t *testing.T) {
	j := openTest(t)

	for i := 0; i < 3; i++ {
		if err := j.LogEvent("runbook_step", map[string]int{"step": i}); err != nil {
			t.Fatalf("LogEvent() error: %v", err)
		}
	}

	events, err := j.UnexportedEvents(2)
	if err != nil {
		t.Fatalf("UnexportedEvents() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if err := j.MarkEventsExported([]int64{events[0].ID, events[1].ID}); err != nil {
		t.Fatalf("MarkEventsExported() error: %v", err)
	}

	rest, err := j.UnexportedEvents(10)
	if err != nil {
		t.Fatalf("UnexportedEvents() error: %v", err)
	}
	if len(rest) != 1 || rest[0].Payload != `{"step":2}` {
		t.Errorf("expected only the last event left, got %+v", rest)
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{&client.Error{Kind: client.KindRemoteTimeout}, OutcomeTimeout},
		{fmt.Errorf("exec: %w", &client.Error{Kind: client.KindMarkerNotFound}), OutcomeNotFound},
		{fmt.Errorf("boom"), OutcomeFailed},
	}
	for _, tt := range tests {
		if got := OutcomeOf(tt.err); got != tt.want {
			t.Errorf("OutcomeOf(%v): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}

func TestOpenMemory(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer j.Close()
	if _, err := j.LogSend("s", "dir"); err != nil {
		t.Fatalf("LogSend() error: %v", err)
	}
}
