package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensandbox/ptyctl/internal/devbridge"
	"github.com/opensandbox/ptyctl/pkg/payload"
)

func TestExec(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	tests := []struct {
		cmd      string
		exitCode int
		output   string
	}{
		{"echo hello", 0, "hello"},
		{"printf 'a\\nb\\n'", 0, "a\nb"},
		{"false", 1, ""},
		{"nosuchcmd", 127, "sh: nosuchcmd: command not found"},
	}
	for _, tt := range tests {
		res, err := b.client.Exec(ctx, b.session, tt.cmd, fastWait)
		if err != nil {
			t.Fatalf("Exec(%q) error: %v", tt.cmd, err)
		}
		if res.ExitCode != tt.exitCode {
			t.Errorf("Exec(%q): expected exit %d, got %d", tt.cmd, tt.exitCode, res.ExitCode)
		}
		if res.Output != tt.output {
			t.Errorf("Exec(%q): expected output %q, got %q", tt.cmd, tt.output, res.Output)
		}
		if res.CommandID == "" || res.SessionID != b.session {
			t.Errorf("Exec(%q): missing ids in %+v", tt.cmd, res)
		}
	}
}

func TestExecTimeoutReturnsPartialResult(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	opts := WaitOptions{PollInterval: 10 * time.Millisecond, MaxAttempts: 5, Backoff: 1}
	res, err := b.client.Exec(ctx, b.session, "sleep 30", opts)
	if err == nil {
		t.Fatal("expected the wait to run out")
	}
	if !errors.Is(err, ErrMarkerNotFound) && !errors.Is(err, ErrRemoteTimeout) {
		t.Errorf("expected marker-not-found or timeout, got %v", err)
	}
	if res == nil || res.ExitCode != -1 {
		t.Errorf("expected exit code -1 for an unfinished command, got %+v", res)
	}
	if _, err := b.client.Interrupt(ctx, b.session); err != nil {
		t.Fatalf("Interrupt() error: %v", err)
	}
}

func TestExecIgnoresEarlierMarkers(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	first, err := b.client.Exec(ctx, b.session, "echo one", fastWait)
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	second, err := b.client.Exec(ctx, b.session, "echo two", fastWait)
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if first.Marker == second.Marker {
		t.Error("expected a fresh marker per command")
	}
	if second.Output != "two" {
		t.Errorf("expected second output %q, got %q", "two", second.Output)
	}
}

func TestDownload(t *testing.T) {
	b := newTestBridge(t)
	data := bytes.Repeat([]byte("binary\x00\xff"), 300)
	b.emu.WriteFile("/srv/app.db", data)

	got, err := b.client.Download(context.Background(), b.session, "/srv/app.db", fastWait)
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %d bytes, got %d", len(data), len(got))
	}
}

func TestDownloadMissingFile(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.client.Download(context.Background(), b.session, "/nope", fastWait)
	if err == nil || !strings.Contains(err.Error(), "exited with 1") {
		t.Errorf("expected remote failure, got %v", err)
	}
}

func TestFileExists(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()
	b.emu.WriteFile("/app/.env", []byte("PORT=3000\n"))

	exists, err := b.client.FileExists(ctx, b.session, "/app/.env", fastWait)
	if err != nil {
		t.Fatalf("FileExists() error: %v", err)
	}
	if !exists {
		t.Error("expected /app/.env to exist")
	}

	exists, err = b.client.FileExists(ctx, b.session, "/app/missing.env", fastWait)
	if err != nil {
		t.Fatalf("FileExists() error: %v", err)
	}
	if exists {
		t.Error("expected /app/missing.env to be missing")
	}
}

func TestExtractOutput(t *testing.T) {
	m := payload.Marker{Head: "PTYCTL_aaaa", Tail: "_bbbb"}
	text := "$ ls; printf '%s%s:%s\\n' 'PTYCTL_aaaa' '_bbbb' \"$?\"\r\n" +
		"file1\r\nfile2\r\n" +
		"PTYCTL_aaaa_bbbb:0\r\n$ "

	if got := extractOutput(text, m); got != "file1\nfile2" {
		t.Errorf("expected %q, got %q", "file1\nfile2", got)
	}
	code, ok := parseExitCode(text, m)
	if !ok || code != 0 {
		t.Errorf("expected exit 0, got %d (ok=%v)", code, ok)
	}

	if code, ok := parseExitCode("PTYCTL_aaaa_bbbb:-1\n", m); !ok || code != -1 {
		t.Errorf("expected exit -1, got %d (ok=%v)", code, ok)
	}
	if _, ok := parseExitCode("PTYCTL_aaaa_bbbb:\n", m); ok {
		t.Error("expected missing status to fail")
	}
}

func TestExecWithSlidingBuffer(t *testing.T) {
	// the bridge serves only the last 12 output chunks, so the buffer
	// stops growing once the session is busy
	b := newTestBridgeWith(t, func(srv *devbridge.Server) { srv.ReadChunks = 12 })
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		if _, err := b.client.Send(ctx, b.session, "echo filler line"); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}
	if _, err := b.client.Settle(ctx, b.session, fastWait); err != nil {
		t.Fatalf("Settle() error: %v", err)
	}

	res, err := b.client.Exec(ctx, b.session, "echo hello", fastWait)
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if res.ExitCode != 0 || res.Output != "hello" {
		t.Errorf("expected exit 0 and output hello, got %d %q", res.ExitCode, res.Output)
	}

	data := []byte(strings.Repeat("sliding window payload\n", 40))
	tr, err := b.client.SendLargePayload(ctx, b.session, data, "/tmp/window.txt", 64, WithChunkDelay(0), WithTransferWait(fastWait))
	if err != nil {
		t.Fatalf("SendLargePayload() error: %v", err)
	}
	if tr.State != TransferVerified {
		t.Errorf("expected verified transfer, got %s", tr.State)
	}
}
