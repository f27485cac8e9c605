package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/opensandbox/ptyctl/internal/devbridge"
	"github.com/opensandbox/ptyctl/pkg/payload"
	"github.com/opensandbox/ptyctl/pkg/types"
)

const testToken = "test-token"

var fastWait = WaitOptions{PollInterval: 10 * time.Millisecond, MaxAttempts: 300, Backoff: 1}

type testBridge struct {
	srv     *devbridge.Server
	emu     *devbridge.Emulator
	ts      *httptest.Server
	client  *Client
	session string
}

func newTestBridge(t *testing.T, opts ...Option) *testBridge {
	t.Helper()
	return newTestBridgeWith(t, nil, opts...)
}

// newTestBridgeWith lets configure adjust the server before it starts serving.
func newTestBridgeWith(t *testing.T, configure func(*devbridge.Server), opts ...Option) *testBridge {
	t.Helper()
	emu := devbridge.NewEmulator()
	srv := devbridge.New(emu, testToken)
	if configure != nil {
		configure(srv)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.CloseAll()
		ts.Close()
	})

	opts = append([]Option{WithDialect(payload.POSIX{}), WithRateLimit(0, 0)}, opts...)
	c := NewClient(ts.URL, testToken, opts...)
	sess, err := c.CreateSession(context.Background(), types.SessionCreateRequest{MachineID: devbridge.DefaultMachineID})
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	return &testBridge{srv: srv, emu: emu, ts: ts, client: c, session: sess.ID}
}

func TestHealth(t *testing.T) {
	b := newTestBridge(t)
	h, err := NewClient(b.ts.URL, "").Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("expected status ok, got %q", h.Status)
	}
}

func TestInvalidTokenIsAPIError(t *testing.T) {
	b := newTestBridge(t)
	c := NewClient(b.ts.URL, "wrong", WithRateLimit(0, 0))

	_, err := c.ListMachines(context.Background())
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindAPI || e.Status != 403 {
		t.Errorf("expected API error with status 403, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	machines, err := b.client.ListMachines(ctx)
	if err != nil {
		t.Fatalf("ListMachines() error: %v", err)
	}
	if len(machines) != 1 || machines[0].ID != devbridge.DefaultMachineID {
		t.Errorf("expected the local machine, got %+v", machines)
	}

	sessions, err := b.client.ListSessions(ctx, devbridge.DefaultMachineID)
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != b.session {
		t.Errorf("expected session %s, got %+v", b.session, sessions)
	}
	if other, _ := b.client.ListSessions(ctx, "elsewhere"); len(other) != 0 {
		t.Errorf("expected no sessions on another machine, got %d", len(other))
	}

	got, err := b.client.GetSession(ctx, b.session)
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if got.Status != types.SessionActive {
		t.Errorf("expected active session, got %q", got.Status)
	}

	if _, err := b.client.Resize(ctx, b.session, 200, 50); err != nil {
		t.Fatalf("Resize() error: %v", err)
	}

	ack, err := b.client.CloseSession(ctx, b.session)
	if err != nil {
		t.Fatalf("CloseSession() error: %v", err)
	}
	if ack.Status != "closed" {
		t.Errorf("expected closed ack, got %q", ack.Status)
	}

	_, err = b.client.GetSession(ctx, b.session)
	if !IsNotFound(err) {
		t.Errorf("expected not found after close, got %v", err)
	}
}

func TestCreateSessionUnknownMachine(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.client.CreateSession(context.Background(), types.SessionCreateRequest{MachineID: "nope"})
	if !IsNotFound(err) {
		t.Errorf("expected not found for unknown machine, got %v", err)
	}
}

func TestSendEmptyIsRejected(t *testing.T) {
	b := newTestBridge(t)
	if _, err := b.client.SendRaw(context.Background(), b.session, ""); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestSendThenReadOutput(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	ack, err := b.client.Send(ctx, b.session, "echo Hello World")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if ack.Status != "ok" {
		t.Errorf("expected ok ack, got %q", ack.Status)
	}
	if _, err := b.client.Settle(ctx, b.session, fastWait); err != nil {
		t.Fatalf("Settle() error: %v", err)
	}

	out, err := b.client.ReadOutput(ctx, b.session, 0)
	if err != nil {
		t.Fatalf("ReadOutput() error: %v", err)
	}
	if !strings.Contains(out, "Hello World\r\n") {
		t.Errorf("expected command output, got %q", out)
	}
	if strings.Contains(out, "\x1b") {
		t.Errorf("expected escape sequences to be stripped, got %q", out)
	}
}

func TestReadOutputBounded(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	if _, err := b.client.Exec(ctx, b.session, "echo ééééééééééééééééééé", fastWait); err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	for _, n := range []int{1, 10, 25} {
		out, err := b.client.ReadOutput(ctx, b.session, n)
		if err != nil {
			t.Fatalf("ReadOutput(%d) error: %v", n, err)
		}
		if c := utf8.RuneCountInString(out); c > n {
			t.Errorf("ReadOutput(%d) returned %d characters", n, c)
		}
	}
}

func TestReadOutputASCIIFold(t *testing.T) {
	b := newTestBridge(t, WithASCIIFold(true))
	ctx := context.Background()

	if _, err := b.client.Exec(ctx, b.session, "echo naïve", fastWait); err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	out, err := b.client.ReadOutput(ctx, b.session, 0)
	if err != nil {
		t.Fatalf("ReadOutput() error: %v", err)
	}
	if !strings.Contains(out, "na?ve") {
		t.Errorf("expected folded output, got %q", out)
	}
}

func TestReadOutputUnknownSession(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.client.ReadOutput(context.Background(), "missing", 100)
	if KindOf(err) != KindAPI || !IsNotFound(err) {
		t.Errorf("expected 404 API error, got %v", err)
	}
}

func TestReadOutputNetworkError(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	c := NewClient(url, testToken, WithRateLimit(0, 0), WithTimeout(time.Second))
	_, err := c.ReadOutput(context.Background(), "any", 100)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("expected network error, got %v", err)
	}
}

func TestInterrupt(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	if _, err := b.client.Send(ctx, b.session, "sleep 30"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if _, err := b.client.WaitForMarker(ctx, b.session, "sleep 30", fastWait); err != nil {
		t.Fatalf("WaitForMarker() error: %v", err)
	}
	if _, err := b.client.Interrupt(ctx, b.session); err != nil {
		t.Fatalf("Interrupt() error: %v", err)
	}

	res, err := b.client.Exec(ctx, b.session, "echo back", fastWait)
	if err != nil {
		t.Fatalf("Exec() after interrupt error: %v", err)
	}
	if res.Output != "back" {
		t.Errorf("expected output %q, got %q", "back", res.Output)
	}
}

func TestRateLimit(t *testing.T) {
	b := newTestBridge(t, WithRateLimit(600, 1))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := b.client.Health(ctx); err != nil {
			t.Fatalf("Health() error: %v", err)
		}
	}
	// one token per 100ms after the first
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("expected requests to be throttled, took %s", elapsed)
	}
}
