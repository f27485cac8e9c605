package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opensandbox/ptyctl/pkg/types"
)

func streamURL(b *testBridge) string {
	return "ws" + strings.TrimPrefix(b.ts.URL, "http") + "/ws"
}

func TestStream(t *testing.T) {
	b := newTestBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := b.client.OpenStream(ctx, streamURL(b), b.session)
	if err != nil {
		t.Fatalf("OpenStream() error: %v", err)
	}
	defer s.Close()

	f, err := s.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if f.Type != types.FrameBuffer {
		t.Fatalf("expected buffer frame first, got %q", f.Type)
	}

	if err := s.SendInput("echo streamed\r\n"); err != nil {
		t.Fatalf("SendInput() error: %v", err)
	}
	var seen strings.Builder
	for !strings.Contains(seen.String(), "streamed\r\n\x1b") {
		f, err := s.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if f.Type == types.FrameOutput {
			seen.WriteString(f.Text())
		}
	}

	if err := s.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	for {
		f, err := s.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if f.Type == types.FramePong {
			break
		}
	}
}

func TestStreamExitFrame(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	s, err := b.client.OpenStream(ctx, streamURL(b), b.session)
	if err != nil {
		t.Fatalf("OpenStream() error: %v", err)
	}
	defer s.Close()
	if _, err := s.Next(); err != nil {
		t.Fatalf("Next() error: %v", err)
	}

	go func() {
		_, _ = b.client.CloseSession(ctx, b.session)
	}()
	for {
		f, err := s.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if f.Type == types.FrameExit {
			if code := f.ExitCode(); code != 0 {
				t.Errorf("expected exit code 0, got %d", code)
			}
			return
		}
	}
}

func TestStreamRejectsBadToken(t *testing.T) {
	b := newTestBridge(t)
	c := NewClient(b.ts.URL, "wrong", WithRateLimit(0, 0))

	_, err := c.OpenStream(context.Background(), streamURL(b), b.session)
	if KindOf(err) != KindAPI {
		t.Errorf("expected API error for rejected auth, got %v", err)
	}
}
