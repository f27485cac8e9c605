package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTextfile(t *testing.T) {
	BridgeRequestsTotal.WithLabelValues("send", "200").Inc()
	MarkerWaitsTotal.WithLabelValues("settled").Inc()

	path := filepath.Join(t.TempDir(), "ptyctl.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`ptyctl_bridge_requests_total{op="send",status="200"}`,
		`ptyctl_marker_waits_total{outcome="settled"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected textfile to contain %s", want)
		}
	}
	if strings.Contains(out, "go_goroutines") {
		t.Error("expected no runtime collectors in the ptyctl registry")
	}
}
