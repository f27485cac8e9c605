package runbook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/opensandbox/ptyctl/internal/storage"
)

// Report is the JSON record of one runbook run.
type Report struct {
	Runbook   string    `json:"runbook"`
	SessionID string    `json:"sessionId"`
	Started   time.Time `json:"startedAt"`
	Ended     time.Time `json:"endedAt"`
	Success   bool      `json:"success"`
	Steps     []StepRun `json:"steps"`
}

// StepRun is the record of one executed step.
type StepRun struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Started    time.Time   `json:"startedAt"`
	Ended      time.Time   `json:"endedAt"`
	DurationMS int64       `json:"durationMs"`
	ExitCode   int         `json:"exitCode"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	Output     string      `json:"output,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// JSON returns the indented report.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Write stores the report at path, creating parent directories.
func (r *Report) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := r.JSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Archive uploads the report to the store and returns its key.
func (r *Report) Archive(ctx context.Context, store *storage.ReportStore) (string, error) {
	data, err := r.JSON()
	if err != nil {
		return "", err
	}
	key := store.ReportKey("runbook", r.Runbook, r.Started)
	if _, err := store.Put(ctx, key, data, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}
