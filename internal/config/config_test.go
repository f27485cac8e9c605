package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensandbox/ptyctl/internal/crypto"
	"github.com/opensandbox/ptyctl/pkg/payload"
)

// isolate points the contexts file at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("PTYCTL_CONFIG", path)
	for _, k := range []string{"PTYCTL_SECRETS_ARN", "PTYCTL_CONTEXT", "PTYCTL_BRIDGE_URL", "PTYCTL_API_TOKEN",
		"PTYCTL_SHELL", "PTYCTL_DIALECT", "PTYCTL_POLL_INTERVAL", "PTYCTL_MAX_ATTEMPTS", "PTYCTL_STRIP_MODE", "PTYCTL_CONFIG_KEY"} {
		t.Setenv(k, "")
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.BridgeURL != "http://localhost:3000" {
		t.Errorf("expected bridge http://localhost:3000, got %s", cfg.BridgeURL)
	}
	if cfg.Dialect != payload.DialectPowerShell {
		t.Errorf("expected powershell dialect for the default shell, got %s", cfg.Dialect)
	}
	if cfg.ChunkSize != 6000 {
		t.Errorf("expected chunk size 6000, got %d", cfg.ChunkSize)
	}
	if cfg.PollInterval != time.Second || cfg.MaxAttempts != 30 {
		t.Errorf("expected 1s x 30 polling, got %s x %d", cfg.PollInterval, cfg.MaxAttempts)
	}
	if got := cfg.WaitOptions().Budget(); got != 30*time.Second {
		t.Errorf("expected 30s wait budget, got %s", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("PTYCTL_BRIDGE_URL", "http://bridge:3000/")
	t.Setenv("PTYCTL_API_TOKEN", "test-token")
	t.Setenv("PTYCTL_SHELL", "/bin/bash")
	t.Setenv("PTYCTL_POLL_INTERVAL", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.BridgeURL != "http://bridge:3000" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.BridgeURL)
	}
	if cfg.Token != "test-token" {
		t.Errorf("expected token test-token, got %s", cfg.Token)
	}
	if cfg.Dialect != payload.DialectPOSIX {
		t.Errorf("expected posix dialect for bash, got %s", cfg.Dialect)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms poll interval, got %s", cfg.PollInterval)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := map[string]string{
		"PTYCTL_MAX_ATTEMPTS":  "not-a-number",
		"PTYCTL_POLL_INTERVAL": "soon",
		"PTYCTL_DIALECT":       "fish",
		"PTYCTL_STRIP_MODE":    "some",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%q, got nil", key, value)
			}
		})
	}
}

func TestLoadContextFile(t *testing.T) {
	path := isolate(t)
	f := &File{}
	f.SetContext("staging", &Context{BridgeURL: "http://staging:3000", Token: "file-token", MachineID: "win-1"})
	f.SetContext("prod", &Context{BridgeURL: "http://prod:3000", Shell: "bash"})
	if err := f.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.ContextName != "prod" || cfg.BridgeURL != "http://prod:3000" || cfg.Dialect != payload.DialectPOSIX {
		t.Errorf("expected current context prod, got %+v", cfg)
	}

	cfg, err = Load("staging")
	if err != nil {
		t.Fatalf("Load(staging) returned error: %v", err)
	}
	if cfg.Token != "file-token" || cfg.MachineID != "win-1" {
		t.Errorf("expected staging values, got token=%q machine=%q", cfg.Token, cfg.MachineID)
	}

	t.Setenv("PTYCTL_API_TOKEN", "env-token")
	cfg, err = Load("staging")
	if err != nil {
		t.Fatalf("Load(staging) returned error: %v", err)
	}
	if cfg.Token != "env-token" {
		t.Errorf("expected env to override the file, got %q", cfg.Token)
	}

	if _, err := Load("missing"); !errors.Is(err, ErrContextNotFound) {
		t.Errorf("expected ErrContextNotFound, got %v", err)
	}
}

func TestLoadSealedToken(t *testing.T) {
	path := isolate(t)
	key := bytes.Repeat([]byte{7}, 32)
	sealed, err := crypto.Seal("sealed-token", key)
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	f := &File{}
	f.SetContext("vault", &Context{BridgeURL: "http://vault:3000", Token: sealed})
	if err := f.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if _, err := Load(""); err == nil {
		t.Fatal("expected error loading a sealed token without a key")
	}

	t.Setenv("PTYCTL_CONFIG_KEY", hex.EncodeToString(key))
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Token != "sealed-token" {
		t.Errorf("expected sealed-token, got %q", cfg.Token)
	}
}
