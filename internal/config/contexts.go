package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the contexts file read when PTYCTL_CONFIG is unset.
const DefaultFile = "~/.ptyctl/config.yaml"

// File models a kubeconfig-style file with one context per bridge.
type File struct {
	CurrentContext string              `yaml:"currentContext"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

// Context holds connection details for one bridge. Empty fields fall back to
// defaults and are overridden by environment variables.
type Context struct {
	BridgeURL string `yaml:"bridgeURL,omitempty"`
	StreamURL string `yaml:"streamURL,omitempty"`
	Token     string `yaml:"token,omitempty"`
	MachineID string `yaml:"machine,omitempty"`
	SessionID string `yaml:"session,omitempty"`
	Shell     string `yaml:"shell,omitempty"`
	Dialect   string `yaml:"dialect,omitempty"`
	Cwd       string `yaml:"cwd,omitempty"`
}

// ErrContextNotFound indicates the requested context is missing.
var ErrContextNotFound = errors.New("context not found")

// LoadFile decodes the contexts file. Missing files return (nil, nil).
func LoadFile(path string) (*File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := ExpandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &f, nil
}

// Save writes the file to disk, creating parent directories if needed. The
// file can hold tokens, so it is written 0600.
func (f *File) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	if f == nil {
		return fmt.Errorf("config is nil")
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o600)
}

// Resolve picks a context either by explicit name or the currentContext value.
func (f *File) Resolve(name string) (*Context, string, error) {
	if f == nil {
		if strings.TrimSpace(name) != "" {
			return nil, name, fmt.Errorf("%w: %s", ErrContextNotFound, name)
		}
		return nil, "", nil
	}
	ctxName := strings.TrimSpace(name)
	if ctxName == "" {
		ctxName = f.CurrentContext
	}
	if ctxName == "" {
		return nil, "", nil
	}
	ctx, ok := f.Contexts[ctxName]
	if !ok {
		return nil, ctxName, fmt.Errorf("%w: %s", ErrContextNotFound, ctxName)
	}
	return ctx, ctxName, nil
}

// SetContext adds or replaces a context and makes it current.
func (f *File) SetContext(name string, ctx *Context) {
	if f.Contexts == nil {
		f.Contexts = make(map[string]*Context)
	}
	f.Contexts[name] = ctx
	f.CurrentContext = name
}

// ExpandPath resolves "~" and relative paths.
func ExpandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
