// Package runbook loads declarative YAML runbooks and runs their steps
// against a bridge session.
package runbook

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensandbox/ptyctl/internal/envfile"
	"github.com/opensandbox/ptyctl/internal/seed"
)

const (
	APIVersion = "ptyctl/v1"
	Kind       = "Runbook"
)

// Step types.
const (
	StepSend      = "send"
	StepExec      = "exec"
	StepWait      = "wait"
	StepSleep     = "sleep"
	StepInterrupt = "interrupt"
	StepUpload    = "upload"
	StepSeed      = "seed"
	StepAudit     = "audit"
	StepEnv       = "env"
	StepVerify    = "verify"
)

// Document is a runbook file.
type Document struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Spec holds the target and the steps.
type Spec struct {
	// Session runs every step in an existing session.
	Session string `yaml:"session"`
	// Machine creates a new session when Session is empty.
	Machine string `yaml:"machine"`
	Steps   []Step `yaml:"steps"`
}

// Step is one runbook action. Which fields apply depends on Type.
type Step struct {
	Name            string        `yaml:"name"`
	Type            string        `yaml:"type"`
	Timeout         time.Duration `yaml:"timeout"`
	ContinueOnError bool          `yaml:"continueOnError"`

	// send, exec
	Command    string `yaml:"command"`
	ExpectExit *int   `yaml:"expectExit"`

	// sleep
	Duration time.Duration `yaml:"duration"`

	// upload, env
	Source     string `yaml:"source"`
	Content    string `yaml:"content"`
	Dest       string `yaml:"dest"`
	Compress   bool   `yaml:"compress"`
	SkipVerify bool   `yaml:"skipVerify"`

	// seed, audit
	Dataset    string `yaml:"dataset"`
	Database   string `yaml:"database"`
	Python     string `yaml:"python"`
	ScriptPath string `yaml:"scriptPath"`
	Strict     bool   `yaml:"strict"`

	// env
	Set        map[string]string `yaml:"set"`
	SecretARN  string            `yaml:"secretArn"`
	SecretKeys []string          `yaml:"secretKeys"`
	Create     bool              `yaml:"create"`

	// verify
	BaseURL string   `yaml:"baseURL"`
	Paths   []string `yaml:"paths"`
}

// StepType returns the normalised type of s.
func (s Step) StepType() string {
	return strings.ToLower(strings.TrimSpace(s.Type))
}

// Load reads and validates a runbook file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Metadata.Name) == "" {
		doc.Metadata.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}

// Parse decodes a runbook. Unknown fields are rejected.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse runbook: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the header and that every step has what its type needs.
func (d *Document) Validate() error {
	if d.APIVersion != "" && d.APIVersion != APIVersion {
		return fmt.Errorf("unsupported apiVersion %q (want %s)", d.APIVersion, APIVersion)
	}
	if d.Kind != "" && d.Kind != Kind {
		return fmt.Errorf("unsupported kind %q (want %s)", d.Kind, Kind)
	}
	if len(d.Spec.Steps) == 0 {
		return fmt.Errorf("runbook has no steps")
	}
	for i, s := range d.Spec.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("step %d: name is required", i+1)
		}
		if err := s.validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	switch s.StepType() {
	case StepSend, StepExec:
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("command is required for %s steps", s.StepType())
		}
	case StepWait, StepInterrupt:
	case StepSleep:
		if s.Duration <= 0 {
			return fmt.Errorf("duration is required for sleep steps")
		}
	case StepUpload:
		if s.Dest == "" {
			return fmt.Errorf("dest is required for upload steps")
		}
		if (s.Source == "") == (s.Content == "") {
			return fmt.Errorf("exactly one of source or content is required for upload steps")
		}
	case StepSeed:
		if _, ok := seed.Lookup(s.Dataset); !ok {
			return fmt.Errorf("unknown dataset %q", s.Dataset)
		}
		if s.Database == "" {
			return fmt.Errorf("database is required for seed steps")
		}
	case StepAudit:
		if s.Database == "" {
			return fmt.Errorf("database is required for audit steps")
		}
	case StepEnv:
		if s.Dest == "" {
			return fmt.Errorf("dest is required for env steps")
		}
		if len(s.Set) == 0 && s.SecretARN == "" {
			return fmt.Errorf("set or secretArn is required for env steps")
		}
	case StepVerify:
		if s.BaseURL == "" {
			return fmt.Errorf("baseURL is required for verify steps")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unsupported type %q", s.Type)
	}
	return nil
}

// Plan writes the numbered dry-run listing of the runbook to w.
func Plan(w io.Writer, d *Document) {
	for i, s := range d.Spec.Steps {
		fmt.Fprintf(w, "%d. %s (%s)\n", i+1, s.Name, s.StepType())
		switch s.StepType() {
		case StepSend, StepExec:
			fmt.Fprintf(w, "   command: %s\n", s.Command)
		case StepSleep:
			fmt.Fprintf(w, "   duration: %s\n", s.Duration)
		case StepUpload:
			if s.Source != "" {
				fmt.Fprintf(w, "   source: %s\n", s.Source)
			} else {
				fmt.Fprintf(w, "   contentBytes: %d\n", len(s.Content))
			}
			fmt.Fprintf(w, "   dest: %s\n", s.Dest)
		case StepSeed:
			fmt.Fprintf(w, "   dataset: %s\n   database: %s\n", s.Dataset, s.Database)
		case StepAudit:
			fmt.Fprintf(w, "   database: %s\n", s.Database)
		case StepEnv:
			keys := envfile.Keys(s.Set)
			fmt.Fprintf(w, "   dest: %s\n   keys: %s\n", s.Dest, strings.Join(keys, ", "))
			if s.SecretARN != "" {
				fmt.Fprintf(w, "   secret: %s\n", s.SecretARN)
			}
		case StepVerify:
			if len(s.Paths) == 0 {
				fmt.Fprintf(w, "   baseURL: %s (default endpoints)\n", s.BaseURL)
			} else {
				fmt.Fprintf(w, "   baseURL: %s (%d endpoints)\n", s.BaseURL, len(s.Paths))
			}
		}
		if s.Timeout > 0 {
			fmt.Fprintf(w, "   timeout: %s\n", s.Timeout)
		}
	}
}
