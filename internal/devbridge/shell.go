package devbridge

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	ptylib "github.com/creack/pty"

	"github.com/opensandbox/ptyctl/pkg/types"
)

var (
	errClosed    = errors.New("terminal closed")
	errTypeahead = errors.New("typeahead buffer full")
)

// ShellBackend runs a real shell on a pseudo-terminal of the local machine.
type ShellBackend struct {
	// Shell is used when the create request names no command. Default /bin/sh.
	Shell string
	// Env is appended to the current environment.
	Env  []string
	Cols int
	Rows int
}

// Start implements Backend.
func (b *ShellBackend) Start(req types.SessionCreateRequest, sink Sink) (Terminal, error) {
	shell := req.Command
	if shell == "" {
		shell = b.Shell
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cols, rows := b.Cols, b.Rows
	if cols <= 0 {
		cols = 120
	}
	if rows <= 0 {
		rows = 40
	}

	cmd := exec.Command(shell)
	cmd.Env = append(append(os.Environ(), "TERM=xterm-256color"), b.Env...)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}

	// Start with a real pseudo-terminal
	ptmx, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY session: %w", err)
	}

	t := &ptyTerminal{cmd: cmd, ptmx: ptmx}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				sink.Output(string(buf[:n]))
			}
			if err != nil {
				break
			}
		}
		code := 0
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		sink.Exit(code)
	}()

	return t, nil
}

type ptyTerminal struct {
	cmd  *exec.Cmd
	ptmx *os.File // master side of the pseudo-terminal (read + write)

	mu     sync.Mutex
	closed bool
}

func (t *ptyTerminal) Write(data string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errClosed
	}
	_, err := t.ptmx.Write([]byte(data))
	return err
}

func (t *ptyTerminal) Resize(cols, rows int) error {
	return ptylib.Setsize(t.ptmx, &ptylib.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

func (t *ptyTerminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.ptmx.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return nil
}
