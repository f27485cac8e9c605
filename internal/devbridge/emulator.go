package devbridge

import (
	"context"
	"strings"
	"sync"

	"github.com/opensandbox/ptyctl/pkg/types"
)

// DefaultPrompt is colourised so stripping is exercised on every read.
const DefaultPrompt = "\x1b[32m$\x1b[0m "

// Emulator is a Backend that fakes a POSIX machine. Every session shares one
// in-memory filesystem, which tests inspect with ReadFile.
type Emulator struct {
	// Prompt is written after each command. Empty means DefaultPrompt.
	Prompt string

	mu       sync.RWMutex
	files    map[string][]byte
	commands map[string]CommandFunc
}

// NewEmulator returns an emulator with an empty filesystem.
func NewEmulator() *Emulator {
	return &Emulator{
		files:    make(map[string][]byte),
		commands: make(map[string]CommandFunc),
	}
}

// Handle registers an emulated program, overriding any builtin of that name.
func (e *Emulator) Handle(name string, fn CommandFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands[name] = fn
}

func (e *Emulator) command(name string) (CommandFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.commands[name]
	return fn, ok
}

// ReadFile returns a copy of the file at path.
func (e *Emulator) ReadFile(path string) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.files[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// WriteFile replaces the file at path.
func (e *Emulator) WriteFile(path string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[path] = append([]byte(nil), data...)
}

// AppendFile appends to the file at path, creating it if needed.
func (e *Emulator) AppendFile(path string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[path] = append(e.files[path], data...)
}

// RemoveFile deletes path and reports whether it existed.
func (e *Emulator) RemoveFile(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.files[path]
	delete(e.files, path)
	return ok
}

// Start implements Backend.
func (e *Emulator) Start(req types.SessionCreateRequest, sink Sink) (Terminal, error) {
	prompt := e.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	sh := &emuShell{
		emu:    e,
		sink:   sink,
		prompt: prompt,
		lines:  make(chan string, 1024),
		done:   make(chan struct{}),
	}
	sh.interp = &interp{emu: e}
	go sh.loop()
	sink.Output(prompt)
	return sh, nil
}

// emuShell turns keystrokes into lines and runs them one at a time, like a
// shell reading from its terminal.
type emuShell struct {
	emu    *Emulator
	sink   Sink
	prompt string
	interp *interp

	mu      sync.Mutex
	pending strings.Builder
	lastCR  bool
	cancel  context.CancelFunc
	closed  bool

	lines chan string
	done  chan struct{}
}

func (s *emuShell) Write(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	for _, r := range data {
		switch r {
		case '\x03':
			s.pending.Reset()
			// the terminal driver flushes typeahead on SIGINT
			for len(s.lines) > 0 {
				<-s.lines
			}
			if s.cancel != nil {
				s.cancel()
			}
			s.sink.Output("^C\r\n" + s.prompt)
		case '\r', '\n':
			if r == '\n' && s.lastCR {
				s.lastCR = false
				continue
			}
			s.lastCR = r == '\r'
			line := s.pending.String()
			s.pending.Reset()
			select {
			case s.lines <- line:
			default:
				return errTypeahead
			}
			continue
		default:
			s.pending.WriteRune(r)
		}
		s.lastCR = false
	}
	return nil
}

func (s *emuShell) loop() {
	defer close(s.done)
	for line := range s.lines {
		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()

		s.sink.Output(line + "\r\n")
		out := s.interp.runTerminal(ctx, line)
		interrupted := ctx.Err() != nil
		cancel()

		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()

		if interrupted {
			// ^C already printed a fresh prompt
			continue
		}
		s.sink.Output(strings.ReplaceAll(string(out), "\n", "\r\n") + s.prompt)
	}
}

func (s *emuShell) Resize(cols, rows int) error { return nil }

func (s *emuShell) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	close(s.lines)
	s.mu.Unlock()
	<-s.done
	s.sink.Exit(0)
	return nil
}
