package devbridge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensandbox/ptyctl/pkg/payload"
)

// CommandFunc implements an emulated program. It returns stdout and the exit
// status; anything written to stderr goes straight to the terminal.
type CommandFunc func(ctx context.Context, args []string, stdin []byte, stderr *bytes.Buffer) ([]byte, int)

// interp runs one line of the small sh subset produced by payload.POSIX:
// ';' lists, '|' pipelines, '>' '>>' '<' redirections, single and double
// quotes, "$?" and "$(...)". State lives in the owning Emulator.
type interp struct {
	emu    *Emulator
	status int
}

// runTerminal runs line as typed at the prompt and returns what the terminal
// shows, with each command's errors ahead of its output.
func (in *interp) runTerminal(ctx context.Context, line string) []byte {
	var term bytes.Buffer
	for _, seg := range splitTop(line, ';') {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		var stderr bytes.Buffer
		out := in.pipeline(ctx, seg, &stderr)
		term.Write(stderr.Bytes())
		term.Write(out)
		if ctx.Err() != nil {
			in.status = 130
			break
		}
	}
	return term.Bytes()
}

// run executes line and returns its stdout, as for a command substitution.
func (in *interp) run(ctx context.Context, line string, stderr *bytes.Buffer) []byte {
	var out bytes.Buffer
	for _, seg := range splitTop(line, ';') {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		out.Write(in.pipeline(ctx, seg, stderr))
		if ctx.Err() != nil {
			in.status = 130
			break
		}
	}
	return out.Bytes()
}

func (in *interp) pipeline(ctx context.Context, seg string, stderr *bytes.Buffer) []byte {
	var data []byte
	stages := splitTop(seg, '|')
	for _, stage := range stages {
		out, status := in.stage(ctx, stage, data, stderr)
		data = out
		in.status = status
	}
	return data
}

type word struct {
	text string
	op   string // ">", ">>" or "<"
}

func (in *interp) stage(ctx context.Context, src string, stdin []byte, stderr *bytes.Buffer) ([]byte, int) {
	words, err := in.tokenize(ctx, src, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "sh: %v\n", err)
		return nil, 2
	}

	var args []string
	var outPath string
	appendOut := false
	for i := 0; i < len(words); i++ {
		w := words[i]
		if w.op == "" {
			args = append(args, w.text)
			continue
		}
		if i+1 >= len(words) || words[i+1].op != "" {
			fmt.Fprintf(stderr, "sh: syntax error near %s\n", w.op)
			return nil, 2
		}
		target := words[i+1].text
		i++
		switch w.op {
		case "<":
			b, ok := in.emu.ReadFile(target)
			if !ok {
				fmt.Fprintf(stderr, "sh: %s: No such file or directory\n", target)
				return nil, 1
			}
			stdin = b
		case ">", ">>":
			outPath = target
			appendOut = w.op == ">>"
		}
	}

	var out []byte
	status := 0
	if len(args) > 0 {
		out, status = in.exec(ctx, args, stdin, stderr)
	}
	if outPath != "" {
		if appendOut {
			in.emu.AppendFile(outPath, out)
		} else {
			in.emu.WriteFile(outPath, out)
		}
		out = nil
	}
	return out, status
}

func (in *interp) exec(ctx context.Context, args []string, stdin []byte, stderr *bytes.Buffer) ([]byte, int) {
	if fn, ok := in.emu.command(args[0]); ok {
		return fn(ctx, args[1:], stdin, stderr)
	}
	switch args[0] {
	case ":", "true":
		return nil, 0
	case "false":
		return nil, 1
	case "echo":
		return []byte(strings.Join(args[1:], " ") + "\n"), 0
	case "printf":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "printf: usage: printf format [arguments]")
			return nil, 2
		}
		return []byte(printf(args[1], args[2:])), 0
	case "cat":
		if len(args) == 1 {
			return stdin, 0
		}
		var out []byte
		for _, p := range args[1:] {
			b, ok := in.emu.ReadFile(p)
			if !ok {
				fmt.Fprintf(stderr, "cat: %s: No such file or directory\n", p)
				return out, 1
			}
			out = append(out, b...)
		}
		return out, 0
	case "rm":
		status := 0
		force := false
		for _, a := range args[1:] {
			if a == "-f" {
				force = true
				continue
			}
			if !in.emu.RemoveFile(a) && !force {
				fmt.Fprintf(stderr, "rm: cannot remove '%s': No such file or directory\n", a)
				status = 1
			}
		}
		return nil, status
	case "base64":
		return in.base64(args[1:], stdin, stderr)
	case "gunzip":
		out, err := payload.Decompress(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "gzip: stdin: %v\n", err)
			return nil, 1
		}
		return out, 0
	case "sha256sum":
		if len(args) < 2 {
			sum := sha256.Sum256(stdin)
			return []byte(hex.EncodeToString(sum[:]) + "  -\n"), 0
		}
		b, ok := in.emu.ReadFile(args[1])
		if !ok {
			fmt.Fprintf(stderr, "sha256sum: %s: No such file or directory\n", args[1])
			return nil, 1
		}
		sum := sha256.Sum256(b)
		return []byte(hex.EncodeToString(sum[:]) + "  " + args[1] + "\n"), 0
	case "cut":
		return cut(args[1:], stdin), 0
	case "test":
		if len(args) != 3 || (args[1] != "-f" && args[1] != "-e") {
			fmt.Fprintln(stderr, "test: only -f and -e are supported")
			return nil, 2
		}
		if _, ok := in.emu.ReadFile(args[2]); ok {
			return nil, 0
		}
		return nil, 1
	case "sleep":
		if len(args) < 2 {
			return nil, 1
		}
		secs, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(stderr, "sleep: invalid time interval '%s'\n", args[1])
			return nil, 1
		}
		timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, 130
		case <-timer.C:
			return nil, 0
		}
	case "exit":
		code := 0
		if len(args) > 1 {
			code, _ = strconv.Atoi(args[1])
		}
		return nil, code
	}
	fmt.Fprintf(stderr, "sh: %s: command not found\n", args[0])
	return nil, 127
}

func (in *interp) base64(args []string, stdin []byte, stderr *bytes.Buffer) ([]byte, int) {
	decode := false
	src := stdin
	for _, a := range args {
		if a == "-d" || a == "--decode" {
			decode = true
			continue
		}
		b, ok := in.emu.ReadFile(a)
		if !ok {
			fmt.Fprintf(stderr, "base64: %s: No such file or directory\n", a)
			return nil, 1
		}
		src = b
	}
	if decode {
		out, err := payload.Decode(string(src))
		if err != nil {
			fmt.Fprintln(stderr, "base64: invalid input")
			return nil, 1
		}
		return out, 0
	}
	enc := base64.StdEncoding.EncodeToString(src)
	var out strings.Builder
	for len(enc) > 76 {
		out.WriteString(enc[:76])
		out.WriteByte('\n')
		enc = enc[76:]
	}
	out.WriteString(enc)
	out.WriteByte('\n')
	return []byte(out.String()), 0
}

// tokenize splits a pipeline stage into words, expanding quotes, "$?" and
// "$(...)" as it goes.
func (in *interp) tokenize(ctx context.Context, s string, stderr *bytes.Buffer) ([]word, error) {
	var words []word
	var cur strings.Builder
	started := false
	flush := func() {
		if started {
			words = append(words, word{text: cur.String()})
		}
		cur.Reset()
		started = false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			flush()
		case c == '\'':
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote")
			}
			cur.WriteString(s[i+1 : i+1+end])
			started = true
			i += end + 1
		case c == '"':
			j := i + 1
			for ; j < len(s) && s[j] != '"'; j++ {
				switch {
				case s[j] == '\\' && j+1 < len(s) && strings.IndexByte(`"\$`, s[j+1]) >= 0:
					cur.WriteByte(s[j+1])
					j++
				case s[j] == '$':
					n, err := in.expand(ctx, s[j:], &cur, stderr)
					if err != nil {
						return nil, err
					}
					j += n - 1
				default:
					cur.WriteByte(s[j])
				}
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated quote")
			}
			started = true
			i = j
		case c == '\\' && i+1 < len(s):
			cur.WriteByte(s[i+1])
			started = true
			i++
		case c == '$':
			n, err := in.expand(ctx, s[i:], &cur, stderr)
			if err != nil {
				return nil, err
			}
			started = true
			i += n - 1
		case c == '>' || c == '<':
			flush()
			op := string(c)
			if c == '>' && i+1 < len(s) && s[i+1] == '>' {
				op = ">>"
				i++
			}
			words = append(words, word{op: op})
		default:
			cur.WriteByte(c)
			started = true
		}
	}
	flush()
	return words, nil
}

// expand handles a '$' at the start of s and returns the bytes consumed.
func (in *interp) expand(ctx context.Context, s string, cur *strings.Builder, stderr *bytes.Buffer) (int, error) {
	if strings.HasPrefix(s, "$?") {
		cur.WriteString(strconv.Itoa(in.status))
		return 2, nil
	}
	if strings.HasPrefix(s, "$(") {
		end := matchParen(s, 1)
		if end < 0 {
			return 0, fmt.Errorf("unterminated command substitution")
		}
		saved := in.status
		out := in.run(ctx, s[2:end], stderr)
		in.status = saved
		cur.WriteString(strings.TrimRight(string(out), "\n"))
		return end + 1, nil
	}
	cur.WriteByte('$')
	return 1, nil
}

// matchParen returns the index of the ')' closing the '(' at open, skipping
// quoted text.
func matchParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '\'':
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				return -1
			}
			i += end + 1
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTop splits s on sep where sep is outside quotes and substitutions.
func splitTop(s string, sep byte) []string {
	var parts []string
	start := 0
	inSingle, inDouble := false, false
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case c == '\\' && !inSingle:
			i++
		case c == '\'' && !inDouble:
			inSingle = true
		case c == '"':
			inDouble = !inDouble
		case c == '$' && i+1 < len(s) && s[i+1] == '(':
			depth++
			i++
		case c == ')' && depth > 0:
			depth--
		case c == sep && !inDouble && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// printf supports %s, %% and the \n and \\ escapes, reusing the format while
// arguments remain.
func printf(format string, args []string) string {
	var out strings.Builder
	for {
		consumed := 0
		for i := 0; i < len(format); i++ {
			c := format[i]
			switch {
			case c == '\\' && i+1 < len(format):
				i++
				switch format[i] {
				case 'n':
					out.WriteByte('\n')
				case 't':
					out.WriteByte('\t')
				default:
					out.WriteByte(format[i])
				}
			case c == '%' && i+1 < len(format):
				i++
				switch format[i] {
				case 's':
					if consumed < len(args) {
						out.WriteString(args[consumed])
					}
					consumed++
				default:
					out.WriteByte(format[i])
				}
			default:
				out.WriteByte(c)
			}
		}
		if consumed == 0 || consumed >= len(args) {
			return out.String()
		}
		args = args[consumed:]
	}
}

// cut supports -d<delim> and -f<n> with a single field.
func cut(args []string, stdin []byte) []byte {
	delim := "\t"
	field := 1
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-d" && i+1 < len(args):
			delim = args[i+1]
			i++
		case strings.HasPrefix(a, "-d"):
			delim = a[2:]
		case a == "-f" && i+1 < len(args):
			field, _ = strconv.Atoi(args[i+1])
			i++
		case strings.HasPrefix(a, "-f"):
			field, _ = strconv.Atoi(a[2:])
		}
	}
	if delim == "" || field < 1 {
		return nil
	}
	var out bytes.Buffer
	for _, line := range strings.SplitAfter(string(stdin), "\n") {
		if line == "" {
			continue
		}
		trimmed := strings.TrimSuffix(line, "\n")
		parts := strings.Split(trimmed, delim[:1])
		if field <= len(parts) {
			out.WriteString(parts[field-1])
		}
		out.WriteByte('\n')
	}
	return out.Bytes()
}
