// Package termtext cleans terminal output captured from a PTY buffer.
package termtext

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// Strip modes.
const (
	ModeCSI  = "csi"  // CSI and private-mode sequences only
	ModeFull = "full" // every escape sequence, including OSC window titles
)

// csiPattern matches `ESC [ params letter` and `ESC [ ? params letter`.
var csiPattern = regexp.MustCompile(`\x1b\[\??[0-9;]*[a-zA-Z]`)

// Strip removes CSI and private-mode sequences. Removal repeats until nothing
// matches, so fragments that join into a new sequence after one pass are
// removed too and Strip(Strip(s)) == Strip(s).
func Strip(s string) string {
	for {
		out := csiPattern.ReplaceAllString(s, "")
		if out == s {
			return out
		}
		s = out
	}
}

// StripAll removes every escape sequence the ansi parser recognises, then
// applies Strip for anything left behind by malformed input.
func StripAll(s string) string {
	return Strip(ansi.Strip(s))
}

// Clean applies the strip mode named by mode. Unknown modes fall back to ModeCSI.
func Clean(s, mode string) string {
	if mode == ModeFull {
		return StripAll(s)
	}
	return Strip(s)
}

// ValidMode reports whether mode names a strip mode.
func ValidMode(mode string) bool {
	return mode == ModeCSI || mode == ModeFull
}

// FoldASCII replaces every non-ASCII rune with '?'. Windows consoles often
// emit box-drawing and code-page artifacts that are noise in logs.
func FoldASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

// Tail returns the last n runes of s. n <= 0 returns "".
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		// byte length bounds rune count
		return s
	}
	count := 0
	for i := len(s); i > 0; {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
		count++
		if count == n {
			return s[i:]
		}
	}
	return s
}

// NormalizeNewlines converts CRLF and lone CR line endings to LF.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
