package termtext

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStripScreenSequences(t *testing.T) {
	got := Strip("\x1b[2J\x1b[H\x1b[?25lHello World\x1b[0m")
	if got != "Hello World" {
		t.Errorf("expected %q, got %q", "Hello World", got)
	}
}

func TestStripKeepsPlainText(t *testing.T) {
	in := "PS C:\\Users\\User> dir\r\n"
	if got := Strip(in); got != in {
		t.Errorf("expected unchanged text, got %q", got)
	}
}

func TestStripIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"\x1b[31mred\x1b[0m",
		"\x1b[?1049h\x1b[1;1Hscreen\x1b[?1049l",
		// a sequence split around another one joins after the first pass
		"\x1b\x1b[0m[0mjoined",
		"\x1b[\x1b[1m2Jnested",
		"trailing escape \x1b",
		"\x1b[38;5;208mcolour\x1b[m",
	}
	for _, in := range inputs {
		once := Strip(in)
		twice := Strip(once)
		if once != twice {
			t.Errorf("Strip not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestStripNestedFragments(t *testing.T) {
	if got := Strip("\x1b\x1b[0m[0mok"); got != "ok" {
		t.Errorf("expected nested fragments removed, got %q", got)
	}
}

func TestStripAllRemovesWindowTitle(t *testing.T) {
	in := "\x1b]0;Administrator: Windows PowerShell\x07PS C:\\> \x1b[?25h"
	got := StripAll(in)
	if got != "PS C:\\> " {
		t.Errorf("expected title and cursor sequences removed, got %q", got)
	}
	if Strip(in) == got {
		t.Error("expected csi mode to leave the OSC title in place")
	}
}

func TestClean(t *testing.T) {
	in := "\x1b]0;t\x07a\x1b[0m"
	if got := Clean(in, ModeFull); got != "a" {
		t.Errorf("full mode: expected %q, got %q", "a", got)
	}
	if got := Clean(in, "bogus"); got != Strip(in) {
		t.Errorf("unknown mode should behave like csi, got %q", got)
	}
}

func TestFoldASCII(t *testing.T) {
	if got := FoldASCII("ok ✓ done"); got != "ok ? done" {
		t.Errorf("expected %q, got %q", "ok ? done", got)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 3, "llo"},
		{"hello", 10, "hello"},
		{"hello", 0, ""},
		{"héllo", 4, "éllo"},
		{"✓✓✓✓", 2, "✓✓"},
	}
	for _, tt := range tests {
		if got := Tail(tt.in, tt.n); got != tt.want {
			t.Errorf("Tail(%q, %d): expected %q, got %q", tt.in, tt.n, tt.want, got)
		}
	}
}

func TestTailBound(t *testing.T) {
	s := strings.Repeat("ab✓", 500)
	for _, n := range []int{1, 2, 7, 100, 1499, 1500, 5000} {
		if got := utf8.RuneCountInString(Tail(s, n)); got > n {
			t.Errorf("Tail(_, %d) returned %d runes", n, got)
		}
	}
}

func TestNormalizeNewlines(t *testing.T) {
	if got := NormalizeNewlines("a\r\nb\rc\n"); got != "a\nb\nc\n" {
		t.Errorf("unexpected result %q", got)
	}
}
