package client

import (
	"context"
	"net/http"
	"unicode/utf8"

	"github.com/opensandbox/ptyctl/internal/termtext"
	"github.com/opensandbox/ptyctl/pkg/types"
)

// rawWindowFactor bounds how much raw buffer is stripped for a read of n
// characters. Escape-heavy screens need more than n raw bytes per n visible
// characters; beyond this factor the tail is considered lost to redraws.
const rawWindowFactor = 16

// ReadOutput returns the last maxChars characters of a session's buffer with
// escape sequences removed. maxChars <= 0 uses the client's read window. A
// session whose buffer is missing reads as "".
func (c *Client) ReadOutput(ctx context.Context, sessionID string, maxChars int) (string, error) {
	raw, err := c.rawBuffer(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if maxChars <= 0 {
		maxChars = c.window
	}
	return c.clean(tailBytes(raw, maxChars*rawWindowFactor), maxChars), nil
}

// rawBuffer fetches the unprocessed terminal buffer.
func (c *Client) rawBuffer(ctx context.Context, sessionID string) (string, error) {
	var s types.Session
	if err := c.call(ctx, "read", http.MethodGet, sessionPath(sessionID, ""), nil, &s); err != nil {
		return "", err
	}
	return s.Buffer, nil
}

// clean strips, optionally folds and truncates raw terminal text. Truncation
// happens last so the result never exceeds maxChars visible characters.
func (c *Client) clean(raw string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = c.window
	}
	text := termtext.Clean(raw, c.stripMode)
	if c.foldASCII {
		text = termtext.FoldASCII(text)
	}
	return termtext.Tail(text, maxChars)
}

// tailBytes keeps at most n trailing bytes of s, starting on a rune boundary.
func tailBytes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
