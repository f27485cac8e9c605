package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensandbox/ptyctl/internal/termtext"
	"github.com/opensandbox/ptyctl/pkg/payload"
	"github.com/opensandbox/ptyctl/pkg/types"
)

// downloadWindow is the read window used for base64 dumps.
const downloadWindow = 8 << 20

// sendAndWait types command and waits for marker. The marker is fresh, so
// the whole buffer is searched. Bridges may serve only a sliding window of
// recent output whose length stays roughly constant.
func (c *Client) sendAndWait(ctx context.Context, sessionID, command, marker string, opts WaitOptions) (*WaitResult, error) {
	if _, err := c.Send(ctx, sessionID, command); err != nil {
		return nil, err
	}
	return c.WaitForMarker(ctx, sessionID, marker, opts)
}

// Exec runs command in the session and waits for it to finish. The command is
// wrapped so the shell prints a one-off marker and the exit status when it
// completes. A non-zero exit code is not an error; a wait that runs out
// returns the partial result together with the wait error.
func (c *Client) Exec(ctx context.Context, sessionID, command string, opts WaitOptions) (*types.CommandResult, error) {
	m := payload.NewMarker("")
	result := &types.CommandResult{
		CommandID: uuid.New().String(),
		SessionID: sessionID,
		Marker:    m.String(),
		ExitCode:  -1,
	}

	start := time.Now()
	wr, err := c.sendAndWait(ctx, sessionID, c.dialect.Sentinel(command, m), m.String()+":", opts)
	result.Duration = time.Since(start)
	if wr != nil {
		result.Attempts = wr.Attempts
		result.Output = extractOutput(wr.Output, m)
	}
	if err != nil {
		return result, err
	}

	code, ok := parseExitCode(wr.Output, m)
	if !ok {
		return result, &Error{Kind: KindMarkerNotFound, Op: "exec", Err: fmt.Errorf("no exit status after marker %s", m)}
	}
	result.ExitCode = code
	return result, nil
}

// Settle types an echo of a fresh marker and waits for it. Because the shell
// reads input in order, a settled marker means every command typed before it
// has finished.
func (c *Client) Settle(ctx context.Context, sessionID string, opts WaitOptions) (*WaitResult, error) {
	m := payload.NewMarker("")
	return c.sendAndWait(ctx, sessionID, c.dialect.Echo(m), m.String(), opts)
}

// Download reads a remote file by dumping it as base64 into the terminal.
// It is only practical for small files.
func (c *Client) Download(ctx context.Context, sessionID, remotePath string, opts WaitOptions) ([]byte, error) {
	if opts.Window <= 0 {
		opts.Window = downloadWindow
	}
	res, err := c.Exec(ctx, sessionID, c.dialect.DumpBase64(remotePath), opts)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("download %s: remote exited with %d: %s", remotePath, res.ExitCode, termtext.Tail(res.Output, 200))
	}
	data, err := payload.Decode(res.Output)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", remotePath, err)
	}
	return data, nil
}

// FileExists reports whether remotePath is a regular file. Any answer other
// than a clean yes or no from the remote shell is an error.
func (c *Client) FileExists(ctx context.Context, sessionID, remotePath string, opts WaitOptions) (bool, error) {
	res, err := c.Exec(ctx, sessionID, c.dialect.FileExists(remotePath), opts)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	}
	return false, fmt.Errorf("stat %s: remote exited with %d: %s", remotePath, res.ExitCode, termtext.Tail(res.Output, 200))
}

// parseExitCode reads the integer printed after the last "marker:" in text.
func parseExitCode(text string, m payload.Marker) (int, bool) {
	tag := m.String() + ":"
	i := strings.LastIndex(text, tag)
	if i < 0 {
		return 0, false
	}
	rest := text[i+len(tag):]
	end := 0
	for end < len(rest) && (rest[end] >= '0' && rest[end] <= '9' || end == 0 && rest[end] == '-') {
		end++
	}
	code, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return code, true
}

// extractOutput returns the text between the echoed command and the marker
// line. The echo is the last line before the marker that contains the marker
// head, which only the typed command does.
func extractOutput(text string, m payload.Marker) string {
	text = termtext.NormalizeNewlines(text)
	body := text
	if end := strings.LastIndex(text, m.String()+":"); end >= 0 {
		body = text[:end]
	} else if end := strings.LastIndex(text, m.String()); end >= 0 {
		body = text[:end]
	}
	if i := strings.LastIndex(body, m.Head); i >= 0 {
		if nl := strings.IndexByte(body[i:], '\n'); nl >= 0 {
			body = body[i+nl+1:]
		} else {
			body = ""
		}
	}
	return strings.Trim(body, "\n")
}
