package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/opensandbox/ptyctl/internal/metrics"
	"github.com/opensandbox/ptyctl/pkg/payload"
)

// Transfer defaults.
const (
	DefaultChunkSize  = 6000
	DefaultChunkDelay = 300 * time.Millisecond
)

// TransferState tracks a large payload transfer.
type TransferState int

const (
	TransferIdle TransferState = iota
	TransferWriting
	TransferDecoding
	// TransferDecoded means the decode finished but the hash was not checked.
	TransferDecoded
	TransferVerified
	TransferFailed
)

func (s TransferState) String() string {
	switch s {
	case TransferIdle:
		return "idle"
	case TransferWriting:
		return "writing"
	case TransferDecoding:
		return "decoding"
	case TransferDecoded:
		return "decoded"
	case TransferVerified:
		return "verified"
	case TransferFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transfer describes a payload written to a remote file through typed input.
type Transfer struct {
	RemotePath   string        `json:"remotePath"`
	TempPath     string        `json:"tempPath,omitempty"`
	State        TransferState `json:"-"`
	Compressed   bool          `json:"compressed"`
	Size         int           `json:"size"`
	EncodedLen   int           `json:"encodedLen"`
	Chunks       int           `json:"chunks"`
	ChunksSent   int           `json:"chunksSent"`
	SHA256       string        `json:"sha256"`
	RemoteSHA256 string        `json:"remoteSha256,omitempty"`
	Duration     time.Duration `json:"duration"`
}

type transferConfig struct {
	compress   bool
	tempPath   string
	chunkDelay time.Duration
	verify     bool
	wait       WaitOptions
	progress   func(sent, total int)
}

// TransferOption configures SendLargePayload.
type TransferOption func(*transferConfig)

// WithCompression gzips the payload before encoding it.
func WithCompression() TransferOption {
	return func(cfg *transferConfig) { cfg.compress = true }
}

// WithTempPath sets the remote file that accumulates base64 chunks.
// The default is remotePath + ".b64".
func WithTempPath(p string) TransferOption {
	return func(cfg *transferConfig) { cfg.tempPath = p }
}

// WithChunkDelay sets the pause between chunks.
func WithChunkDelay(d time.Duration) TransferOption {
	return func(cfg *transferConfig) { cfg.chunkDelay = d }
}

// WithoutVerify skips the remote hash comparison.
func WithoutVerify() TransferOption {
	return func(cfg *transferConfig) { cfg.verify = false }
}

// WithTransferWait sets the wait used for the decode and hash steps.
func WithTransferWait(o WaitOptions) TransferOption {
	return func(cfg *transferConfig) { cfg.wait = o }
}

// WithProgress is called after each chunk is accepted by the bridge.
func WithProgress(fn func(sent, total int)) TransferOption {
	return func(cfg *transferConfig) { cfg.progress = fn }
}

// SendLargePayload writes data to remotePath on the machine behind a session.
// The payload is base64 encoded, typed into a temporary file in chunks of at
// most chunkSize characters, decoded on the remote side and, unless
// WithoutVerify is given, checked against the local SHA-256. The returned
// Transfer is populated on failure too.
func (c *Client) SendLargePayload(ctx context.Context, sessionID string, data []byte, remotePath string, chunkSize int, opts ...TransferOption) (*Transfer, error) {
	cfg := transferConfig{chunkDelay: DefaultChunkDelay, verify: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if remotePath == "" {
		return nil, fmt.Errorf("transfer: remote path is empty")
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("transfer: chunk size must be at least 1, got %d", chunkSize)
	}

	start := time.Now()
	sum := sha256.Sum256(data)
	t := &Transfer{
		RemotePath: remotePath,
		State:      TransferIdle,
		Compressed: cfg.compress,
		Size:       len(data),
		SHA256:     hex.EncodeToString(sum[:]),
	}
	fail := func(err error) (*Transfer, error) {
		t.State = TransferFailed
		t.Duration = time.Since(start)
		metrics.TransfersTotal.WithLabelValues(t.State.String()).Inc()
		c.logf("client: transfer to %s failed after %d/%d chunks: %v", remotePath, t.ChunksSent, t.Chunks, err)
		return t, err
	}

	body := data
	if cfg.compress {
		var err error
		if body, err = payload.Compress(data); err != nil {
			return fail(err)
		}
	}
	encoded := payload.Encode(body)
	chunks, err := payload.Chunk(encoded, chunkSize)
	if err != nil {
		return fail(err)
	}
	t.EncodedLen = len(encoded)
	t.Chunks = len(chunks)

	t.State = TransferWriting
	if len(chunks) <= 1 && !cfg.compress {
		if _, err := c.Send(ctx, sessionID, c.dialect.WriteBase64(remotePath, encoded)); err != nil {
			return fail(err)
		}
		t.ChunksSent = t.Chunks
		metrics.TransferChunksTotal.Add(float64(t.Chunks))
		if cfg.progress != nil {
			cfg.progress(t.ChunksSent, t.Chunks)
		}
		t.State = TransferDecoding
	} else {
		t.TempPath = cfg.tempPath
		if t.TempPath == "" {
			t.TempPath = remotePath + ".b64"
		}
		if _, err := c.Send(ctx, sessionID, c.dialect.ClearFile(t.TempPath)); err != nil {
			return fail(err)
		}
		for i, chunk := range chunks {
			if _, err := c.Send(ctx, sessionID, c.dialect.AppendChunk(t.TempPath, chunk)); err != nil {
				return fail(fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err))
			}
			t.ChunksSent = i + 1
			metrics.TransferChunksTotal.Inc()
			if cfg.progress != nil {
				cfg.progress(t.ChunksSent, t.Chunks)
			}
			if cfg.chunkDelay > 0 && i < len(chunks)-1 {
				if err := sleepContext(ctx, cfg.chunkDelay); err != nil {
					return fail(err)
				}
			}
		}
		t.State = TransferDecoding
		if _, err := c.Send(ctx, sessionID, c.dialect.DecodeFile(t.TempPath, remotePath, cfg.compress)); err != nil {
			return fail(err)
		}
	}

	if _, err := c.Settle(ctx, sessionID, cfg.wait); err != nil {
		return fail(fmt.Errorf("decode: %w", err))
	}

	if cfg.verify {
		remote, err := c.RemoteHash(ctx, sessionID, remotePath, cfg.wait)
		if err != nil {
			return fail(err)
		}
		t.RemoteSHA256 = remote
		if remote != t.SHA256 {
			return fail(&Error{Kind: KindDecodeMismatch, Op: "transfer",
				Err: fmt.Errorf("remote sha256 %s does not match local %s", remote, t.SHA256)})
		}
	}

	if t.TempPath != "" {
		if _, err := c.Send(ctx, sessionID, c.dialect.RemoveFile(t.TempPath)); err != nil {
			c.logf("client: remove %s: %v", t.TempPath, err)
		}
	}

	if cfg.verify {
		t.State = TransferVerified
	} else {
		t.State = TransferDecoded
	}
	t.Duration = time.Since(start)
	metrics.TransfersTotal.WithLabelValues(t.State.String()).Inc()
	metrics.TransferBytesTotal.Add(float64(t.Size))
	return t, nil
}

// RemoteHash returns the lowercase hex SHA-256 of a remote file.
func (c *Client) RemoteHash(ctx context.Context, sessionID, remotePath string, opts WaitOptions) (string, error) {
	m := payload.NewMarker("")
	wr, err := c.sendAndWait(ctx, sessionID, c.dialect.PrintHash(remotePath, m), m.String()+":", opts)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", remotePath, err)
	}
	tag := m.String() + ":"
	i := strings.LastIndex(wr.Output, tag)
	if i < 0 {
		return "", &Error{Kind: KindDecodeMismatch, Op: "transfer", Err: fmt.Errorf("hash line for %s scrolled out of the read window", remotePath)}
	}
	rest := wr.Output[i+len(tag):]
	if len(rest) < sha256.Size*2 || !isHex(rest[:sha256.Size*2]) {
		return "", &Error{Kind: KindDecodeMismatch, Op: "transfer", Err: fmt.Errorf("no readable hash for %s", remotePath)}
	}
	return strings.ToLower(rest[:sha256.Size*2]), nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
