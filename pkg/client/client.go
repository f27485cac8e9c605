package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/opensandbox/ptyctl/internal/metrics"
	"github.com/opensandbox/ptyctl/internal/termtext"
	"github.com/opensandbox/ptyctl/pkg/payload"
	"github.com/opensandbox/ptyctl/pkg/types"
)

// Defaults used by NewClient.
const (
	DefaultReadWindow     = 8000
	DefaultLineTerminator = "\r\n"
	DefaultTimeout        = 30 * time.Second
	// The bridge allows 100 requests per minute per IP.
	DefaultRatePerMinute = 90
	DefaultRateBurst     = 10
)

// Client is an HTTP client for a PTY bridge. It is safe for concurrent use,
// but the remote sessions it drives are not: two callers typing into the
// same session interleave their commands.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	dialect    payload.Dialect
	terminator string
	stripMode  string
	foldASCII  bool
	window     int
	logger     *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit sets the client-side request budget. perMinute <= 0 disables limiting.
func WithRateLimit(perMinute, burst int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

// WithDialect selects the remote shell dialect used by Exec and transfers.
func WithDialect(d payload.Dialect) Option {
	return func(c *Client) { c.dialect = d }
}

// WithLineTerminator overrides the "\r\n" appended by Send.
func WithLineTerminator(s string) Option {
	return func(c *Client) { c.terminator = s }
}

// WithStripMode selects termtext.ModeCSI or termtext.ModeFull.
func WithStripMode(mode string) Option {
	return func(c *Client) { c.stripMode = mode }
}

// WithASCIIFold replaces non-ASCII runes in read output with '?'.
func WithASCIIFold(fold bool) Option {
	return func(c *Client) { c.foldASCII = fold }
}

// WithReadWindow sets the number of characters returned when a read asks for <= 0.
func WithReadWindow(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithLogger enables per-request logging.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a bridge client. token may be empty for bridges without auth.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/DefaultRatePerMinute), DefaultRateBurst),
		dialect:    payload.PowerShell{},
		terminator: DefaultLineTerminator,
		stripMode:  termtext.ModeCSI,
		window:     DefaultReadWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dialect returns the shell dialect used for generated commands.
func (c *Client) Dialect() payload.Dialect { return c.dialect }

// BaseURL returns the bridge base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// doRequest performs an HTTP request with token authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-API-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

// call runs one bridge request, records metrics and decodes a 2xx body into out.
func (c *Client) call(ctx context.Context, op, method, path string, body, out interface{}) error {
	start := time.Now()
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		metrics.BridgeRequestsTotal.WithLabelValues(op, "error").Inc()
		c.logf("client: %s %s failed: %v", method, path, err)
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	metrics.BridgeRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	metrics.BridgeRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	c.logf("client: %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apiError(op, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func sessionPath(sessionID string, suffix string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + suffix
}

// Health checks the bridge. It does not require a token.
func (c *Client) Health(ctx context.Context) (*types.Health, error) {
	var h types.Health
	if err := c.call(ctx, "health", http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListMachines lists machines registered with the bridge.
func (c *Client) ListMachines(ctx context.Context) ([]types.Machine, error) {
	var machines []types.Machine
	if err := c.call(ctx, "list_machines", http.MethodGet, "/api/machines", nil, &machines); err != nil {
		return nil, err
	}
	return machines, nil
}

// ListSessions lists active sessions, optionally only those on machineID.
func (c *Client) ListSessions(ctx context.Context, machineID string) ([]types.Session, error) {
	path := "/api/sessions"
	if machineID != "" {
		path += "?machine=" + url.QueryEscape(machineID)
	}
	var sessions []types.Session
	if err := c.call(ctx, "list_sessions", http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession spawns a new PTY on a machine.
func (c *Client) CreateSession(ctx context.Context, req types.SessionCreateRequest) (*types.Session, error) {
	if req.MachineID == "" {
		return nil, fmt.Errorf("create session: machine id is required")
	}
	if req.Command == "" {
		req.Command = req.Shell
	}
	var s types.Session
	if err := c.call(ctx, "create_session", http.MethodPost, "/api/sessions", req, &s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, &Error{Kind: KindNetwork, Op: "create_session", Err: fmt.Errorf("bridge returned no session id")}
	}
	return &s, nil
}

// GetSession returns a session including its full buffer.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var s types.Session
	if err := c.call(ctx, "get_session", http.MethodGet, sessionPath(sessionID, ""), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CloseSession kills the PTY behind a session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) (*types.Ack, error) {
	var ack types.Ack
	if err := c.call(ctx, "close_session", http.MethodDelete, sessionPath(sessionID, ""), nil, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Resize changes a session's terminal size.
func (c *Client) Resize(ctx context.Context, sessionID string, cols, rows int) (*types.Ack, error) {
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("resize: cols and rows must be positive")
	}
	var ack types.Ack
	if err := c.call(ctx, "resize", http.MethodPost, sessionPath(sessionID, "/resize"), types.ResizeRequest{Cols: cols, Rows: rows}, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Send types command followed by the line terminator as one input event. The
// acknowledgement only means the bridge accepted the keystrokes; nothing
// about the command's outcome is known when Send returns.
func (c *Client) Send(ctx context.Context, sessionID, command string) (*types.Ack, error) {
	return c.SendRaw(ctx, sessionID, command+c.terminator)
}

// SendRaw injects data without adding a terminator.
func (c *Client) SendRaw(ctx context.Context, sessionID, data string) (*types.Ack, error) {
	if data == "" {
		return nil, fmt.Errorf("send: data is empty")
	}
	var ack types.Ack
	if err := c.call(ctx, "send", http.MethodPost, sessionPath(sessionID, "/input"), types.InputRequest{Data: data}, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Interrupt sends Ctrl-C, the only way to stop a running remote command.
func (c *Client) Interrupt(ctx context.Context, sessionID string) (*types.Ack, error) {
	return c.SendRaw(ctx, sessionID, "\x03")
}
