package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensandbox/ptyctl/pkg/types"
)

const streamHandshakeTimeout = 10 * time.Second

// Stream is a live subscription to a session over the bridge WebSocket.
type Stream struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex // guards writes
}

// OpenStream dials the bridge WebSocket at wsURL, authenticates and
// subscribes to sessionID. The first frame returned by Next is normally the
// session's buffer.
func (c *Client) OpenStream(ctx context.Context, wsURL, sessionID string) (*Stream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: streamHandshakeTimeout}
	header := http.Header{}
	if c.token != "" {
		header.Set("X-API-Token", c.token)
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: "stream", Err: err}
	}
	s := &Stream{conn: conn, sessionID: sessionID}

	deadline := time.Now().Add(streamHandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	if err := s.write(types.StreamRequest{Type: types.FrameAuth, Payload: &types.StreamPayload{Token: c.token}}); err != nil {
		conn.Close()
		return nil, &Error{Kind: KindNetwork, Op: "stream", Err: err}
	}
	for {
		f, err := s.Next()
		if err != nil {
			conn.Close()
			return nil, &Error{Kind: KindNetwork, Op: "stream", Err: fmt.Errorf("waiting for auth: %w", err)}
		}
		if f.Type == types.FrameError {
			conn.Close()
			return nil, &Error{Kind: KindAPI, Op: "stream", Err: fmt.Errorf("bridge: %s", f.Text())}
		}
		if f.Type != types.FrameAuth {
			continue
		}
		if !f.Success {
			conn.Close()
			return nil, &Error{Kind: KindAPI, Op: "stream", Status: http.StatusUnauthorized, Err: fmt.Errorf("authentication rejected")}
		}
		break
	}
	_ = conn.SetReadDeadline(time.Time{})

	if err := s.write(types.StreamRequest{Type: types.FrameSubscribe, Payload: &types.StreamPayload{SessionID: sessionID}}); err != nil {
		conn.Close()
		return nil, &Error{Kind: KindNetwork, Op: "stream", Err: err}
	}
	return s, nil
}

// SessionID returns the subscribed session.
func (s *Stream) SessionID() string { return s.sessionID }

// Next blocks until the next frame arrives.
func (s *Stream) Next() (*types.StreamFrame, error) {
	var f types.StreamFrame
	if err := s.conn.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// SendInput types data into the session. No terminator is added.
func (s *Stream) SendInput(data string) error {
	return s.write(types.StreamRequest{Type: types.FrameInput, Payload: &types.StreamPayload{SessionID: s.sessionID, Data: data}})
}

// Resize changes the session's terminal size.
func (s *Stream) Resize(cols, rows int) error {
	return s.write(types.StreamRequest{Type: types.FrameResize, Payload: &types.StreamPayload{SessionID: s.sessionID, Cols: cols, Rows: rows}})
}

// Ping asks the bridge for a pong frame.
func (s *Stream) Ping() error {
	return s.write(types.StreamRequest{Type: types.FramePing})
}

// Close unsubscribes and closes the connection.
func (s *Stream) Close() error {
	_ = s.write(types.StreamRequest{Type: types.FrameUnsubscribe, Payload: &types.StreamPayload{SessionID: s.sessionID}})
	s.mu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Stream) write(req types.StreamRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(req)
}
