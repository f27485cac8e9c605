package types

import "encoding/json"

// Stream frame types exchanged over the bridge WebSocket.
const (
	FrameAuth        = "auth"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameInput       = "input"
	FrameResize      = "resize"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameBuffer      = "buffer"
	FrameOutput      = "output"
	FrameExit        = "exit"
	FrameError       = "error"
)

// StreamRequest is a client-to-bridge WebSocket frame.
type StreamRequest struct {
	Type    string         `json:"type"`
	Payload *StreamPayload `json:"payload,omitempty"`
}

// StreamPayload carries the fields used by auth, subscribe, input and resize frames.
type StreamPayload struct {
	Token     string `json:"token,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Data      string `json:"data,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// StreamFrame is a bridge-to-client WebSocket frame. Payload is a string for
// buffer, output and error frames and an object for exit frames.
type StreamFrame struct {
	Type      string          `json:"type"`
	Success   bool            `json:"success,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Text returns the payload decoded as a string, or "" if it is not one.
func (f *StreamFrame) Text() string {
	var s string
	if err := json.Unmarshal(f.Payload, &s); err != nil {
		return ""
	}
	return s
}

// ExitCode returns the code carried by an exit frame, or -1.
func (f *StreamFrame) ExitCode() int {
	var p struct {
		Code *int `json:"code"`
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil || p.Code == nil {
		return -1
	}
	return *p.Code
}
