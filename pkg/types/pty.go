package types

// Session status values reported by the bridge.
const (
	SessionActive = "active"
	SessionPaused = "paused"
	SessionClosed = "closed"
)

// SessionCreateRequest is the request body for creating a PTY session on a machine.
type SessionCreateRequest struct {
	MachineID string `json:"machine_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Command   string `json:"command,omitempty"` // program to spawn, e.g. "powershell"
	Shell     string `json:"shell,omitempty"`   // older bridges read shell instead of command
	Cwd       string `json:"cwd,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Session represents a PTY session as reported by the bridge. Buffer is only
// populated by the single-session endpoint.
type Session struct {
	ID        string `json:"id"`
	MachineID string `json:"machine_id"`
	AgentID   string `json:"agent_id,omitempty"`
	PID       int    `json:"pty_pid,omitempty"`
	Command   string `json:"command,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	ClosedAt  int64  `json:"closed_at,omitempty"`
	Buffer    string `json:"buffer,omitempty"`
}

// InputRequest injects keystrokes into a session. The caller supplies the
// line terminator.
type InputRequest struct {
	Data string `json:"data"`
}

// ResizeRequest changes the terminal size of a session.
type ResizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Ack is the bridge's acknowledgement for input, resize and close calls.
type Ack struct {
	Status string `json:"status"`
}
