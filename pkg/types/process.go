package types

import "time"

// CommandResult is the outcome of a command executed through a session with a
// completion marker.
type CommandResult struct {
	CommandID string        `json:"commandId"`
	SessionID string        `json:"sessionId"`
	Marker    string        `json:"marker"`
	ExitCode  int           `json:"exitCode"`
	Output    string        `json:"output"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
}
