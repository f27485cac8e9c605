package devbridge

import "github.com/opensandbox/ptyctl/pkg/types"

// Sink receives what a terminal writes.
type Sink interface {
	Output(data string)
	Exit(code int)
}

// Terminal is one running shell behind a session.
type Terminal interface {
	Write(data string) error
	Resize(cols, rows int) error
	Close() error
}

// Backend starts terminals for new sessions.
type Backend interface {
	Start(req types.SessionCreateRequest, sink Sink) (Terminal, error)
}
