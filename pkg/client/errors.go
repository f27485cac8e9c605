package client

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the remote command protocol.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNetwork covers transport failures and undecodable responses.
	KindNetwork
	// KindAPI is a non-2xx response from the bridge.
	KindAPI
	// KindRemoteTimeout means the wait deadline passed before the marker appeared.
	KindRemoteTimeout
	// KindMarkerNotFound means every poll attempt was used without seeing the marker.
	KindMarkerNotFound
	// KindDecodeMismatch means a transferred file does not match the local payload.
	KindDecodeMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindAPI:
		return "bridge API error"
	case KindRemoteTimeout:
		return "remote timeout"
	case KindMarkerNotFound:
		return "marker not found"
	case KindDecodeMismatch:
		return "decode mismatch"
	default:
		return "unknown error"
	}
}

// Error is returned by every Client operation that talks to the bridge.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int // HTTP status for KindAPI
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrRemoteTimeout)
// works for any wrapped *Error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Status == 0 && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrAPI            = &Error{Kind: KindAPI}
	ErrRemoteTimeout  = &Error{Kind: KindRemoteTimeout}
	ErrMarkerNotFound = &Error{Kind: KindMarkerNotFound}
	ErrDecodeMismatch = &Error{Kind: KindDecodeMismatch}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a 404 from the bridge, which means the
// session or machine no longer exists.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAPI && e.Status == 404
}

func apiError(op string, status int, body string) *Error {
	return &Error{Kind: KindAPI, Op: op, Status: status, Err: fmt.Errorf("API error (status %d): %s", status, body)}
}
