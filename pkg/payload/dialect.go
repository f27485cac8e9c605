package payload

import (
	"fmt"
	"strings"
)

// Dialect renders the remote commands used by the transfer and exec
// protocols for one shell family. Every method returns a single command line
// without a line terminator.
type Dialect interface {
	Name() string
	Quote(s string) string

	// ClearFile truncates (or creates) path.
	ClearFile(path string) string
	// AppendChunk appends text to path without a trailing newline.
	AppendChunk(path, chunk string) string
	// WriteBase64 decodes b64 straight into path.
	WriteBase64(path, b64 string) string
	// DecodeFile decodes the base64 text in src into dst, gunzipping when compressed.
	DecodeFile(src, dst string, compressed bool) string
	// PrintHash prints "<marker>:<lowercase sha256 hex>" for path.
	PrintHash(path string, m Marker) string
	// DumpBase64 prints the base64 encoding of path.
	DumpBase64(path string) string
	// RemoveFile deletes path, ignoring a missing file.
	RemoveFile(path string) string
	// FileExists exits 0 when path is a regular file and 1 otherwise.
	FileExists(path string) string
	// Sentinel runs cmd and then prints "<marker>:<exit status>".
	Sentinel(cmd string, m Marker) string
	// Echo prints the marker on its own line.
	Echo(m Marker) string
	// RunPython runs a script file with the given interpreter.
	RunPython(python, script string) string
}

// Dialect names.
const (
	DialectPowerShell = "powershell"
	DialectPOSIX      = "posix"
)

// DialectByName returns the dialect registered under name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DialectPowerShell, "pwsh", "ps":
		return PowerShell{}, nil
	case DialectPOSIX, "sh", "bash":
		return POSIX{}, nil
	default:
		return nil, fmt.Errorf("unknown shell dialect %q", name)
	}
}
