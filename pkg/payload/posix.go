package payload

import (
	"fmt"
	"strings"
)

// POSIX renders commands for sh-compatible shells with coreutils.
type POSIX struct{}

func (POSIX) Name() string { return DialectPOSIX }

// Quote returns a single-quoted sh literal.
func (POSIX) Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func (p POSIX) ClearFile(path string) string {
	return fmt.Sprintf(": > %s", p.Quote(path))
}

func (p POSIX) AppendChunk(path, chunk string) string {
	return fmt.Sprintf("printf '%%s' %s >> %s", p.Quote(chunk), p.Quote(path))
}

func (p POSIX) WriteBase64(path, b64 string) string {
	return fmt.Sprintf("printf '%%s' %s | base64 -d > %s", p.Quote(b64), p.Quote(path))
}

func (p POSIX) DecodeFile(src, dst string, compressed bool) string {
	if compressed {
		return fmt.Sprintf("base64 -d %s | gunzip -c > %s", p.Quote(src), p.Quote(dst))
	}
	return fmt.Sprintf("base64 -d %s > %s", p.Quote(src), p.Quote(dst))
}

func (p POSIX) PrintHash(path string, m Marker) string {
	return fmt.Sprintf("printf '%%s%%s:%%s\\n' %s %s \"$(sha256sum %s | cut -d' ' -f1)\"",
		p.Quote(m.Head), p.Quote(m.Tail), p.Quote(path))
}

func (p POSIX) DumpBase64(path string) string {
	return fmt.Sprintf("base64 < %s", p.Quote(path))
}

func (p POSIX) RemoveFile(path string) string {
	return fmt.Sprintf("rm -f %s", p.Quote(path))
}

func (p POSIX) FileExists(path string) string {
	return fmt.Sprintf("test -f %s", p.Quote(path))
}

func (p POSIX) Sentinel(cmd string, m Marker) string {
	return fmt.Sprintf("%s; printf '%%s%%s:%%s\\n' %s %s \"$?\"", cmd, p.Quote(m.Head), p.Quote(m.Tail))
}

func (p POSIX) Echo(m Marker) string {
	return fmt.Sprintf("printf '%%s%%s\\n' %s %s", p.Quote(m.Head), p.Quote(m.Tail))
}

func (p POSIX) RunPython(python, script string) string {
	if python == "" {
		python = "python3"
	}
	return fmt.Sprintf("%s %s", p.Quote(python), p.Quote(script))
}
