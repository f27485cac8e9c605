// Package envfile reads and rewrites dotenv files that may have been saved
// as UTF-16 by Windows editors.
package envfile

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// IsUTF16 reports whether raw looks like UTF-16: a byte order mark in the
// first four bytes or a NUL in the first ten.
func IsUTF16(raw []byte) bool {
	head := raw
	if len(head) > 4 {
		head = head[:4]
	}
	if bytes.Contains(head, []byte{0xff, 0xfe}) || bytes.Contains(head, []byte{0xfe, 0xff}) {
		return true
	}
	head = raw
	if len(head) > 10 {
		head = head[:10]
	}
	return bytes.IndexByte(head, 0) >= 0
}

// Decode returns raw as UTF-8 text with any BOM removed and CRLF line
// endings normalised to LF.
func Decode(raw []byte) (string, error) {
	text := raw
	if IsUTF16(raw) {
		// Little endian unless a BOM says otherwise.
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, raw)
		if err != nil {
			return "", fmt.Errorf("decode utf-16: %w", err)
		}
		text = out
	}
	text = bytes.TrimPrefix(text, []byte("\xef\xbb\xbf"))
	return strings.ReplaceAll(string(text), "\r\n", "\n"), nil
}

// Parse decodes raw and returns its variables.
func Parse(raw []byte) (map[string]string, error) {
	text, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	vars, err := godotenv.Unmarshal(text)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return vars, nil
}

// Keys returns the variable names of vars in sorted order.
func Keys(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Upsert sets each key in set within content. Existing assignments are
// rewritten in place; comments, blank lines and unrelated variables are
// kept. New keys are appended in sorted order. The result always ends
// with a newline.
func Upsert(content string, set map[string]string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}
	done := make(map[string]bool, len(set))
	for i, line := range lines {
		key, ok := assignmentKey(line)
		if !ok {
			continue
		}
		v, want := set[key]
		if !want {
			continue
		}
		if done[key] {
			// Drop duplicate assignments so the new value wins.
			lines[i] = "\x00"
			continue
		}
		lines[i] = format(key, v)
		done[key] = true
	}

	out := make([]string, 0, len(lines)+len(set))
	for _, l := range lines {
		if l != "\x00" {
			out = append(out, l)
		}
	}
	for _, k := range Keys(set) {
		if !done[k] {
			out = append(out, format(k, set[k]))
		}
	}
	return strings.Join(out, "\n") + "\n"
}

// Rewrite decodes raw, applies Upsert and returns UTF-8 bytes.
func Rewrite(raw []byte, set map[string]string) ([]byte, error) {
	text, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return []byte(Upsert(text, set)), nil
}

func assignmentKey(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, "#") {
		return "", false
	}
	s = strings.TrimPrefix(s, "export ")
	i := strings.IndexByte(s, '=')
	if i <= 0 {
		return "", false
	}
	return strings.TrimSpace(s[:i]), true
}

func format(key, value string) string {
	if value == "" || strings.ContainsAny(value, " #\"'\t") {
		line, err := godotenv.Marshal(map[string]string{key: value})
		if err == nil {
			return line
		}
	}
	return key + "=" + value
}
