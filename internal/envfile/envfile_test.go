package envfile

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/unicode"
)

func utf16le(t *testing.T, s string) []byte {
	t.Helper()
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode utf-16: %v", err)
	}
	return b
}

func TestDecodeUTF16(t *testing.T) {
	raw := utf16le(t, "PORT=5003\r\nNODE_ENV=production\r\n")
	if !IsUTF16(raw) {
		t.Fatal("expected utf-16 detection")
	}
	text, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if text != "PORT=5003\nNODE_ENV=production\n" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestDecodeUTF8(t *testing.T) {
	raw := []byte("\xef\xbb\xbfPORT=5003\n")
	if IsUTF16(raw) {
		t.Fatal("expected utf-8")
	}
	text, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if text != "PORT=5003\n" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestParse(t *testing.T) {
	vars, err := Parse(utf16le(t, "# backend\nPORT=5003\nADMIN_PASSWORD=\"s3cret pass\"\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if vars["PORT"] != "5003" {
		t.Errorf("expected PORT=5003, got %q", vars["PORT"])
	}
	if vars["ADMIN_PASSWORD"] != "s3cret pass" {
		t.Errorf("expected quoted value, got %q", vars["ADMIN_PASSWORD"])
	}
	if got := strings.Join(Keys(vars), ","); got != "ADMIN_PASSWORD,PORT" {
		t.Errorf("expected sorted keys, got %s", got)
	}
}

func TestUpsert(t *testing.T) {
	in := "# Server\nPORT=3000\n\n# AI\nGEMINI_API_KEY=old\nPORT=4000\n"
	got := Upsert(in, map[string]string{
		"PORT":           "5003",
		"GEMINI_API_KEY": "test-key",
		"NODE_ENV":       "development",
		"ADMIN_PASSWORD": "with space",
	})
	want := "# Server\nPORT=5003\n\n# AI\nGEMINI_API_KEY=test-key\n" +
		"ADMIN_PASSWORD=\"with space\"\nNODE_ENV=development\n"
	if got != want {
		t.Errorf("expected\n%q\ngot\n%q", want, got)
	}

	vars, err := Parse([]byte(got))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if vars["ADMIN_PASSWORD"] != "with space" {
		t.Errorf("expected round trip of quoted value, got %q", vars["ADMIN_PASSWORD"])
	}
}

func TestUpsertEmpty(t *testing.T) {
	if got := Upsert("", map[string]string{"PORT": "5003"}); got != "PORT=5003\n" {
		t.Errorf("expected PORT=5003, got %q", got)
	}
}

func TestRewriteUTF16(t *testing.T) {
	out, err := Rewrite(utf16le(t, "PORT=1\r\n"), map[string]string{"PORT": "2"})
	if err != nil {
		t.Fatalf("Rewrite() error: %v", err)
	}
	if string(out) != "PORT=2\n" {
		t.Errorf("expected utf-8 output, got %q", out)
	}
}
