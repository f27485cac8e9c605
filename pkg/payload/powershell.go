package payload

import (
	"fmt"
	"strings"
)

// PowerShell renders commands for Windows PowerShell 5 and pwsh.
type PowerShell struct{}

func (PowerShell) Name() string { return DialectPowerShell }

// Quote returns a single-quoted PowerShell literal.
func (PowerShell) Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (p PowerShell) ClearFile(path string) string {
	return fmt.Sprintf("Set-Content -LiteralPath %s -Value '' -NoNewline", p.Quote(path))
}

func (p PowerShell) AppendChunk(path, chunk string) string {
	return fmt.Sprintf("Add-Content -LiteralPath %s -Value %s -NoNewline", p.Quote(path), p.Quote(chunk))
}

func (p PowerShell) WriteBase64(path, b64 string) string {
	return fmt.Sprintf("[IO.File]::WriteAllBytes(%s,[Convert]::FromBase64String(%s))", p.Quote(path), p.Quote(b64))
}

func (p PowerShell) DecodeFile(src, dst string, compressed bool) string {
	read := fmt.Sprintf("$__b = [Convert]::FromBase64String((Get-Content -LiteralPath %s -Raw).Trim())", p.Quote(src))
	if !compressed {
		return fmt.Sprintf("%s; [IO.File]::WriteAllBytes(%s, $__b)", read, p.Quote(dst))
	}
	return fmt.Sprintf("%s; $__i = New-Object IO.MemoryStream(,$__b); "+
		"$__g = New-Object IO.Compression.GZipStream($__i, [IO.Compression.CompressionMode]::Decompress); "+
		"$__o = New-Object IO.MemoryStream; $__g.CopyTo($__o); $__g.Dispose(); "+
		"[IO.File]::WriteAllBytes(%s, $__o.ToArray())", read, p.Quote(dst))
}

func (p PowerShell) PrintHash(path string, m Marker) string {
	return fmt.Sprintf("Write-Output (%s + %s + ':' + (Get-FileHash -Algorithm SHA256 -LiteralPath %s).Hash.ToLower())",
		p.Quote(m.Head), p.Quote(m.Tail), p.Quote(path))
}

func (p PowerShell) DumpBase64(path string) string {
	return fmt.Sprintf("[Convert]::ToBase64String([IO.File]::ReadAllBytes(%s))", p.Quote(path))
}

func (p PowerShell) RemoveFile(path string) string {
	return fmt.Sprintf("Remove-Item -LiteralPath %s -Force -ErrorAction SilentlyContinue", p.Quote(path))
}

// FileExists sets LASTEXITCODE, which Sentinel reports, since Test-Path
// itself always succeeds.
func (p PowerShell) FileExists(path string) string {
	return fmt.Sprintf("if (-not (Test-Path -LiteralPath %s -PathType Leaf)) { $global:LASTEXITCODE = 1 }", p.Quote(path))
}

// Sentinel reports $LASTEXITCODE for native programs and $? for cmdlets.
// LASTEXITCODE is reset first so a stale value from an earlier command does
// not leak into the result.
func (p PowerShell) Sentinel(cmd string, m Marker) string {
	return fmt.Sprintf("$global:LASTEXITCODE = 0; %s; $__ok = $?; "+
		"$__rc = if ($LASTEXITCODE) { $LASTEXITCODE } elseif ($__ok) { 0 } else { 1 }; "+
		"Write-Output (%s + %s + ':' + $__rc)", cmd, p.Quote(m.Head), p.Quote(m.Tail))
}

func (p PowerShell) Echo(m Marker) string {
	return fmt.Sprintf("Write-Output (%s + %s)", p.Quote(m.Head), p.Quote(m.Tail))
}

func (p PowerShell) RunPython(python, script string) string {
	if python == "" {
		python = "python"
	}
	return fmt.Sprintf("& %s %s", p.Quote(python), p.Quote(script))
}
