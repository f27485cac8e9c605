package payload

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultMarkerPrefix starts every generated completion marker.
const DefaultMarkerPrefix = "PTYCTL"

// Marker is a completion sentinel split in two halves. Commands print the
// halves concatenated, so the terminal's echo of the command line never
// contains the full marker and cannot satisfy a wait by itself.
type Marker struct {
	Head string
	Tail string
}

// NewMarker returns a unique marker such as PTYCTL_3f2a9c1e_b74d0a62.
func NewMarker(prefix string) Marker {
	if prefix == "" {
		prefix = DefaultMarkerPrefix
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return Marker{
		Head: prefix + "_" + id[:8],
		Tail: "_" + id[8:16],
	}
}

// String returns the full marker text as it appears in output.
func (m Marker) String() string {
	return m.Head + m.Tail
}
