package cachegate

import (
	"regexp"
	"strings"
)

// MarkerPrefix starts the hash comment line an emitted artifact carries just
// above its data tables.
const MarkerPrefix = "// SHA256: "

var markerRegex = regexp.MustCompile(`(?m)^[ \t]*//[ \t]*SHA256:[ \t]*([0-9A-Fa-f]{64})[ \t]*\r?$`)

// MarkerLine formats the hash comment line for hexHash.
func MarkerLine(hexHash string) string {
	return MarkerPrefix + strings.ToLower(hexHash)
}

// ScanMarker recovers the hash from the first marker line in an artifact.
func ScanMarker(artifact []byte) (string, bool) {
	m := markerRegex.FindSubmatch(artifact)
	if m == nil {
		return "", false
	}
	return strings.ToLower(string(m[1])), true
}
