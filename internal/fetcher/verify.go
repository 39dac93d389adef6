package fetcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// MaxDegradationPercent is the drop in certificate count, relative to the
// previous artifact, above which a regeneration is reported as suspicious.
const MaxDegradationPercent = 20

// upstreamDateRegex matches the header line curl's extraction writes, e.g.
// "## Certificate data from Mozilla as of: Tue Sep  9 03:12:01 2025 GMT".
var upstreamDateRegex = regexp.MustCompile(`Certificate data from Mozilla as of:\s+([A-Za-z]{3}\s+[A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+\d{4}\s+GMT)`)

// CheckDegradation returns a warning when current is more than
// MaxDegradationPercent below previous. A previous count of zero means
// there is nothing to compare against.
func CheckDegradation(previous, current int) string {
	if previous <= 0 || current >= previous {
		return ""
	}

	degradation := float64(previous-current) / float64(previous) * 100
	if degradation <= MaxDegradationPercent {
		return ""
	}
	return fmt.Sprintf("new bundle has %d fewer certificates (%.1f%% decrease), this may indicate an upstream problem",
		previous-current, degradation)
}

// UpstreamDate extracts the store date from a curl-style bundle header.
// Only the first 1KB is searched.
func UpstreamDate(data []byte) (time.Time, bool) {
	header := data
	if len(header) > 1024 {
		header = header[:1024]
	}

	matches := upstreamDateRegex.FindSubmatch(header)
	if len(matches) < 2 {
		return time.Time{}, false
	}

	parsed, err := time.Parse("Mon Jan _2 15:04:05 2006 MST", string(matches[1]))
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// UpstreamVersion returns the upstream date as YYYY-MM-DD, or "" if the data
// carries no date header.
func UpstreamVersion(data []byte) string {
	if date, found := UpstreamDate(data); found {
		return date.Format("2006-01-02")
	}
	return ""
}

// ComputeSHA256 computes the SHA256 hash of data and returns it as a hex string.
func ComputeSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
