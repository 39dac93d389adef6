package cachegate

import (
	"encoding/json"
	"fmt"
	"time"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// Record is the JSON sidecar written next to an artifact after every
// successful generation.
type Record struct {
	Version   string    `json:"version"`
	Target    string    `json:"target"`
	SHA256    string    `json:"sha256"`
	Variant   string    `json:"variant"`
	CertCount int       `json:"cert_count"`
	Generated time.Time `json:"generated"`
	Source    string    `json:"source"`
	Upstream  string    `json:"upstream,omitempty"`

	// Layout fingerprints the encoding and header options the artifact was
	// rendered with.
	Layout string `json:"layout,omitempty"`
}

const (
	// currentSchemaVersion is the current record schema version.
	currentSchemaVersion = "1"
)

// NewRecord creates a record stamped with the current schema version.
func NewRecord(target string) *Record {
	return &Record{
		Version: currentSchemaVersion,
		Target:  target,
	}
}

// ReadRecord reads and parses the sidecar record. A missing record is
// reported with an error satisfying errors.Is(err, fs.ErrNotExist).
func (g *Gate) ReadRecord() (*Record, error) {
	data, err := g.fs.ReadFile(g.RecordPath())
	if err != nil {
		return nil, &bakeerrors.BakeError{Op: "read cache record", Path: g.RecordPath(), Err: err}
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &bakeerrors.BakeError{Op: "parse cache record", Path: g.RecordPath(), Err: err}
	}

	if r.Version != currentSchemaVersion {
		if err := migrateRecord(&r); err != nil {
			return nil, fmt.Errorf("migrate cache record: %w", err)
		}
	}

	return &r, nil
}

// WriteRecord replaces the sidecar record using an atomic rename. Callers
// write the artifact first, so a record never describes a file that was not
// written.
func (g *Gate) WriteRecord(r *Record) error {
	if r.Version == "" {
		r.Version = currentSchemaVersion
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return &bakeerrors.BakeError{Op: "marshal cache record", Err: err}
	}

	tempPath := g.RecordPath() + ".tmp"
	if err := g.fs.WriteFile(tempPath, data, 0644); err != nil {
		return &bakeerrors.BakeError{Op: "write temp cache record", Path: tempPath, Err: err}
	}

	if err := g.fs.Rename(tempPath, g.RecordPath()); err != nil {
		_ = g.fs.Remove(tempPath)
		return &bakeerrors.BakeError{Op: "rename cache record", Path: g.RecordPath(), Err: err}
	}

	return nil
}

// migrateRecord handles schema version migrations.
func migrateRecord(r *Record) error {
	// Only v1 exists.
	r.Version = currentSchemaVersion
	return nil
}
