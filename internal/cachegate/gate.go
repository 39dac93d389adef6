package cachegate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// DefaultMaxAge is how long an artifact is trusted without asking upstream.
const DefaultMaxAge = 7 * 24 * time.Hour

// RecordSuffix is appended to the artifact path to name its sidecar record.
const RecordSuffix = ".cache.json"

// Decision is the outcome of a gate check.
type Decision int

// Gate decisions.
const (
	// Skip keeps the existing artifact untouched.
	Skip Decision = iota
	// Fetch asks the source for fresh data.
	Fetch
	// Regenerate rebuilds the artifact from the fetched data.
	Regenerate
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Skip:
		return "SKIP"
	case Fetch:
		return "FETCH"
	case Regenerate:
		return "REGENERATE"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Gate owns the freshness decision for one artifact.
type Gate struct {
	artifactPath string
	maxAge       time.Duration
	fs           FileSystem
	newLocker    func(artifactPath string) Locker
	logger       *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithMaxAge sets the age below which an artifact is used without fetching.
// Zero or negative always fetches.
func WithMaxAge(d time.Duration) Option {
	return func(g *Gate) { g.maxAge = d }
}

// WithFileSystem replaces the file system, for tests.
func WithFileSystem(fsys FileSystem) Option {
	return func(g *Gate) { g.fs = fsys }
}

// WithLocker replaces the build lock constructor.
func WithLocker(newLocker func(artifactPath string) Locker) Option {
	return func(g *Gate) { g.newLocker = newLocker }
}

// WithLogger sets the logger used for degraded-mode warnings.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New creates a gate for the artifact at artifactPath.
func New(artifactPath string, opts ...Option) *Gate {
	g := &Gate{
		artifactPath: artifactPath,
		maxAge:       DefaultMaxAge,
		fs:           OSFileSystem{},
		newLocker:    func(p string) Locker { return NewFileLock(p) },
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ArtifactPath returns the generated file path.
func (g *Gate) ArtifactPath() string { return g.artifactPath }

// RecordPath returns the sidecar record path.
func (g *Gate) RecordPath() string { return g.artifactPath + RecordSuffix }

// LockPath returns the path of the lock file guarding the artifact.
func (g *Gate) LockPath() string { return g.artifactPath + ".lock" }

// MaxAge returns the configured freshness window.
func (g *Gate) MaxAge() time.Duration { return g.maxAge }

// Lock takes the cross-process build lock for this artifact. The lock file
// lives next to the artifact, so the output directory is created first. The
// returned function releases the lock.
func (g *Gate) Lock(ctx context.Context) (func() error, error) {
	dir := filepath.Dir(g.artifactPath)
	if err := g.fs.MkdirAll(dir, 0755); err != nil {
		return nil, &bakeerrors.BakeError{Op: "create artifact directory", Path: dir, Err: err}
	}

	lock := g.newLocker(g.artifactPath)
	if err := lock.Lock(ctx); err != nil {
		return nil, &bakeerrors.BakeError{Op: "lock artifact", Path: g.artifactPath, Err: err}
	}
	return lock.Unlock, nil
}

// ModTime returns the artifact's modification time, or false if there is no
// artifact.
func (g *Gate) ModTime() (time.Time, bool) {
	info, err := g.fs.Stat(g.artifactPath)
	if err != nil || info.IsDir() {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Exists reports whether a previous artifact is present.
func (g *Gate) Exists() bool {
	_, ok := g.ModTime()
	return ok
}

// CheckAge returns Skip when the artifact exists and is younger than the
// gate's max age, and Fetch otherwise. It never touches the network.
func (g *Gate) CheckAge(now time.Time) Decision {
	mtime, ok := g.ModTime()
	if !ok || g.maxAge <= 0 {
		return Fetch
	}
	if now.Sub(mtime) < g.maxAge {
		return Skip
	}
	return Fetch
}

// PreviousHash returns the hash of the data the current artifact was built
// from. The sidecar record is authoritative; an artifact without one is
// scanned for its marker line.
func (g *Gate) PreviousHash() (string, bool) {
	if r, err := g.ReadRecord(); err == nil {
		if r.SHA256 != "" {
			return strings.ToLower(r.SHA256), true
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		g.logger.Warn("ignoring unreadable cache record", "path", g.RecordPath(), "error", err)
	}

	data, err := g.fs.ReadFile(g.artifactPath)
	if err != nil {
		return "", false
	}
	return ScanMarker(data)
}

// CompareHash returns Skip when an artifact exists and was built from data
// hashing to hexHash, and Regenerate otherwise.
func (g *Gate) CompareHash(hexHash string) Decision {
	if !g.Exists() {
		return Regenerate
	}
	prev, ok := g.PreviousHash()
	if ok && strings.EqualFold(prev, hexHash) {
		return Skip
	}
	return Regenerate
}

// MatchesLayout reports whether the artifact was rendered with layout. An
// artifact without a readable record carries no layout and is assumed to
// match; a record written before layouts were tracked does not.
func (g *Gate) MatchesLayout(layout string) bool {
	r, err := g.ReadRecord()
	if err != nil {
		return true
	}
	return r.Layout == layout
}

// OnRetrievalFailure applies the failure policy for a failed fetch: with a
// previous artifact the run degrades to Skip and logs a warning; without one
// the failure is returned as fatal.
func (g *Gate) OnRetrievalFailure(err error) (Decision, error) {
	if g.Exists() {
		g.logger.Warn("retrieval failed, keeping previous artifact",
			"artifact", g.artifactPath, "error", err)
		return Skip, nil
	}
	return Fetch, bakeerrors.Retrieval("retrieve certificates", g.artifactPath,
		fmt.Errorf("no previous artifact to fall back on: %w", err))
}

// Remove deletes the artifact and its record. Missing files are not an error.
func (g *Gate) Remove() error {
	for _, p := range []string{g.artifactPath, g.RecordPath()} {
		if err := g.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &bakeerrors.BakeError{Op: "remove", Path: p, Err: err}
		}
	}
	return nil
}
