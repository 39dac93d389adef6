package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// Kind identifies how a source obtains its data.
type Kind string

// Supported source kinds.
const (
	// KindCSV downloads a CCADB-style report with one PEM certificate per row.
	KindCSV Kind = "csv"
	// KindURL downloads a concatenated PEM bundle.
	KindURL Kind = "url"
	// KindScript runs an external extraction script and reads the file it writes.
	KindScript Kind = "script"
	// KindFile reads a local PEM or DER file.
	KindFile Kind = "file"
)

// Kinds lists every supported source kind.
var Kinds = []Kind{KindCSV, KindURL, KindScript, KindFile}

// ParseKind validates a source kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown source kind %q (want csv, url, script or file)", bakeerrors.ErrConfig, s)
}

// Payload is the raw result of a retrieval. Data is the canonical upstream
// text; its hash decides whether an artifact must be regenerated.
type Payload struct {
	Kind   Kind
	Origin string
	Data   []byte
}

// Hash returns the hex SHA-256 of the payload data.
func (p *Payload) Hash() string {
	return ComputeSHA256(p.Data)
}

// Source retrieves upstream trust data.
type Source interface {
	Kind() Kind
	// Describe names the origin for logs and error messages.
	Describe() string
	Retrieve(ctx context.Context) (*Payload, error)
}

// HTTPSource downloads a CSV report or PEM bundle.
type HTTPSource struct {
	kind    Kind
	url     string
	fetcher *Fetcher
}

// NewHTTPSource returns a source for a csv or url kind.
func NewHTTPSource(kind Kind, url string, f *Fetcher) (*HTTPSource, error) {
	if kind != KindCSV && kind != KindURL {
		return nil, fmt.Errorf("%w: source kind %q is not fetched over HTTP", bakeerrors.ErrConfig, kind)
	}
	if url == "" {
		return nil, fmt.Errorf("%w: %s source requires a url", bakeerrors.ErrConfig, kind)
	}
	if f == nil {
		f = NewFetcher(nil)
	}
	return &HTTPSource{kind: kind, url: url, fetcher: f}, nil
}

// Kind implements Source.
func (s *HTTPSource) Kind() Kind { return s.kind }

// Describe implements Source.
func (s *HTTPSource) Describe() string { return s.url }

// Retrieve implements Source.
func (s *HTTPSource) Retrieve(ctx context.Context) (*Payload, error) {
	data, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return nil, bakeerrors.Retrieval("fetch source", s.url, err)
	}
	return &Payload{Kind: s.kind, Origin: s.url, Data: data}, nil
}

// ScriptSource runs an extraction script, such as curl's mk-ca-bundle.pl,
// and reads the bundle file it produces.
type ScriptSource struct {
	Command []string
	Dir     string
	Output  string
	Runner  Runner
}

// Kind implements Source.
func (s *ScriptSource) Kind() Kind { return KindScript }

// Describe implements Source.
func (s *ScriptSource) Describe() string { return strings.Join(s.Command, " ") }

// OutputPath is where the script's bundle is read from.
func (s *ScriptSource) OutputPath() string {
	if filepath.IsAbs(s.Output) || s.Dir == "" {
		return s.Output
	}
	return filepath.Join(s.Dir, s.Output)
}

// Retrieve implements Source.
func (s *ScriptSource) Retrieve(ctx context.Context) (*Payload, error) {
	if len(s.Command) == 0 || s.Output == "" {
		return nil, fmt.Errorf("%w: script source requires a command and an output file", bakeerrors.ErrConfig)
	}

	runner := s.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	exe, err := runner.LookPath(s.Command[0])
	if err != nil {
		return nil, bakeerrors.Dependency(s.Command[0], err)
	}

	out, err := runner.Run(ctx, s.Dir, exe, s.Command[1:]...)
	if err != nil {
		return nil, bakeerrors.Retrieval("run script", s.Describe(), fmt.Errorf("%w: %s", err, lastLine(out)))
	}

	data, err := os.ReadFile(s.OutputPath())
	if err != nil {
		return nil, bakeerrors.Retrieval("read script output", s.OutputPath(), err)
	}
	if len(data) == 0 {
		return nil, bakeerrors.Retrieval("read script output", s.OutputPath(), fmt.Errorf("output is empty"))
	}

	return &Payload{Kind: KindScript, Origin: s.OutputPath(), Data: data}, nil
}

// FileSource reads a local PEM or DER file.
type FileSource struct {
	Path string
}

// Kind implements Source.
func (s *FileSource) Kind() Kind { return KindFile }

// Describe implements Source.
func (s *FileSource) Describe() string { return s.Path }

// Retrieve implements Source.
func (s *FileSource) Retrieve(_ context.Context) (*Payload, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, bakeerrors.Retrieval("read source", s.Path, err)
	}
	return &Payload{Kind: KindFile, Origin: s.Path, Data: data}, nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
