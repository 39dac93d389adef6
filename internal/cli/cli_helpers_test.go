package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/princespaghetti/certbake/internal/config"
	"github.com/princespaghetti/certbake/internal/pipeline"
	"github.com/princespaghetti/certbake/internal/testcert"
)

// fakeRunner resolves only the executables listed in found.
type fakeRunner struct {
	found map[string]bool
}

func (f fakeRunner) LookPath(name string) (string, error) {
	if f.found[name] {
		return "/usr/bin/" + name, nil
	}
	return "", exec.ErrNotFound
}

func (f fakeRunner) Run(context.Context, string, string, ...string) ([]byte, error) {
	return nil, exec.ErrNotFound
}

// writeSource writes a PEM bundle of n generated roots and returns its path.
func writeSource(t *testing.T, dir string, names ...string) string {
	t.Helper()
	certs := make([]*testcert.Cert, len(names))
	for i, n := range names {
		certs[i] = testcert.SelfSigned(t, n)
	}
	path := filepath.Join(dir, "roots.pem")
	if err := os.WriteFile(path, []byte(testcert.Concat(certs...)), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

// fileConfig returns a validated configuration with one compact target
// reading source.
func fileConfig(t *testing.T, dir, source string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Targets: []config.Target{{
			Name:     "dev",
			Output:   filepath.Join(dir, "out", "certificates.hpp"),
			Encoding: "compact",
			Source:   config.SourceConfig{Kind: "file", Path: source},
		}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	return cfg
}

// generate builds every target of cfg.
func generate(t *testing.T, cfg *config.Config) {
	t.Helper()
	targets, err := cfg.Select(nil)
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	r := pipeline.New(pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if _, err := r.RunAll(context.Background(), targets); err != nil {
		t.Fatalf("RunAll() failed: %v", err)
	}
}
