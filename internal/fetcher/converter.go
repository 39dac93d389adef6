package fetcher

import (
	"context"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// Converter names.
const (
	ConverterOpenSSL = "openssl"
	ConverterBuiltin = "builtin"
)

// Converter turns PEM certificate blocks into DER, one output per input.
type Converter interface {
	Name() string
	ToDER(ctx context.Context, pems []string) ([][]byte, error)
}

// BuiltinConverter decodes PEM in process.
type BuiltinConverter struct{}

// Name implements Converter.
func (BuiltinConverter) Name() string { return ConverterBuiltin }

// ToDER implements Converter.
func (BuiltinConverter) ToDER(_ context.Context, pems []string) ([][]byte, error) {
	out := make([][]byte, 0, len(pems))
	for i, text := range pems {
		block, _ := pem.Decode([]byte(text))
		if block == nil || block.Type != "CERTIFICATE" {
			return nil, bakeerrors.Malformed("convert certificate", fmt.Sprintf("#%d", i), fmt.Errorf("not a PEM certificate"))
		}
		out = append(out, block.Bytes)
	}
	return out, nil
}

// OpenSSLConverter runs `openssl x509 -outform DER` once per certificate.
// Intermediate files live in a private temporary directory that is removed
// before ToDER returns, whether it succeeds or not.
type OpenSSLConverter struct {
	// Path is the openssl executable.
	Path string
	// TempDir is the parent for the scratch directory; empty uses os.TempDir.
	TempDir string
	Runner  Runner
}

// Name implements Converter.
func (c *OpenSSLConverter) Name() string { return ConverterOpenSSL }

// ToDER implements Converter.
func (c *OpenSSLConverter) ToDER(ctx context.Context, pems []string) ([][]byte, error) {
	runner := c.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	dir, err := os.MkdirTemp(c.TempDir, "certbake-der-")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	out := make([][]byte, 0, len(pems))
	for i, text := range pems {
		in := filepath.Join(dir, fmt.Sprintf("ca_%03d.pem", i))
		der := filepath.Join(dir, fmt.Sprintf("ca_%03d.der", i))

		if err := os.WriteFile(in, []byte(text), 0600); err != nil {
			return nil, fmt.Errorf("write %s: %w", filepath.Base(in), err)
		}

		msg, err := runner.Run(ctx, dir, c.Path, "x509", "-inform", "PEM", "-outform", "DER", "-in", in, "-out", der)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, bakeerrors.Malformed("convert certificate", fmt.Sprintf("#%d", i), fmt.Errorf("openssl: %w: %s", err, lastLine(msg)))
		}

		data, err := os.ReadFile(der)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(der), err)
		}
		if len(data) == 0 {
			return nil, bakeerrors.Malformed("convert certificate", fmt.Sprintf("#%d", i), fmt.Errorf("openssl produced no output"))
		}
		out = append(out, data)
	}
	return out, nil
}

// ResolveConverter returns the converter called name. When openssl is
// requested but not installed, allowFallback selects the builtin converter
// with a warning; otherwise the missing dependency is an error.
func ResolveConverter(name string, allowFallback bool, runner Runner, logger *slog.Logger) (Converter, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch name {
	case ConverterBuiltin:
		return BuiltinConverter{}, nil
	case "", ConverterOpenSSL:
		path, err := runner.LookPath(ConverterOpenSSL)
		if err == nil {
			return &OpenSSLConverter{Path: path, Runner: runner}, nil
		}
		if !allowFallback {
			return nil, bakeerrors.Dependency(ConverterOpenSSL, err)
		}
		logger.Warn("openssl not found, using builtin PEM decoder", "error", err)
		return BuiltinConverter{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown converter %q (want openssl or builtin)", bakeerrors.ErrConfig, name)
	}
}
