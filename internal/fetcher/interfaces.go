package fetcher

import (
	"context"
	"net/http"
)

// HTTPClient is an interface for making HTTP requests.
// This interface allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Runner starts external programs. ExecRunner is the real implementation;
// tests substitute a fake that writes the expected output files.
type Runner interface {
	// LookPath resolves an executable name the way exec.LookPath does.
	LookPath(name string) (string, error)
	// Run executes name with args in dir and returns its combined output.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}
