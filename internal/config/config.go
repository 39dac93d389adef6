// Package config provides the certbake.yaml structures and loading logic.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/princespaghetti/certbake/internal/cachegate"
	"github.com/princespaghetti/certbake/internal/emitter"
	"github.com/princespaghetti/certbake/internal/encoder"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
	"github.com/princespaghetti/certbake/internal/fetcher"
)

// DefaultPath is the config file looked up when no --config flag is given.
const DefaultPath = "certbake.yaml"

// DefaultROM is the storage attribute used when a header does not set one.
const DefaultROM = "IOP_ROM"

var targetNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Config holds the global configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Targets []Target      `yaml:"targets"`

	// baseDir is the directory relative paths were resolved against.
	baseDir string
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Target describes one generated header.
type Target struct {
	Name     string `yaml:"name"`
	Output   string `yaml:"output"`
	Encoding string `yaml:"encoding"`

	// MaxAge is how long the artifact is used without asking upstream.
	// Unset means seven days; zero always fetches.
	MaxAge *Duration `yaml:"max_age,omitempty"`
	// FetchTimeout bounds the retrieval. Zero means no timeout.
	FetchTimeout Duration `yaml:"fetch_timeout,omitempty"`

	Source SourceConfig `yaml:"source"`

	// Converter turns PEM into DER for indexed targets: openssl or builtin.
	Converter            string `yaml:"converter,omitempty"`
	AllowBuiltinFallback bool   `yaml:"allow_builtin_fallback,omitempty"`

	Header HeaderConfig `yaml:"header"`
}

// SourceConfig selects where certificate data comes from.
type SourceConfig struct {
	Kind    string   `yaml:"kind"`
	URL     string   `yaml:"url,omitempty"`
	Command []string `yaml:"command,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`
	Output  string   `yaml:"output,omitempty"`
	Path    string   `yaml:"path,omitempty"`
}

// HeaderConfig holds the emitted header layout.
type HeaderConfig struct {
	Guard     string   `yaml:"guard,omitempty"`
	Platform  string   `yaml:"platform,omitempty"`
	Includes  []string `yaml:"includes,omitempty"`
	Namespace string   `yaml:"namespace,omitempty"`
	// ROM is the storage attribute macro. Unset means IOP_ROM; an empty
	// string omits the attribute.
	ROM      *string `yaml:"rom,omitempty"`
	ListType string  `yaml:"list_type,omitempty"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	//nolint:gosec // Config file path is controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &bakeerrors.BakeError{Op: "read config", Path: path, Err: fmt.Errorf("%w: %w", bakeerrors.ErrConfig, err)}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, &bakeerrors.BakeError{Op: "load config", Path: path, Err: err}
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config directory: %w", err)
	}
	cfg.resolvePaths(abs)

	return cfg, nil
}

// Parse decodes, defaults and validates a configuration document. Relative
// paths are left as they are.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse yaml: %w", bakeerrors.ErrConfig, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("CERTBAKE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("CERTBAKE_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}

// BaseDir returns the directory relative paths were resolved against, or ""
// for a configuration that was not loaded from a file.
func (c *Config) BaseDir() string {
	return c.baseDir
}

// Target returns the target called name.
func (c *Config) Target(name string) (*Target, bool) {
	for i := range c.Targets {
		if c.Targets[i].Name == name {
			return &c.Targets[i], true
		}
	}
	return nil, false
}

// Select returns the named targets in the order given, or every target when
// names is empty.
func (c *Config) Select(names []string) ([]*Target, error) {
	if len(names) == 0 {
		out := make([]*Target, len(c.Targets))
		for i := range c.Targets {
			out[i] = &c.Targets[i]
		}
		return out, nil
	}

	out := make([]*Target, 0, len(names))
	for _, name := range names {
		t, ok := c.Target(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown target %q (have %s)", bakeerrors.ErrConfig, name, strings.Join(c.targetNames(), ", "))
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Config) targetNames() []string {
	names := make([]string, len(c.Targets))
	for i := range c.Targets {
		names[i] = c.Targets[i].Name
	}
	return names
}

// Validate performs validation of the entire configuration, filling in
// defaults where a value is optional.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: no targets configured", bakeerrors.ErrConfig)
	}

	seen := make(map[string]bool, len(c.Targets))
	outputs := make(map[string]string, len(c.Targets))
	for i := range c.Targets {
		t := &c.Targets[i]
		if err := t.Validate(); err != nil {
			if t.Name != "" {
				return fmt.Errorf("target %q: %w", t.Name, err)
			}
			return fmt.Errorf("target #%d: %w", i+1, err)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate target name %q", bakeerrors.ErrConfig, t.Name)
		}
		seen[t.Name] = true

		out := filepath.Clean(t.Output)
		if other, ok := outputs[out]; ok {
			return fmt.Errorf("%w: targets %q and %q write the same file %s", bakeerrors.ErrConfig, other, t.Name, t.Output)
		}
		outputs[out] = t.Name
	}
	return nil
}

// Validate checks the logging settings.
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", bakeerrors.ErrConfig, c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q (want text or json)", bakeerrors.ErrConfig, c.Format)
	}
	return nil
}

// Validate checks one target and applies its defaults.
func (t *Target) Validate() error {
	if !targetNameRegex.MatchString(t.Name) {
		return fmt.Errorf("%w: invalid target name %q", bakeerrors.ErrConfig, t.Name)
	}
	if strings.TrimSpace(t.Output) == "" {
		return fmt.Errorf("%w: output is required", bakeerrors.ErrConfig)
	}

	variant, err := encoder.ParseVariant(t.Encoding)
	if err != nil {
		return err
	}

	if t.MaxAge != nil && *t.MaxAge < 0 {
		return fmt.Errorf("%w: max_age must not be negative", bakeerrors.ErrConfig)
	}
	if t.FetchTimeout < 0 {
		return fmt.Errorf("%w: fetch_timeout must not be negative", bakeerrors.ErrConfig)
	}

	if err := t.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	switch t.Converter {
	case "":
		if variant == encoder.VariantIndexed {
			t.Converter = fetcher.ConverterOpenSSL
		}
	case fetcher.ConverterOpenSSL, fetcher.ConverterBuiltin:
	default:
		return fmt.Errorf("%w: unknown converter %q (want openssl or builtin)", bakeerrors.ErrConfig, t.Converter)
	}

	if t.Header.Guard == "" {
		t.Header.Guard = defaultGuard(t.Name)
	}
	if _, err := emitter.New(t.EmitterOptions()); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	return nil
}

// Validate checks the fields required by the source kind.
func (s *SourceConfig) Validate() error {
	kind, err := fetcher.ParseKind(s.Kind)
	if err != nil {
		return err
	}

	switch kind {
	case fetcher.KindCSV:
		if s.URL == "" {
			s.URL = fetcher.DefaultFeedURL
		}
	case fetcher.KindURL:
		if s.URL == "" {
			s.URL = fetcher.DefaultBundleURL
		}
	case fetcher.KindScript:
		if len(s.Command) == 0 {
			s.Command = []string{"perl", "mk-ca-bundle.pl"}
		}
		if s.Output == "" {
			s.Output = "ca-bundle.crt"
		}
	case fetcher.KindFile:
		if s.Path == "" {
			return fmt.Errorf("%w: file source requires a path", bakeerrors.ErrConfig)
		}
	}
	return nil
}

// MaxAgeOrDefault returns the effective freshness window.
func (t *Target) MaxAgeOrDefault() time.Duration {
	if t.MaxAge == nil {
		return cachegate.DefaultMaxAge
	}
	return time.Duration(*t.MaxAge)
}

// EmitterOptions converts the header settings.
func (t *Target) EmitterOptions() emitter.Options {
	rom := DefaultROM
	if t.Header.ROM != nil {
		rom = *t.Header.ROM
	}
	return emitter.Options{
		Guard:     t.Header.Guard,
		Platform:  t.Header.Platform,
		Includes:  t.Header.Includes,
		Namespace: t.Header.Namespace,
		ROM:       rom,
		ListType:  t.Header.ListType,
	}
}

// Variant returns the parsed encoding. Validate must have succeeded.
func (t *Target) Variant() encoder.Variant {
	return encoder.Variant(t.Encoding)
}

func (c *Config) resolvePaths(base string) {
	c.baseDir = base
	for i := range c.Targets {
		t := &c.Targets[i]
		t.Output = resolve(base, t.Output)
		if t.Source.Kind == string(fetcher.KindFile) {
			t.Source.Path = resolve(base, t.Source.Path)
		}
		if t.Source.Kind == string(fetcher.KindScript) {
			t.Source.Dir = resolve(base, t.Source.Dir)
		}
	}
}

func resolve(base, p string) string {
	if p == "" {
		return base
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func defaultGuard(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return "CERTBAKE_" + b.String() + "_CERTIFICATES_H"
}
