// Package emitter renders an encoded bundle as a C++ header that firmware
// builds compile in. The header carries the hash of the upstream data in a
// marker comment so a later run can tell whether it is current.
package emitter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/princespaghetti/certbake/internal/cachegate"
	"github.com/princespaghetti/certbake/internal/encoder"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
	"github.com/princespaghetti/certbake/internal/fetcher"
)

// Defaults applied by New for empty options.
const (
	DefaultNamespace = "generated"
	DefaultGenerator = "certbake"
)

var (
	identRegex     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	qualifiedRegex = regexp.MustCompile(`^(::)?[A-Za-z_][A-Za-z0-9_]*(::[A-Za-z_][A-Za-z0-9_]*)*$`)
	hashRegex      = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// Options controls the header layout for one target.
type Options struct {
	// Guard is the include guard macro.
	Guard string
	// Platform is either a bare macro, emitted as #ifdef, or a preprocessor
	// expression, emitted as #if. Empty emits no platform conditional.
	Platform string
	// Includes are emitted inside the platform conditional. Entries without
	// surrounding quotes or angle brackets are quoted.
	Includes []string
	// Namespace wraps the tables.
	Namespace string
	// ROM is the storage attribute macro placed on every table. Empty omits it.
	ROM string
	// ListType, when set, adds a `static const ListType certList(...)`
	// declaration to indexed artifacts.
	ListType string
	// Generator names the producing tool in the header comment.
	Generator string
}

// Artifact is everything a header is rendered from.
type Artifact struct {
	Target  string
	Hash    string
	Encoded *encoder.Encoded
}

// Emitter renders artifacts with fixed layout options.
type Emitter struct {
	opts Options
	pool bytebufferpool.Pool
}

// New validates opts and returns an Emitter.
func New(opts Options) (*Emitter, error) {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.Generator == "" {
		opts.Generator = DefaultGenerator
	}

	if !identRegex.MatchString(opts.Guard) {
		return nil, fmt.Errorf("%w: include guard %q is not a valid macro name", bakeerrors.ErrConfig, opts.Guard)
	}
	if !qualifiedRegex.MatchString(opts.Namespace) || strings.HasPrefix(opts.Namespace, "::") {
		return nil, fmt.Errorf("%w: namespace %q is not a valid C++ namespace", bakeerrors.ErrConfig, opts.Namespace)
	}
	if opts.ROM != "" && !identRegex.MatchString(opts.ROM) {
		return nil, fmt.Errorf("%w: storage attribute %q is not a valid macro name", bakeerrors.ErrConfig, opts.ROM)
	}
	if opts.ListType != "" && !qualifiedRegex.MatchString(opts.ListType) {
		return nil, fmt.Errorf("%w: list type %q is not a valid C++ type name", bakeerrors.ErrConfig, opts.ListType)
	}
	if strings.ContainsAny(opts.Platform, "\r\n") {
		return nil, fmt.Errorf("%w: platform condition must be a single line", bakeerrors.ErrConfig)
	}
	for _, inc := range opts.Includes {
		if inc == "" || strings.ContainsAny(inc, "\r\n") {
			return nil, fmt.Errorf("%w: invalid include %q", bakeerrors.ErrConfig, inc)
		}
	}

	return &Emitter{opts: opts}, nil
}

// Options returns the emitter's effective options.
func (e *Emitter) Options() Options {
	return e.opts
}

// Layout fingerprints everything besides the certificate data that shapes
// the header: the encoding variant and the effective options. Two runs with
// equal layouts render identical headers from identical data.
func (e *Emitter) Layout(v encoder.Variant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "variant=%q\n", v)
	fmt.Fprintf(&b, "guard=%q\nplatform=%q\n", e.opts.Guard, e.opts.Platform)
	for _, inc := range e.opts.Includes {
		fmt.Fprintf(&b, "include=%q\n", inc)
	}
	fmt.Fprintf(&b, "namespace=%q\nrom=%q\n", e.opts.Namespace, e.opts.ROM)
	fmt.Fprintf(&b, "list_type=%q\ngenerator=%q\n", e.opts.ListType, e.opts.Generator)
	return fetcher.ComputeSHA256([]byte(b.String()))
}

// Render writes the header for a to w.
func (e *Emitter) Render(w io.Writer, a *Artifact) error {
	buf := e.pool.Get()
	defer e.pool.Put(buf)

	if err := e.render(buf, a); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// Bytes renders the header for a into a new slice.
func (e *Emitter) Bytes(a *Artifact) ([]byte, error) {
	buf := e.pool.Get()
	defer e.pool.Put(buf)

	if err := e.render(buf, a); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}

// WriteFile renders a and atomically replaces path with the result. Nothing
// is written when rendering fails.
func (e *Emitter) WriteFile(path string, a *Artifact) error {
	data, err := e.Bytes(a)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func (e *Emitter) render(buf *bytebufferpool.ByteBuffer, a *Artifact) error {
	if a == nil || a.Encoded == nil {
		return fmt.Errorf("render artifact: nothing to render")
	}
	if !hashRegex.MatchString(a.Hash) {
		return fmt.Errorf("render artifact: invalid source hash %q", a.Hash)
	}

	o := &e.opts
	fmt.Fprintf(buf, "#ifndef %s\n#define %s\n", o.Guard, o.Guard)
	if o.Platform != "" {
		if identRegex.MatchString(o.Platform) {
			fmt.Fprintf(buf, "#ifdef %s\n", o.Platform)
		} else {
			fmt.Fprintf(buf, "#if %s\n", o.Platform)
		}
	}
	if len(o.Includes) > 0 {
		for _, inc := range o.Includes {
			fmt.Fprintf(buf, "#include %s\n", includeSpec(inc))
		}
		buf.WriteString("\n")
	}

	fmt.Fprintf(buf, "namespace %s {\n", o.Namespace)
	fmt.Fprintf(buf, "// This file is computer generated by %s", o.Generator)
	if a.Target != "" {
		fmt.Fprintf(buf, " for target %s", sanitizeComment(a.Target))
	}
	buf.WriteString(". Do not edit.\n\n")
	buf.WriteString(cachegate.MarkerLine(a.Hash))
	buf.WriteString("\n\n")

	var err error
	switch a.Encoded.Variant {
	case encoder.VariantCompact:
		err = e.renderCompact(buf, a.Encoded)
	case encoder.VariantIndexed:
		err = e.renderIndexed(buf, a.Encoded)
	case encoder.VariantPEM:
		err = e.renderPEM(buf, a.Encoded)
	default:
		err = fmt.Errorf("%w: unknown encoding %q", bakeerrors.ErrConfig, a.Encoded.Variant)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(buf, "} // namespace %s\n", o.Namespace)
	if o.Platform != "" {
		buf.WriteString("\n#endif\n")
	}
	buf.WriteString("\n#endif\n")
	return nil
}

// rom returns the attribute with a leading space, or "".
func (e *Emitter) rom() string {
	if e.opts.ROM == "" {
		return ""
	}
	return " " + e.opts.ROM
}

func includeSpec(inc string) string {
	if strings.HasPrefix(inc, "<") || strings.HasPrefix(inc, `"`) {
		return inc
	}
	return `"` + inc + `"`
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &bakeerrors.BakeError{Op: "create directory", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return &bakeerrors.BakeError{Op: "create temp artifact", Path: path, Err: err}
	}
	tempPath := tmp.Name()

	cleanup := func(op string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		return &bakeerrors.BakeError{Op: op, Path: tempPath, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup("write temp artifact", err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup("sync temp artifact", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return cleanup("chmod temp artifact", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return &bakeerrors.BakeError{Op: "close temp artifact", Path: tempPath, Err: err}
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return &bakeerrors.BakeError{Op: "rename artifact", Path: path, Err: err}
	}
	return nil
}
