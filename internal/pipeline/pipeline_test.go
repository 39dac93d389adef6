package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/princespaghetti/certbake/internal/cachegate"
	"github.com/princespaghetti/certbake/internal/config"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
	"github.com/princespaghetti/certbake/internal/fetcher"
	"github.com/princespaghetti/certbake/internal/testcert"
)

// upstream is a mock HTTPClient serving a mutable body.
type upstream struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls int
}

func (u *upstream) set(body []byte, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.body, u.err = body, err
}

func (u *upstream) Do(req *http.Request) (*http.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(u.body)),
	}, nil
}

func (u *upstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

// fakeExec resolves the executables in found and delegates Run to run.
type fakeExec struct {
	found map[string]bool
	run   func(dir, name string, args []string) ([]byte, error)
}

func (f *fakeExec) LookPath(name string) (string, error) {
	if f.found[name] {
		return name, nil
	}
	return "", exec.ErrNotFound
}

func (f *fakeExec) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	return f.run(dir, name, args)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func never() *config.Duration {
	d := config.Duration(0)
	return &d
}

func newTarget(t *testing.T, dir, encoding string, src config.SourceConfig) *config.Target {
	t.Helper()
	tgt := &config.Target{
		Name:     "test",
		Output:   filepath.Join(dir, "generated", "certificates.hpp"),
		Encoding: encoding,
		Source:   src,
		Header:   config.HeaderConfig{Platform: "IOP_TEST"},
	}
	require.NoError(t, tgt.Validate())
	return tgt
}

func urlTarget(t *testing.T, dir, encoding string) *config.Target {
	return newTarget(t, dir, encoding, config.SourceConfig{Kind: "url", URL: "https://roots.example.test/cacert.pem"})
}

func pemBundle(t *testing.T, names ...string) []byte {
	t.Helper()
	certs := make([]*testcert.Cert, len(names))
	for i, n := range names {
		certs[i] = testcert.SelfSigned(t, n)
	}
	return []byte(testcert.Concat(certs...))
}

func readArtifact(t *testing.T, tgt *config.Target) []byte {
	t.Helper()
	data, err := os.ReadFile(tgt.Output)
	require.NoError(t, err)
	return data
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "up-to-date", OutcomeUpToDate.String())
	assert.Equal(t, "regenerated", OutcomeRegenerated.String())
	assert.Equal(t, "stale", OutcomeStale.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
}

func TestRun_GeneratesCompact(t *testing.T) {
	dir := t.TempDir()
	body := pemBundle(t, "Zulu Root", "Alpha Root", "Mike Root")
	up := &upstream{body: body}

	tgt := urlTarget(t, dir, "compact")
	res, err := New(WithHTTPClient(up), WithLogger(quietLogger())).Run(context.Background(), tgt)
	require.NoError(t, err)

	assert.Equal(t, OutcomeRegenerated, res.Outcome)
	assert.Equal(t, "regenerated", res.Status)
	assert.Equal(t, 3, res.CertCount)
	assert.Equal(t, fetcher.ComputeSHA256(body), res.Hash)

	data := readArtifact(t, tgt)
	marker, ok := cachegate.ScanMarker(data)
	require.True(t, ok)
	assert.Equal(t, res.Hash, marker)
	assert.Contains(t, string(data), "#ifdef IOP_TEST")
	assert.Contains(t, string(data), "static const uint8_t bundle[] IOP_ROM = {")

	rec, err := cachegate.New(tgt.Output).ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, "test", rec.Target)
	assert.Equal(t, res.Hash, rec.SHA256)
	assert.Equal(t, "compact", rec.Variant)
	assert.Equal(t, 3, rec.CertCount)
	assert.Equal(t, "https://roots.example.test/cacert.pem", rec.Source)
}

func TestRun_Idempotent(t *testing.T) {
	dir := t.TempDir()
	up := &upstream{body: pemBundle(t, "Idem Root A", "Idem Root B")}

	tgt := urlTarget(t, dir, "compact")
	tgt.MaxAge = never()
	r := New(WithHTTPClient(up), WithLogger(quietLogger()))

	first, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)
	require.Equal(t, OutcomeRegenerated, first.Outcome)

	before := readArtifact(t, tgt)
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(tgt.Output, old, old))

	second, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpToDate, second.Outcome)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, 2, up.callCount(), "max_age 0 fetches every time")

	assert.Equal(t, before, readArtifact(t, tgt))
	info, err := os.Stat(tgt.Output)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "artifact must not be rewritten")
}

func TestRun_LayoutChangeRegenerates(t *testing.T) {
	dir := t.TempDir()
	up := &upstream{body: pemBundle(t, "Layout Root A", "Layout Root B")}
	r := New(WithHTTPClient(up), WithLogger(quietLogger()))

	tgt := urlTarget(t, dir, "compact")
	tgt.MaxAge = never()
	first, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)
	require.Equal(t, OutcomeRegenerated, first.Outcome)

	// Same upstream data, different encoding.
	pem := urlTarget(t, dir, "pem")
	pem.MaxAge = never()
	second, err := r.Run(context.Background(), pem)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegenerated, second.Outcome)
	assert.Equal(t, first.Hash, second.Hash)

	data := string(readArtifact(t, pem))
	assert.Contains(t, data, "static const char certs_bundle[] IOP_ROM")
	assert.NotContains(t, data, "static const uint8_t bundle[]")

	rec, err := cachegate.New(pem.Output).ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, "pem", rec.Variant)
	assert.NotEmpty(t, rec.Layout)

	third, err := r.Run(context.Background(), pem)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpToDate, third.Outcome, "unchanged layout and data")

	// Header options count as layout too.
	guarded := urlTarget(t, dir, "pem")
	guarded.MaxAge = never()
	guarded.Header.Guard = "OTHER_GUARD_H"
	fourth, err := r.Run(context.Background(), guarded)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegenerated, fourth.Outcome)
	assert.Contains(t, string(readArtifact(t, guarded)), "#ifndef OTHER_GUARD_H")
}

func TestRun_AgeGateShortCircuitsFetch(t *testing.T) {
	dir := t.TempDir()
	up := &upstream{body: pemBundle(t, "Gate Root")}
	tgt := urlTarget(t, dir, "compact")
	r := New(WithHTTPClient(up), WithLogger(quietLogger()))

	first, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)
	require.Equal(t, OutcomeRegenerated, first.Outcome)
	before := readArtifact(t, tgt)

	// Upstream changes, but the artifact is younger than seven days.
	up.set(pemBundle(t, "Gate Root", "Another Root"), nil)

	second, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, second.Outcome)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, 1, up.callCount(), "a fresh artifact must not trigger a fetch")
	assert.Equal(t, before, readArtifact(t, tgt))

	// Eight days later the changed upstream is picked up.
	later := New(WithHTTPClient(up), WithLogger(quietLogger()),
		WithClock(func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }))
	third, err := later.Run(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegenerated, third.Outcome)
	assert.NotEqual(t, first.Hash, third.Hash)
	assert.Equal(t, 2, third.CertCount)
}

func TestRun_Force(t *testing.T) {
	dir := t.TempDir()
	up := &upstream{body: pemBundle(t, "Force Root")}
	tgt := urlTarget(t, dir, "compact")

	_, err := New(WithHTTPClient(up), WithLogger(quietLogger())).Run(context.Background(), tgt)
	require.NoError(t, err)

	res, err := New(WithHTTPClient(up), WithLogger(quietLogger()), WithForce(true)).Run(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegenerated, res.Outcome)
	assert.Equal(t, 2, up.callCount())
}

func TestRun_RetrievalFailureWithArtifact(t *testing.T) {
	dir := t.TempDir()
	up := &upstream{body: pemBundle(t, "Stale Root")}
	tgt := urlTarget(t, dir, "compact")
	tgt.MaxAge = never()
	r := New(WithHTTPClient(up), WithLogger(quietLogger()))

	first, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)
	before := readArtifact(t, tgt)

	up.set(nil, errors.New("dial tcp: connection refused"))
	res, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Equal(t, first.Hash, res.Hash)
	assert.Contains(t, res.Warning, "connection refused")
	assert.Equal(t, before, readArtifact(t, tgt))
}

func TestRun_RetrievalFailureWithoutArtifact(t *testing.T) {
	dir := t.TempDir()
	up := &upstream{err: errors.New("dial tcp: connection refused")}
	tgt := urlTarget(t, dir, "compact")

	_, err := New(WithHTTPClient(up), WithLogger(quietLogger())).Run(context.Background(), tgt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bakeerrors.ErrRetrievalFailed))
	assert.Equal(t, bakeerrors.ExitRetrievalError, bakeerrors.ExitCode(err))

	_, statErr := os.Stat(tgt.Output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_ZeroMarkersWritesNothing(t *testing.T) {
	dir := t.TempDir()
	up := &upstream{body: []byte("<html>maintenance</html>\n")}
	tgt := urlTarget(t, dir, "compact")

	_, err := New(WithHTTPClient(up), WithLogger(quietLogger())).Run(context.Background(), tgt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bakeerrors.ErrNoCertificate))
	assert.Equal(t, bakeerrors.ExitMalformedInput, bakeerrors.ExitCode(err))
	assert.Contains(t, err.Error(), "https://roots.example.test/cacert.pem")

	_, statErr := os.Stat(tgt.Output)
	assert.True(t, os.IsNotExist(statErr), "no artifact may be written")
	_, statErr = os.Stat(tgt.Output + cachegate.RecordSuffix)
	assert.True(t, os.IsNotExist(statErr), "no record may be written")
}

func TestRun_MalformedKeepsPreviousArtifact(t *testing.T) {
	dir := t.TempDir()
	up := &upstream{body: pemBundle(t, "Kept Root")}
	tgt := urlTarget(t, dir, "compact")
	tgt.MaxAge = never()
	r := New(WithHTTPClient(up), WithLogger(quietLogger()))

	_, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)
	before := readArtifact(t, tgt)

	up.set([]byte("-----BEGIN CERTIFICATE-----\nAAAA\n"), nil)
	_, err = r.Run(context.Background(), tgt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bakeerrors.ErrUnterminatedBlock))
	assert.Equal(t, before, readArtifact(t, tgt))
}

func buildFeed(t *testing.T, certs ...*testcert.Cert) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write([]string{"CA Owner", "Certificate Name", "Subject", "PEM Info"}))
	for _, c := range certs {
		cn := c.Cert.Subject.CommonName
		require.NoError(t, w.Write([]string{"Example Org", cn, "CN=" + cn, "'" + c.PEM + "'"}))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return buf.Bytes()
}

func TestRun_FeedIndexed(t *testing.T) {
	dir := t.TempDir()
	root := testcert.SelfSigned(t, "Feed Root")
	child := testcert.Issued(t, "Feed Intermediate", root)
	feed := buildFeed(t, root, child)
	up := &upstream{body: feed}

	tgt := newTarget(t, dir, "indexed", config.SourceConfig{Kind: "csv"})
	tgt.Converter = fetcher.ConverterBuiltin
	tgt.Header.ListType = "iop_hal::CertList"

	res, err := New(WithHTTPClient(up), WithLogger(quietLogger())).Run(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegenerated, res.Outcome)
	assert.Equal(t, fetcher.ComputeSHA256(feed), res.Hash, "the feed is hashed as fetched")
	assert.Equal(t, 2, res.CertCount)

	s := string(readArtifact(t, tgt))
	assert.Contains(t, s, "// Example Org:Feed Root:CN=Feed Root\n")
	assert.Contains(t, s, "// Example Org:Feed Intermediate:CN=Feed Intermediate\n")
	assert.Contains(t, s, "static const uint16_t numberOfCertificates = 2;")
	assert.Contains(t, s, "static const iop_hal::CertList certList(certificates, indexes, certSizes, numberOfCertificates);")
}

func TestRun_IndexedNeedsOpenSSL(t *testing.T) {
	body := pemBundle(t, "Dependency Root")
	noTools := &fakeExec{run: func(dir, name string, args []string) ([]byte, error) {
		t.Fatal("nothing should be executed")
		return nil, nil
	}}

	t.Run("no fallback", func(t *testing.T) {
		tgt := urlTarget(t, t.TempDir(), "indexed")
		_, err := New(WithHTTPClient(&upstream{body: body}), WithExecRunner(noTools), WithLogger(quietLogger())).
			Run(context.Background(), tgt)
		require.Error(t, err)
		assert.True(t, errors.Is(err, bakeerrors.ErrDependencyMissing))
		assert.Equal(t, bakeerrors.ExitDependencyMissing, bakeerrors.ExitCode(err))
		_, statErr := os.Stat(tgt.Output)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("builtin fallback", func(t *testing.T) {
		var logs bytes.Buffer
		tgt := urlTarget(t, t.TempDir(), "indexed")
		tgt.AllowBuiltinFallback = true

		res, err := New(WithHTTPClient(&upstream{body: body}), WithExecRunner(noTools),
			WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))).Run(context.Background(), tgt)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRegenerated, res.Outcome)
		assert.Contains(t, logs.String(), "openssl not found")
		assert.Contains(t, string(readArtifact(t, tgt)), "// Dependency Root\n")
	})
}

func TestRun_IndexedWithOpenSSL(t *testing.T) {
	dir := t.TempDir()
	body := pemBundle(t, "OpenSSL Root B", "OpenSSL Root A")
	var scratch []string

	tools := &fakeExec{
		found: map[string]bool{"openssl": true},
		run: func(dir, name string, args []string) ([]byte, error) {
			scratch = append(scratch, dir)
			in, out := args[len(args)-3], args[len(args)-1]
			der, err := fetcher.BuiltinConverter{}.ToDER(context.Background(), []string{mustRead(t, in)})
			if err != nil {
				return []byte("unable to load certificate"), err
			}
			return nil, os.WriteFile(out, der[0], 0600)
		},
	}

	tgt := urlTarget(t, dir, "indexed")
	res, err := New(WithHTTPClient(&upstream{body: body}), WithExecRunner(tools), WithLogger(quietLogger())).
		Run(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CertCount)

	require.Len(t, scratch, 2)
	_, statErr := os.Stat(scratch[0])
	assert.True(t, os.IsNotExist(statErr), "scratch files must be removed")

	s := string(readArtifact(t, tgt))
	assert.Less(t, strings.Index(s, "// OpenSSL Root A"), strings.Index(s, "// OpenSSL Root B"), "entries are sorted by subject")
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRun_ScriptPEM(t *testing.T) {
	dir := t.TempDir()
	body := append([]byte("## Certificate data from Mozilla as of: Tue Sep  9 03:12:01 2025 GMT\n\n"), pemBundle(t, "Script Root")...)

	tools := &fakeExec{
		found: map[string]bool{"perl": true},
		run: func(dir, name string, args []string) ([]byte, error) {
			return nil, os.WriteFile(filepath.Join(dir, "ca-bundle.crt"), body, 0644)
		},
	}

	tgt := newTarget(t, dir, "pem", config.SourceConfig{Kind: "script", Dir: dir})
	tgt.Header.Platform = "defined(IOP_LINUX_MOCK) || defined(IOP_LINUX)"

	res, err := New(WithExecRunner(tools), WithLogger(quietLogger())).Run(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegenerated, res.Outcome)
	assert.Equal(t, fetcher.ComputeSHA256(body), res.Hash)

	s := string(readArtifact(t, tgt))
	assert.Contains(t, s, "#if defined(IOP_LINUX_MOCK) || defined(IOP_LINUX)\n")
	assert.Contains(t, s, "static const char certs_bundle[] IOP_ROM = \"\"\\\n")
	assert.Contains(t, s, "\"-----BEGIN CERTIFICATE-----\\n\"\\\n")

	rec, err := cachegate.New(tgt.Output).ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, "2025-09-09", rec.Upstream)
	assert.Equal(t, "perl mk-ca-bundle.pl", rec.Source)
}

func TestRun_ScriptInterpreterMissing(t *testing.T) {
	tgt := newTarget(t, t.TempDir(), "compact", config.SourceConfig{Kind: "script"})
	_, err := New(WithExecRunner(&fakeExec{}), WithLogger(quietLogger())).Run(context.Background(), tgt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bakeerrors.ErrDependencyMissing))
}

func TestRun_DegradationWarning(t *testing.T) {
	dir := t.TempDir()
	up := &upstream{body: pemBundle(t, "D1", "D2", "D3", "D4", "D5")}
	tgt := urlTarget(t, dir, "compact")
	tgt.MaxAge = never()
	r := New(WithHTTPClient(up), WithLogger(quietLogger()))

	_, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)

	up.set(pemBundle(t, "D1"), nil)
	res, err := r.Run(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegenerated, res.Outcome)
	assert.Contains(t, res.Warning, "4 fewer certificates")
}

func TestRunAll_ContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()

	bad := newTarget(t, dir, "compact", config.SourceConfig{Kind: "file", Path: filepath.Join(dir, "missing.pem")})
	bad.Name = "bad"
	bad.Output = filepath.Join(dir, "bad.hpp")

	goodPath := filepath.Join(dir, "roots.pem")
	require.NoError(t, os.WriteFile(goodPath, pemBundle(t, "File Root"), 0644))
	good := newTarget(t, dir, "compact", config.SourceConfig{Kind: "file", Path: goodPath})
	good.Name = "good"

	results, err := New(WithLogger(quietLogger())).RunAll(context.Background(), []*config.Target{bad, good})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target bad")
	assert.True(t, errors.Is(err, bakeerrors.ErrRetrievalFailed))

	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].Target)
	assert.Equal(t, OutcomeRegenerated, results[0].Outcome)
}

func TestRunAll_ExitCodeFollowsFirstFailure(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate\n"), 0644))
	malformed := newTarget(t, dir, "compact", config.SourceConfig{Kind: "file", Path: garbage})
	malformed.Name = "malformed"
	malformed.Output = filepath.Join(dir, "malformed.hpp")

	misconfigured := newTarget(t, dir, "compact", config.SourceConfig{Kind: "file", Path: garbage})
	misconfigured.Name = "misconfigured"
	misconfigured.Output = filepath.Join(dir, "misconfigured.hpp")
	misconfigured.Source.Kind = "ftp"

	_, err := New(WithLogger(quietLogger())).RunAll(context.Background(), []*config.Target{malformed, misconfigured})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bakeerrors.ErrConfig))
	assert.Equal(t, bakeerrors.ExitMalformedInput, bakeerrors.ExitCode(err))
}
