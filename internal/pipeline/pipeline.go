// Package pipeline runs one target from freshness check to written header:
// gate, retrieve, hash compare, parse, sort, encode, emit, record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/princespaghetti/certbake/internal/bundle"
	"github.com/princespaghetti/certbake/internal/cachegate"
	"github.com/princespaghetti/certbake/internal/config"
	"github.com/princespaghetti/certbake/internal/emitter"
	"github.com/princespaghetti/certbake/internal/encoder"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
	"github.com/princespaghetti/certbake/internal/fetcher"
)

// Outcome is what a run did to its artifact.
type Outcome int

// Run outcomes. Only OutcomeRegenerated writes anything.
const (
	// OutcomeSkipped means the artifact was young enough to use without
	// contacting upstream.
	OutcomeSkipped Outcome = iota
	// OutcomeUpToDate means upstream data hashed to the recorded value.
	OutcomeUpToDate
	// OutcomeRegenerated means the artifact and its record were rewritten.
	OutcomeRegenerated
	// OutcomeStale means retrieval failed and the previous artifact was kept.
	OutcomeStale
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUpToDate:
		return "up-to-date"
	case OutcomeRegenerated:
		return "regenerated"
	case OutcomeStale:
		return "stale"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes one target run.
type Result struct {
	Target    string        `json:"target"`
	Outcome   Outcome       `json:"-"`
	Status    string        `json:"status"`
	Artifact  string        `json:"artifact"`
	Hash      string        `json:"sha256,omitempty"`
	CertCount int           `json:"cert_count,omitempty"`
	Warning   string        `json:"warning,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Runner executes targets.
type Runner struct {
	httpClient fetcher.HTTPClient
	exec       fetcher.Runner
	logger     *slog.Logger
	now        func() time.Time
	force      bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithHTTPClient sets the client used by csv and url sources.
func WithHTTPClient(c fetcher.HTTPClient) Option {
	return func(r *Runner) { r.httpClient = c }
}

// WithExecRunner sets how external programs are started.
func WithExecRunner(e fetcher.Runner) Option {
	return func(r *Runner) { r.exec = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithForce makes every run fetch and regenerate, ignoring the age gate and
// the recorded hash.
func WithForce(force bool) Option {
	return func(r *Runner) { r.force = force }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		exec:   fetcher.ExecRunner{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll runs targets in order. A failing target does not stop the others;
// the returned error joins every failure.
func (r *Runner) RunAll(ctx context.Context, targets []*config.Target) ([]*Result, error) {
	results := make([]*Result, 0, len(targets))
	var errs []error
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := r.Run(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", t.Name, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Run brings one target's artifact up to date.
func (r *Runner) Run(ctx context.Context, t *config.Target) (*Result, error) {
	start := r.now()
	log := r.logger.With("target", t.Name)

	em, err := emitter.New(t.EmitterOptions())
	if err != nil {
		return nil, err
	}
	enc, err := encoder.New(t.Variant())
	if err != nil {
		return nil, err
	}

	gate := cachegate.New(t.Output,
		cachegate.WithMaxAge(t.MaxAgeOrDefault()),
		cachegate.WithLogger(log))

	unlock, err := gate.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	res := &Result{Target: t.Name, Artifact: t.Output}
	finish := func(o Outcome) (*Result, error) {
		res.Outcome = o
		res.Status = o.String()
		res.Elapsed = r.now().Sub(start)
		return res, nil
	}

	if !r.force && gate.CheckAge(r.now()) == cachegate.Skip {
		log.Debug("artifact is fresh, not fetching", "artifact", t.Output, "max_age", gate.MaxAge())
		res.Hash, _ = gate.PreviousHash()
		return finish(OutcomeSkipped)
	}

	src, err := r.source(t)
	if err != nil {
		return nil, err
	}

	log.Info("retrieving certificates", "source", src.Describe())
	payload, err := retrieve(ctx, src, time.Duration(t.FetchTimeout))
	if err != nil {
		if !errors.Is(err, bakeerrors.ErrRetrievalFailed) {
			return nil, err
		}
		if _, ferr := gate.OnRetrievalFailure(err); ferr != nil {
			return nil, ferr
		}
		res.Hash, _ = gate.PreviousHash()
		res.Warning = err.Error()
		return finish(OutcomeStale)
	}

	hash := payload.Hash()
	res.Hash = hash
	layout := em.Layout(t.Variant())
	if !r.force && gate.CompareHash(hash) == cachegate.Skip {
		if gate.MatchesLayout(layout) {
			log.Info("certificates already up to date", "sha256", hash)
			return finish(OutcomeUpToDate)
		}
		log.Info("header layout changed, regenerating", "encoding", t.Variant())
	}

	b, text, err := r.build(ctx, t, payload)
	if err != nil {
		return nil, err
	}

	encoded, err := enc.Encode(encoder.Input{Bundle: b, Source: text})
	if err != nil {
		return nil, bakeerrors.Malformed("encode bundle", payload.Origin, err)
	}

	res.CertCount = encoded.Count
	if prev, err := gate.ReadRecord(); err == nil {
		if warning := fetcher.CheckDegradation(prev.CertCount, encoded.Count); warning != "" {
			log.Warn(warning, "previous", prev.CertCount, "current", encoded.Count)
			res.Warning = warning
		}
	}

	artifact := &emitter.Artifact{Target: t.Name, Hash: hash, Encoded: encoded}
	if err := em.WriteFile(t.Output, artifact); err != nil {
		return nil, err
	}

	rec := cachegate.NewRecord(t.Name)
	rec.SHA256 = hash
	rec.Variant = string(encoded.Variant)
	rec.CertCount = encoded.Count
	rec.Generated = r.now().UTC()
	rec.Source = src.Describe()
	rec.Upstream = fetcher.UpstreamVersion(payload.Data)
	rec.Layout = layout
	if err := gate.WriteRecord(rec); err != nil {
		return nil, err
	}

	log.Info("generated certificate header",
		"artifact", t.Output, "encoding", encoded.Variant, "certificates", encoded.Count, "sha256", hash)
	return finish(OutcomeRegenerated)
}

func retrieve(ctx context.Context, src fetcher.Source, timeout time.Duration) (*fetcher.Payload, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return src.Retrieve(ctx)
}

func (r *Runner) source(t *config.Target) (fetcher.Source, error) {
	kind, err := fetcher.ParseKind(t.Source.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case fetcher.KindCSV, fetcher.KindURL:
		return fetcher.NewHTTPSource(kind, t.Source.URL, fetcher.NewFetcher(r.httpClient))
	case fetcher.KindScript:
		return &fetcher.ScriptSource{
			Command: t.Source.Command,
			Dir:     t.Source.Dir,
			Output:  t.Source.Output,
			Runner:  r.exec,
		}, nil
	default:
		return &fetcher.FileSource{Path: t.Source.Path}, nil
	}
}

// newBundle sorts and validates certs, naming origin in any error.
func newBundle(origin string, certs []bundle.Certificate) (*bundle.Bundle, error) {
	b, err := bundle.New(certs)
	if err != nil {
		return nil, bakeerrors.Malformed("build bundle", origin, err)
	}
	return b, nil
}
