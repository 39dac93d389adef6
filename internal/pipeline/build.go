package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/princespaghetti/certbake/internal/bundle"
	"github.com/princespaghetti/certbake/internal/certparse"
	"github.com/princespaghetti/certbake/internal/config"
	"github.com/princespaghetti/certbake/internal/encoder"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
	"github.com/princespaghetti/certbake/internal/fetcher"
)

// build parses a payload into a sorted bundle and the PEM text a passthrough
// artifact embeds.
func (r *Runner) build(ctx context.Context, t *config.Target, p *fetcher.Payload) (*bundle.Bundle, []byte, error) {
	variant := t.Variant()

	var (
		certs []bundle.Certificate
		text  []byte
		err   error
	)

	switch {
	case p.Kind == fetcher.KindCSV:
		entries, ferr := certparse.ParseFeed(p.Data)
		if ferr != nil {
			return nil, nil, bakeerrors.Malformed("parse feed", p.Origin, ferr)
		}
		text = feedText(entries)

		if variant == encoder.VariantIndexed {
			pems := make([]string, len(entries))
			labels := make([]string, len(entries))
			for i, e := range entries {
				pems[i] = e.PEM
				labels[i] = e.Name
			}
			certs, err = r.convert(ctx, t, p.Origin, pems, labels)
		} else {
			certs, err = certparse.FeedCertificates(entries)
			if err != nil {
				err = bakeerrors.Malformed("parse feed", p.Origin, err)
			}
		}

	case variant == encoder.VariantIndexed && !certparse.IsDER(p.Data):
		if len(bytes.TrimSpace(p.Data)) == 0 {
			return nil, nil, bakeerrors.Malformed("parse certificates", p.Origin, bakeerrors.ErrEmptyInput)
		}
		blocks, serr := certparse.SplitPEM(p.Data)
		if serr != nil {
			return nil, nil, bakeerrors.Malformed("parse certificates", p.Origin, serr)
		}
		pems := make([]string, len(blocks))
		for i, b := range blocks {
			pems[i] = b.Text
		}
		certs, err = r.convert(ctx, t, p.Origin, pems, nil)
		text = p.Data

	default:
		certs, err = certparse.Parse(p.Data)
		if err != nil {
			err = bakeerrors.Malformed("parse certificates", p.Origin, err)
		}
		text = p.Data
	}
	if err != nil {
		return nil, nil, err
	}

	if variant == encoder.VariantPEM && certparse.IsDER(text) {
		return nil, nil, bakeerrors.Malformed("parse certificates", p.Origin,
			fmt.Errorf("pem encoding needs PEM input, got DER"))
	}

	b, err := newBundle(p.Origin, certs)
	if err != nil {
		return nil, nil, err
	}
	return b, text, nil
}

// convert turns PEM blocks into certificates through the target's external
// converter. labels, when non-nil, name each block.
func (r *Runner) convert(ctx context.Context, t *config.Target, origin string, pems, labels []string) ([]bundle.Certificate, error) {
	conv, err := fetcher.ResolveConverter(t.Converter, t.AllowBuiltinFallback, r.exec, r.logger.With("target", t.Name))
	if err != nil {
		return nil, err
	}

	ders, err := conv.ToDER(ctx, pems)
	if err != nil {
		switch {
		case errors.Is(err, bakeerrors.ErrMalformedInput):
			return nil, bakeerrors.Malformed("convert certificates", origin, err)
		case ctx.Err() != nil:
			return nil, err
		default:
			return nil, &bakeerrors.BakeError{Op: "convert certificates", Path: origin, Err: err}
		}
	}

	certs := make([]bundle.Certificate, 0, len(ders))
	for i, der := range ders {
		parsed, err := certparse.ParseDER(der)
		if err != nil {
			return nil, bakeerrors.Malformed("parse certificates", origin, fmt.Errorf("certificate #%d: %w", i, err))
		}
		if len(parsed) != 1 {
			return nil, bakeerrors.Malformed("parse certificates", origin,
				fmt.Errorf("certificate #%d: expected one certificate, got %d", i, len(parsed)))
		}
		c := parsed[0]
		if labels != nil {
			c.Label = labels[i]
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// feedText concatenates the certificates of a feed as one PEM document.
func feedText(entries []certparse.FeedEntry) []byte {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(strings.TrimSpace(e.PEM))
		b.WriteString("\n")
	}
	return []byte(b.String())
}
