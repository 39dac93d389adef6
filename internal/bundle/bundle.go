// Package bundle holds the certificate data model shared by the parser, the
// encoders and the emitter, and the canonical ordering of a trust bundle.
//
// Embedded consumers binary-search the emitted tables by subject bytes, so a
// Bundle is always sorted by SubjectDER in unsigned byte order.
package bundle

import (
	"bytes"
	"fmt"
	"slices"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// MaxCertificates is the largest certificate count representable by the
// two-byte count fields of the emitted encodings.
const MaxCertificates = 0xFFFF

// Certificate is the canonical record for one trust anchor.
//
// The byte slices are shared with the parsed source and must not be modified.
type Certificate struct {
	// SubjectDER is the DER encoding of the subject distinguished name.
	SubjectDER []byte
	// IssuerDER is the DER encoding of the issuer distinguished name.
	IssuerDER []byte
	// PublicKeyDER is the DER encoded SubjectPublicKeyInfo.
	PublicKeyDER []byte
	// RawDER is the complete DER encoded certificate.
	RawDER []byte
	// Label is an optional human readable name carried by some sources.
	Label string
}

// Validate checks the fields every encoder relies on.
func (c *Certificate) Validate() error {
	if len(c.SubjectDER) == 0 {
		return fmt.Errorf("%w: subject", bakeerrors.ErrMissingField)
	}
	if len(c.PublicKeyDER) == 0 {
		return fmt.Errorf("%w: public key", bakeerrors.ErrMissingField)
	}
	return nil
}

// Bundle is an ordered set of certificates ready for encoding.
type Bundle struct {
	certs []Certificate
}

// New sorts certs into canonical order and returns the resulting Bundle.
// The input slice is not modified.
func New(certs []Certificate) (*Bundle, error) {
	if len(certs) > MaxCertificates {
		return nil, fmt.Errorf("%w: %d exceeds %d", bakeerrors.ErrTooManyCertificates, len(certs), MaxCertificates)
	}

	for i := range certs {
		if err := certs[i].Validate(); err != nil {
			return nil, fmt.Errorf("certificate %d (%s): %w", i, describe(&certs[i]), err)
		}
	}

	sorted := slices.Clone(certs)
	Sort(sorted)

	return &Bundle{certs: sorted}, nil
}

// Sort orders certs by SubjectDER ascending. Equal subjects keep their
// relative input order.
func Sort(certs []Certificate) {
	slices.SortStableFunc(certs, func(a, b Certificate) int {
		return bytes.Compare(a.SubjectDER, b.SubjectDER)
	})
}

// IsSorted reports whether certs is in canonical order.
func IsSorted(certs []Certificate) bool {
	return slices.IsSortedFunc(certs, func(a, b Certificate) int {
		return bytes.Compare(a.SubjectDER, b.SubjectDER)
	})
}

// Count returns the number of certificates in the bundle.
func (b *Bundle) Count() int {
	return len(b.certs)
}

// Certificates returns the certificates in canonical order.
// The returned slice must not be modified.
func (b *Bundle) Certificates() []Certificate {
	return b.certs
}

// Find returns the index of the first certificate whose subject equals
// subject, using the same binary search an embedded consumer performs.
func (b *Bundle) Find(subject []byte) (int, bool) {
	i, found := slices.BinarySearchFunc(b.certs, subject, func(c Certificate, target []byte) int {
		return bytes.Compare(c.SubjectDER, target)
	})
	return i, found
}

func describe(c *Certificate) string {
	if c.Label != "" {
		return c.Label
	}
	return "unlabelled"
}
