// Package encoder serialises a sorted trust bundle into one of the layouts
// consumed by firmware:
//
//   - compact: count, then length-prefixed subject and public key per entry
//   - indexed: full DER per entry plus a SHA-256 issuer index
//   - pem: the upstream PEM text, passed through unchanged
//
// All encoders share the bundle.Bundle data model and are selected by Variant.
package encoder

import (
	"fmt"

	"github.com/princespaghetti/certbake/internal/bundle"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// Variant names an encoding.
type Variant string

// Supported variants.
const (
	VariantCompact Variant = "compact"
	VariantIndexed Variant = "indexed"
	VariantPEM     Variant = "pem"
)

// Variants lists every supported variant.
var Variants = []Variant{VariantCompact, VariantIndexed, VariantPEM}

// Input is what an encoder works from: the sorted bundle and the canonical
// upstream text it was parsed from.
type Input struct {
	Bundle *bundle.Bundle
	Source []byte
}

// Encoded holds the output of an encoder. Exactly one of Compact, Indexed or
// PEM is set, according to Variant.
type Encoded struct {
	Variant Variant
	Count   int
	Compact []byte
	Indexed *IndexedTables
	PEM     string
}

// Encoder converts a bundle to its binary or textual layout.
type Encoder interface {
	Variant() Variant
	Encode(in Input) (*Encoded, error)
}

// New returns the encoder for v.
func New(v Variant) (Encoder, error) {
	switch v {
	case VariantCompact:
		return Compact{}, nil
	case VariantIndexed:
		return Indexed{}, nil
	case VariantPEM:
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", bakeerrors.ErrConfig, v)
	}
}

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	for _, v := range Variants {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: unknown encoding %q (want compact, indexed or pem)", bakeerrors.ErrConfig, s)
}

func checkLen(what string, index, n int) error {
	if n > 0xFFFF {
		return fmt.Errorf("%w: certificate %d %s is %d bytes", bakeerrors.ErrFieldTooLong, index, what, n)
	}
	return nil
}
