package encoder

import (
	"fmt"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// Passthrough emits the upstream PEM text as is, for targets with a full TLS
// stack that loads PEM at runtime. The bundle is still required so that a
// source which fails to parse never reaches the artifact.
type Passthrough struct{}

// Variant implements Encoder.
func (Passthrough) Variant() Variant { return VariantPEM }

// Encode implements Encoder.
func (Passthrough) Encode(in Input) (*Encoded, error) {
	if in.Bundle == nil || in.Bundle.Count() == 0 {
		return nil, fmt.Errorf("pem passthrough: %w", bakeerrors.ErrNoCertificate)
	}
	if len(in.Source) == 0 {
		return nil, fmt.Errorf("pem passthrough: %w", bakeerrors.ErrEmptyInput)
	}

	return &Encoded{
		Variant: VariantPEM,
		Count:   in.Bundle.Count(),
		PEM:     string(in.Source),
	}, nil
}
