package encoder

import (
	"crypto/sha256"
	"fmt"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// IndexedTables are the parallel tables of the indexed layout. Entry i of
// every slice describes the same certificate.
type IndexedTables struct {
	// Certificates holds the full DER of each certificate.
	Certificates [][]byte
	// Indexes holds SHA-256(IssuerDER) of each certificate.
	Indexes [][sha256.Size]byte
	// Sizes holds len(Certificates[i]).
	Sizes []uint16
	// Labels holds the optional source names, for comments.
	Labels []string
}

// Count returns the number of entries.
func (t *IndexedTables) Count() int {
	return len(t.Certificates)
}

// Indexed carries complete certificates so the device can run real chain
// verification, and an issuer hash per entry to find them.
type Indexed struct{}

// Variant implements Encoder.
func (Indexed) Variant() Variant { return VariantIndexed }

// Encode implements Encoder.
func (Indexed) Encode(in Input) (*Encoded, error) {
	certs := in.Bundle.Certificates()

	t := &IndexedTables{
		Certificates: make([][]byte, 0, len(certs)),
		Indexes:      make([][sha256.Size]byte, 0, len(certs)),
		Sizes:        make([]uint16, 0, len(certs)),
		Labels:       make([]string, 0, len(certs)),
	}

	for i := range certs {
		c := &certs[i]
		if len(c.RawDER) == 0 {
			return nil, fmt.Errorf("%w: certificate %d raw DER", bakeerrors.ErrMissingField, i)
		}
		if len(c.IssuerDER) == 0 {
			return nil, fmt.Errorf("%w: certificate %d issuer", bakeerrors.ErrMissingField, i)
		}
		if err := checkLen("DER", i, len(c.RawDER)); err != nil {
			return nil, err
		}

		t.Certificates = append(t.Certificates, c.RawDER)
		t.Indexes = append(t.Indexes, IssuerHash(c.IssuerDER))
		t.Sizes = append(t.Sizes, uint16(len(c.RawDER)))
		t.Labels = append(t.Labels, c.Label)
	}

	return &Encoded{
		Variant: VariantIndexed,
		Count:   len(certs),
		Indexed: t,
	}, nil
}

// IssuerHash is the index value for an issuer name.
func IssuerHash(issuerDER []byte) [sha256.Size]byte {
	return sha256.Sum256(issuerDER)
}
