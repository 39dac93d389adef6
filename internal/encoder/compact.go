package encoder

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// Compact stores only what trust-anchor name and key matching needs:
//
//	u16 count
//	count × { u16 subjectLen, u16 keyLen, subject, key }
//
// All integers are big endian. There is no padding.
type Compact struct{}

// Variant implements Encoder.
func (Compact) Variant() Variant { return VariantCompact }

// Encode implements Encoder.
func (Compact) Encode(in Input) (*Encoded, error) {
	certs := in.Bundle.Certificates()

	var b cryptobyte.Builder
	b.AddUint16(uint16(len(certs)))

	for i := range certs {
		c := &certs[i]
		if err := checkLen("subject", i, len(c.SubjectDER)); err != nil {
			return nil, err
		}
		if err := checkLen("public key", i, len(c.PublicKeyDER)); err != nil {
			return nil, err
		}

		b.AddUint16(uint16(len(c.SubjectDER)))
		b.AddUint16(uint16(len(c.PublicKeyDER)))
		b.AddBytes(c.SubjectDER)
		b.AddBytes(c.PublicKeyDER)
	}

	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("build compact bundle: %w", err)
	}

	return &Encoded{
		Variant: VariantCompact,
		Count:   len(certs),
		Compact: out,
	}, nil
}

// CompactEntry is one decoded record of a compact bundle.
type CompactEntry struct {
	Subject   []byte
	PublicKey []byte
}

// ErrTruncated is returned when a compact bundle ends early.
var ErrTruncated = errors.New("encoder: compact bundle truncated")

// DecodeCompact parses a compact bundle produced by Compact.Encode.
func DecodeCompact(data []byte) ([]CompactEntry, error) {
	s := cryptobyte.String(data)

	var count uint16
	if !s.ReadUint16(&count) {
		return nil, fmt.Errorf("%w: %w: missing count", bakeerrors.ErrMalformedInput, ErrTruncated)
	}

	entries := make([]CompactEntry, 0, count)
	for i := 0; i < int(count); i++ {
		var subjectLen, keyLen uint16
		var e CompactEntry
		if !s.ReadUint16(&subjectLen) || !s.ReadUint16(&keyLen) ||
			!s.ReadBytes(&e.Subject, int(subjectLen)) || !s.ReadBytes(&e.PublicKey, int(keyLen)) {
			return nil, fmt.Errorf("%w: %w: entry %d of %d", bakeerrors.ErrMalformedInput, ErrTruncated, i, count)
		}
		entries = append(entries, e)
	}

	if !s.Empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d entries", bakeerrors.ErrMalformedInput, len(s), count)
	}
	return entries, nil
}
