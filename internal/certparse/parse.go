// Package certparse turns raw certificate material into bundle.Certificate
// records. It accepts concatenated PEM text, a single DER certificate, PKCS#7
// DER bundles and the CCADB CSV feed. It performs no I/O.
package certparse

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/cloudflare/cfssl/crypto/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/princespaghetti/certbake/internal/bundle"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

const (
	beginMarker = "-----BEGIN CERTIFICATE-----"
	endMarker   = "-----END CERTIFICATE-----"
)

// Block is one BEGIN/END CERTIFICATE span found in PEM text.
type Block struct {
	// Line is the 1-based line number of the BEGIN marker.
	Line int
	// Text is the span including both marker lines.
	Text string
}

// Parse decodes data as DER when it starts with an ASN.1 SEQUENCE and as PEM
// text otherwise.
func Parse(data []byte) ([]bundle.Certificate, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, bakeerrors.ErrEmptyInput
	}
	if IsDER(data) {
		return ParseDER(data)
	}
	return ParsePEM(data)
}

// IsDER reports whether data begins with a complete DER SEQUENCE. Text
// holding a certificate marker is never DER, even when its first byte is the
// ASCII '0' that doubles as the SEQUENCE tag.
func IsDER(data []byte) bool {
	if bytes.Contains(data, []byte(beginMarker)) {
		return false
	}
	var elem cryptobyte.String
	s := cryptobyte.String(data)
	return s.ReadASN1Element(&elem, cryptobyte_asn1.SEQUENCE)
}

// ParsePEM decodes every certificate block in text, in order.
func ParsePEM(text []byte) ([]bundle.Certificate, error) {
	blocks, err := SplitPEM(text)
	if err != nil {
		return nil, err
	}

	certs := make([]bundle.Certificate, 0, len(blocks))
	for _, b := range blocks {
		c, err := decodeBlock(b)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// SplitPEM scans text line by line and returns each certificate span.
// A BEGIN marker inside an open span, an END marker without a BEGIN, or input
// ending inside a span is an error.
func SplitPEM(text []byte) ([]Block, error) {
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, bakeerrors.ErrEmptyInput
	}

	var (
		blocks []Block
		cur    strings.Builder
		open   bool
		start  int
	)

	for i, line := range strings.Split(string(text), "\n") {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		switch trimmed {
		case beginMarker:
			if open {
				return nil, fmt.Errorf("%w at line %d (block opened at line %d)", bakeerrors.ErrNestedBlock, lineNo, start)
			}
			open = true
			start = lineNo
			cur.Reset()
			cur.WriteString(beginMarker)
			cur.WriteByte('\n')
		case endMarker:
			if !open {
				return nil, fmt.Errorf("%w at line %d", bakeerrors.ErrUnexpectedEnd, lineNo)
			}
			cur.WriteString(endMarker)
			cur.WriteByte('\n')
			blocks = append(blocks, Block{Line: start, Text: cur.String()})
			open = false
		default:
			if open {
				cur.WriteString(trimmed)
				cur.WriteByte('\n')
			}
		}
	}

	if open {
		return nil, fmt.Errorf("%w: block opened at line %d", bakeerrors.ErrUnterminatedBlock, start)
	}
	if len(blocks) == 0 {
		return nil, bakeerrors.ErrNoCertificate
	}
	return blocks, nil
}

// ParseDER decodes a single DER certificate. PKCS#7 signed-data blobs are
// accepted as well and yield every certificate they carry.
func ParseDER(der []byte) ([]bundle.Certificate, error) {
	if len(der) == 0 {
		return nil, bakeerrors.ErrEmptyInput
	}

	cert, err := x509.ParseCertificate(der)
	if err == nil {
		return []bundle.Certificate{FromX509(cert)}, nil
	}

	p, perr := pkcs7.ParsePKCS7(der)
	if perr != nil {
		return nil, fmt.Errorf("%w: invalid x509 certificate: %w", bakeerrors.ErrMalformedInput, err)
	}
	if len(p.Content.SignedData.Certificates) == 0 {
		return nil, fmt.Errorf("%w in PKCS#7 data", bakeerrors.ErrNoCertificate)
	}

	certs := make([]bundle.Certificate, 0, len(p.Content.SignedData.Certificates))
	for _, c := range p.Content.SignedData.Certificates {
		certs = append(certs, FromX509(c))
	}
	return certs, nil
}

// FromX509 builds the canonical record from a parsed certificate. The label
// is the subject common name, or the whole subject when it has none.
func FromX509(cert *x509.Certificate) bundle.Certificate {
	label := cert.Subject.CommonName
	if label == "" {
		label = cert.Subject.String()
	}
	return bundle.Certificate{
		SubjectDER:   cert.RawSubject,
		IssuerDER:    cert.RawIssuer,
		PublicKeyDER: cert.RawSubjectPublicKeyInfo,
		RawDER:       cert.Raw,
		Label:        label,
	}
}

func decodeBlock(b Block) (bundle.Certificate, error) {
	block, _ := pem.Decode([]byte(b.Text))
	if block == nil {
		return bundle.Certificate{}, fmt.Errorf("%w: invalid PEM encoding in block at line %d", bakeerrors.ErrMalformedInput, b.Line)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return bundle.Certificate{}, fmt.Errorf("%w: invalid x509 certificate in block at line %d: %w", bakeerrors.ErrMalformedInput, b.Line, err)
	}
	return FromX509(cert), nil
}
