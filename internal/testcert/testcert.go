// Package testcert generates throwaway X.509 certificates for tests.
package testcert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"
)

// Cert is a generated certificate with its key.
type Cert struct {
	DER  []byte
	PEM  string
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// SelfSigned returns a self-signed CA certificate with the given common name.
func SelfSigned(t testing.TB, commonName string) *Cert {
	t.Helper()
	return issue(t, commonName, nil)
}

// Issued returns a CA certificate for commonName signed by parent.
func Issued(t testing.TB, commonName string, parent *Cert) *Cert {
	t.Helper()
	return issue(t, commonName, parent)
}

// Concat joins the PEM text of certs in order.
func Concat(certs ...*Cert) string {
	var b strings.Builder
	for _, c := range certs {
		b.WriteString(c.PEM)
	}
	return b.String()
}

func issue(t testing.TB, commonName string, parent *Cert) *Cert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"certbake tests"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	signer, signerKey := tmpl, key
	if parent != nil {
		signer, signerKey = parent.Cert, parent.Key
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, signer, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	return &Cert{
		DER:  der,
		PEM:  string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		Cert: cert,
		Key:  key,
	}
}
