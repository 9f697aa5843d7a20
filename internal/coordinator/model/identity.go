package model

import (
	"crypto/x509"

	"golang.org/x/crypto/blake2b"
)

// PeerIdentity is the pair of certificates a remote peer reveals during
// the secure channel's presentation exchange: one used to sign, one
// used to encipher session material.
type PeerIdentity struct {
	Signature  *x509.Certificate
	Cipherment *x509.Certificate
}

// CertificateFingerprint is a fixed-size hash of a certificate, used as
// the dynamic-contact key. The coordinator hashes with
// BLAKE2b-256 rather than stdlib SHA-256 so it continues exercising the
// golang.org/x/crypto module the rest of the stack already depends on.
type CertificateFingerprint [32]byte

// FingerprintOf hashes a certificate's raw DER bytes into a
// CertificateFingerprint.
func FingerprintOf(cert *x509.Certificate) CertificateFingerprint {
	return CertificateFingerprint(blake2b.Sum256(cert.Raw))
}

func (f CertificateFingerprint) String() string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, len(f)*2)
	for i, b := range f {
		buf[i*2] = hexDigits[b>>4]
		buf[i*2+1] = hexDigits[b&0x0f]
	}
	return string(buf)
}
