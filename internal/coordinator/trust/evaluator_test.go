package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"nodecoord/internal/coordinator/applog"
	"nodecoord/internal/coordinator/model"
)

type testLog struct {
	lines []string
}

var _ applog.Logger = (*testLog)(nil)

func (l *testLog) Printf(format string, v ...any) {
	l.lines = append(l.lines, format)
}

func mustSelfSignedCA(t *testing.T) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}
	return cert, key
}

func mustLeaf(t *testing.T, ca *x509.Certificate, caKey *ecdsa.PrivateKey, serial int64) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "peer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create leaf cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse leaf cert: %v", err)
	}
	return cert
}

func TestCertificateIsValid_TrustNoneSkipsChain(t *testing.T) {
	ca, caKey := mustSelfSignedCA(t)
	leaf := mustLeaf(t, ca, caKey, 2)

	// No roots configured at all; with TrustNone this must still pass.
	cfg := model.Configuration{TrustPolicy: model.TrustNone}
	e := New(cfg, nil, &testLog{})

	if !e.CertificateIsValid(leaf) {
		t.Fatal("expected certificate to be valid when trust policy is none")
	}
}

func TestCertificateIsValid_DefaultPolicyChecksChain(t *testing.T) {
	ca, caKey := mustSelfSignedCA(t)
	trustedLeaf := mustLeaf(t, ca, caKey, 2)

	otherCA, otherKey := mustSelfSignedCA(t)
	untrustedLeaf := mustLeaf(t, otherCA, otherKey, 3)

	cfg := model.Configuration{
		TrustPolicy: model.TrustDefault,
		TrustedCAs:  []*x509.Certificate{ca},
	}
	e := New(cfg, nil, &testLog{})

	if !e.CertificateIsValid(trustedLeaf) {
		t.Fatal("expected certificate signed by a trusted CA to be valid")
	}
	if e.CertificateIsValid(untrustedLeaf) {
		t.Fatal("expected certificate signed by an untrusted CA to be rejected")
	}
}

func TestCertificateIsValid_PredicateCanNarrowAfterChainSucceeds(t *testing.T) {
	ca, caKey := mustSelfSignedCA(t)
	leaf := mustLeaf(t, ca, caKey, 2)

	calls := 0
	cfg := model.Configuration{
		TrustPolicy: model.TrustDefault,
		TrustedCAs:  []*x509.Certificate{ca},
		CertificateAcceptancePredicate: func(core any, cert *x509.Certificate) bool {
			calls++
			return false // narrow: reject even though the chain verified
		},
	}
	e := New(cfg, "core-handle", &testLog{})

	if e.CertificateIsValid(leaf) {
		t.Fatal("expected predicate to be able to narrow acceptance after chain verification succeeds")
	}
	if calls != 1 {
		t.Fatalf("expected predicate called once, got %d", calls)
	}
}

func TestCertificateIsValid_PredicateNeverRunsAfterChainFailure(t *testing.T) {
	// Chain-verification failure is final and independent of any
	// predicate — the predicate must not even be invoked, let alone be
	// able to override it back to true.
	otherCA, otherKey := mustSelfSignedCA(t)
	untrustedLeaf := mustLeaf(t, otherCA, otherKey, 3)

	ca, _ := mustSelfSignedCA(t)

	calls := 0
	cfg := model.Configuration{
		TrustPolicy: model.TrustDefault,
		TrustedCAs:  []*x509.Certificate{ca},
		CertificateAcceptancePredicate: func(core any, cert *x509.Certificate) bool {
			calls++
			return true
		},
	}
	e := New(cfg, "core-handle", &testLog{})

	if e.CertificateIsValid(untrustedLeaf) {
		t.Fatal("expected untrusted leaf to be rejected regardless of predicate")
	}
	if calls != 0 {
		t.Fatalf("expected predicate never invoked after chain failure, got %d calls", calls)
	}
}

func TestCertificateIsValid_RevokedLeafRejectedEvenWithPredicate(t *testing.T) {
	// A CRL failure under the default policy is final: a predicate that
	// would accept everything cannot turn the rejection back into true.
	ca, caKey := mustSelfSignedCA(t)
	leaf := mustLeaf(t, ca, caKey, 42)

	crlTmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Minute),
		NextUpdate: time.Now().Add(time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: big.NewInt(42), RevocationTime: time.Now()},
		},
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTmpl, ca, caKey)
	if err != nil {
		t.Fatalf("create crl: %v", err)
	}
	crl, err := x509.ParseRevocationList(crlDER)
	if err != nil {
		t.Fatalf("parse crl: %v", err)
	}

	cfg := model.Configuration{
		TrustPolicy:    model.TrustDefault,
		TrustedCAs:     []*x509.Certificate{ca},
		CRLValidation:  model.CRLFullChain,
		CRLs:           []*x509.RevocationList{crl},
		CertificateAcceptancePredicate: func(core any, cert *x509.Certificate) bool {
			return true
		},
	}
	e := New(cfg, nil, &testLog{})

	if e.CertificateIsValid(leaf) {
		t.Fatal("expected revoked leaf to be rejected")
	}
}
