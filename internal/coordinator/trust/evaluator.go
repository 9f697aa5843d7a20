// Package trust implements certificate chain and CRL validation with
// pluggable policy.
package trust

import (
	"crypto/x509"

	"nodecoord/internal/coordinator/applog"
	"nodecoord/internal/coordinator/model"
)

var globalRegistry = newVerificationRegistry()

// Evaluator validates a peer certificate against the configured trust
// policy. It holds no per-peer state and is safe to share across the
// coordinator's per-peer strands.
type Evaluator struct {
	logger    applog.Logger
	policy    model.TrustPolicy
	crlPolicy model.CRLValidationPolicy
	roots     *x509.CertPool
	crlsByCA  map[string][]*x509.RevocationList
	predicate model.CertificateAcceptancePredicate
	core      any
}

// New builds an Evaluator from the coordinator's immutable
// configuration. core is the back-reference handle passed verbatim to
// the configured acceptance predicate (step 5); it is opaque
// to this package.
func New(cfg model.Configuration, core any, logger applog.Logger) *Evaluator {
	roots := x509.NewCertPool()
	for _, ca := range cfg.TrustedCAs {
		roots.AddCert(ca)
	}
	byCA := make(map[string][]*x509.RevocationList)
	for _, crl := range cfg.CRLs {
		key := string(crl.RawIssuer)
		byCA[key] = append(byCA[key], crl)
	}
	return &Evaluator{
		logger:    logger,
		policy:    cfg.TrustPolicy,
		crlPolicy: cfg.CRLValidation,
		roots:     roots,
		crlsByCA:  byCA,
		predicate: cfg.CertificateAcceptancePredicate,
		core:      core,
	}
}

// CertificateIsValid runs a 5-step algorithm:
//  1. policy "none" skips chain verification.
//  2. otherwise build a verification context against the configured
//     CA/CRL set, bound through the registry rather than a raw
//     back-reference.
//  3. CRL checking depth follows CRLValidation ("none"/"leaf-only"/"full-chain").
//  4. a negative chain or CRL result returns false and logs the error
//     and the depth at which it occurred.
//  5. when verification passed or was skipped, a configured acceptance
//     predicate runs last and its result is returned, broadening or
//     narrowing the outcome; after a failed verification it is not run.
func (e *Evaluator) CertificateIsValid(cert *x509.Certificate) bool {
	if e.policy != model.TrustNone {
		// A chain/CRL failure is final: the predicate never runs, so it
		// cannot broaden a rejection the default policy already made.
		if !e.verifyChain(cert) {
			return false
		}
	}

	if e.predicate != nil {
		return e.predicate(e.core, cert)
	}

	return true
}

func (e *Evaluator) verifyChain(cert *x509.Certificate) bool {
	token := globalRegistry.register(e)
	defer globalRegistry.unregister(token)

	chains, err := cert.Verify(x509.VerifyOptions{Roots: e.roots})
	if err != nil {
		e.logChain(token, cert, false)
		e.logger.Printf("warn: certificate validation failed for %s: %s (depth: 0)", cert.Subject, err)
		return false
	}

	chain := chains[0]
	for depth, c := range chain {
		if !e.perDepthCallback(token, c, true) {
			// the per-depth callback never overturns the decision
			// (: "it does not modify the decision"); this
			// branch only exists for the fail-safe registry-miss case.
			e.logger.Printf("warn: verification callback for %s outlived its evaluator (depth: %d)", c.Subject, depth)
			return false
		}
	}

	if e.crlPolicy == model.CRLNone {
		return true
	}

	return e.checkRevocation(token, chain)
}

// checkRevocation walks the verified chain checking CRLs, to the depth
// the configured policy calls for: leaf-only checks only cert 0, full
// chain checks every certificate the chain verified through.
func (e *Evaluator) checkRevocation(token int, chain []*x509.Certificate) bool {
	limit := 1
	if e.crlPolicy == model.CRLFullChain {
		limit = len(chain)
	}

	for depth := 0; depth < limit && depth < len(chain); depth++ {
		cert := chain[depth]
		var issuer *x509.Certificate
		if depth+1 < len(chain) {
			issuer = chain[depth+1]
		} else {
			issuer = cert // self-signed root
		}
		if revoked, crl := e.isRevoked(cert, issuer); revoked {
			e.perDepthCallback(token, cert, false)
			e.logger.Printf("warn: certificate %s is revoked by CRL %s (depth: %d)", cert.Subject, crl.Issuer, depth)
			return false
		}
	}
	return true
}

func (e *Evaluator) isRevoked(cert, issuer *x509.Certificate) (bool, *x509.RevocationList) {
	for _, crl := range e.crlsByCA[string(issuer.RawSubject)] {
		if err := crl.CheckSignatureFrom(issuer); err != nil {
			continue
		}
		for _, rc := range crl.RevokedCertificateEntries {
			if rc.SerialNumber != nil && cert.SerialNumber != nil && rc.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return true, crl
			}
		}
	}
	return false, nil
}

// perDepthCallback mirrors an OpenSSL-style certificate_validation_callback:
// it is invoked once per certificate in the chain, logs the subject
// and decision at debug level, and never overturns ok. It returns
// false only when the registry token no longer resolves to a live
// Evaluator (core closed mid-verify).
func (e *Evaluator) perDepthCallback(token int, cert *x509.Certificate, ok bool) bool {
	owner, found := globalRegistry.lookup(token)
	if !found {
		return false
	}
	decision := "OK"
	if !ok {
		decision = "error"
	}
	owner.logger.Printf("debug: validating %s: %s", cert.Subject, decision)
	return true
}

func (e *Evaluator) logChain(token int, cert *x509.Certificate, ok bool) {
	e.perDepthCallback(token, cert, ok)
}
