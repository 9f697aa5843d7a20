package model

import (
	"crypto/x509"
	"net/netip"
	"time"
)

// ResolutionProtocol constrains which address families the resolver
// adapter may return for a given lookup.
type ResolutionProtocol int

const (
	ProtoAny ResolutionProtocol = iota
	ProtoV4
	ProtoV6
)

// AdapterMode selects whether the coordinator demultiplexes channel 0
// data to an Ethernet sink (switch/L2) or an IP sink (router/L3), and
// which port-registry map gets populated.
type AdapterMode int

const (
	ModeSwitch AdapterMode = iota
	ModeRouter
)

// CRLValidationPolicy controls how aggressively the trust evaluator
// checks certificate revocation lists.
type CRLValidationPolicy int

const (
	CRLNone CRLValidationPolicy = iota
	CRLLeafOnly
	CRLFullChain
)

// TrustPolicy selects whether the trust evaluator runs chain
// verification at all.
type TrustPolicy int

const (
	TrustDefault TrustPolicy = iota // verify against the configured CA set
	TrustNone                       // skip chain verification entirely
)

// Identity is the node's own signing material: the certificate it
// presents to peers and the private key backing it.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  any
}

// CertificateAcceptancePredicate is the embedder-supplied hook that can
// broaden or narrow the trust evaluator's decision (step 5).
// It receives a handle back to the running coordinator and the
// candidate certificate.
type CertificateAcceptancePredicate func(core any, cert *x509.Certificate) bool

// ServerConfig carries the managed-subnet pool description logged at
// open() when server mode is enabled, without implementing lease
// assignment (non-goal: no DHCP-style allocation).
type ServerConfig struct {
	ManagedSubnet netip.Prefix
}

// Configuration is the coordinator's immutable snapshot for the
// lifetime of an Open core.
type Configuration struct {
	ResolutionProtocol ResolutionProtocol
	ListenOn           Endpoint

	StaticContactList  []Endpoint
	DynamicContactList []*x509.Certificate
	NeverContactList   []netip.Prefix

	AcceptContactRequests bool
	AcceptContacts        bool

	Identity Identity

	TrustPolicy                    TrustPolicy
	CRLValidation                  CRLValidationPolicy
	TrustedCAs                     []*x509.Certificate
	CRLs                           []*x509.RevocationList
	CertificateAcceptancePredicate CertificateAcceptancePredicate

	AdapterMode AdapterMode

	CipherCapabilities []string

	ServerMode   bool
	ServerConfig ServerConfig

	HelloTimeout time.Duration

	// OnSessionEstablished, OnSessionFailed and OnSessionLost are
	// embedder-supplied, optional observers of session
	// established/failed/lost events. They run after the coordinator's
	// own handling of the corresponding event and never influence its
	// decision.
	OnSessionEstablished func(PeerAddress)
	OnSessionFailed      func(PeerAddress)
	OnSessionLost        func(PeerAddress)
}

// DefaultServicePort is the UDP port used when an endpoint's service
// is unspecified.
const DefaultServicePort = 12000
