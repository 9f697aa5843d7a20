// Package resolver converts user-supplied endpoints into concrete
// socket addresses. Literal endpoints resolve inline;
// hostname endpoints go through DNS.
package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"nodecoord/internal/coordinator/model"
)

// Flags mirror the boost::asio resolver_query flags passed at
// different call sites.
type Flags uint8

const (
	FlagNone Flags = 0
	// FlagAddressConfigured restricts results to families with a local interface.
	FlagAddressConfigured Flags = 1 << iota
	// FlagPassive marks the result as suitable for use as a bind address.
	FlagPassive
)

// Resolver resolves Endpoints to PeerAddresses, honoring the
// configured address-family preference.
type Resolver struct {
	protocol model.ResolutionProtocol
	lookup   func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// New builds a Resolver. lookup defaults to net.DefaultResolver.LookupNetIP.
func New(protocol model.ResolutionProtocol) *Resolver {
	return &Resolver{
		protocol: protocol,
		lookup:   net.DefaultResolver.LookupNetIP,
	}
}

// NewWithLookup builds a Resolver with an injected lookup function,
// for tests.
func NewWithLookup(protocol model.ResolutionProtocol, lookup func(ctx context.Context, network, host string) ([]netip.Addr, error)) *Resolver {
	return &Resolver{protocol: protocol, lookup: lookup}
}

func (r *Resolver) network() string {
	switch r.protocol {
	case model.ProtoV4:
		return "ip4"
	case model.ProtoV6:
		return "ip6"
	default:
		return "ip"
	}
}

// Resolve synchronously resolves an endpoint. It is used only at
// Open() time for the local listen address; flags are
// accepted for signature fidelity but Resolve never blocks on
// anything but the local lookup. ctx governs the DNS lookup deadline
// for hostname endpoints.
func (r *Resolver) Resolve(ctx context.Context, ep model.Endpoint, flags Flags) (model.PeerAddress, error) {
	switch e := ep.(type) {
	case model.LiteralEndpoint:
		return e.Address, nil
	case model.HostnameEndpoint:
		return r.resolveHostname(ctx, e)
	default:
		return model.PeerAddress{}, fmt.Errorf("resolver: unknown endpoint type %T", ep)
	}
}

// AsyncResolve resolves a peer endpoint without blocking the caller.
// A literal endpoint resolves immediately, on the calling goroutine,
// exactly as requires ("resolves immediately to itself").
// A hostname endpoint spawns a goroutine to run DNS and invokes cb
// with the result; cb is expected to be posted back onto the caller's
// executor/strand by the caller (the resolver itself never throws to
// the scheduler — the failure semantics).
func (r *Resolver) AsyncResolve(ctx context.Context, ep model.Endpoint, flags Flags, cb func(model.PeerAddress, error)) {
	if lit, ok := ep.(model.LiteralEndpoint); ok {
		cb(lit.Address, nil)
		return
	}
	go func() {
		addr, err := r.resolveHostname(ctx, ep.(model.HostnameEndpoint))
		cb(addr, err)
	}()
}

func (r *Resolver) resolveHostname(ctx context.Context, e model.HostnameEndpoint) (model.PeerAddress, error) {
	service := e.Service
	if service == "" {
		service = fmt.Sprintf("%d", model.DefaultServicePort)
	}
	addrs, err := r.lookup(ctx, r.network(), e.Host)
	if err != nil {
		return model.PeerAddress{}, fmt.Errorf("resolve %s: %w", e.Host, err)
	}
	if len(addrs) == 0 {
		return model.PeerAddress{}, fmt.Errorf("resolve %s: no addresses returned", e.Host)
	}

	port, err := net.LookupPort("udp", service)
	if err != nil {
		return model.PeerAddress{}, fmt.Errorf("resolve service %q: %w", service, err)
	}

	// First address in the resolver's iteration order wins; the choice
	// among multiple resolved addresses is deliberately not load-balanced.
	return model.NewPeerAddress(netip.AddrPortFrom(addrs[0], uint16(port))), nil
}
