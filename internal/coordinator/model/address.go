// Package model holds the data types shared by every coordinator
// component: resolved addresses, peer identities, per-peer state and
// the immutable configuration snapshot.
package model

import (
	"fmt"
	"net/netip"
)

// PeerAddress is a resolved UDP transport address. It wraps
// netip.AddrPort so equality and hashing (family, bytes, port) come
// for free from the underlying comparable struct.
type PeerAddress struct {
	addrPort netip.AddrPort
}

// NewPeerAddress builds a PeerAddress from a resolved address/port pair.
func NewPeerAddress(ap netip.AddrPort) PeerAddress {
	return PeerAddress{addrPort: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// AddrPort returns the underlying address/port pair.
func (a PeerAddress) AddrPort() netip.AddrPort {
	return a.addrPort
}

// IsValid reports whether the address was ever populated.
func (a PeerAddress) IsValid() bool {
	return a.addrPort.IsValid()
}

func (a PeerAddress) String() string {
	return a.addrPort.String()
}
func (a PeerAddress) GoString() string { return fmt.Sprintf("PeerAddress(%s)", a.addrPort) }
