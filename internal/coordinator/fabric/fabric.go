// Package fabric declares the capability the local switch/router
// fabric exposes to the port registry: register/unregister a port
// under a named group. The fabric's own internals
// (MAC learning, route computation) are out of scope for the
// coordinator; it only consumes this interface.
package fabric

import "nodecoord/internal/coordinator/model"

// Port is the fabric-facing side of a registered peer port: an
// egress closure the fabric calls to push a frame toward the peer.
type Port interface {
	model.PortHandle
	// Send injects a frame into the secure channel toward this port's peer.
	Send(frame []byte) error
	Peer() model.PeerAddress
}

// Switch is consumed in L2/ModeSwitch adapter mode.
type Switch interface {
	RegisterPort(port Port, group string) error
	UnregisterPort(port Port) error
}

// Router is consumed in L3/ModeRouter adapter mode.
type Router interface {
	RegisterPort(port Port, group string) error
	UnregisterPort(port Port) error
}

// EndpointsGroup is the fabric group every peer port is registered
// under.
const EndpointsGroup = "endpoints"
