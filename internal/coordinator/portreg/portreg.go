// Package portreg implements the port registry: on a new
// session it constructs a fabric port backed by the engine's
// asynchronous data path and registers it with the switch or router
// fabric under the "endpoints" group; it tracks at most one port per
// peer and unregisters idempotently.
package portreg

import (
	"fmt"
	"sync"

	"nodecoord/internal/coordinator/applog"
	"nodecoord/internal/coordinator/engine"
	"nodecoord/internal/coordinator/fabric"
	"nodecoord/internal/coordinator/model"
)

// Fabric is the capability portreg needs from whichever of
// fabric.Switch or fabric.Router the configured AdapterMode selects;
// the two interfaces share this shape.
type Fabric interface {
	RegisterPort(port fabric.Port, group string) error
	UnregisterPort(port fabric.Port) error
}

// Registry owns the peer-address -> port-handle map for one adapter
// mode. It is not safe to drive from multiple goroutines concurrently
// for the same peer; callers are expected to serialize per-peer access
// the way the coordinator's per-peer strand does.
type Registry struct {
	mu     sync.Mutex
	fabric Fabric
	engine engine.Engine
	logger applog.Logger
	ports  map[model.PeerAddress]*port
}

// New builds a Registry bound to one fabric and one engine. The fabric
// argument is whichever of the in-process fabric's Switch or Router
// facets the configured model.AdapterMode selects.
func New(f Fabric, e engine.Engine, logger applog.Logger) *Registry {
	return &Registry{
		fabric: f,
		engine: e,
		logger: logger,
		ports:  make(map[model.PeerAddress]*port),
	}
}

// Register constructs a port for addr and registers it with the
// fabric under fabric.EndpointsGroup. It is a no-op, returning the
// existing handle, if addr already holds a port: at most one live
// PortHandle exists per peer.
func (r *Registry) Register(addr model.PeerAddress) (model.PortHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.ports[addr]; ok {
		return existing, nil
	}

	p := &port{addr: addr, engine: r.engine, registry: r}
	if err := r.fabric.RegisterPort(p, fabric.EndpointsGroup); err != nil {
		return nil, fmt.Errorf("portreg: register %s: %w", addr, err)
	}
	r.ports[addr] = p
	return p, nil
}

// Unregister removes addr's port, if any. A peer with no registered
// port is a documented no-op: a second session-lost for the same peer
// must not error.
func (r *Registry) Unregister(addr model.PeerAddress) error {
	r.mu.Lock()
	p, ok := r.ports[addr]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.ports, addr)
	r.mu.Unlock()

	if err := r.fabric.UnregisterPort(p); err != nil {
		return fmt.Errorf("portreg: unregister %s: %w", addr, err)
	}
	return nil
}

// Lookup returns addr's current port handle, if any.
func (r *Registry) Lookup(addr model.PeerAddress) (model.PortHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ports[addr]
	return p, ok
}

// port is the fabric-facing egress closure for one peer: its Send
// pushes a frame through the engine's asynchronous data path. Send
// errors are only ever delivery-submission errors; the fire-and-forget
// AsyncSendData result is logged, not surfaced, consistent with
// best-effort forwarding semantics.
type port struct {
	addr     model.PeerAddress
	engine   engine.Engine
	registry *Registry
}

func (p *port) Peer() model.PeerAddress {
	return p.addr
}

func (p *port) Send(frame []byte) error {
	p.engine.AsyncSendData(p.addr, engine.ChannelData, frame, func(err error) {
		if err != nil {
			p.registry.logger.Printf("warn: failed to forward %d byte(s) to %s: %s", len(frame), p.addr, err)
		}
	})
	return nil
}

func (p *port) Close() error {
	return p.registry.Unregister(p.addr)
}
