// Package fabric is a concrete, in-process switch/router fabric:
// group -> set of registered ports, guarded by a mutex, a
// map-behind-a-struct repository in the same shape as this codebase's
// other registries. It is the coordinator's default collaborator for
// the fabric.Switch/fabric.Router interfaces when nothing more
// elaborate (hardware offload, eBPF, ...) is wired in.
package fabric

import (
	"fmt"
	"sync"

	coordfabric "nodecoord/internal/coordinator/fabric"
	"nodecoord/internal/coordinator/model"
)

// Fabric implements both coordfabric.Switch and coordfabric.Router: in
// this minimal adapter the two modes differ only in which interface
// the coordinator addresses it through, not in behavior — real L2
// MAC-learning or L3 route computation is out of the coordinator's
// scope (Non-goals: routing protocol implementation).
type Fabric struct {
	mu     sync.Mutex
	groups map[string]map[model.PeerAddress]coordfabric.Port
}

func New() *Fabric {
	return &Fabric{groups: make(map[string]map[model.PeerAddress]coordfabric.Port)}
}

func (f *Fabric) RegisterPort(port coordfabric.Port, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.groups[group]
	if !ok {
		m = make(map[model.PeerAddress]coordfabric.Port)
		f.groups[group] = m
	}
	if _, exists := m[port.Peer()]; exists {
		return fmt.Errorf("port for %s already registered in group %q", port.Peer(), group)
	}
	m[port.Peer()] = port
	return nil
}

func (f *Fabric) UnregisterPort(port coordfabric.Port) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.groups {
		if existing, ok := m[port.Peer()]; ok && existing == port {
			delete(m, port.Peer())
			return nil
		}
	}
	return nil
}

// Ports returns the ports currently registered in group, for tests
// and diagnostics.
func (f *Fabric) Ports(group string) []coordfabric.Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.groups[group]
	out := make([]coordfabric.Port, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}
