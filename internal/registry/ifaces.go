// Package registry hosts the lookup tables the policy model resolves names
// against: local interfaces, VRFs and nexthop-groups. The interface and VRF
// tables are kept current by a netlink link monitor; the nexthop-group
// table is fed from configuration and from the model's inline nexthops.
package registry

import (
	"sync"
)

// Iface describes a local network interface.
type Iface struct {
	Name  string
	Index int
	// VRF is the name of the owning VRF, empty for the default VRF.
	VRF string
}

// Ifaces is the interface registry. The whole table is swapped atomically
// on updates, readers never observe a partial state.
type Ifaces struct {
	mu     sync.RWMutex
	byName map[string]Iface
}

// NewIfaces returns an empty interface registry.
func NewIfaces() *Ifaces {
	return &Ifaces{
		byName: map[string]Iface{},
	}
}

// Lookup resolves an interface name within the given VRF (empty name means
// the default VRF) to its interface index.
func (m *Ifaces) Lookup(vrf, name string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	iface, ok := m.byName[name]
	if !ok || iface.VRF != vrf {
		return 0, false
	}
	return iface.Index, true
}

// Exists reports whether an interface with the given name is present in any
// VRF.
func (m *Ifaces) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byName[name]
	return ok
}

// Swap atomically replaces the entire table.
func (m *Ifaces) Swap(byName map[string]Iface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byName = byName
}

// Entries returns a copy of the table.
func (m *Ifaces) Entries() map[string]Iface {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make(map[string]Iface, len(m.byName))
	for k, v := range m.byName {
		entries[k] = v
	}
	return entries
}
