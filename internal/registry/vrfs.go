package registry

import (
	"sync"
)

// VRF describes a local VRF device.
type VRF struct {
	Name string
	// ID is the VRF's numeric identity (its device index).
	ID uint32
	// Table is the routing table the VRF steers into.
	Table uint32
}

// VRFs is the VRF registry. The empty name always resolves to the default
// VRF with id 0.
type VRFs struct {
	mu     sync.RWMutex
	byName map[string]VRF
}

// NewVRFs returns an empty VRF registry.
func NewVRFs() *VRFs {
	return &VRFs{
		byName: map[string]VRF{},
	}
}

// Resolve maps a VRF name to its numeric id.
func (m *VRFs) Resolve(name string) (uint32, bool) {
	if name == "" {
		return 0, true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	vrf, ok := m.byName[name]
	if !ok {
		return 0, false
	}
	return vrf.ID, true
}

// Swap atomically replaces the entire table.
func (m *VRFs) Swap(byName map[string]VRF) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byName = byName
}

// Entries returns a copy of the table.
func (m *VRFs) Entries() map[string]VRF {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make(map[string]VRF, len(m.byName))
	for k, v := range m.byName {
		entries[k] = v
	}
	return entries
}
