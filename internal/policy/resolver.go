package policy

import "github.com/routeplane/pbrd/internal/fibrule"

// NexthopGroup is the resolver's view of a nexthop-group: the routing table
// its nexthops are programmed into and how many of them are installed.
type NexthopGroup struct {
	Table     uint32
	Installed int
}

// GroupRegistry resolves named nexthop-groups and hosts the internal
// single-nexthop groups born from inline "set nexthop" configuration.
//
// Resolution failure is not a configuration error: a sequence referencing an
// unknown group stays in the model and is re-checked when the registry
// changes.
type GroupRegistry interface {
	Resolve(name string) (NexthopGroup, bool)
	RegisterInline(name string) (NexthopGroup, error)
	UnregisterInline(name string)
}

// IfaceResolver looks up local interfaces.
type IfaceResolver interface {
	// Lookup resolves an interface name within a VRF (empty name means the
	// default VRF) to its interface index.
	Lookup(vrf, name string) (int, bool)
	// Exists reports whether an interface with the given name is present in
	// any VRF.
	Exists(name string) bool
}

// VRFResolver maps VRF names to their numeric ids. The empty name resolves
// to the default VRF.
type VRFResolver interface {
	Resolve(name string) (uint32, bool)
}

// Programmer ships rule transactions to the kernel. Calls block until the
// kernel acknowledges or rejects the request; there is no implicit retry.
type Programmer interface {
	Install(r fibrule.Rule) error
	Remove(r fibrule.Rule) error
}
