// Package policy holds the in-memory policy-based-routing model: named maps
// of ordered sequences, their match clauses and forwarding actions, the
// interface bindings that scope them, and the validity state machine that
// decides when a sequence is programmed into the kernel rule table.
package policy

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/routeplane/pbrd/internal/fibrule"
)

// rulenoBase is added to a sequence number to derive the kernel rule
// priority, keeping daemon-owned rules out of the low priority band.
const rulenoBase = 300

// State is the install state of a sequence.
type State uint8

const (
	// StateUnconfigured: freshly created, nothing set yet.
	StateUnconfigured State = iota
	// StateIneligible: configured but not installable; Reason says why.
	StateIneligible
	// StateEligible: installable, no transaction completed yet (or the last
	// one failed).
	StateEligible
	// StateInstallPending: a kernel transaction is in flight.
	StateInstallPending
	// StateInstalled: every intended kernel rule is acknowledged.
	StateInstalled
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateIneligible:
		return "ineligible"
	case StateEligible:
		return "eligible"
	case StateInstallPending:
		return "install-pending"
	case StateInstalled:
		return "installed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Reason explains why a sequence is not installed.
type Reason uint8

const (
	ReasonNone Reason = iota
	// ReasonNoMatch: neither a source nor a destination match is configured.
	ReasonNoMatch
	// ReasonNoAction: no nexthop or nexthop-group is configured.
	ReasonNoAction
	// ReasonUnresolvedGroup: the named nexthop-group does not resolve yet.
	ReasonUnresolvedGroup
	// ReasonMissingIface: a bound or egress interface no longer exists.
	ReasonMissingIface
	// ReasonKernelRejected: the last kernel transaction failed.
	ReasonKernelRejected
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "valid"
	case ReasonNoMatch:
		return "no match clause"
	case ReasonNoAction:
		return "no nexthop or nexthop-group"
	case ReasonUnresolvedGroup:
		return "nexthop-group unresolved"
	case ReasonMissingIface:
		return "interface missing"
	case ReasonKernelRejected:
		return "kernel rejected"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Action is the forwarding action of a sequence: exactly one of a named
// nexthop-group or a single inline nexthop. A nil Action means unset.
type Action interface {
	isAction()
}

// GroupAction forwards via a named, externally managed nexthop-group.
type GroupAction struct {
	Name string
}

func (GroupAction) isAction() {}

// NexthopAction forwards via one inline nexthop.
type NexthopAction struct {
	Nexthop Nexthop
}

func (NexthopAction) isAction() {}

// Nexthop is an inline forwarding target.
type Nexthop struct {
	Gateway netip.Addr
	// Iface is the optional egress interface name.
	Iface string
	// IfIndex is the resolved index of Iface at configuration time.
	IfIndex int
	// VRF is the optional VRF name the nexthop lives in; empty means the
	// default VRF.
	VRF string
}

// Equal reports whether two nexthops are the same configuration entry.
// The resolved interface index is derived state and does not participate.
func (n Nexthop) Equal(other Nexthop) bool {
	return n.Gateway == other.Gateway && n.Iface == other.Iface && n.VRF == other.VRF
}

func (n Nexthop) String() string {
	out := n.Gateway.String()
	if n.Iface != "" {
		out += " " + n.Iface
	}
	if n.VRF != "" {
		out += " nexthop-vrf " + n.VRF
	}
	return out
}

// Sequence is one ordered rule entry within a policy map.
type Sequence struct {
	// Seqno orders the sequence within its map; positive, unique.
	Seqno uint32
	// Ruleno is the kernel rule priority derived from Seqno.
	Ruleno uint32
	// Family is set by whichever match clause was configured last;
	// zero until a match is set.
	Family uint8
	// Src and Dst are the optional match prefixes (zero Prefix = absent).
	Src netip.Prefix
	Dst netip.Prefix
	// Action is the forwarding action, nil when unset.
	Action Action
	// Unique is an opaque id assigned at creation, carried for idempotent
	// re-submission and display.
	Unique uint32

	// State, Reason and the resolved table/count form the install status.
	State        State
	Reason       Reason
	Table        uint32
	NexthopCount int

	// installed tracks the kernel tuples acknowledged for this sequence,
	// keyed by interface name (empty key for the interface-less rule).
	// Reconciliation of kernel-originated deletions matches against these.
	installed map[string]fibrule.Rule

	// internalGroup is the registry name of the inline-nexthop group, empty
	// when the action is not an inline nexthop.
	internalGroup string

	parent *Map
}

// HasMatch reports whether at least one match clause is configured.
func (s *Sequence) HasMatch() bool {
	return s.Src.IsValid() || s.Dst.IsValid()
}

// Map is a named, ordered collection of sequences.
type Map struct {
	Name string
	// Valid is true iff at least one owned sequence is individually valid.
	Valid bool

	// sequences is kept in ascending Seqno order.
	sequences []*Sequence
	// bound is the set of interface names currently carrying this map.
	bound map[string]struct{}
}

func newMap(name string) *Map {
	return &Map{
		Name:  name,
		bound: map[string]struct{}{},
	}
}

func (pm *Map) lookup(seqno uint32) *Sequence {
	for _, s := range pm.sequences {
		if s.Seqno == seqno {
			return s
		}
	}
	return nil
}

// familyOf returns the kernel address family of a prefix.
func familyOf(p netip.Prefix) uint8 {
	if p.Addr().Unmap().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}
