package policy

import (
	"slices"
	"strings"

	"golang.org/x/sys/unix"
)

// MapStatus is the read-only view of one policy map.
type MapStatus struct {
	Name       string           `json:"name"`
	Valid      bool             `json:"valid"`
	Interfaces []string         `json:"interfaces,omitempty"`
	Sequences  []SequenceStatus `json:"sequences"`
}

// SequenceStatus is the read-only view of one sequence.
type SequenceStatus struct {
	Seqno        uint32 `json:"seqno"`
	Ruleno       uint32 `json:"ruleno"`
	Unique       uint32 `json:"unique"`
	Family       string `json:"family,omitempty"`
	Src          string `json:"src,omitempty"`
	Dst          string `json:"dst,omitempty"`
	NexthopGroup string `json:"nexthop_group,omitempty"`
	Nexthop      string `json:"nexthop,omitempty"`
	State        string `json:"state"`
	Installed    bool   `json:"installed"`
	Reason       string `json:"reason"`
	Table        uint32 `json:"table,omitempty"`
	NexthopCount int    `json:"nexthop_count"`
	Rules        int    `json:"rules_installed"`
}

// BindingStatus is the read-only view of one interface binding.
type BindingStatus struct {
	Interface string `json:"interface"`
	Map       string `json:"map"`
}

// Snapshot returns a deep-copied view of every map, in ascending
// (map name, seqno) order. The result shares no state with the model and is
// safe to render concurrently.
func (m *Model) Snapshot() []MapStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MapStatus, 0, len(m.maps))
	for _, pm := range m.maps {
		ms := MapStatus{
			Name:      pm.Name,
			Valid:     pm.Valid,
			Sequences: make([]SequenceStatus, 0, len(pm.sequences)),
		}
		for ifname := range pm.bound {
			ms.Interfaces = append(ms.Interfaces, ifname)
		}
		slices.Sort(ms.Interfaces)

		for _, s := range pm.sequences {
			ms.Sequences = append(ms.Sequences, sequenceStatus(s))
		}
		out = append(out, ms)
	}

	slices.SortFunc(out, func(a, b MapStatus) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func sequenceStatus(s *Sequence) SequenceStatus {
	st := SequenceStatus{
		Seqno:        s.Seqno,
		Ruleno:       s.Ruleno,
		Unique:       s.Unique,
		State:        s.State.String(),
		Installed:    s.State == StateInstalled,
		Reason:       s.Reason.String(),
		Table:        s.Table,
		NexthopCount: s.NexthopCount,
		Rules:        len(s.installed),
	}
	if s.Family != 0 {
		st.Family = familyLabel(s.Family)
	}
	if s.Src.IsValid() {
		st.Src = s.Src.String()
	}
	if s.Dst.IsValid() {
		st.Dst = s.Dst.String()
	}
	switch a := s.Action.(type) {
	case GroupAction:
		st.NexthopGroup = a.Name
	case NexthopAction:
		st.Nexthop = a.Nexthop.String()
	}
	return st
}

// Bindings returns the interface bindings in ascending interface order.
func (m *Model) Bindings() []BindingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]BindingStatus, 0, len(m.bindings))
	for ifname, mapName := range m.bindings {
		out = append(out, BindingStatus{Interface: ifname, Map: mapName})
	}
	slices.SortFunc(out, func(a, b BindingStatus) int {
		return strings.Compare(a.Interface, b.Interface)
	})
	return out
}

func familyLabel(family uint8) string {
	switch family {
	case unix.AF_INET:
		return "ipv4"
	case unix.AF_INET6:
		return "ipv6"
	default:
		return "unknown"
	}
}
