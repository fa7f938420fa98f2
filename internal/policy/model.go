package policy

import (
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/routeplane/pbrd/internal/fibrule"
)

// Option is a function that configures the policy model.
type Option func(*options)

// WithLog configures the model with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Model owns the policy maps, sequences and interface bindings and is the
// single mutation path for both operator-driven configuration and
// kernel-driven reconciliation. All registries are injected, so independent
// model instances can run side by side in tests.
type Model struct {
	mu sync.Mutex

	maps map[string]*Map
	// bindings maps an interface name to the policy map applied on it.
	// Absence of a key is the unbound state.
	bindings map[string]string

	groups GroupRegistry
	ifaces IfaceResolver
	vrfs   VRFResolver
	prog   Programmer

	nextUnique uint32
	log        *zap.SugaredLogger
}

// NewModel creates an empty policy model wired to the given registries and
// rule programmer.
func NewModel(groups GroupRegistry, ifaces IfaceResolver, vrfs VRFResolver, prog Programmer, options ...Option) *Model {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Model{
		maps:     map[string]*Map{},
		bindings: map[string]string{},
		groups:   groups,
		ifaces:   ifaces,
		vrfs:     vrfs,
		prog:     prog,
		log:      opts.Log,
	}
}

// ensureMap returns the map with the given name, creating it on first
// reference.
func (m *Model) ensureMap(name string) *Map {
	pm, ok := m.maps[name]
	if !ok {
		pm = newMap(name)
		m.maps[name] = pm
		m.log.Debugf("created pbr-map %q", name)
	}
	return pm
}

// ensureSequence returns the sequence, creating map and sequence on first
// reference. New sequences are inserted preserving ascending seqno order.
func (m *Model) ensureSequence(mapName string, seqno uint32) *Sequence {
	pm := m.ensureMap(mapName)
	if s := pm.lookup(seqno); s != nil {
		return s
	}

	m.nextUnique++
	s := &Sequence{
		Seqno:     seqno,
		Ruleno:    seqno + rulenoBase,
		Unique:    m.nextUnique,
		State:     StateUnconfigured,
		installed: map[string]fibrule.Rule{},
		parent:    pm,
	}

	idx, _ := slices.BinarySearchFunc(pm.sequences, seqno, func(e *Sequence, n uint32) int {
		switch {
		case e.Seqno < n:
			return -1
		case e.Seqno > n:
			return 1
		default:
			return 0
		}
	})
	pm.sequences = slices.Insert(pm.sequences, idx, s)
	m.log.Debugf("created pbr-map %q seq %d rule %d", mapName, seqno, s.Ruleno)
	return s
}

// EnsureSequence creates the map and sequence if they do not exist yet.
// It mirrors entering "pbr-map NAME seq N" configuration mode.
func (m *Model) EnsureSequence(mapName string, seqno uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureSequence(mapName, seqno)
}

// SetSrcMatch sets the source-prefix match clause. Setting the exact same
// prefix again is a no-op. The sequence family follows the newest clause;
// a clause conflicting with the still-present destination family is
// rejected.
func (m *Model) SetSrcMatch(mapName string, seqno uint32, prefix netip.Prefix) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSequence(mapName, seqno)
	fam := familyOf(prefix)
	if s.Dst.IsValid() && familyOf(s.Dst) != fam {
		return fmt.Errorf("%w: src %s vs dst %s", ErrFamilyMismatch, prefix, s.Dst)
	}
	if s.Src == prefix {
		return nil
	}

	s.Src = prefix
	s.Family = fam
	m.check(s)
	return nil
}

// ClearSrcMatch removes the source-prefix match clause.
func (m *Model) ClearSrcMatch(mapName string, seqno uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSequence(mapName, seqno)
	if !s.Src.IsValid() {
		return nil
	}
	s.Src = netip.Prefix{}
	m.check(s)
	return nil
}

// SetDstMatch sets the destination-prefix match clause, with the same
// no-op and family rules as SetSrcMatch.
func (m *Model) SetDstMatch(mapName string, seqno uint32, prefix netip.Prefix) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSequence(mapName, seqno)
	fam := familyOf(prefix)
	if s.Src.IsValid() && familyOf(s.Src) != fam {
		return fmt.Errorf("%w: dst %s vs src %s", ErrFamilyMismatch, prefix, s.Src)
	}
	if s.Dst == prefix {
		return nil
	}

	s.Dst = prefix
	s.Family = fam
	m.check(s)
	return nil
}

// ClearDstMatch removes the destination-prefix match clause.
func (m *Model) ClearDstMatch(mapName string, seqno uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSequence(mapName, seqno)
	if !s.Dst.IsValid() {
		return nil
	}
	s.Dst = netip.Prefix{}
	m.check(s)
	return nil
}

// SetNexthopGroup binds a named nexthop-group as the forwarding action.
// Binding the already-bound name is a no-op; replacing a different bound
// group or overriding an inline nexthop is rejected. A name the resolver
// does not know yet is accepted and left pending.
func (m *Model) SetNexthopGroup(mapName string, seqno uint32, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSequence(mapName, seqno)
	switch a := s.Action.(type) {
	case NexthopAction:
		return ErrNexthopConfigured
	case GroupAction:
		if a.Name == name {
			return nil
		}
		return fmt.Errorf("%w: %s is bound", ErrOtherGroupConfigured, a.Name)
	}

	if _, ok := m.groups.Resolve(name); !ok {
		m.log.Infof("nexthop-group %q does not exist yet, pbr-map %q seq %d stays pending", name, mapName, seqno)
	}
	s.Action = GroupAction{Name: name}
	m.check(s)
	return nil
}

// ClearNexthopGroup removes the named nexthop-group binding. The name must
// match the bound one.
func (m *Model) ClearNexthopGroup(mapName string, seqno uint32, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSequence(mapName, seqno)
	a, ok := s.Action.(GroupAction)
	if !ok || a.Name != name {
		return fmt.Errorf("%w: %s", ErrGroupNotConfigured, name)
	}

	s.Action = nil
	m.check(s)
	return nil
}

// AddNexthop configures the single inline nexthop of a sequence. The VRF
// and the optional interface are resolved up front; adding the exact entry
// already present is a no-op, while a second distinct entry is rejected in
// favor of named groups.
func (m *Model) AddNexthop(mapName string, seqno uint32, gateway netip.Addr, ifname, vrf string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSequence(mapName, seqno)
	if _, ok := s.Action.(GroupAction); ok {
		return ErrGroupConfigured
	}

	nh, err := m.resolveNexthop(gateway, ifname, vrf)
	if err != nil {
		return err
	}

	if a, ok := s.Action.(NexthopAction); ok {
		if a.Nexthop.Equal(nh) {
			return nil
		}
		return ErrTooManyNexthops
	}

	s.Action = NexthopAction{Nexthop: nh}
	s.internalGroup = inlineGroupName(mapName, seqno)
	if _, err := m.groups.RegisterInline(s.internalGroup); err != nil {
		s.Action = nil
		s.internalGroup = ""
		return fmt.Errorf("failed to register inline nexthop: %w", err)
	}
	m.check(s)
	return nil
}

// RemoveNexthop removes the inline nexthop. The entry must match the
// configured one exactly; removing from an empty set is an error.
func (m *Model) RemoveNexthop(mapName string, seqno uint32, gateway netip.Addr, ifname, vrf string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.ensureSequence(mapName, seqno)
	if _, ok := s.Action.(GroupAction); ok {
		return ErrGroupConfigured
	}

	nh, err := m.resolveNexthop(gateway, ifname, vrf)
	if err != nil {
		return err
	}

	a, ok := s.Action.(NexthopAction)
	if !ok {
		return ErrNoNexthops
	}
	if !a.Nexthop.Equal(nh) {
		return fmt.Errorf("%w: %s", ErrNexthopNotFound, nh)
	}

	s.Action = nil
	m.groups.UnregisterInline(s.internalGroup)
	s.internalGroup = ""
	m.check(s)
	return nil
}

// resolveNexthop validates VRF and interface references of an inline
// nexthop against the registries.
func (m *Model) resolveNexthop(gateway netip.Addr, ifname, vrf string) (Nexthop, error) {
	if _, ok := m.vrfs.Resolve(vrf); !ok {
		return Nexthop{}, fmt.Errorf("%w: %q", ErrVRFNotFound, vrf)
	}

	nh := Nexthop{
		Gateway: gateway,
		Iface:   ifname,
		VRF:     vrf,
	}
	if ifname != "" {
		idx, ok := m.ifaces.Lookup(vrf, ifname)
		if !ok {
			return Nexthop{}, fmt.Errorf("%w: %q in vrf %q", ErrInterfaceNotFound, ifname, vrfLabel(vrf))
		}
		nh.IfIndex = idx
	}
	return nh, nil
}

// BindInterface applies the named policy map on an interface. Rebinding to
// a different map first withdraws every rule installed for this interface
// under the old map, then installs under the new one; there is never a
// moment with both installed.
func (m *Model) BindInterface(ifname, mapName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, bound := m.bindings[ifname]
	if bound && current == mapName {
		return nil
	}
	if bound {
		m.detachInterface(ifname, current)
	}

	pm := m.ensureMap(mapName)
	pm.bound[ifname] = struct{}{}
	m.bindings[ifname] = mapName
	m.log.Infof("interface %q bound to pbr-map %q", ifname, mapName)

	for _, s := range pm.sequences {
		m.check(s)
	}
	return nil
}

// UnbindInterface removes the policy map applied on an interface, if any.
func (m *Model) UnbindInterface(ifname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, bound := m.bindings[ifname]
	if !bound {
		return nil
	}
	m.detachInterface(ifname, current)
	m.log.Infof("interface %q unbound from pbr-map %q", ifname, current)
	return nil
}

// detachInterface withdraws the interface's rules from its current map and
// drops the binding. Sequences are re-checked afterwards so an unbound map
// falls back to its interface-less rule.
func (m *Model) detachInterface(ifname, mapName string) {
	delete(m.bindings, ifname)
	pm, ok := m.maps[mapName]
	if !ok {
		return
	}
	delete(pm.bound, ifname)
	for _, s := range pm.sequences {
		m.check(s)
	}
	m.destroyIfEmpty(pm)
}

// DeleteSequence removes one sequence, withdrawing its kernel rules first.
func (m *Model) DeleteSequence(mapName string, seqno uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm, ok := m.maps[mapName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrMapNotFound, mapName)
	}
	s := pm.lookup(seqno)
	if s == nil {
		return fmt.Errorf("%w: %q seq %d", ErrSequenceNotFound, mapName, seqno)
	}
	m.deleteSequence(pm, s)
	m.destroyIfEmpty(pm)
	return nil
}

// DeleteMap removes every sequence of a map.
func (m *Model) DeleteMap(mapName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm, ok := m.maps[mapName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrMapNotFound, mapName)
	}
	for _, s := range slices.Clone(pm.sequences) {
		m.deleteSequence(pm, s)
	}
	m.destroyIfEmpty(pm)
	return nil
}

func (m *Model) deleteSequence(pm *Map, s *Sequence) {
	m.withdraw(s, ReasonNone)
	if s.internalGroup != "" {
		m.groups.UnregisterInline(s.internalGroup)
		s.internalGroup = ""
	}
	idx := slices.Index(pm.sequences, s)
	if idx >= 0 {
		pm.sequences = slices.Delete(pm.sequences, idx, idx+1)
	}
	m.updateMapValid(pm)
	m.log.Debugf("deleted pbr-map %q seq %d", pm.Name, s.Seqno)
}

// destroyIfEmpty drops a map once its last sequence is gone and no
// interface references it anymore.
func (m *Model) destroyIfEmpty(pm *Map) {
	if len(pm.sequences) == 0 && len(pm.bound) == 0 {
		delete(m.maps, pm.Name)
		m.log.Debugf("destroyed pbr-map %q", pm.Name)
	}
}

// Revalidate re-runs the validity check on every sequence. It is triggered
// whenever a registry's state could have changed: nexthop-group
// addition/removal and interface appearance/disappearance.
func (m *Model) Revalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pm := range m.maps {
		for _, s := range pm.sequences {
			m.check(s)
		}
	}
}

func vrfLabel(vrf string) string {
	if vrf == "" {
		return "default"
	}
	return vrf
}

// inlineGroupName derives the registry name of the internal group backing a
// sequence's inline nexthop.
func inlineGroupName(mapName string, seqno uint32) string {
	return fmt.Sprintf("%s-%d", mapName, seqno)
}
