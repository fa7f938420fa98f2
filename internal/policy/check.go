package policy

import (
	"github.com/routeplane/pbrd/internal/fibrule"
)

// check recomputes a sequence's eligibility and converges the kernel on the
// result: newly eligible sequences are installed, sequences that lost
// eligibility are withdrawn. Callers hold the model mutex, which also
// guarantees at most one in-flight kernel transaction per sequence.
func (m *Model) check(s *Sequence) {
	reason, table, count := m.evaluate(s)
	if reason != ReasonNone {
		m.withdraw(s, reason)
		m.updateMapValid(s.parent)
		return
	}

	s.Table = table
	s.NexthopCount = count
	s.Reason = ReasonNone
	if s.State < StateEligible {
		s.State = StateEligible
	}
	m.program(s)
	m.updateMapValid(s.parent)
}

// evaluate computes the eligibility invariant: at least one match clause,
// a resolvable action, and existing interfaces for every binding. It
// returns ReasonNone plus the resolved table id and installed-nexthop count
// when the sequence is installable.
func (m *Model) evaluate(s *Sequence) (Reason, uint32, int) {
	if !s.HasMatch() {
		return ReasonNoMatch, 0, 0
	}

	var group NexthopGroup
	switch a := s.Action.(type) {
	case nil:
		return ReasonNoAction, 0, 0
	case GroupAction:
		g, ok := m.groups.Resolve(a.Name)
		if !ok {
			return ReasonUnresolvedGroup, 0, 0
		}
		group = g
	case NexthopAction:
		g, ok := m.groups.Resolve(s.internalGroup)
		if !ok {
			return ReasonUnresolvedGroup, 0, 0
		}
		if a.Nexthop.Iface != "" {
			if _, ok := m.ifaces.Lookup(a.Nexthop.VRF, a.Nexthop.Iface); !ok {
				return ReasonMissingIface, 0, 0
			}
		}
		group = g
	}

	for ifname := range s.parent.bound {
		if !m.ifaces.Exists(ifname) {
			return ReasonMissingIface, 0, 0
		}
	}
	return ReasonNone, group.Table, group.Installed
}

// intendedRules derives the kernel rules a sequence should have installed:
// one per interface the owning map is bound to, or a single interface-less
// rule when the map carries no bindings.
func (m *Model) intendedRules(s *Sequence) map[string]fibrule.Rule {
	rules := map[string]fibrule.Rule{}
	if len(s.parent.bound) == 0 {
		rules[""] = m.ruleFor(s, "")
		return rules
	}
	for ifname := range s.parent.bound {
		rules[ifname] = m.ruleFor(s, ifname)
	}
	return rules
}

func (m *Model) ruleFor(s *Sequence, ifname string) fibrule.Rule {
	r := fibrule.Rule{
		Family:   s.Family,
		Priority: s.Ruleno,
		Ifname:   ifname,
		Table:    s.Table,
	}
	if s.Src.IsValid() {
		r.Src = s.Src
		r.Filter |= fibrule.FilterSrc
	}
	if s.Dst.IsValid() {
		r.Dst = s.Dst
		r.Filter |= fibrule.FilterDst
	}
	return r
}

// program diffs the intended rule set against the installed tuples and
// issues the necessary kernel transactions. Each transaction blocks for the
// kernel's acknowledgement; a rejection is recorded on the sequence and not
// retried until the next mutation or revalidation.
func (m *Model) program(s *Sequence) {
	intended := m.intendedRules(s)

	for key, cur := range s.installed {
		want, ok := intended[key]
		if ok && want == cur {
			continue
		}
		m.remove(s, key, cur)
	}

	failed := false
	for key, want := range intended {
		if cur, ok := s.installed[key]; ok && cur == want {
			continue
		}
		if !m.install(s, key, want) {
			failed = true
		}
	}

	if failed {
		s.State = StateEligible
		s.Reason = ReasonKernelRejected
		return
	}
	s.State = StateInstalled
}

func (m *Model) install(s *Sequence, key string, r fibrule.Rule) bool {
	s.State = StateInstallPending
	m.log.Debugf("installing rule [%s] for pbr-map %q seq %d", r, s.parent.Name, s.Seqno)
	if err := m.prog.Install(r); err != nil {
		m.log.Warnf("failed to install rule [%s]: %v", r, err)
		return false
	}
	s.installed[key] = r
	return true
}

func (m *Model) remove(s *Sequence, key string, r fibrule.Rule) {
	m.log.Debugf("removing rule [%s] for pbr-map %q seq %d", r, s.parent.Name, s.Seqno)
	if err := m.prog.Remove(r); err != nil {
		// The declared state no longer wants this rule; drop the tuple even
		// if the kernel disagreed, a later revalidation cannot fix it.
		m.log.Warnf("failed to remove rule [%s]: %v", r, err)
	}
	delete(s.installed, key)
}

// withdraw uninstalls every kernel rule of a sequence and records why it is
// no longer installable.
func (m *Model) withdraw(s *Sequence, reason Reason) {
	for key, r := range s.installed {
		m.remove(s, key, r)
	}
	if s.State != StateUnconfigured || reason != ReasonNone {
		s.State = StateIneligible
	}
	s.Reason = reason
	s.Table = 0
	s.NexthopCount = 0
}

func (m *Model) updateMapValid(pm *Map) {
	valid := false
	for _, s := range pm.sequences {
		if s.State >= StateEligible {
			valid = true
			break
		}
	}
	pm.Valid = valid
}
