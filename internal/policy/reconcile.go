package policy

import (
	"github.com/routeplane/pbrd/internal/fibrule"
)

// HandleRuleDeleted reconciles a kernel-originated rule deletion. If the
// notified tuple matches a rule this model believes is installed, the
// installed flag is cleared and exactly one re-install attempt is made: the
// declared policy always wins over out-of-band kernel changes. Tuples no
// sequence claims are dropped silently, they did not originate here.
func (m *Model) HandleRuleDeleted(r fibrule.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pm := range m.maps {
		for _, s := range pm.sequences {
			cur, ok := s.installed[r.Ifname]
			if !ok || cur != r {
				continue
			}

			m.log.Infof("kernel removed rule [%s] of pbr-map %q seq %d, re-asserting", r, pm.Name, s.Seqno)
			delete(s.installed, r.Ifname)
			if s.State == StateInstalled {
				s.State = StateEligible
			}
			m.check(s)
			return
		}
	}
	m.log.Debugf("ignoring foreign rule deletion [%s]", r)
}
