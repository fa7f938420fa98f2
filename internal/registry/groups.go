package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/routeplane/pbrd/internal/policy"
)

// Table ids handed out to nexthop-groups live in a dedicated range well
// above the kernel's reserved tables.
const (
	tableBase  = 10000
	tableLimit = 11000
)

// NexthopGroups resolves nexthop-group names to routing tables and
// installed-nexthop counts. Named groups are defined externally
// (configuration); internal single-nexthop groups are registered by the
// policy model for inline "set nexthop" sequences. Both allocate their
// table id here.
type NexthopGroups struct {
	mu        sync.Mutex
	groups    map[string]groupEntry
	nextTable uint32
	onChange  func()
}

type groupEntry struct {
	group  policy.NexthopGroup
	inline bool
}

// NewNexthopGroups returns an empty nexthop-group registry.
func NewNexthopGroups() *NexthopGroups {
	return &NexthopGroups{
		groups:    map[string]groupEntry{},
		nextTable: tableBase,
	}
}

// SetOnChange installs a hook fired after an external group definition
// changes, so dependent sequences can be revalidated. Inline registrations
// do not fire it: the model triggers those while already mutating.
func (m *NexthopGroups) SetOnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Resolve returns the table id and installed-nexthop count of a group.
func (m *NexthopGroups) Resolve(name string) (policy.NexthopGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.groups[name]
	if !ok {
		return policy.NexthopGroup{}, false
	}
	return e.group, true
}

// Define creates or updates an externally managed group. A zero table id
// allocates one from the registry's range.
func (m *NexthopGroups) Define(name string, table uint32, nexthops int) error {
	m.mu.Lock()
	e, existed := m.groups[name]
	if table == 0 {
		if existed {
			table = e.group.Table
		} else {
			var err error
			if table, err = m.allocTable(); err != nil {
				m.mu.Unlock()
				return err
			}
		}
	}
	m.groups[name] = groupEntry{
		group: policy.NexthopGroup{Table: table, Installed: nexthops},
	}
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

// Undefine removes an externally managed group. Sequences referencing it
// fall back to the unresolved state on the next revalidation.
func (m *NexthopGroups) Undefine(name string) {
	m.mu.Lock()
	delete(m.groups, name)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// RegisterInline allocates a table for the internal group backing an inline
// nexthop and returns it.
func (m *NexthopGroups) RegisterInline(name string) (policy.NexthopGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.groups[name]; ok {
		return e.group, nil
	}
	table, err := m.allocTable()
	if err != nil {
		return policy.NexthopGroup{}, err
	}
	g := policy.NexthopGroup{Table: table, Installed: 1}
	m.groups[name] = groupEntry{group: g, inline: true}
	return g, nil
}

// UnregisterInline drops an internal group.
func (m *NexthopGroups) UnregisterInline(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.groups[name]; ok && e.inline {
		delete(m.groups, name)
	}
}

func (m *NexthopGroups) allocTable() (uint32, error) {
	for m.nextTable < tableLimit {
		table := m.nextTable
		m.nextTable++
		if !m.tableInUse(table) {
			return table, nil
		}
	}
	return 0, fmt.Errorf("nexthop-group table range %d-%d exhausted", tableBase, tableLimit-1)
}

func (m *NexthopGroups) tableInUse(table uint32) bool {
	for _, e := range m.groups {
		if e.group.Table == table {
			return true
		}
	}
	return false
}

// GroupStatus is the read-only view of one group.
type GroupStatus struct {
	Name      string `json:"name"`
	Table     uint32 `json:"table"`
	Installed int    `json:"installed"`
	Inline    bool   `json:"inline,omitempty"`
}

// Snapshot returns every group in ascending name order.
func (m *NexthopGroups) Snapshot() []GroupStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]GroupStatus, 0, len(m.groups))
	for name, e := range m.groups {
		out = append(out, GroupStatus{
			Name:      name,
			Table:     e.group.Table,
			Installed: e.group.Installed,
			Inline:    e.inline,
		})
	}
	slices.SortFunc(out, func(a, b GroupStatus) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
