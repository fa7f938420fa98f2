// Package fibrule encodes and decodes kernel FIB rule (policy routing rule)
// netlink messages.
//
// The wire format follows the kernel's fib_rule_hdr, whose layout is
// identical to rtmsg: the action byte is fixed to FR_ACT_TO_TBL for every
// rule this daemon emits or accepts, prefix lengths travel in the header
// while the prefix bytes travel as FRA_SRC/FRA_DST attributes, and the
// target table goes into the single header byte when it fits, otherwise
// into a FRA_TABLE attribute.
package fibrule

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Filter is a bitmask recording which match clauses a rule carries.
type Filter uint8

const (
	// FilterSrc is set when the rule matches on a source prefix.
	FilterSrc Filter = 1 << iota
	// FilterDst is set when the rule matches on a destination prefix.
	FilterDst
)

// Op is a rule table operation.
type Op uint16

const (
	// OpAdd installs a rule (RTM_NEWRULE).
	OpAdd Op = unix.RTM_NEWRULE
	// OpDelete removes a rule (RTM_DELRULE).
	OpDelete Op = unix.RTM_DELRULE
)

func (op Op) String() string {
	switch op {
	case OpAdd:
		return "RTM_NEWRULE"
	case OpDelete:
		return "RTM_DELRULE"
	default:
		return fmt.Sprintf("Op(%d)", uint16(op))
	}
}

// Rule is a kernel rule-table entry descriptor.
//
// It is constructed from a policy sequence immediately before a netlink
// transaction and discarded afterwards. All fields are comparable, so two
// descriptors can be matched with ==, which the reconciliation path relies
// on.
type Rule struct {
	// Family is unix.AF_INET or unix.AF_INET6.
	Family uint8
	// Priority is the kernel ordering key (FRA_PRIORITY, always present).
	Priority uint32
	// Ifname is the interface the rule is bound to, empty if none.
	Ifname string
	// Src and Dst are the match prefixes; the zero Prefix means absent.
	Src netip.Prefix
	Dst netip.Prefix
	// Filter records which of Src/Dst are active.
	Filter Filter
	// Table is the routing table packets are steered into.
	Table uint32
}

func (r Rule) String() string {
	ifname := "none"
	if r.Ifname != "" {
		ifname = r.Ifname
	}
	src, dst := "any", "any"
	if r.Filter&FilterSrc != 0 {
		src = r.Src.String()
	}
	if r.Filter&FilterDst != 0 {
		dst = r.Dst.String()
	}
	return fmt.Sprintf("family %s if %s pref %d src %s dst %s table %d",
		familyString(r.Family), ifname, r.Priority, src, dst, r.Table)
}

func familyString(family uint8) string {
	switch family {
	case unix.AF_INET:
		return "ipv4"
	case unix.AF_INET6:
		return "ipv6"
	default:
		return fmt.Sprintf("af(%d)", family)
	}
}
