package fibrule

import (
	"fmt"
	"net/netip"
	"strings"
	"syscall"

	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// headerTableLimit is the first table id that no longer fits into the
// single-byte table field of fib_rule_hdr and must be carried in a
// FRA_TABLE attribute instead.
const headerTableLimit = 256

var native = nl.NativeEndian()

// Encode builds the netlink request for installing or removing the given
// rule. The layout is deterministic: header first, then FRA_PRIORITY,
// FRA_IIFNAME (iff an interface is bound), FRA_SRC, FRA_DST and FRA_TABLE
// (iff the table id does not fit the header byte), in that order.
func Encode(r Rule, op Op) (*nl.NetlinkRequest, error) {
	if r.Family != unix.AF_INET && r.Family != unix.AF_INET6 {
		return nil, fmt.Errorf("unsupported address family %d", r.Family)
	}

	req := nl.NewNetlinkRequest(int(op), unix.NLM_F_ACK)

	msg := &nl.RtMsg{}
	msg.Family = r.Family
	msg.Type = nl.FR_ACT_TO_TBL

	var attrs []*nl.RtAttr
	attrs = append(attrs, nl.NewRtAttr(nl.FRA_PRIORITY, nl.Uint32Attr(r.Priority)))

	if r.Ifname != "" {
		// FRA_IFNAME is an alias of FRA_IIFNAME in the kernel headers.
		attrs = append(attrs, nl.NewRtAttr(nl.FRA_IIFNAME, nl.ZeroTerminated(r.Ifname)))
	}

	if r.Filter&FilterSrc != 0 {
		b, err := addrBytes(r.Family, r.Src.Addr())
		if err != nil {
			return nil, fmt.Errorf("source prefix: %w", err)
		}
		msg.Src_len = uint8(r.Src.Bits())
		attrs = append(attrs, nl.NewRtAttr(nl.FRA_SRC, b))
	}
	if r.Filter&FilterDst != 0 {
		b, err := addrBytes(r.Family, r.Dst.Addr())
		if err != nil {
			return nil, fmt.Errorf("destination prefix: %w", err)
		}
		msg.Dst_len = uint8(r.Dst.Bits())
		attrs = append(attrs, nl.NewRtAttr(nl.FRA_DST, b))
	}

	if r.Table < headerTableLimit {
		msg.Table = uint8(r.Table)
	} else {
		msg.Table = unix.RT_TABLE_UNSPEC
		attrs = append(attrs, nl.NewRtAttr(nl.FRA_TABLE, nl.Uint32Attr(r.Table)))
	}

	req.AddData(msg)
	for _, attr := range attrs {
		req.AddData(attr)
	}
	return req, nil
}

// Decode parses a rule-table notification into a Rule descriptor.
//
// The boolean result reports whether the message is of interest at all:
// anything that is not an RTM_NEWRULE/RTM_DELRULE for an IPv4/IPv6
// route-to-table rule carrying an interface name is filtered out, not an
// error. Whether the interface is actually known locally is for the caller
// to decide; the codec is stateless.
func Decode(m syscall.NetlinkMessage) (Rule, Op, bool) {
	op := Op(m.Header.Type)
	if op != OpAdd && op != OpDelete {
		return Rule{}, 0, false
	}
	if len(m.Data) < unix.SizeofRtMsg {
		return Rule{}, 0, false
	}

	hdr := nl.DeserializeRtMsg(m.Data)
	if hdr.Family != unix.AF_INET && hdr.Family != unix.AF_INET6 {
		return Rule{}, 0, false
	}
	// fib_rule_hdr.action occupies the rtmsg type byte.
	if hdr.Type != nl.FR_ACT_TO_TBL {
		return Rule{}, 0, false
	}

	attrs, err := nl.ParseRouteAttr(m.Data[hdr.Len():])
	if err != nil {
		return Rule{}, 0, false
	}

	r := Rule{
		Family: hdr.Family,
		Table:  uint32(hdr.Table),
	}
	for _, a := range attrs {
		switch int(a.Attr.Type) {
		case nl.FRA_IIFNAME:
			r.Ifname = strings.TrimRight(string(a.Value), "\x00")
		case nl.FRA_PRIORITY:
			if len(a.Value) == 4 {
				r.Priority = native.Uint32(a.Value)
			}
		case nl.FRA_SRC:
			if p, ok := prefixFrom(hdr.Family, a.Value, hdr.Src_len); ok {
				r.Src = p
				r.Filter |= FilterSrc
			}
		case nl.FRA_DST:
			if p, ok := prefixFrom(hdr.Family, a.Value, hdr.Dst_len); ok {
				r.Dst = p
				r.Filter |= FilterDst
			}
		case nl.FRA_TABLE:
			if len(a.Value) == 4 {
				r.Table = native.Uint32(a.Value)
			}
		}
	}

	// Rules lacking an interface binding are of no interest to this daemon.
	if r.Ifname == "" {
		return Rule{}, 0, false
	}
	return r, op, true
}

// addrBytes returns the address payload with the family-mandated width:
// 4 bytes for IPv4, 16 for IPv6.
func addrBytes(family uint8, addr netip.Addr) ([]byte, error) {
	switch family {
	case unix.AF_INET:
		a := addr.Unmap()
		if !a.Is4() {
			return nil, fmt.Errorf("address %s is not IPv4", addr)
		}
		b := a.As4()
		return b[:], nil
	case unix.AF_INET6:
		if !addr.Is6() || addr.Is4In6() {
			return nil, fmt.Errorf("address %s is not IPv6", addr)
		}
		b := addr.As16()
		return b[:], nil
	default:
		return nil, fmt.Errorf("unsupported address family %d", family)
	}
}

func prefixFrom(family uint8, b []byte, bits uint8) (netip.Prefix, bool) {
	switch family {
	case unix.AF_INET:
		if len(b) != 4 {
			return netip.Prefix{}, false
		}
		return netip.PrefixFrom(netip.AddrFrom4([4]byte(b)), int(bits)), true
	case unix.AF_INET6:
		if len(b) != 16 {
			return netip.Prefix{}, false
		}
		return netip.PrefixFrom(netip.AddrFrom16([16]byte(b)), int(bits)), true
	default:
		return netip.Prefix{}, false
	}
}
