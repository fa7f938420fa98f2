package fibrule

import (
	"net/netip"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// toWire serializes an encoded request and parses it back the way the
// notification path would see it.
func toWire(t *testing.T, req *nl.NetlinkRequest) syscall.NetlinkMessage {
	t.Helper()
	msgs, err := syscall.ParseNetlinkMessage(req.Serialize())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func roundTrip(t *testing.T, r Rule, op Op) (Rule, Op) {
	t.Helper()
	req, err := Encode(r, op)
	require.NoError(t, err)

	got, gotOp, ok := Decode(toWire(t, req))
	require.True(t, ok, "expected rule [%s] to survive decode", r)
	return got, gotOp
}

func TestRoundTripIPv4(t *testing.T) {
	r := Rule{
		Family:   unix.AF_INET,
		Priority: 310,
		Ifname:   "eth0",
		Src:      netip.MustParsePrefix("10.0.0.0/24"),
		Dst:      netip.MustParsePrefix("192.0.2.0/28"),
		Filter:   FilterSrc | FilterDst,
		Table:    42,
	}

	got, op := roundTrip(t, r, OpAdd)
	require.Equal(t, OpAdd, op)
	require.Equal(t, r, got)
}

func TestRoundTripIPv6(t *testing.T) {
	r := Rule{
		Family:   unix.AF_INET6,
		Priority: 1301,
		Ifname:   "swp1",
		Dst:      netip.MustParsePrefix("2001:db8::/64"),
		Filter:   FilterDst,
		Table:    100,
	}

	got, op := roundTrip(t, r, OpDelete)
	require.Equal(t, OpDelete, op)
	require.Equal(t, r, got)
}

func TestRoundTripTableBoundary(t *testing.T) {
	for _, table := range []uint32{255, 256, 10000} {
		r := Rule{
			Family:   unix.AF_INET,
			Priority: 5,
			Ifname:   "eth1",
			Src:      netip.MustParsePrefix("172.16.0.0/12"),
			Filter:   FilterSrc,
			Table:    table,
		}
		got, _ := roundTrip(t, r, OpAdd)
		require.Equal(t, r, got, "table %d", table)
	}
}

func TestEncodeTableSplit(t *testing.T) {
	small := Rule{Family: unix.AF_INET, Priority: 1, Ifname: "eth0", Table: 255}
	req, err := Encode(small, OpAdd)
	require.NoError(t, err)
	m := toWire(t, req)
	hdr := nl.DeserializeRtMsg(m.Data)
	require.Equal(t, uint8(255), hdr.Table)

	large := Rule{Family: unix.AF_INET, Priority: 1, Ifname: "eth0", Table: 256}
	req, err = Encode(large, OpAdd)
	require.NoError(t, err)
	m = toWire(t, req)
	hdr = nl.DeserializeRtMsg(m.Data)
	require.Equal(t, uint8(unix.RT_TABLE_UNSPEC), hdr.Table)

	attrs, err := nl.ParseRouteAttr(m.Data[hdr.Len():])
	require.NoError(t, err)
	found := false
	for _, a := range attrs {
		if int(a.Attr.Type) == nl.FRA_TABLE {
			found = true
			require.Equal(t, uint32(256), native.Uint32(a.Value))
		}
	}
	require.True(t, found, "expected FRA_TABLE attribute for table 256")
}

func TestDecodeFiltersInterfacelessRules(t *testing.T) {
	r := Rule{
		Family:   unix.AF_INET,
		Priority: 20,
		Src:      netip.MustParsePrefix("10.1.0.0/16"),
		Filter:   FilterSrc,
		Table:    10,
	}
	req, err := Encode(r, OpDelete)
	require.NoError(t, err)

	_, _, ok := Decode(toWire(t, req))
	require.False(t, ok, "rules without an interface must be filtered out")
}

func TestDecodeFiltersForeignMessages(t *testing.T) {
	r := Rule{Family: unix.AF_INET, Priority: 7, Ifname: "eth0", Table: 5}
	req, err := Encode(r, OpAdd)
	require.NoError(t, err)
	m := toWire(t, req)

	// Not a rule message at all.
	route := m
	route.Header.Type = unix.RTM_NEWROUTE
	_, _, ok := Decode(route)
	require.False(t, ok)

	// Unsupported family.
	badFamily := m
	badFamily.Data = append([]byte(nil), m.Data...)
	badFamily.Data[0] = unix.AF_PACKET
	_, _, ok = Decode(badFamily)
	require.False(t, ok)

	// Action other than route-to-table. The action byte sits where rtmsg
	// keeps its type.
	badAction := m
	badAction.Data = append([]byte(nil), m.Data...)
	badAction.Data[7] = nl.FR_ACT_UNREACHABLE
	_, _, ok = Decode(badAction)
	require.False(t, ok)
}

func TestEncodeRejectsFamilyMismatch(t *testing.T) {
	r := Rule{
		Family: unix.AF_INET,
		Src:    netip.MustParsePrefix("2001:db8::/64"),
		Filter: FilterSrc,
	}
	_, err := Encode(r, OpAdd)
	require.Error(t, err)
}
