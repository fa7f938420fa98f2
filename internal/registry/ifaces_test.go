package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIfaceLookupIsVRFScoped(t *testing.T) {
	m := NewIfaces()
	m.Swap(map[string]Iface{
		"eth0": {Name: "eth0", Index: 2},
		"red0": {Name: "red0", Index: 7, VRF: "red"},
	})

	idx, ok := m.Lookup("", "eth0")
	require.True(t, ok)
	require.Equal(t, 2, idx)

	_, ok = m.Lookup("", "red0")
	require.False(t, ok, "VRF member must not resolve in the default VRF")
	idx, ok = m.Lookup("red", "red0")
	require.True(t, ok)
	require.Equal(t, 7, idx)

	require.True(t, m.Exists("red0"))
	require.False(t, m.Exists("eth9"))
}

func TestIfaceSwapReplacesWholeTable(t *testing.T) {
	m := NewIfaces()
	m.Swap(map[string]Iface{"eth0": {Name: "eth0", Index: 2}})
	m.Swap(map[string]Iface{"eth1": {Name: "eth1", Index: 3}})

	require.False(t, m.Exists("eth0"))
	require.True(t, m.Exists("eth1"))
	require.Len(t, m.Entries(), 1)
}

func TestVRFResolve(t *testing.T) {
	m := NewVRFs()
	m.Swap(map[string]VRF{"red": {Name: "red", ID: 12, Table: 1012}})

	id, ok := m.Resolve("")
	require.True(t, ok, "the default VRF always resolves")
	require.Zero(t, id)

	id, ok = m.Resolve("red")
	require.True(t, ok)
	require.Equal(t, uint32(12), id)

	_, ok = m.Resolve("blue")
	require.False(t, ok)
}
