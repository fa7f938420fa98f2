package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routeplane/pbrd/internal/fibrule"
	"github.com/routeplane/pbrd/internal/policy"
	"github.com/routeplane/pbrd/internal/registry"
)

type nopProg struct{}

func (nopProg) Install(fibrule.Rule) error { return nil }
func (nopProg) Remove(fibrule.Rule) error  { return nil }

type fixture struct {
	srv    *Server
	model  *policy.Model
	ifaces *registry.Ifaces
	vrfs   *registry.VRFs
	groups *registry.NexthopGroups
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ifaces: registry.NewIfaces(),
		vrfs:   registry.NewVRFs(),
		groups: registry.NewNexthopGroups(),
	}
	f.model = policy.NewModel(f.groups, f.ifaces, f.vrfs, nopProg{})
	f.srv = NewServer("127.0.0.1:0", f.model, f.ifaces, f.vrfs, f.groups)

	require.NoError(t, f.groups.Define("gw", 0, 1))
	require.NoError(t, f.model.SetSrcMatch("prod-a", 10, netip.MustParsePrefix("10.0.0.0/24")))
	require.NoError(t, f.model.SetNexthopGroup("prod-a", 10, "gw"))
	require.NoError(t, f.model.SetSrcMatch("test-b", 5, netip.MustParsePrefix("10.1.0.0/24")))
	return f
}

func (f *fixture) get(t *testing.T, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec
}

func TestMapsEndpoint(t *testing.T) {
	f := newFixture(t)

	var resp struct {
		Data []policy.MapStatus `json:"data"`
	}
	rec := f.get(t, "/api/v1/maps", &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Len(t, resp.Data, 2)
	require.Equal(t, "prod-a", resp.Data[0].Name)
	require.True(t, resp.Data[0].Valid)
	require.Equal(t, "test-b", resp.Data[1].Name)
	require.False(t, resp.Data[1].Valid)
}

func TestMapsEndpointNameFilter(t *testing.T) {
	f := newFixture(t)

	var resp struct {
		Data []policy.MapStatus `json:"data"`
	}
	rec := f.get(t, "/api/v1/maps?name=prod-*", &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data, 1)
	require.Equal(t, "prod-a", resp.Data[0].Name)

	rec = f.get(t, "/api/v1/maps?name=%5B", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	require.NotEmpty(t, errResp.Error)
}

func TestBindingsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.ifaces.Swap(map[string]registry.Iface{"eth0": {Name: "eth0", Index: 2}})
	require.NoError(t, f.model.BindInterface("eth0", "prod-a"))

	var resp struct {
		Data []policy.BindingStatus `json:"data"`
	}
	rec := f.get(t, "/api/v1/bindings", &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []policy.BindingStatus{{Interface: "eth0", Map: "prod-a"}}, resp.Data)
}

func TestInterfacesEndpoint(t *testing.T) {
	f := newFixture(t)
	f.ifaces.Swap(map[string]registry.Iface{
		"eth1": {Name: "eth1", Index: 3},
		"eth0": {Name: "eth0", Index: 2},
		"red0": {Name: "red0", Index: 7, VRF: "red"},
	})
	f.vrfs.Swap(map[string]registry.VRF{"red": {Name: "red", ID: 12, Table: 1012}})

	var resp struct {
		Data interfacesResponse `json:"data"`
	}
	rec := f.get(t, "/api/v1/interfaces", &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []ifaceStatus{
		{Name: "eth0", Index: 2},
		{Name: "eth1", Index: 3},
		{Name: "red0", Index: 7, VRF: "red"},
	}, resp.Data.Interfaces)
	require.Equal(t, []vrfStatus{{Name: "red", ID: 12, Table: 1012}}, resp.Data.VRFs)
}

func TestGroupsEndpoint(t *testing.T) {
	f := newFixture(t)

	var resp struct {
		Data []registry.GroupStatus `json:"data"`
	}
	rec := f.get(t, "/api/v1/nexthop-groups", &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data, 1)
	require.Equal(t, "gw", resp.Data[0].Name)
	require.NotZero(t, resp.Data[0].Table)
}

func TestHealthcheck(t *testing.T) {
	f := newFixture(t)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	rec := f.get(t, "/healthcheck", &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", resp.Data["status"])
}
