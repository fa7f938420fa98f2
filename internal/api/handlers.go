package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/routeplane/pbrd/internal/policy"
	"github.com/routeplane/pbrd/internal/registry"
)

type dataResponse struct {
	Data any `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func respondError(w http.ResponseWriter, statusCode int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// handleMaps returns the policy map snapshot, optionally filtered by a
// glob pattern on the map name (?name=prod-*).
func handleMaps(model *policy.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maps := model.Snapshot()

		if pattern := r.URL.Query().Get("name"); pattern != "" {
			g, err := glob.Compile(pattern)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid name pattern")
				return
			}
			maps = slices.DeleteFunc(maps, func(m policy.MapStatus) bool {
				return !g.Match(m.Name)
			})
		}
		respondJSON(w, http.StatusOK, maps)
	}
}

func handleBindings(model *policy.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, model.Bindings())
	}
}

type ifaceStatus struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	VRF   string `json:"vrf,omitempty"`
}

type vrfStatus struct {
	Name  string `json:"name"`
	ID    uint32 `json:"id"`
	Table uint32 `json:"table"`
}

type interfacesResponse struct {
	Interfaces []ifaceStatus `json:"interfaces"`
	VRFs       []vrfStatus   `json:"vrfs"`
}

func handleInterfaces(ifaces *registry.Ifaces, vrfs *registry.VRFs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := interfacesResponse{}
		for _, e := range ifaces.Entries() {
			resp.Interfaces = append(resp.Interfaces, ifaceStatus{Name: e.Name, Index: e.Index, VRF: e.VRF})
		}
		for _, e := range vrfs.Entries() {
			resp.VRFs = append(resp.VRFs, vrfStatus{Name: e.Name, ID: e.ID, Table: e.Table})
		}
		slices.SortFunc(resp.Interfaces, func(a, b ifaceStatus) int {
			return strings.Compare(a.Name, b.Name)
		})
		slices.SortFunc(resp.VRFs, func(a, b vrfStatus) int {
			return strings.Compare(a.Name, b.Name)
		})
		respondJSON(w, http.StatusOK, resp)
	}
}

func handleGroups(groups *registry.NexthopGroups) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, groups.Snapshot())
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
