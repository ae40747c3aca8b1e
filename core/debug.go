package core

import (
	"encoding/json"
	"net/http"
	"net/netip"

	"github.com/openr/openr-go/decision"
	"github.com/openr/openr-go/state"
)

// ServeDebug exposes read-only JSON snapshots of running state on addr,
// spec.md §6's "operational and not part of the core" dump surface —
// grounded on the teacher's setupDebugging pprof listener
// (core/entrypoint.go), generalized from pprof-only to a small set of
// named dump endpoints the cmd/dump subcommands scrape.
func (n *Node) ServeDebug(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/kvstore", n.handleDumpKvStore)
	mux.HandleFunc("/debug/adjacencies", n.handleDumpAdjacencies)
	mux.HandleFunc("/debug/routes", n.handleDumpRoutes)
	mux.HandleFunc("/debug/route", n.handleLookupRoute)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-n.ctx.Done()
		srv.Close()
	}()
	return srv.ListenAndServe()
}

func (n *Node) handleDumpKvStore(w http.ResponseWriter, r *http.Request) {
	out := make(map[state.AreaId][]state.KvValue)
	for _, area := range n.cfg.Identity.Areas {
		out[area.AreaId] = n.kvStore.Snapshot(area.AreaId)
	}
	writeJSON(w, out)
}

func (n *Node) handleDumpAdjacencies(w http.ResponseWriter, r *http.Request) {
	out := make(map[state.AreaId][]state.AdjacencyDb)
	for _, area := range n.cfg.Identity.Areas {
		for _, v := range n.kvStore.Snapshot(area.AreaId) {
			if db, ok := decision.DecodeAdjacencyDb(v); ok {
				out[area.AreaId] = append(out[area.AreaId], db)
			}
		}
	}
	writeJSON(w, out)
}

func (n *Node) handleDumpRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, n.fibComp.Desired())
}

// handleLookupRoute answers a single longest-prefix-match question
// against the desired unicast RouteDb, e.g. /debug/route?addr=10.0.0.3.
func (n *Node) handleLookupRoute(w http.ResponseWriter, r *http.Request) {
	addr, err := netip.ParseAddr(r.URL.Query().Get("addr"))
	if err != nil {
		http.Error(w, "invalid addr query parameter: "+err.Error(), http.StatusBadRequest)
		return
	}
	route, ok := n.fibComp.Lookup(addr)
	if !ok {
		http.Error(w, "no matching route", http.StatusNotFound)
		return
	}
	writeJSON(w, route)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
