// Package decision computes the SPF engine of spec.md §4.6: topology
// construction from KvStore snapshots, Dijkstra with equal-cost
// predecessor retention, best-origin selection, SP_ECMP and
// KSP2_ED_ECMP path computation, and MPLS route synthesis. It has no
// direct teacher analogue (nylon is distance-vector, single metric,
// no ECMP or MPLS) so it is grounded on the teacher's general
// event-loop/worker idiom (impl/router.go's dedicated recompute
// goroutine superseded by newer input) rather than on any specific
// algorithm file; determinism is achieved throughout by sorting every
// map's keys before iterating, per spec.md §4.6.
package decision

import (
	"net/netip"
	"slices"

	"github.com/openr/openr-go/state"
)

// TopologySnapshot is Decision's input, spec.md §3.
type TopologySnapshot struct {
	Area          state.AreaId
	AdjacencyDbs  map[state.NodeId]state.AdjacencyDb
	PrefixDbs     map[state.NodeId]state.PrefixDb
}

// edge is one directed link discovered by intersecting two nodes'
// AdjacencyDbs, spec.md §4.6 ("An edge (u,v,metric,iface_u,nexthop_v)
// exists iff both directions are present ... and neither endpoint is
// overloaded on that adjacency").
type edge struct {
	To       state.NodeId
	Metric   uint32
	Iface    state.InterfaceName
	NextHopV4 netip.Addr
	NextHopV6 netip.Addr
	AdjLabel state.AdjLabel
}

// graph is an adjacency-list view of a TopologySnapshot with
// deterministic (sorted) node ordering.
type graph struct {
	nodes []state.NodeId
	edges map[state.NodeId][]edge
	overloaded map[state.NodeId]bool
}

// buildGraph applies spec.md §4.6's edge-existence rule: overloaded
// *nodes* remain valid origins/destinations but all their outgoing
// edges are dropped so Dijkstra never transits them.
func buildGraph(snap TopologySnapshot) *graph {
	g := &graph{
		edges:      make(map[state.NodeId][]edge),
		overloaded: make(map[state.NodeId]bool),
	}
	for id, db := range snap.AdjacencyDbs {
		g.nodes = append(g.nodes, id)
		g.overloaded[id] = db.IsOverloaded
	}
	slices.Sort(g.nodes)

	for u, dbU := range snap.AdjacencyDbs {
		for _, a := range dbU.SortedAdjacencies() {
			v := a.RemoteNode
			dbV, ok := snap.AdjacencyDbs[v]
			if !ok {
				continue
			}
			if !hasReverse(dbV, u, a.RemoteIface) {
				continue
			}
			if a.IsOverloaded {
				continue
			}
			if dbU.IsOverloaded {
				continue // u's edges are dropped, but v -> u might still exist independently
			}
			g.edges[u] = append(g.edges[u], edge{
				To:        v,
				Metric:    a.Metric,
				Iface:     a.LocalIface,
				NextHopV4: a.V4NextHop,
				NextHopV6: a.V6NextHop,
				AdjLabel:  a.AdjLabel,
			})
		}
	}
	for u := range g.edges {
		slices.SortFunc(g.edges[u], func(a, b edge) int {
			if a.To != b.To {
				if a.To < b.To {
					return -1
				}
				return 1
			}
			return 0
		})
	}
	return g
}

// hasReverse reports whether dbV has a non-overloaded adjacency back
// toward u whose LocalIface is remoteIface (the far end of u's own
// adjacency), satisfying the bidirectionality requirement.
func hasReverse(dbV state.AdjacencyDb, u state.NodeId, remoteIface state.InterfaceName) bool {
	for _, a := range dbV.Adjacencies {
		if a.RemoteNode == u && a.LocalIface == remoteIface && !a.IsOverloaded {
			return true
		}
	}
	return false
}
