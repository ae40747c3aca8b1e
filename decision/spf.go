package decision

import (
	"slices"

	"github.com/openr/openr-go/state"
)

// Compute runs the full SPF pipeline for one area and returns the
// desired RouteDb, spec.md §4.6. All map iteration below goes through
// sorted keys first, so two nodes fed identical TopologySnapshots
// produce byte-identical output (spec.md §8 testable property 2).
func Compute(local state.NodeId, snap TopologySnapshot) state.RouteDb {
	g := buildGraph(snap)
	spf := dijkstra(g, local)

	out := state.RouteDb{NodeId: local}

	prefixOrigins := collectPrefixOrigins(snap)
	prefixes := sortedPrefixKeys(prefixOrigins)

	for _, prefix := range prefixes {
		entries := prefixOrigins[prefix]
		best := bestOrigins(entries)
		if len(best) == 0 {
			continue
		}
		if best[0].Entry.ForwardingAlgo == state.AlgoKsp2EdEcmp && best[0].Node != local {
			route, ok := buildKsp2Route(local, snap, g, best[0].Entry, best[0].Node)
			if ok {
				out.UnicastRoutes = append(out.UnicastRoutes, route)
			}
			continue
		}

		route, ok := buildUnicastRoute(local, spf, prefix, best)
		if !ok {
			continue
		}
		out.UnicastRoutes = append(out.UnicastRoutes, route)
	}

	out.MplsRoutes = buildNodeSegmentRoutes(local, snap, spf, g)

	return out
}

type originEntry struct {
	Node  state.NodeId
	Entry state.PrefixEntry
}

// collectPrefixOrigins inverts PrefixDbs into prefix -> [] origin,
// since more than one node may originate the same prefix (spec.md
// §4.5's best-origin selection).
func collectPrefixOrigins(snap TopologySnapshot) map[string][]originEntry {
	out := make(map[string][]originEntry)
	nodeIds := make([]state.NodeId, 0, len(snap.PrefixDbs))
	for id := range snap.PrefixDbs {
		nodeIds = append(nodeIds, id)
	}
	slices.Sort(nodeIds)

	for _, id := range nodeIds {
		db := snap.PrefixDbs[id]
		for _, e := range db.Prefixes {
			key := e.Prefix.String()
			out[key] = append(out[key], originEntry{Node: id, Entry: e})
		}
	}
	return out
}

func sortedPrefixKeys(m map[string][]originEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// bestOrigins applies spec.md §4.5's deterministic tie-break and
// returns every origin tied at the top under BetterPrefixMetrics, plus
// a final tie-break on originator node name for total determinism.
func bestOrigins(entries []originEntry) []originEntry {
	if len(entries) == 0 {
		return nil
	}
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b originEntry) int {
		if state.BetterPrefixMetrics(b.Entry.Metrics, a.Entry.Metrics) {
			return -1
		}
		if state.BetterPrefixMetrics(a.Entry.Metrics, b.Entry.Metrics) {
			return 1
		}
		if a.Node != b.Node {
			if a.Node < b.Node {
				return -1
			}
			return 1
		}
		return 0
	})
	top := sorted[0]
	var best []originEntry
	for _, e := range sorted {
		if !state.BetterPrefixMetrics(top.Entry.Metrics, e.Entry.Metrics) && !state.BetterPrefixMetrics(e.Entry.Metrics, top.Entry.Metrics) {
			best = append(best, e)
		}
	}
	return best
}

// buildUnicastRoute implements SP_ECMP: union of equal-cost first-hop
// adjacencies toward every best origin, spec.md §4.6. min_nexthops
// withholds the route if unmet.
func buildUnicastRoute(local state.NodeId, spf spfResult, prefixKey string, best []originEntry) (state.UnicastRoute, bool) {
	prefix := best[0].Entry.Prefix
	minNexthops := best[0].Entry.MinNexthops

	var nextHops []state.NextHop
	seen := make(map[state.InterfaceName]bool)
	var totalMetric uint64

	for _, o := range best {
		if o.Node == local {
			continue // locally originated; no next hop needed
		}
		dist, ok := spf.Dist[o.Node]
		if !ok {
			continue // unreachable
		}
		if totalMetric == 0 || dist < totalMetric {
			totalMetric = dist
		}
		for _, e := range firstHops(spf, local, o.Node) {
			if seen[e.Iface] {
				continue
			}
			seen[e.Iface] = true
			nextHops = append(nextHops, state.NextHop{
				Address:      e.NextHopV6,
				Iface:        e.Iface,
				Weight:       1,
				Metric:       uint32(dist),
				NeighborNode: e.To,
			})
		}
	}

	if len(best) == 1 && best[0].Node == local && len(nextHops) == 0 {
		// locally originated prefix with no remote reachability need:
		// still a valid route (e.g. loopback), zero next hops means
		// it's directly connected and Fib treats it as such.
		return state.UnicastRoute{Prefix: prefix}, true
	}

	if minNexthops > 0 && len(nextHops) < minNexthops {
		return state.UnicastRoute{}, false
	}
	if len(nextHops) == 0 {
		return state.UnicastRoute{}, false
	}

	slices.SortFunc(nextHops, func(a, b state.NextHop) int {
		if a.Iface != b.Iface {
			if a.Iface < b.Iface {
				return -1
			}
			return 1
		}
		return 0
	})

	return state.UnicastRoute{Prefix: prefix, NextHops: nextHops}, true
}

// buildNodeSegmentRoutes emits one MPLS swap route per remote node
// carrying a node-segment label, plus php/pop routes for local
// adjacencies with a configured adj-label, spec.md §4.6.
func buildNodeSegmentRoutes(local state.NodeId, snap TopologySnapshot, spf spfResult, g *graph) []state.MplsRoute {
	var out []state.MplsRoute

	nodeIds := slices.Clone(g.nodes)
	for _, remote := range nodeIds {
		if remote == local {
			continue
		}
		db, ok := snap.AdjacencyDbs[remote]
		if !ok || db.NodeLabel == 0 {
			continue
		}
		var nextHops []state.NextHop
		seen := make(map[state.InterfaceName]bool)
		for _, e := range firstHops(spf, local, remote) {
			if seen[e.Iface] {
				continue
			}
			seen[e.Iface] = true
			nextHops = append(nextHops, state.NextHop{
				Address:      e.NextHopV6,
				Iface:        e.Iface,
				Weight:       1,
				NeighborNode: e.To,
				Action:       state.MplsActionSwap,
				SwapLabel:    db.NodeLabel,
			})
		}
		if len(nextHops) == 0 {
			continue
		}
		out = append(out, state.MplsRoute{Label: db.NodeLabel, NextHops: nextHops})
	}

	if localDb, ok := snap.AdjacencyDbs[local]; ok {
		for _, a := range localDb.SortedAdjacencies() {
			if a.AdjLabel.Type == state.AdjLabelNone {
				continue
			}
			out = append(out, state.MplsRoute{
				Label: a.AdjLabel.Label,
				NextHops: []state.NextHop{{
					Address:      a.V6NextHop,
					Iface:        a.LocalIface,
					Weight:       1,
					NeighborNode: a.RemoteNode,
					Action:       state.MplsActionPhp,
				}},
			})
		}
	}

	slices.SortFunc(out, func(a, b state.MplsRoute) int {
		if a.Label != b.Label {
			if a.Label < b.Label {
				return -1
			}
			return 1
		}
		return 0
	})
	return out
}
