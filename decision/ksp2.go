package decision

import "github.com/openr/openr-go/state"

// ksp2Paths computes up to two edge-disjoint shortest first-hop sets
// from source toward dest, spec.md §4.6 ("Compute up to two
// edge-disjoint shortest paths per best-origin"). The primary path is
// the ordinary SPF firstHops set; the secondary is computed by
// removing the primary's first-hop interfaces from the graph and
// re-running Dijkstra, which is edge-disjoint by construction at the
// source. Falls back to just the primary set when no second
// edge-disjoint path exists, per spec.md §8's boundary behavior.
func ksp2Paths(g *graph, source, dest state.NodeId) (primary, secondary []edge) {
	spf := dijkstra(g, source)
	primary = firstHops(spf, source, dest)
	if _, ok := spf.Dist[dest]; !ok || len(primary) == 0 {
		return nil, nil
	}

	excluded := make(map[state.InterfaceName]bool, len(primary))
	for _, e := range primary {
		excluded[e.Iface] = true
	}

	trimmed := &graph{nodes: g.nodes, edges: make(map[state.NodeId][]edge), overloaded: g.overloaded}
	for node, edges := range g.edges {
		for _, e := range edges {
			if node == source && excluded[e.Iface] {
				continue
			}
			trimmed.edges[node] = append(trimmed.edges[node], e)
		}
	}

	spf2 := dijkstra(trimmed, source)
	if _, ok := spf2.Dist[dest]; !ok {
		return primary, nil
	}
	secondary = firstHops(spf2, source, dest)
	return primary, secondary
}

// buildKsp2Route programs push-label next hops for the primary and
// secondary edge-disjoint paths toward a KSP2_ED_ECMP-forwarded
// best-origin, spec.md §4.6.
func buildKsp2Route(local state.NodeId, snap TopologySnapshot, g *graph, prefix state.PrefixEntry, origin state.NodeId) (state.UnicastRoute, bool) {
	primary, secondary := ksp2Paths(g, local, origin)
	if len(primary) == 0 {
		return state.UnicastRoute{}, false
	}
	db, ok := snap.AdjacencyDbs[origin]
	nodeLabel := uint32(0)
	if ok {
		nodeLabel = db.NodeLabel
	}

	var nextHops []state.NextHop
	for _, e := range primary {
		nextHops = append(nextHops, state.NextHop{
			Address:      e.NextHopV6,
			Iface:        e.Iface,
			Weight:       1,
			NeighborNode: e.To,
			Action:       state.MplsActionPush,
			PushLabels:   labelStack(nodeLabel),
		})
	}
	for _, e := range secondary {
		nextHops = append(nextHops, state.NextHop{
			Address:      e.NextHopV6,
			Iface:        e.Iface,
			Weight:       1,
			NeighborNode: e.To,
			Action:       state.MplsActionPush,
			PushLabels:   labelStack(nodeLabel),
		})
	}
	if len(nextHops) == 0 {
		return state.UnicastRoute{}, false
	}
	return state.UnicastRoute{Prefix: prefix.Prefix, NextHops: nextHops}, true
}

func labelStack(nodeLabel uint32) []uint32 {
	if nodeLabel == 0 {
		return nil
	}
	return []uint32{nodeLabel}
}
