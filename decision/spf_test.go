package decision

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openr/openr-go/state"
)

// ringAdjacency builds one directional adjacency entry for a link
// between two nodes, named "eth<from>-<to>"/"eth<to>-<from>" so both
// ends agree on the interface pair buildGraph's hasReverse check needs.
func ringAdjacency(to state.NodeId, from, toName string, metric uint32) state.Adjacency {
	return state.Adjacency{
		RemoteNode:  to,
		LocalIface:  state.InterfaceName("eth" + from + "-" + toName),
		RemoteIface: state.InterfaceName("eth" + toName + "-" + from),
		Metric:      metric,
	}
}

func loopbackPrefixDb(node state.NodeId, addr string) state.PrefixDb {
	return state.PrefixDb{
		NodeId: node,
		Prefixes: []state.PrefixEntry{
			{Prefix: netip.MustParsePrefix(addr), Type: state.PrefixLoopback},
		},
	}
}

// ringSnapshot builds spec.md §8's S1 topology: a 4-node ring
// 1-2-4-3-1, every edge metric 1, each node originating its own
// loopback prefix.
func ringSnapshot() TopologySnapshot {
	adj := map[state.NodeId]state.AdjacencyDb{
		"1": {NodeId: "1", Adjacencies: []state.Adjacency{
			ringAdjacency("2", "1", "2", 1),
			ringAdjacency("3", "1", "3", 1),
		}},
		"2": {NodeId: "2", Adjacencies: []state.Adjacency{
			ringAdjacency("1", "2", "1", 1),
			ringAdjacency("4", "2", "4", 1),
		}},
		"3": {NodeId: "3", Adjacencies: []state.Adjacency{
			ringAdjacency("1", "3", "1", 1),
			ringAdjacency("4", "3", "4", 1),
		}},
		"4": {NodeId: "4", Adjacencies: []state.Adjacency{
			ringAdjacency("2", "4", "2", 1),
			ringAdjacency("3", "4", "3", 1),
		}},
	}
	prefixes := map[state.NodeId]state.PrefixDb{
		"1": loopbackPrefixDb("1", "10.0.0.1/32"),
		"2": loopbackPrefixDb("2", "10.0.0.2/32"),
		"3": loopbackPrefixDb("3", "10.0.0.3/32"),
		"4": loopbackPrefixDb("4", "10.0.0.4/32"),
	}
	return TopologySnapshot{Area: "area1", AdjacencyDbs: adj, PrefixDbs: prefixes}
}

func routeFor(t *testing.T, db state.RouteDb, prefix string) state.UnicastRoute {
	t.Helper()
	for _, r := range db.UnicastRoutes {
		if r.Prefix == netip.MustParsePrefix(prefix) {
			return r
		}
	}
	t.Fatalf("no route for prefix %s", prefix)
	return state.UnicastRoute{}
}

func ifaces(r state.UnicastRoute) []state.InterfaceName {
	out := make([]state.InterfaceName, 0, len(r.NextHops))
	for _, nh := range r.NextHops {
		out = append(out, nh.Iface)
	}
	return out
}

// TestComputeRingSinglePathGetsOneNextHop covers spec.md §8's S1: node
// 1's route to node 2, one hop away on the ring, resolves to exactly
// one next hop.
func TestComputeRingSinglePathGetsOneNextHop(t *testing.T) {
	routes := Compute("1", ringSnapshot())

	r := routeFor(t, routes, "10.0.0.2/32")
	require.ElementsMatch(t, []state.InterfaceName{"eth1-2"}, ifaces(r))
	require.Equal(t, uint32(1), r.NextHops[0].Metric)
}

// TestComputeRingEcmpGetsTwoNextHops covers the other half of S1: node
// 1's route to node 4, two hops away by either arm of the ring, gets
// both equal-cost next hops with metric 2.
func TestComputeRingEcmpGetsTwoNextHops(t *testing.T) {
	routes := Compute("1", ringSnapshot())

	r := routeFor(t, routes, "10.0.0.4/32")
	require.ElementsMatch(t, []state.InterfaceName{"eth1-2", "eth1-3"}, ifaces(r))
	for _, nh := range r.NextHops {
		require.Equal(t, uint32(2), nh.Metric)
	}
}

// TestComputeLocalLoopbackHasNoNextHops confirms a node's own
// originated prefix comes back as a directly-connected route rather
// than being dropped for having zero next hops.
func TestComputeLocalLoopbackHasNoNextHops(t *testing.T) {
	routes := Compute("1", ringSnapshot())

	r := routeFor(t, routes, "10.0.0.1/32")
	require.Empty(t, r.NextHops)
}

// TestComputeWithholdsRouteBelowMinNexthops covers spec.md §4.6's
// min_nexthops withholding: node 1 has only one next hop toward node
// 2, so a prefix requiring at least two must not appear in the RouteDb
// at all rather than being published degraded.
func TestComputeWithholdsRouteBelowMinNexthops(t *testing.T) {
	snap := ringSnapshot()
	pfx := snap.PrefixDbs["2"]
	pfx.Prefixes[0].MinNexthops = 2
	snap.PrefixDbs["2"] = pfx

	routes := Compute("1", snap)

	for _, r := range routes.UnicastRoutes {
		require.NotEqual(t, netip.MustParsePrefix("10.0.0.2/32"), r.Prefix, "route should be withheld below min_nexthops")
	}
}

// TestComputeMeetsMinNexthopsWithEcmp is the positive counterpart:
// node 4's prefix needs two next hops and node 1 has exactly two via
// the ring, so the route is published.
func TestComputeMeetsMinNexthopsWithEcmp(t *testing.T) {
	snap := ringSnapshot()
	pfx := snap.PrefixDbs["4"]
	pfx.Prefixes[0].MinNexthops = 2
	snap.PrefixDbs["4"] = pfx

	routes := Compute("1", snap)

	r := routeFor(t, routes, "10.0.0.4/32")
	require.Len(t, r.NextHops, 2)
}

// TestBestOriginsPicksHigherPathPreference covers spec.md §4.5's
// origin tie-break when two nodes originate the same prefix.
func TestBestOriginsPicksHigherPathPreference(t *testing.T) {
	entries := []originEntry{
		{Node: "2", Entry: state.PrefixEntry{Metrics: state.PrefixMetrics{PathPreference: 100}}},
		{Node: "3", Entry: state.PrefixEntry{Metrics: state.PrefixMetrics{PathPreference: 200}}},
	}
	best := bestOrigins(entries)
	require.Len(t, best, 1)
	require.Equal(t, state.NodeId("3"), best[0].Node)
}

// TestBestOriginsKeepsTiesForEcmp confirms origins tied on every
// metric field are all retained, since Compute unions next hops across
// every best origin.
func TestBestOriginsKeepsTiesForEcmp(t *testing.T) {
	entries := []originEntry{
		{Node: "2", Entry: state.PrefixEntry{Metrics: state.PrefixMetrics{PathPreference: 100}}},
		{Node: "3", Entry: state.PrefixEntry{Metrics: state.PrefixMetrics{PathPreference: 100}}},
	}
	best := bestOrigins(entries)
	require.Len(t, best, 2)
}
