// Package integration exercises the wiring across process boundaries:
// real KvStore TCP peer links carrying real gossip, feeding real
// Decision/Fib pipelines per node. Grounded on the teacher's
// integration/harness.go VirtualHarness idiom (build N nodes, wire
// links, poll for convergence with a bounded timeout) but adapted away
// from polyamide/WireGuard packet simulation: this rewrite's control
// plane never tunnels data-plane packets itself, so there is nothing
// analogous to simulate — KvStore's own TCP transport is exercised
// directly over loopback instead.
package integration

import (
	"context"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openr/openr-go/decision"
	"github.com/openr/openr-go/fib"
	"github.com/openr/openr-go/kvstore"
	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/platform"
	"github.com/openr/openr-go/state"
)

const testArea state.AreaId = "area1"

// testNode wires KvStore, Decision and Fib for one node, skipping
// Spark/LinkMonitor/PrefixManager: those need real interfaces, while
// what this test exercises is KvStore gossip converging into matching
// SPF output, so AdjacencyDb/PrefixDb are published directly.
type testNode struct {
	id    state.NodeId
	kv    *kvstore.Store
	tp    *kvstore.TcpTransport
	agent *platform.MockAgent

	kvSched, decisionSched, fibSched *state.Scheduler
}

func newTestNode(t *testing.T, ctx context.Context, id state.NodeId, listenAddr string) *testNode {
	t.Helper()
	log := slog.Default()
	sink := metrics.NewSink(string(id))

	n := &testNode{id: id, agent: platform.NewMockAgent()}
	n.kvSched = state.NewScheduler(ctx, log, nil)
	n.decisionSched = state.NewScheduler(ctx, log, nil)
	n.fibSched = state.NewScheduler(ctx, log, nil)
	t.Cleanup(func() {
		n.kvSched.Stop()
		n.decisionSched.Stop()
		n.fibSched.Stop()
	})

	fibComp := fib.NewComponent(n.fibSched, log, sink, n.agent, 0, false)
	decisionComp := decision.NewComponent(n.decisionSched, log, sink, id, 50*time.Millisecond, fibComp.SetDesired)

	n.tp = kvstore.NewTcpTransport(log)
	n.kv = kvstore.New(n.kvSched, sink, log, state.KvStoreConfig{}, id, n.tp, decisionComp.OnKvUpdate)
	n.tp.Bind(n.kv)

	go func() {
		if err := n.tp.Listen(ctx, listenAddr); err != nil && ctx.Err() == nil {
			t.Logf("listen on %s failed: %v", listenAddr, err)
		}
	}()
	return n
}

func (n *testNode) publishAdjacency(db state.AdjacencyDb) {
	db.NodeId = n.id
	db.Area = testArea
	n.kv.Set(testArea, decision.AdjacencyKey(n.id), decision.EncodeAdjacencyDb(db), 0, time.Minute)
}

func (n *testNode) publishPrefixes(entries ...state.PrefixEntry) {
	n.kv.Set(testArea, decision.PrefixKey(n.id), decision.EncodePrefixDb(state.PrefixDb{
		NodeId: n.id, Area: testArea, Prefixes: entries,
	}), 0, time.Minute)
}

func adjacency(remote state.NodeId, iface, remoteIface string) state.Adjacency {
	return state.Adjacency{
		RemoteNode:  remote,
		LocalIface:  state.InterfaceName(iface),
		RemoteIface: state.InterfaceName(remoteIface),
		V6NextHop:  netip.MustParseAddr("fe80::1"),
		Metric:     10,
		Weight:     1,
	}
}

func prefixEntry(cidr string) state.PrefixEntry {
	return state.PrefixEntry{
		Prefix:         netip.MustParsePrefix(cidr),
		Type:           state.PrefixConfig,
		ForwardingType: state.ForwardingIP,
		ForwardingAlgo: state.AlgoSpEcmp,
		Area:           testArea,
	}
}

// waitFor polls cond every 20ms until it reports true or timeout
// elapses, mirroring the teacher's harness convergence-wait loop.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, cond(), "condition did not converge within %s", timeout)
}

// TestTransitRouteConvergesThroughMiddleNode builds a 3-node line
// topology a-b-c (a and c are not directly adjacent) and checks that
// a's computed route to c's prefix resolves via b, once KvStore gossip
// carries every node's AdjacencyDb/PrefixDb to every other node.
func TestTransitRouteConvergesThroughMiddleNode(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestNode(t, ctx, "a", "127.0.0.1:19801")
	b := newTestNode(t, ctx, "b", "127.0.0.1:19802")
	c := newTestNode(t, ctx, "c", "127.0.0.1:19803")

	time.Sleep(50 * time.Millisecond) // let the listeners come up

	require.NoError(t, a.tp.Connect(ctx, "b", "127.0.0.1:19802", testArea))
	require.NoError(t, a.tp.Connect(ctx, "c", "127.0.0.1:19803", testArea))
	require.NoError(t, b.tp.Connect(ctx, "c", "127.0.0.1:19803", testArea))

	a.publishAdjacency(state.AdjacencyDb{Adjacencies: []state.Adjacency{adjacency("b", "eth0", "eth0")}})
	b.publishAdjacency(state.AdjacencyDb{Adjacencies: []state.Adjacency{adjacency("a", "eth0", "eth0"), adjacency("c", "eth1", "eth0")}})
	c.publishAdjacency(state.AdjacencyDb{Adjacencies: []state.Adjacency{adjacency("b", "eth0", "eth1")}})

	a.publishPrefixes(prefixEntry("10.0.0.1/32"))
	b.publishPrefixes(prefixEntry("10.0.0.2/32"))
	c.publishPrefixes(prefixEntry("10.0.0.3/32"))

	waitFor(t, 5*time.Second, func() bool {
		r, ok := a.agent.UnicastSnapshot()["10.0.0.3/32"]
		if !ok || len(r.NextHops) == 0 {
			return false
		}
		return r.NextHops[0].NeighborNode == "b"
	})
}

// TestSymmetricConvergenceOnEqualCostPaths checks that two nodes
// computing SPF over the identical replicated topology both resolve
// each other's prefix, spec.md §8's determinism property: same input,
// same output regardless of which node runs the computation.
func TestSymmetricConvergenceOnEqualCostPaths(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestNode(t, ctx, "a", "127.0.0.1:19811")
	b := newTestNode(t, ctx, "b", "127.0.0.1:19812")

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.tp.Connect(ctx, "b", "127.0.0.1:19812", testArea))

	a.publishAdjacency(state.AdjacencyDb{Adjacencies: []state.Adjacency{adjacency("b", "eth0", "eth0")}})
	b.publishAdjacency(state.AdjacencyDb{Adjacencies: []state.Adjacency{adjacency("a", "eth0", "eth0")}})
	a.publishPrefixes(prefixEntry("10.0.0.1/32"))
	b.publishPrefixes(prefixEntry("10.0.0.2/32"))

	waitFor(t, 5*time.Second, func() bool {
		_, aOk := a.agent.UnicastSnapshot()["10.0.0.2/32"]
		_, bOk := b.agent.UnicastSnapshot()["10.0.0.1/32"]
		return aOk && bOk
	})
}
